package usecase

import (
	"github.com/sirupsen/logrus"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/repo"
)

// TenantEnv is what a running tenant hands to the usecases for one event
type TenantEnv struct {
	Bot     *domain.Bot
	Gateway repo.GatewaySession
	Log     logrus.FieldLogger
}

func (e *TenantEnv) logger() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.WithField("tenant_id", e.Bot.ID)
}
