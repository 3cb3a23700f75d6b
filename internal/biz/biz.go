package biz

import (
	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Flow         *usecase.FlowUsecase
	Conversation *usecase.ConversationUsecase
	Ledger       *usecase.UsageLedger
	Knowledge    *usecase.KnowledgeUsecase
	Purge        *usecase.PurgeUsecase
}
