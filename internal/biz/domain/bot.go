package domain

import "time"

// BotStatus is the persisted connection status of a tenant
type BotStatus string

const (
	BotStatusOnline  BotStatus = "online"
	BotStatusOffline BotStatus = "offline"
	BotStatusError   BotStatus = "error"
)

// Bot is a tenant record: one bot identity with its own gateway credential
type Bot struct {
	ID              string
	Name            string
	AppID           string // Gateway application id
	AppSecret       string // Gateway credential
	DefaultProvider string
	TrainingMode    bool
	Status          BotStatus
	DisplayName     string
	AvatarURL       string
	NotifyChannelID string // Channel for live notifications
	AdminUserIDs    []string
	LiveProfiles    []LiveProfile
	UpdatedAt       time.Time
}

// IsAdmin reports whether the user administers this bot
func (b *Bot) IsAdmin(userID string) bool {
	for _, id := range b.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LiveTransition is the result of observing a live profile
type LiveTransition int

const (
	LiveUnchanged LiveTransition = iota
	LiveWentOnline
	LiveWentOffline
)

// LiveProfile is an external streaming profile polled by the status monitor
type LiveProfile struct {
	Platform   string `json:"platform"`
	URL        string `json:"url"`
	LastStatus bool   `json:"last_status"`
}

// Observe records a probe result and reports the edge it produced.
// Only false->true is a notification edge; true->false re-arms it.
func (p *LiveProfile) Observe(live bool) LiveTransition {
	switch {
	case live && !p.LastStatus:
		p.LastStatus = true
		return LiveWentOnline
	case !live && p.LastStatus:
		p.LastStatus = false
		return LiveWentOffline
	default:
		return LiveUnchanged
	}
}
