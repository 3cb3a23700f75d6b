package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/domain"
)

var (
	// ErrAlreadyAcknowledged is returned when an interaction was already answered
	ErrAlreadyAcknowledged = errors.New("interaction already acknowledged")

	// ErrInvalidCredential is a fatal connect error; no retry
	ErrInvalidCredential = errors.New("invalid gateway credential")
)

// BulkDeleteError reports a bulk delete that stopped part way. Deleted holds
// the ids removed before the failure.
type BulkDeleteError struct {
	Deleted []string
	Err     error
}

func (e *BulkDeleteError) Error() string {
	return fmt.Sprintf("bulk delete stopped after %d messages: %v", len(e.Deleted), e.Err)
}

func (e *BulkDeleteError) Unwrap() error { return e.Err }

// EventHandler receives gateway events. It must return quickly.
type EventHandler func(ctx context.Context, ev *domain.Event)

// Identity is the bot identity reported by the gateway after connect
type Identity struct {
	BotUserID   string
	DisplayName string
	AvatarURL   string
}

// ChannelInfo represents channel information
type ChannelInfo struct {
	ChannelID string
	Name      string
	ServerID  string
}

// Gateway opens per-tenant live connections
type Gateway interface {
	Connect(ctx context.Context, bot *domain.Bot, handler EventHandler) (GatewaySession, error)
}

// GatewaySession is one live connection of a tenant
type GatewaySession interface {
	// Identity returns the identity learned on connect
	Identity() Identity

	// RegisterCommands replaces the command set of the bot
	RegisterCommands(ctx context.Context, cmds []domain.CommandSpec) error

	// SendMessage sends a text message and returns its id
	SendMessage(ctx context.Context, channelID, text string) (string, error)

	// SendFile uploads a generated file (image, audio) to a channel
	SendFile(ctx context.Context, channelID, name string, data []byte) error

	// SendDM sends a direct message
	SendDM(ctx context.Context, userID, text string) error

	// Respond answers an interaction. The first call wins; later calls
	// return ErrAlreadyAcknowledged.
	Respond(ctx context.Context, ev *domain.Event, text string, ephemeral bool) error

	// MentionUser renders a user mention in the platform's text syntax
	MentionUser(userID, name string) string

	// FetchChannel gets channel information
	FetchChannel(ctx context.Context, channelID string) (*ChannelInfo, error)

	// FetchMessages gets up to limit recent messages, newest first
	FetchMessages(ctx context.Context, channelID string, limit int) ([]domain.Message, error)

	// BulkDeleteMessages deletes messages newer than BulkDeleteHorizon in one call
	BulkDeleteMessages(ctx context.Context, channelID string, ids []string) error

	// DeleteMessage deletes one message
	DeleteMessage(ctx context.Context, channelID, id string) error

	// BulkDeleteHorizon is the maximum message age accepted by BulkDeleteMessages
	BulkDeleteHorizon() time.Duration

	// ArchiveThread archives a thread
	ArchiveThread(ctx context.Context, threadID string) error

	// Done is closed when the connection ends; Err reports why
	Done() <-chan struct{}
	Err() error

	Close() error
}

// LiveProber checks whether an external streaming profile is live
type LiveProber interface {
	Probe(ctx context.Context, profile domain.LiveProfile) (bool, error)
}

// DedupeStore remembers gateway event ids for a while
type DedupeStore interface {
	// MarkSeen returns true if the key was already seen within ttl
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
