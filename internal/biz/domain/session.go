package domain

import (
	"strings"
	"time"
)

// MaxSessionHistory is the number of history entries kept per session
const MaxSessionHistory = 20

// SessionMode selects which kind of model a session talks to
type SessionMode string

const (
	ModeAuto  SessionMode = "auto" // Intent detection decides per message
	ModeChat  SessionMode = "chat"
	ModeImage SessionMode = "image"
	ModeAudio SessionMode = "audio" // Speech synthesis
	ModeVideo SessionMode = "video"
	ModeMusic SessionMode = "music"
)

// SessionModes lists the selectable modes in display order
var SessionModes = []SessionMode{ModeAuto, ModeChat, ModeImage, ModeAudio, ModeVideo, ModeMusic}

// ParseSessionMode accepts a mode name case-insensitively; "speech" and
// "tts" are aliases of audio.
func ParseSessionMode(s string) (SessionMode, bool) {
	mode := SessionMode(strings.ToLower(strings.TrimSpace(s))).Canonical()
	for _, m := range SessionModes {
		if m == mode {
			return mode, true
		}
	}
	return "", false
}

// Canonical folds aliases into their mode
func (m SessionMode) Canonical() SessionMode {
	switch m {
	case "speech", "tts":
		return ModeAudio
	}
	return m
}

// SessionStatus is the lifecycle state of an AI session
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Roles used in session history
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryEntry is one turn of a session
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AiSession is a conversation between a user and a provider inside one thread
type AiSession struct {
	ID        string
	TenantID  string
	ThreadID  string
	ChannelID string
	UserID    string
	Provider  string
	Mode      SessionMode
	Model     string // Empty means the provider default
	History   []HistoryEntry
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IsActive reports whether the session still accepts messages
func (s *AiSession) IsActive() bool {
	return s.Status == SessionActive
}

// Append adds a history entry, keeping only the most recent entries
func (s *AiSession) Append(role, content string) {
	s.History = append(s.History, HistoryEntry{Role: role, Content: content})
	if len(s.History) > MaxSessionHistory {
		s.History = append([]HistoryEntry(nil), s.History[len(s.History)-MaxSessionHistory:]...)
	}
	s.UpdatedAt = time.Now()
}

// ChangeProvider switches provider; the model falls back to the provider default
// and the history is replaced by a reset marker.
func (s *AiSession) ChangeProvider(provider, resetMarker string) {
	s.Provider = provider
	s.Model = ""
	s.resetHistory(resetMarker)
}

// ChangeMode switches mode and selects the given default model ("" when the
// provider lists none for that mode). History is reset.
func (s *AiSession) ChangeMode(mode SessionMode, defaultModel, resetMarker string) {
	s.Mode = mode
	s.Model = defaultModel
	s.resetHistory(resetMarker)
}

// ChangeModel only swaps the model
func (s *AiSession) ChangeModel(model string) {
	s.Model = model
	s.UpdatedAt = time.Now()
}

// Close marks the session closed
func (s *AiSession) Close(now time.Time) {
	s.Status = SessionClosed
	s.ClosedAt = &now
	s.UpdatedAt = now
}

func (s *AiSession) resetHistory(marker string) {
	s.History = []HistoryEntry{{Role: RoleSystem, Content: marker}}
	s.UpdatedAt = time.Now()
}
