package domain

import "time"

// EventType identifies a gateway event kind
type EventType string

const (
	EventReady       EventType = "ready"
	EventMessage     EventType = "message"
	EventInteraction EventType = "interaction" // Slash command
	EventComponent   EventType = "component"   // Button / select press
	EventMemberJoin  EventType = "member_join"
)

// Attachment is a file attached to a message
type Attachment struct {
	ID          string
	Name        string
	ContentType string
	URL         string
	Data        []byte // Downloaded content, if the gateway had to fetch it
}

// IsImage reports whether the attachment is an image
func (a Attachment) IsImage() bool {
	return len(a.ContentType) >= 6 && a.ContentType[:6] == "image/"
}

// Event is a normalized gateway event delivered to a tenant
type Event struct {
	ID          string
	Type        EventType
	TenantID    string
	ServerID    string
	ServerName  string
	ChannelID   string
	ChannelName string
	ThreadID    string // Non-empty when the event happened inside a thread
	UserID      string
	Username    string
	Content     string
	Command     string            // Interaction command name
	Options     map[string]string // Interaction options
	CustomID    string            // Component id
	Attachments []Attachment
	FromBot     bool
	CreatedAt   time.Time
}

// Images returns the image attachments of the event
func (e *Event) Images() []Attachment {
	var out []Attachment
	for _, a := range e.Attachments {
		if a.IsImage() {
			out = append(out, a)
		}
	}
	return out
}

// ConversationChannel returns the thread id when present, else the channel id
func (e *Event) ConversationChannel() string {
	if e.ThreadID != "" {
		return e.ThreadID
	}
	return e.ChannelID
}
