package domain

import "time"

// Message is a channel message as seen by the bot
type Message struct {
	ID         string
	ChannelID  string
	Content    string
	AuthorID   string
	AuthorName string
	IsBot      bool
	CreateTime time.Time
}

// IsBefore checks if the message is before the specified time
func (m *Message) IsBefore(t time.Time) bool {
	return m.CreateTime.Before(t)
}

// SplitAtHorizon splits messages into those newer than the horizon (eligible
// for bulk deletion) and those at or beyond it.
func SplitAtHorizon(msgs []Message, now time.Time, horizon time.Duration) (recent, old []Message) {
	cutoff := now.Add(-horizon)
	for _, m := range msgs {
		if m.IsBefore(cutoff) {
			old = append(old, m)
		} else {
			recent = append(recent, m)
		}
	}
	return recent, old
}
