package domain

import "fmt"

// Member is a channel participant (value object)
type Member struct {
	UserID string
	Name   string
	IsBot  bool
}

// FormatDisplay formats for prompts
func (m *Member) FormatDisplay() string {
	if m.IsBot {
		return fmt.Sprintf("%s (bot, id: %s)", m.Name, m.UserID)
	}
	return fmt.Sprintf("%s (id: %s)", m.Name, m.UserID)
}
