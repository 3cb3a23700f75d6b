package domain

// ChannelContext is what the bot knows about the channel a session lives in
type ChannelContext struct {
	ChannelID   string
	ChannelName string
	ServerName  string
	History     []Message // Oldest first
	Current     *Message
}

// HistoryExcludingCurrent gets history excluding the current message
func (c *ChannelContext) HistoryExcludingCurrent() []Message {
	if c.Current == nil {
		return c.History
	}
	var result []Message
	for _, m := range c.History {
		if m.ID != c.Current.ID {
			result = append(result, m)
		}
	}
	return result
}

// Participants returns the distinct authors of the history except the given user
func (c *ChannelContext) Participants(exceptUserID string) []Member {
	seen := make(map[string]bool)
	var out []Member
	for _, m := range c.History {
		if m.AuthorID == "" || m.AuthorID == exceptUserID || seen[m.AuthorID] {
			continue
		}
		seen[m.AuthorID] = true
		out = append(out, Member{UserID: m.AuthorID, Name: m.AuthorName, IsBot: m.IsBot})
	}
	return out
}
