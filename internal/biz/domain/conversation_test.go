package domain

import (
	"testing"
	"time"
)

func TestChannelContext_HistoryExcludingCurrent(t *testing.T) {
	now := time.Now()
	cc := &ChannelContext{
		History: []Message{
			{ID: "1", Content: "First", CreateTime: now.Add(-10 * time.Minute)},
			{ID: "2", Content: "Second", CreateTime: now.Add(-5 * time.Minute)},
			{ID: "3", Content: "Current", CreateTime: now},
		},
		Current: &Message{ID: "3", Content: "Current", CreateTime: now},
	}

	history := cc.HistoryExcludingCurrent()

	if len(history) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(history))
	}
	if history[0].ID != "1" || history[1].ID != "2" {
		t.Errorf("Unexpected history order: %v", history)
	}
}

func TestChannelContext_HistoryExcludingCurrent_NoCurrent(t *testing.T) {
	cc := &ChannelContext{History: []Message{{ID: "1"}}}
	if len(cc.HistoryExcludingCurrent()) != 1 {
		t.Error("Expected full history when there is no current message")
	}
}

func TestChannelContext_Participants(t *testing.T) {
	cc := &ChannelContext{
		History: []Message{
			{ID: "1", AuthorID: "u1", AuthorName: "Alice"},
			{ID: "2", AuthorID: "u2", AuthorName: "Bob"},
			{ID: "3", AuthorID: "u1", AuthorName: "Alice"},
			{ID: "4", AuthorID: "bot", AuthorName: "Helper", IsBot: true},
		},
	}

	members := cc.Participants("u2")

	if len(members) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(members))
	}
	if members[0].Name != "Alice" || members[1].Name != "Helper" {
		t.Errorf("Unexpected participants: %v", members)
	}
	if !members[1].IsBot {
		t.Error("Expected bot author to be flagged")
	}
}

func TestSplitAtHorizon(t *testing.T) {
	now := time.Now()
	horizon := 14 * 24 * time.Hour
	var msgs []Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, Message{ID: "new", CreateTime: now.Add(-time.Hour)})
	}
	for i := 0; i < 3; i++ {
		msgs = append(msgs, Message{ID: "old", CreateTime: now.Add(-15 * 24 * time.Hour)})
	}

	recent, old := SplitAtHorizon(msgs, now, horizon)

	if len(recent) != 5 || len(old) != 3 {
		t.Errorf("Expected 5 recent and 3 old, got %d and %d", len(recent), len(old))
	}
}
