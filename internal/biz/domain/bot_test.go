package domain

import "testing"

func TestLiveProfile_Observe_EdgeTriggered(t *testing.T) {
	p := &LiveProfile{Platform: "twitch", URL: "https://twitch.tv/example"}

	sequence := []bool{false, true, true, false, true}
	want := []LiveTransition{LiveUnchanged, LiveWentOnline, LiveUnchanged, LiveWentOffline, LiveWentOnline}

	notifications := 0
	for i, live := range sequence {
		got := p.Observe(live)
		if got != want[i] {
			t.Errorf("step %d: expected %v, got %v", i, want[i], got)
		}
		if got == LiveWentOnline {
			notifications++
		}
	}
	if notifications != 2 {
		t.Errorf("Expected 2 notifications, got %d", notifications)
	}
}

func TestBot_IsAdmin(t *testing.T) {
	b := &Bot{AdminUserIDs: []string{"u1"}}
	if !b.IsAdmin("u1") || b.IsAdmin("u2") {
		t.Error("Unexpected admin check result")
	}
}
