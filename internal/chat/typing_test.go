package chat

import (
	"testing"
	"time"
)

func TestTypingExpiry(t *testing.T) {
	now := time.Now()
	tr := NewTypingTracker(5 * time.Second)
	tr.Touch("a", "u1", now)
	tr.Touch("a", "u2", now.Add(3*time.Second))

	expired := tr.Expire(now.Add(6 * time.Second))
	if len(expired) != 1 || expired[0].UserID != "u1" {
		t.Fatalf("expired = %v", expired)
	}
	if got := tr.Active("a"); len(got) != 1 || got[0] != "u2" {
		t.Errorf("active = %v, want [u2]", got)
	}
}

func TestTypingTouchRefreshesDeadline(t *testing.T) {
	now := time.Now()
	tr := NewTypingTracker(5 * time.Second)
	tr.Touch("a", "u1", now)
	tr.Touch("a", "u1", now.Add(4*time.Second))

	if got := tr.Expire(now.Add(6 * time.Second)); len(got) != 0 {
		t.Errorf("refreshed entry expired: %v", got)
	}
}

func TestTypingClearChat(t *testing.T) {
	now := time.Now()
	tr := NewTypingTracker(5 * time.Second)
	tr.Touch("a", "u1", now)
	tr.Touch("a", "u2", now)
	tr.Touch("b", "u3", now)

	tr.ClearChat("a")
	if got := tr.Active("a"); len(got) != 0 {
		t.Errorf("active after clear = %v", got)
	}
	if got := tr.Active("b"); len(got) != 1 {
		t.Errorf("unrelated conversation cleared: %v", got)
	}
}

func TestTypingActiveSorted(t *testing.T) {
	now := time.Now()
	tr := NewTypingTracker(5 * time.Second)
	tr.Touch("a", "zed", now)
	tr.Touch("a", "amy", now)

	got := tr.Active("a")
	if len(got) != 2 || got[0] != "amy" || got[1] != "zed" {
		t.Errorf("active = %v, want [amy zed]", got)
	}
}
