package chat

import (
	"sort"
	"time"
)

type typingKey struct {
	ChatID string
	UserID string
}

// TypingTracker holds ephemeral typing indicators with a local expiry,
// so a lost typing:false event cannot leave a stale indicator forever.
// Owned by the engine goroutine.
type TypingTracker struct {
	ttl     time.Duration
	entries map[typingKey]time.Time
}

// NewTypingTracker creates a tracker with the given per-entry TTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		ttl:     ttl,
		entries: make(map[typingKey]time.Time),
	}
}

// Touch records a typing:true indicator, refreshing its deadline.
func (t *TypingTracker) Touch(chatID, userID string, now time.Time) {
	t.entries[typingKey{chatID, userID}] = now.Add(t.ttl)
}

// Clear removes one indicator. Returns whether it was present.
func (t *TypingTracker) Clear(chatID, userID string) bool {
	key := typingKey{chatID, userID}
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// ClearChat removes all indicators for a conversation, used when the
// conversation closes.
func (t *TypingTracker) ClearChat(chatID string) {
	for key := range t.entries {
		if key.ChatID == chatID {
			delete(t.entries, key)
		}
	}
}

// Expire removes indicators whose deadline has passed and returns the
// removed keys so the caller can update summaries.
func (t *TypingTracker) Expire(now time.Time) []typingKey {
	var expired []typingKey
	for key, deadline := range t.entries {
		if now.After(deadline) {
			expired = append(expired, key)
			delete(t.entries, key)
		}
	}
	return expired
}

// Active returns the participants currently typing in a conversation,
// sorted for stable snapshots.
func (t *TypingTracker) Active(chatID string) []string {
	var users []string
	for key := range t.entries {
		if key.ChatID == chatID {
			users = append(users, key.UserID)
		}
	}
	sort.Strings(users)
	return users
}
