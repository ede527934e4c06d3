package chat

import (
	"slices"
	"time"
)

// TodayLabel is the separator label used for the current calendar day.
const TodayLabel = "today"

// Entry is one rendered timeline row: either a day separator or a
// message, in chronological order.
type Entry struct {
	Separator string
	Message   *Message
}

// Timeline holds the ordered, paginated history of the currently open
// conversation. Messages are stored newest-first, exactly as the
// backend returns them; rendering reverses into chronological order.
// Owned by the engine goroutine; not safe for concurrent use.
type Timeline struct {
	chatID   string
	pageSize int
	limit    int
	total    int
	msgs     []*Message
	anchor   int
}

// NewTimeline creates a timeline with the given page size.
func NewTimeline(pageSize int) *Timeline {
	return &Timeline{pageSize: pageSize}
}

// Open targets a conversation and resets the paging window. At most
// one conversation is open at a time.
func (t *Timeline) Open(chatID string) {
	t.chatID = chatID
	t.limit = t.pageSize
	t.total = 0
	t.msgs = nil
	t.anchor = 0
}

// Close detaches the timeline from its conversation.
func (t *Timeline) Close() {
	t.chatID = ""
	t.limit = 0
	t.total = 0
	t.msgs = nil
	t.anchor = 0
}

// ChatID returns the open conversation id, or "" when closed.
func (t *Timeline) ChatID() string { return t.chatID }

// Limit returns the current requested page limit.
func (t *Timeline) Limit() int { return t.limit }

// Total returns the backend-reported total message count.
func (t *Timeline) Total() int { return t.total }

// Len returns the number of locally held messages.
func (t *Timeline) Len() int { return len(t.msgs) }

// GrowLimit widens the paging window by one page for a load-more and
// records the current content length as the scroll anchor, so the
// consumer can restore the view instead of jumping to the top.
func (t *Timeline) GrowLimit() int {
	t.anchor = len(t.msgs)
	t.limit += t.pageSize
	return t.limit
}

// Anchor returns the recorded scroll anchor (message count before the
// last load-more), or 0 when the view should land at the bottom.
func (t *Timeline) Anchor() int { return t.anchor }

// Replace swaps the local copy for a full page-fetch snapshot. The
// response is discarded when it is tagged with a conversation that is
// no longer open, so a stale fetch cannot corrupt another
// conversation's timeline. Returns whether the snapshot was applied.
func (t *Timeline) Replace(chatID string, msgs []*Message, total int) bool {
	if chatID == "" || chatID != t.chatID {
		return false
	}
	t.msgs = msgs
	t.total = total
	return true
}

// Prepend inserts a live message into the newest-first buffer at its
// timestamp position, so a delayed push cannot corrupt display order.
// Ties keep arrival order: the later arrival lands nearer the head and
// renders after. No-op when the message belongs to another
// conversation.
func (t *Timeline) Prepend(msg *Message) bool {
	if msg.ChatID != t.chatID || t.chatID == "" {
		return false
	}
	i := 0
	for i < len(t.msgs) && t.msgs[i].Timestamp > msg.Timestamp {
		i++
	}
	t.msgs = slices.Insert(t.msgs, i, msg)
	t.total++
	t.anchor = 0
	return true
}

// UpdateStatus sets the delivery status of a held message. The update
// is copy-on-write: published snapshots share messages by pointer, so
// the held message is cloned and swapped rather than mutated.
func (t *Timeline) UpdateStatus(messageID, status string) bool {
	for i, m := range t.msgs {
		if m.ID == messageID {
			c := *m
			c.Status = status
			t.msgs[i] = &c
			return true
		}
	}
	return false
}

// Messages returns the newest-first buffer.
func (t *Timeline) Messages() []*Message { return t.msgs }

// Entries renders the timeline chronologically with a synthesized
// separator once per distinct calendar day; the current day uses the
// "today" label.
func (t *Timeline) Entries(now time.Time) []Entry {
	if len(t.msgs) == 0 {
		return nil
	}
	loc := now.Location()
	entries := make([]Entry, 0, len(t.msgs)+4)
	var lastDay string
	for i := len(t.msgs) - 1; i >= 0; i-- {
		msg := t.msgs[i]
		day := dayLabel(time.Unix(msg.Timestamp, 0).In(loc), now)
		if day != lastDay {
			entries = append(entries, Entry{Separator: day})
			lastDay = day
		}
		entries = append(entries, Entry{Message: msg})
	}
	return entries
}

func dayLabel(ts, now time.Time) string {
	if ts.Year() == now.Year() && ts.YearDay() == now.YearDay() {
		return TodayLabel
	}
	return ts.Format("2 January 2006")
}
