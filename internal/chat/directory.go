package chat

import (
	"slices"
	"sort"
)

// Directory maintains the two partitioned, independently sorted lists
// of conversation summaries. It is owned by the engine goroutine and
// is not safe for concurrent use.
type Directory struct {
	clients    []*Summary
	colleagues []*Summary
	index      map[string]*Summary
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{index: make(map[string]*Summary)}
}

// Get returns the summary for the given conversation id, or nil.
func (d *Directory) Get(id string) *Summary {
	return d.index[id]
}

// List returns the partition for the given kind in display order.
func (d *Directory) List(kind Kind) []*Summary {
	if kind == KindClient {
		return d.clients
	}
	return d.colleagues
}

// Upsert inserts a new summary or merges the backend fields into the
// existing one, then restores the partition's sort order.
func (d *Directory) Upsert(s *Summary) *Summary {
	existing := d.index[s.ID]
	if existing == nil {
		d.index[s.ID] = s
		d.append(s)
		d.resort(s.Kind)
		return s
	}
	existing.Last = s.Last
	existing.Unread = s.Unread
	existing.Online = s.Online
	if s.Members != nil {
		existing.Members = s.Members
	}
	d.resort(existing.Kind)
	return existing
}

// ReplaceAll swaps one partition for an authoritative snapshot.
// Ephemeral local state (typing, pending transfer) is carried over
// for conversations that survive the swap.
func (d *Directory) ReplaceAll(kind Kind, list []*Summary) {
	for _, s := range list {
		if prev := d.index[s.ID]; prev != nil {
			s.Typing = prev.Typing
			s.PendingTransfer = prev.PendingTransfer
		}
	}
	for _, s := range d.List(kind) {
		delete(d.index, s.ID)
	}
	for _, s := range list {
		d.index[s.ID] = s
	}
	if kind == KindClient {
		d.clients = list
	} else {
		d.colleagues = list
	}
	d.resort(kind)
}

// ApplyMessage records an inbound message against its conversation,
// creating the summary if the backend has not announced it yet.
// countUnread controls whether the unread counter is bumped (false for
// the open conversation and for this agent's own echoes).
func (d *Directory) ApplyMessage(kind Kind, msg *Message, countUnread bool) *Summary {
	s := d.index[msg.ChatID]
	if s == nil {
		s = &Summary{ID: msg.ChatID, Kind: kind}
		d.index[s.ID] = s
		d.append(s)
	}
	s.Last = msg
	if countUnread {
		s.Unread++
	}
	d.resort(s.Kind)
	return s
}

// SetPresence updates the online flag of colleague conversations that
// include the given participant. Presence never reorders the list.
func (d *Directory) SetPresence(userID string, online bool) bool {
	changed := false
	for _, s := range d.colleagues {
		for _, m := range s.Members {
			if m.ID == userID {
				if s.Online != online {
					s.Online = online
					changed = true
				}
				break
			}
		}
	}
	return changed
}

// SetTyping adds or removes a participant from a conversation's typing
// set. Membership is mutually exclusive per conversation.
func (d *Directory) SetTyping(chatID, userID string, typing bool) bool {
	s := d.index[chatID]
	if s == nil {
		return false
	}
	has := slices.Contains(s.Typing, userID)
	switch {
	case typing && !has:
		s.Typing = append(s.Typing, userID)
		return true
	case !typing && has:
		s.Typing = slices.DeleteFunc(s.Typing, func(id string) bool { return id == userID })
		return true
	}
	return false
}

// ClearUnread zeroes the unread counter of one conversation.
func (d *Directory) ClearUnread(id string) {
	if s := d.index[id]; s != nil {
		s.Unread = 0
	}
}

// ClearAllUnread zeroes every unread counter in both partitions.
func (d *Directory) ClearAllUnread() {
	for _, s := range d.index {
		s.Unread = 0
	}
}

func (d *Directory) append(s *Summary) {
	if s.Kind == KindClient {
		d.clients = append(d.clients, s)
	} else {
		d.colleagues = append(d.colleagues, s)
	}
}

// resort restores the partition order: descending last-message
// timestamp, with messageless conversations after all conversations
// that have one, stable among themselves.
func (d *Directory) resort(kind Kind) {
	list := d.List(kind)
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.Last == nil:
			return false
		case b.Last == nil:
			return true
		default:
			return a.Last.Timestamp > b.Last.Timestamp
		}
	})
}
