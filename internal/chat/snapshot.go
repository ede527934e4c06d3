package chat

import (
	"slices"
	"time"

	"github.com/opsdesk/chatd/internal/status"
)

// OpenConversation is the published view of the open timeline.
type OpenConversation struct {
	ID      string
	Entries []Entry
	Total   int
	Anchor  int
	Typing  []string
}

// Snapshot is an immutable copy of the engine's published state.
// Readers obtain it without locking; a new snapshot replaces it after
// every mutation. Messages inside are shared and must not be modified.
type Snapshot struct {
	ConnState  status.State
	Me         *Participant
	Clients    []Summary
	Colleagues []Summary
	Open       *OpenConversation
	Templates  []Template

	// Search working lists; nil when no search is active.
	SearchConversations []Summary
	SearchContacts      []Participant
}

func (e *Engine) buildSnapshot() *Snapshot {
	snap := &Snapshot{
		ConnState:  e.machine.Current(),
		Clients:    copySummaries(e.directory.List(KindClient)),
		Colleagues: copySummaries(e.directory.List(KindColleague)),
		Templates:  slices.Clone(e.templates),
	}
	if e.me != nil {
		me := *e.me
		snap.Me = &me
	}
	if id := e.timeline.ChatID(); id != "" {
		snap.Open = &OpenConversation{
			ID:      id,
			Entries: e.timeline.Entries(time.Now()),
			Total:   e.timeline.Total(),
			Anchor:  e.timeline.Anchor(),
			Typing:  e.typing.Active(id),
		}
	}
	if e.searchConvs != nil {
		snap.SearchConversations = copySummaries(e.searchConvs)
	}
	if e.searchContacts != nil {
		snap.SearchContacts = slices.Clone(e.searchContacts)
	}
	return snap
}

func copySummaries(list []*Summary) []Summary {
	out := make([]Summary, len(list))
	for i, s := range list {
		c := *s
		c.Typing = slices.Clone(s.Typing)
		c.Members = slices.Clone(s.Members)
		out[i] = c
	}
	return out
}
