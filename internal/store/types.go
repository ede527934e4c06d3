package store

import "encoding/json"

// QueueEntry represents a pending outbound action. Actions issued while
// the connection is down are held here and flushed on reconnect.
type QueueEntry struct {
	ID           int64
	ClientKey    string
	Event        string
	Payload      json.RawMessage
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}

// Template represents a cached canned reply.
type Template struct {
	ID    string
	Title string
	Body  string
}

// CachedChat is the warm-start projection of a conversation summary.
// LastMessage and Members hold the wire JSON as received.
type CachedChat struct {
	ID          string
	Kind        string
	Unread      int
	LastMessage json.RawMessage
	Members     json.RawMessage
}

// CachedMessage is a locally retained timeline message.
type CachedMessage struct {
	ChatID    string
	MsgID     string
	Payload   json.RawMessage
	Timestamp int64
}

// TemplateMatch holds a template with a search snippet.
type TemplateMatch struct {
	Template Template
	Snippet  string
}
