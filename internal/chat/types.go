package chat

// Kind partitions conversations: external parties (clients) and
// internal colleagues.
type Kind string

const (
	KindClient    Kind = "client"
	KindColleague Kind = "colleague"
)

// Message type tags.
const (
	MsgText       = "text"
	MsgImage      = "image"
	MsgVideo      = "video"
	MsgAudio      = "audio"
	MsgDocument   = "document"
	MsgTemplate   = "template"
	MsgTransfer   = "transfer"
	MsgCommentary = "commentary"
	MsgCall       = "call"
)

// Message delivery statuses.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Participant is a reference to an agent or contact.
type Participant struct {
	ID   string
	Name string
}

// MessageRef is a non-owning back-reference to an answered message.
// Only the id and a preview are retained.
type MessageRef struct {
	ID      string
	Preview string
}

// Attachment is the body of an image/video/audio/document message.
type Attachment struct {
	URL     string
	Name    string
	Mime    string
	Size    int64
	Caption string
}

// CallInfo is the body of a call message.
type CallInfo struct {
	Duration int64
	Missed   bool
}

// TransferInfo is the body of a synthetic transfer message.
type TransferInfo struct {
	From Participant
	To   []Participant
}

// Message is a timeline message. Timestamp is in seconds. Author is
// nil for external-party messages. Messages are treated as immutable
// once published in a snapshot.
type Message struct {
	ID         string
	ChatID     string
	Author     *Participant
	Kind       string
	Timestamp  int64
	Text       string
	Attachment *Attachment
	Call       *CallInfo
	Transfer   *TransferInfo
	Status     string
	SecretKey  string
	ReplyTo    *MessageRef
}

// Summary is the list-view projection of a conversation. Created when
// the backend first announces the conversation and mutated in place;
// never deleted client-side.
type Summary struct {
	ID              string
	Kind            Kind
	Last            *Message
	Unread          int
	Online          bool
	Typing          []string
	Members         []Participant
	PendingTransfer *Transfer
}

// Transfer records an in-flight handoff of conversation ownership.
type Transfer struct {
	ChatID  string
	From    Participant
	To      []Participant
	Message *Message
}

// Template is a canned reply.
type Template struct {
	ID    string
	Title string
	Body  string
}

// ActionResult is the status/severity pair published for facade
// operations; collaborators consume these for display instead of
// receiving exceptions across the operation boundary.
type ActionResult struct {
	Op       string
	Status   string // "ok" or "error"
	Severity string // "info", "warning", "error"
	Message  string
}
