package protocol

// User is a participant reference on the wire.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageRef is a non-owning back-reference to an answered message.
type MessageRef struct {
	ID      string `json:"id"`
	Preview string `json:"preview,omitempty"`
}

// Attachment describes a non-text message body.
type Attachment struct {
	URL     string `json:"url"`
	Name    string `json:"name,omitempty"`
	Mime    string `json:"mime,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Call describes a call-type message body.
type Call struct {
	Duration int64 `json:"duration"`
	Missed   bool  `json:"missed"`
}

// TransferBody describes a transfer-type message body.
type TransferBody struct {
	From User   `json:"from"`
	To   []User `json:"to"`
}

// Message is a chat message on the wire. Timestamp is in seconds.
type Message struct {
	ID         string        `json:"id"`
	ChatID     string        `json:"chatId"`
	Author     *User         `json:"author,omitempty"`
	Type       string        `json:"type"`
	Timestamp  int64         `json:"timestamp"`
	Text       string        `json:"text,omitempty"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	Call       *Call         `json:"call,omitempty"`
	Transfer   *TransferBody `json:"transfer,omitempty"`
	Status     string        `json:"status,omitempty"`
	SecretKey  string        `json:"secretKey,omitempty"`
	ReplyTo    *MessageRef   `json:"answeredMessage,omitempty"`
}

// Chat is a conversation summary on the wire.
type Chat struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"` // "client" or "colleague"
	LastMessage *Message `json:"lastMessage,omitempty"`
	Unread      int      `json:"unread"`
	Online      bool     `json:"online,omitempty"`
	Members     []User   `json:"members,omitempty"`
}

// MessagesPage is the page-fetch response payload.
type MessagesPage struct {
	ChatID   string    `json:"chatId"`
	Total    int       `json:"total"`
	Messages []Message `json:"messages"`
}

// TypingEvent reports a participant typing state change.
type TypingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

// PresenceEvent reports a participant going online or offline.
type PresenceEvent struct {
	UserID string `json:"userId"`
}

// MessageStatusEvent updates the delivery status of a message.
type MessageStatusEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"` // sent, delivered, read
}

// TransferEvent is the backend confirmation of a conversation handoff.
type TransferEvent struct {
	ChatID  string   `json:"chatId"`
	From    User     `json:"from"`
	To      []User   `json:"to"`
	Message *Message `json:"message,omitempty"`
}

// Template is a canned reply on the wire.
type Template struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TemplateStatusEvent correlates a template CRUD request to its outcome
// by operation tag rather than payload id.
type TemplateStatusEvent struct {
	Op       string `json:"op"` // create, update, delete
	Status   string `json:"status"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StatusEvent is a bare status acknowledgment.
type StatusEvent struct {
	Status string `json:"status"`
}

// GetMessagesRequest is the conversation-scoped page fetch. The limit
// grows by one page per load-more; the response is a full snapshot up
// to the limit, so retries are idempotent.
type GetMessagesRequest struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit"`
}

// SendMessageRequest carries an outbound message. SecretKey correlates
// the optimistic send with its authoritative echo.
type SendMessageRequest struct {
	ChatID     string      `json:"chatId"`
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	TemplateID string      `json:"templateId,omitempty"`
	SecretKey  string      `json:"secretKey"`
	ReplyTo    *MessageRef `json:"answeredMessage,omitempty"`
}

// TypingRequest reports this agent's typing state.
type TypingRequest struct {
	ChatID string `json:"chatId"`
	Typing bool   `json:"typing"`
}

// ReadMessagesRequest emits a read receipt for a conversation.
type ReadMessagesRequest struct {
	ChatID string `json:"chatId"`
}

// TransferRequest initiates a handoff, carrying the candidate
// recipient set and the most recent message as context.
type TransferRequest struct {
	ChatID  string   `json:"chatId"`
	To      []User   `json:"to"`
	Message *Message `json:"message,omitempty"`
}

// SearchRequest is a server-side search over chats or contacts.
type SearchRequest struct {
	Query string `json:"query"`
}

// TemplateRequest carries template CRUD payloads.
type TemplateRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}
