package chat

import (
	"github.com/opsdesk/chatd/internal/protocol"
)

// fromWireUser converts a wire participant reference.
func fromWireUser(u protocol.User) Participant {
	return Participant{ID: u.ID, Name: u.Name}
}

func fromWireUsers(users []protocol.User) []Participant {
	if len(users) == 0 {
		return nil
	}
	out := make([]Participant, len(users))
	for i, u := range users {
		out[i] = fromWireUser(u)
	}
	return out
}

func toWireUser(p Participant) protocol.User {
	return protocol.User{ID: p.ID, Name: p.Name}
}

func toWireUsers(ps []Participant) []protocol.User {
	if len(ps) == 0 {
		return nil
	}
	out := make([]protocol.User, len(ps))
	for i, p := range ps {
		out[i] = toWireUser(p)
	}
	return out
}

// fromWireMessage normalizes a wire message into the domain model.
func fromWireMessage(m protocol.Message) *Message {
	msg := &Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Kind:      m.Type,
		Timestamp: m.Timestamp,
		Text:      m.Text,
		Status:    m.Status,
		SecretKey: m.SecretKey,
	}
	if msg.Kind == "" {
		msg.Kind = MsgText
	}
	if m.Author != nil {
		author := fromWireUser(*m.Author)
		msg.Author = &author
	}
	if m.Attachment != nil {
		msg.Attachment = &Attachment{
			URL:     m.Attachment.URL,
			Name:    m.Attachment.Name,
			Mime:    m.Attachment.Mime,
			Size:    m.Attachment.Size,
			Caption: m.Attachment.Caption,
		}
	}
	if m.Call != nil {
		msg.Call = &CallInfo{Duration: m.Call.Duration, Missed: m.Call.Missed}
	}
	if m.Transfer != nil {
		msg.Transfer = &TransferInfo{
			From: fromWireUser(m.Transfer.From),
			To:   fromWireUsers(m.Transfer.To),
		}
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = &MessageRef{ID: m.ReplyTo.ID, Preview: m.ReplyTo.Preview}
	}
	return msg
}

func fromWireMessages(msgs []protocol.Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = fromWireMessage(m)
	}
	return out
}

func toWireMessage(m *Message) *protocol.Message {
	if m == nil {
		return nil
	}
	wm := &protocol.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Type:      m.Kind,
		Timestamp: m.Timestamp,
		Text:      m.Text,
		Status:    m.Status,
	}
	if m.Author != nil {
		u := toWireUser(*m.Author)
		wm.Author = &u
	}
	return wm
}

// fromWireChat normalizes a wire conversation summary. The fallback
// kind covers snapshots that omit the kind field on a kind-specific
// event tag.
func fromWireChat(c protocol.Chat, fallback Kind) *Summary {
	kind := Kind(c.Kind)
	if kind != KindClient && kind != KindColleague {
		kind = fallback
	}
	s := &Summary{
		ID:      c.ID,
		Kind:    kind,
		Unread:  c.Unread,
		Online:  c.Online,
		Members: fromWireUsers(c.Members),
	}
	if c.LastMessage != nil {
		s.Last = fromWireMessage(*c.LastMessage)
	}
	return s
}

func fromWireChats(chats []protocol.Chat, fallback Kind) []*Summary {
	out := make([]*Summary, len(chats))
	for i, c := range chats {
		out[i] = fromWireChat(c, fallback)
	}
	return out
}

func fromWireTemplates(ts []protocol.Template) []Template {
	out := make([]Template, len(ts))
	for i, t := range ts {
		out[i] = Template{ID: t.ID, Title: t.Title, Body: t.Body}
	}
	return out
}
