package chat

import (
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/chatd/internal/protocol"
	"github.com/opsdesk/chatd/internal/store"
	"go.uber.org/zap"
)

// buildReducers wires the dispatch table: one pure state transition per
// inbound event tag. The only I/O a reducer performs is the follow-up
// send a transition mandates (and local cache writes).
func (e *Engine) buildReducers() map[string]func(protocol.Envelope) {
	return map[string]func(protocol.Envelope){
		protocol.EvtChats:          func(env protocol.Envelope) { e.onDirectory(env, KindColleague) },
		protocol.EvtWorkAppeals:    func(env protocol.Envelope) { e.onDirectory(env, KindClient) },
		protocol.EvtNewChat:        func(env protocol.Envelope) { e.onNewChat(env, KindColleague) },
		protocol.EvtNewWorkAppeal:  func(env protocol.Envelope) { e.onNewChat(env, KindClient) },
		protocol.EvtNewMessage:     func(env protocol.Envelope) { e.onNewMessage(env, KindColleague) },
		protocol.EvtNewMessageApp:  func(env protocol.Envelope) { e.onNewMessage(env, KindClient) },
		protocol.EvtMessages:       e.onMessages,
		protocol.EvtTyping:         e.onTyping,
		protocol.EvtOnline:         func(env protocol.Envelope) { e.onPresence(env, true) },
		protocol.EvtOffline:        func(env protocol.Envelope) { e.onPresence(env, false) },
		protocol.EvtMessageStatus:  e.onMessageStatus,
		protocol.EvtChatTransfer:   e.onTransfer,
		protocol.EvtTemplates:      e.onTemplates,
		protocol.EvtTemplateStatus: e.onTemplateStatus,
		protocol.EvtMarkedAllRead:  e.onMarkedAllRead,
		protocol.EvtFoundChats:     e.onFoundChats,
		protocol.EvtFoundContacts:  e.onFoundContacts,
	}
}

// onDirectory replaces one partition with the authoritative snapshot.
// When the open conversation belongs to the refreshed partition, its
// first page is immediately re-requested.
func (e *Engine) onDirectory(env protocol.Envelope, kind Kind) {
	var chats []protocol.Chat
	if err := env.DecodeData(&chats); err != nil {
		e.logger.Warn("bad directory snapshot", zap.Error(err))
		return
	}
	list := fromWireChats(chats, kind)
	e.directory.ReplaceAll(kind, list)
	for _, s := range list {
		e.persistChat(s)
	}

	if id := e.timeline.ChatID(); id != "" {
		if s := e.directory.Get(id); s != nil && s.Kind == kind {
			e.directory.ClearUnread(id)
			e.sendNow(protocol.CmdGetMessages, protocol.GetMessagesRequest{ChatID: id, Limit: e.timeline.Limit()})
		}
	}
	e.publish("chat.directory")
}

func (e *Engine) onNewChat(env protocol.Envelope, kind Kind) {
	var wc protocol.Chat
	if err := env.DecodeData(&wc); err != nil {
		e.logger.Warn("bad new chat event", zap.Error(err))
		return
	}
	s := e.directory.Upsert(fromWireChat(wc, kind))
	e.persistChat(s)
	e.publish("chat.directory")
}

// onNewMessage applies a live message push: reconcile the pending-send
// table by secret key, prepend to the open timeline or bump the unread
// counter, and emit a read receipt for the open conversation.
func (e *Engine) onNewMessage(env protocol.Envelope, kind Kind) {
	var wm protocol.Message
	if err := env.DecodeData(&wm); err != nil {
		e.logger.Warn("bad message event", zap.Error(err))
		return
	}
	msg := fromWireMessage(wm)

	if msg.SecretKey != "" {
		if _, ok := e.pending[msg.SecretKey]; ok {
			delete(e.pending, msg.SecretKey)
			if e.db != nil {
				_ = e.db.MarkActionSent(msg.SecretKey)
			}
			e.result("send", "ok", "info", "")
		}
	}

	own := msg.Author != nil && e.me != nil && msg.Author.ID == e.me.ID
	isOpen := msg.ChatID != "" && msg.ChatID == e.timeline.ChatID()

	var s *Summary
	if isOpen {
		e.timeline.Prepend(msg)
		s = e.directory.ApplyMessage(kind, msg, false)
		e.directory.ClearUnread(msg.ChatID)
		if !own {
			e.sendNow(protocol.CmdReadMessages, protocol.ReadMessagesRequest{ChatID: msg.ChatID})
		}
	} else {
		s = e.directory.ApplyMessage(kind, msg, !own)
	}

	// A message from a participant supersedes their typing indicator.
	if msg.Author != nil {
		e.directory.SetTyping(msg.ChatID, msg.Author.ID, false)
		e.typing.Clear(msg.ChatID, msg.Author.ID)
	}

	e.persistChat(s)
	e.persistMessages(msg)

	if isOpen {
		e.publish("chat.directory", "chat.timeline")
	} else {
		e.publish("chat.directory")
	}
}

// onMessages applies a page-fetch response. A response for a
// conversation that is no longer open is discarded so it cannot
// corrupt the timeline of the now-open conversation.
func (e *Engine) onMessages(env protocol.Envelope) {
	var page protocol.MessagesPage
	if err := env.DecodeData(&page); err != nil {
		e.logger.Warn("bad messages page", zap.Error(err))
		return
	}
	msgs := fromWireMessages(page.Messages)
	if !e.timeline.Replace(page.ChatID, msgs, page.Total) {
		e.logger.Debug("discarding stale page",
			zap.String("page_chat", page.ChatID),
			zap.String("open_chat", e.timeline.ChatID()))
		return
	}
	e.persistMessages(msgs...)
	e.publish("chat.timeline")
}

func (e *Engine) onTyping(env protocol.Envelope) {
	var ev protocol.TypingEvent
	if err := env.DecodeData(&ev); err != nil {
		e.logger.Warn("bad typing event", zap.Error(err))
		return
	}
	if ev.Typing {
		e.directory.SetTyping(ev.ChatID, ev.UserID, true)
		e.typing.Touch(ev.ChatID, ev.UserID, time.Now())
	} else {
		e.directory.SetTyping(ev.ChatID, ev.UserID, false)
		e.typing.Clear(ev.ChatID, ev.UserID)
	}
	e.publish("chat.typing")
}

// onPresence flips the online flag only; presence never reorders the
// directory.
func (e *Engine) onPresence(env protocol.Envelope, online bool) {
	var ev protocol.PresenceEvent
	if err := env.DecodeData(&ev); err != nil {
		e.logger.Warn("bad presence event", zap.Error(err))
		return
	}
	if e.directory.SetPresence(ev.UserID, online) {
		e.publish("chat.presence")
	}
}

func (e *Engine) onMessageStatus(env protocol.Envelope) {
	var ev protocol.MessageStatusEvent
	if err := env.DecodeData(&ev); err != nil {
		e.logger.Warn("bad message status event", zap.Error(err))
		return
	}
	changed := false
	if ev.ChatID == e.timeline.ChatID() {
		changed = e.timeline.UpdateStatus(ev.MessageID, ev.Status)
	}
	if s := e.directory.Get(ev.ChatID); s != nil && s.Last != nil && s.Last.ID == ev.MessageID {
		// Copy-on-write: the last message is shared with published
		// snapshots by pointer.
		last := *s.Last
		last.Status = ev.Status
		s.Last = &last
		changed = true
	}
	if changed {
		e.publish("chat.timeline", "chat.directory")
	}
}

// onTransfer applies a handoff confirmation: the members list becomes
// the recipient set and a transfer-type message lands at the head of
// the timeline (if open) or as the summary's last message (if not), so
// both prior and new owners see the handoff as a timeline entry.
func (e *Engine) onTransfer(env protocol.Envelope) {
	var ev protocol.TransferEvent
	if err := env.DecodeData(&ev); err != nil {
		e.logger.Warn("bad transfer event", zap.Error(err))
		return
	}
	s := e.directory.Get(ev.ChatID)
	if s == nil {
		e.logger.Debug("transfer for unknown conversation", zap.String("chat", ev.ChatID))
		return
	}

	s.Members = fromWireUsers(ev.To)
	s.PendingTransfer = nil

	var msg *Message
	if ev.Message != nil {
		msg = fromWireMessage(*ev.Message)
	} else {
		msg = &Message{
			ID:        uuid.NewString(),
			ChatID:    ev.ChatID,
			Kind:      MsgTransfer,
			Timestamp: time.Now().Unix(),
			Transfer: &TransferInfo{
				From: fromWireUser(ev.From),
				To:   fromWireUsers(ev.To),
			},
		}
	}

	meIncluded := false
	if e.me != nil {
		for _, p := range s.Members {
			if p.ID == e.me.ID {
				meIncluded = true
				break
			}
		}
	}
	isOpen := ev.ChatID == e.timeline.ChatID()

	if isOpen {
		e.timeline.Prepend(msg)
		e.directory.ApplyMessage(s.Kind, msg, false)
		e.directory.ClearUnread(ev.ChatID)
	} else {
		e.directory.ApplyMessage(s.Kind, msg, meIncluded)
	}
	if !meIncluded {
		// Transferred away: unread responsibility moves with ownership.
		e.directory.ClearUnread(ev.ChatID)
	}

	e.persistChat(s)
	e.persistMessages(msg)
	if isOpen {
		e.publish("chat.directory", "chat.timeline")
	} else {
		e.publish("chat.directory")
	}
}

func (e *Engine) onTemplates(env protocol.Envelope) {
	var wts []protocol.Template
	if err := env.DecodeData(&wts); err != nil {
		e.logger.Warn("bad templates snapshot", zap.Error(err))
		return
	}
	e.templates = fromWireTemplates(wts)
	if e.db != nil {
		stored := make([]store.Template, 0, len(e.templates))
		for _, t := range e.templates {
			stored = append(stored, store.Template{ID: t.ID, Title: t.Title, Body: t.Body})
		}
		if err := e.db.ReplaceTemplates(stored); err != nil {
			e.logger.Warn("template cache write failed", zap.Error(err))
		}
	}
	e.publish("chat.templates")
}

// onTemplateStatus surfaces the backend's verdict on a template CRUD
// request and refreshes the cache on success.
func (e *Engine) onTemplateStatus(env protocol.Envelope) {
	var ev protocol.TemplateStatusEvent
	if err := env.DecodeData(&ev); err != nil {
		e.logger.Warn("bad template status event", zap.Error(err))
		return
	}
	severity := ev.Severity
	if severity == "" {
		if ev.Status == "ok" {
			severity = "info"
		} else {
			severity = "error"
		}
	}
	e.result("template_"+ev.Op, ev.Status, severity, ev.Message)
	if ev.Status == "ok" {
		e.sendNow(protocol.CmdGetTemplates, nil)
	}
}

func (e *Engine) onMarkedAllRead(env protocol.Envelope) {
	var ev protocol.StatusEvent
	if err := env.DecodeData(&ev); err != nil {
		e.logger.Warn("bad mark-all-read ack", zap.Error(err))
		return
	}
	if ev.Status != "ok" {
		e.result("mark_all_read", "error", "warning", "backend rejected mark-all-read")
		return
	}
	e.directory.ClearAllUnread()
	e.publish("chat.directory")
}

func (e *Engine) onFoundChats(env protocol.Envelope) {
	var chats []protocol.Chat
	if err := env.DecodeData(&chats); err != nil {
		e.logger.Warn("bad conversation search result", zap.Error(err))
		return
	}
	e.searchConvs = fromWireChats(chats, KindClient)
	e.publish("chat.search")
}

func (e *Engine) onFoundContacts(env protocol.Envelope) {
	var users []protocol.User
	if err := env.DecodeData(&users); err != nil {
		e.logger.Warn("bad contact search result", zap.Error(err))
		return
	}
	e.searchContacts = fromWireUsers(users)
	e.publish("chat.search")
}
