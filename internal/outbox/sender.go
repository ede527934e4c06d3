// Package outbox flushes the persistent outbound action queue over the
// backend connection. Actions land in the queue while the connection is
// down; the sender drains them in FIFO order once it reopens.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/opsdesk/chatd/internal/bus"
	"github.com/opsdesk/chatd/internal/status"
	"github.com/opsdesk/chatd/internal/store"
	"github.com/opsdesk/chatd/internal/transport"
	"go.uber.org/zap"
)

const (
	flushInterval = 15 * time.Second
	sentRetention = 24 * time.Hour
)

// RawSender writes an already-marshaled event to the connection.
type RawSender interface {
	SendRaw(event string, data json.RawMessage) error
}

// Sender drains the queue on every reconnect and on a slow periodic
// tick that catches entries enqueued in a race with connection close.
type Sender struct {
	db      *store.DB
	sender  RawSender
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewSender creates the queue flusher.
func NewSender(db *store.DB, sender RawSender, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{db: db, sender: sender, bus: b, machine: machine, logger: logger}
}

// Start launches the flush loop. Entries stuck in 'sending' from an
// interrupted previous run are returned to the queue first.
func (s *Sender) Start(ctx context.Context) error {
	if err := s.db.RequeueSending(); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	connCh, unsub := s.bus.Subscribe("conn.", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case evt := <-connCh:
				if evt.Kind == "conn.open" {
					s.flush()
				}
			case <-ticker.C:
				if s.machine.Current() == status.Open {
					s.flush()
				}
				if err := s.db.PruneSentActions(sentRetention); err != nil {
					s.logger.Warn("queue prune failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the flush loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// flush drains queued entries in FIFO order. The drain stops at the
// first closed-connection error; those entries stay queued for the
// next reconnect.
func (s *Sender) flush() {
	entries, err := s.db.PendingActions()
	if err != nil {
		s.logger.Warn("queue read failed", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	s.logger.Info("flushing outbound queue", zap.Int("entries", len(entries)))

	for _, entry := range entries {
		if err := s.db.MarkActionSending(entry.ClientKey); err != nil {
			s.logger.Warn("queue update failed", zap.String("key", entry.ClientKey), zap.Error(err))
			continue
		}
		err := s.sender.SendRaw(entry.Event, entry.Payload)
		switch {
		case errors.Is(err, transport.ErrNotOpen):
			if rerr := s.db.RequeueSending(); rerr != nil {
				s.logger.Warn("requeue failed", zap.Error(rerr))
			}
			return
		case err != nil:
			s.logger.Warn("queued send failed",
				zap.String("event", entry.Event),
				zap.String("key", entry.ClientKey),
				zap.Error(err))
			if ferr := s.db.MarkActionFailed(entry.ClientKey, err.Error()); ferr != nil {
				s.logger.Warn("queue update failed", zap.Error(ferr))
			}
		default:
			if serr := s.db.MarkActionSent(entry.ClientKey); serr != nil {
				s.logger.Warn("queue update failed", zap.Error(serr))
			}
		}
	}
}
