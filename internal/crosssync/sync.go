// Package crosssync mirrors chart settings between sessions of the same
// user running in different contexts (processes, tabs, devices). Local
// changes are broadcast at a bounded rate; peer changes are applied
// last-write-wins and never echoed back.
package crosssync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"chartfeed/internal/session"
)

const (
	// MessageType tags settings broadcasts.
	MessageType = "state-update"

	DefaultInterval = 200 * time.Millisecond
)

// Message is the wire envelope.
type Message struct {
	Sender  string              `json:"sender"`
	Type    string              `json:"type"`
	Payload session.RemoteState `json:"payload"`
}

// Target is the session being mirrored.
type Target interface {
	Snapshot() session.Snapshot
	Watch(buffer int) (<-chan session.Snapshot, func())
	ApplyRemote(r session.RemoteState) session.Snapshot
}

// Sync connects one Target to a Bus.
type Sync struct {
	id       string
	bus      Bus
	target   Target
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	last     session.RemoteState
	lastSeq  uint64
	lastSent time.Time
	pending  *session.RemoteState
	timer    *time.Timer

	// Metrics hooks (optional, set before Run)
	OnPublish func()
	OnApply   func()
	OnDiscard func(reason string)
}

// New creates a Sync with a random sender id. interval <= 0 uses
// DefaultInterval.
func New(b Bus, target Target, interval time.Duration, log *slog.Logger) *Sync {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Sync{
		id:       id,
		bus:      b,
		target:   target,
		interval: interval,
		log:      log.With(slog.String("component", "crosssync"), slog.String("sender", id)),
	}
}

// ID returns the sender id stamped on outgoing messages.
func (s *Sync) ID() string { return s.id }

// Run mirrors until ctx ends or the bus subscription closes.
func (s *Sync) Run(ctx context.Context) error {
	in, err := s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	snaps, cancel := s.target.Watch(64)
	defer cancel()

	s.mu.Lock()
	s.ctx = ctx
	cur := s.target.Snapshot()
	s.last = cur.Remote()
	s.lastSeq = cur.Seq
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.pending = nil
		s.mu.Unlock()
	}()

	s.log.Info("cross-context sync running", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-in:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("sync bus closed")
			}
			s.handleIncoming(raw)
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			s.handleLocal(snap)
		}
	}
}

func (s *Sync) handleIncoming(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn("dropping malformed sync message", slog.Any("error", err))
		s.discard("malformed")
		return
	}
	if msg.Sender == s.id {
		s.discard("own")
		return
	}
	if msg.Type != MessageType {
		s.discard("type")
		return
	}

	s.mu.Lock()
	snap := s.target.ApplyRemote(msg.Payload)
	if snap.Seq > s.lastSeq {
		s.lastSeq = snap.Seq
	}
	s.last = snap.Remote()
	// the peer's state is newer than anything still waiting to go out
	s.pending = nil
	s.mu.Unlock()

	s.log.Debug("applied remote state", slog.String("from", msg.Sender))
	if s.OnApply != nil {
		s.OnApply()
	}
}

func (s *Sync) handleLocal(snap session.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = snap.Seq
	p := snap.Remote()
	if p.Equal(s.last) {
		return
	}
	s.last = p

	elapsed := time.Since(s.lastSent)
	if s.timer == nil && elapsed >= s.interval {
		s.lastSent = time.Now()
		go s.send(p)
		return
	}
	s.pending = &p
	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval-elapsed, s.flushPending)
	}
}

// flushPending is the trailing edge: the newest state held back by the
// throttle goes out.
func (s *Sync) flushPending() {
	s.mu.Lock()
	s.timer = nil
	p := s.pending
	s.pending = nil
	if p != nil {
		s.lastSent = time.Now()
	}
	s.mu.Unlock()
	if p != nil {
		s.send(*p)
	}
}

func (s *Sync) send(p session.RemoteState) {
	data, err := json.Marshal(Message{Sender: s.id, Type: MessageType, Payload: p})
	if err != nil {
		s.log.Error("encode sync message", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.bus.Publish(ctx, data); err != nil {
		s.log.Warn("sync publish failed", slog.Any("error", err))
		return
	}
	if s.OnPublish != nil {
		s.OnPublish()
	}
}

func (s *Sync) discard(reason string) {
	if s.OnDiscard != nil {
		s.OnDiscard(reason)
	}
}
