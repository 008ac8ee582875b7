package screen

import (
	"sync"
	"time"

	"github.com/dkeye/consult/internal/app/call"
	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

type EventKind string

const (
	EventState    EventKind = "state"
	EventIncoming  EventKind = "incoming"
	EventWithdrawn EventKind = "withdrawn"
)

// Event is what a screen's watchers receive: a call snapshot, an offer
// from the other party waiting to be accepted, or the caller giving up on it.
type Event struct {
	Kind     EventKind           `json:"kind"`
	Snapshot domain.CallSnapshot `json:"snapshot"`
	Session  domain.SessionID    `json:"session,omitempty"`
}

// Screen is one open consultation screen.
type Screen struct {
	ID           ID
	Consultation string
	Ctrl         *call.Controller

	ep        Endpoint
	openedAt  time.Time
	unobserve func()

	mu       sync.Mutex
	pending  *core.Signal
	watchers map[int]func(Event)
	next     int
}

func newScreen(id ID, consultation string, ctrl *call.Controller, ep Endpoint) *Screen {
	s := &Screen{
		ID:           id,
		Consultation: consultation,
		Ctrl:         ctrl,
		ep:           ep,
		openedAt:     time.Now(),
		watchers:     make(map[int]func(Event)),
	}
	s.unobserve = ctrl.Observe(func(snap domain.CallSnapshot) {
		s.emit(Event{Kind: EventState, Snapshot: snap})
	})
	ep.OnIncoming(s.incoming)
	return s
}

func (s *Screen) incoming(sig core.Signal) {
	switch sig.Kind {
	case core.SignalOffer:
		s.offered(sig)
	case core.SignalHangup:
		s.withdrawn(sig.SessionID)
	}
}

func (s *Screen) offered(sig core.Signal) {
	s.mu.Lock()
	s.pending = &sig
	s.mu.Unlock()
	log.Info().
		Str("module", "app.screen").
		Str("screen", string(s.ID)).
		Str("sid", string(sig.SessionID)).
		Msg("incoming call")
	s.emit(Event{Kind: EventIncoming, Snapshot: s.Ctrl.Snapshot(), Session: sig.SessionID})
}

func (s *Screen) withdrawn(sid domain.SessionID) {
	s.mu.Lock()
	cleared := s.pending != nil && s.pending.SessionID == sid
	if cleared {
		s.pending = nil
	}
	s.mu.Unlock()
	if !cleared {
		return
	}
	log.Info().
		Str("module", "app.screen").
		Str("screen", string(s.ID)).
		Str("sid", string(sid)).
		Msg("incoming call withdrawn")
	s.emit(Event{Kind: EventWithdrawn, Snapshot: s.Ctrl.Snapshot(), Session: sid})
}

// Incoming returns the offer waiting to be accepted, if any.
func (s *Screen) Incoming() (core.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return core.Signal{}, false
	}
	return *s.pending, true
}

// TakeIncoming removes and returns the waiting offer.
func (s *Screen) TakeIncoming() (core.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return core.Signal{}, false
	}
	sig := *s.pending
	s.pending = nil
	return sig, true
}

// Watch registers fn for every event until the returned func is called.
// fn must not block.
func (s *Screen) Watch(fn func(Event)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Screen) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Screen) close() {
	s.Ctrl.Dispose()
	s.unobserve()
	if err := s.ep.Close(); err != nil {
		log.Warn().Str("module", "app.screen").Str("screen", string(s.ID)).Err(err).Msg("closing signaling")
	}
}
