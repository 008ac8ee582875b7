package calltest

import (
	"context"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Sent is one outbound message recorded by Signaling.
type Sent struct {
	Kind      core.SignalKind
	SessionID domain.SessionID
	SDP       string
	Candidate webrtc.ICECandidateInit
}

// Signaling records outbound messages and lets tests inject inbound ones.
type Signaling struct {
	// Err, when set, is returned by every Send*.
	Err error

	mu       sync.Mutex
	sent     []Sent
	subs     map[domain.SessionID]map[int]chan core.Signal
	nextID   int
	notify   chan Sent
	incoming func(core.Signal)
	closes   int
}

func NewSignaling() *Signaling {
	return &Signaling{
		subs:   make(map[domain.SessionID]map[int]chan core.Signal),
		notify: make(chan Sent, 256),
	}
}

func (s *Signaling) record(m Sent) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	select {
	case s.notify <- m:
	default:
	}
	return nil
}

func (s *Signaling) SendOffer(_ context.Context, sid domain.SessionID, sdp string) error {
	return s.record(Sent{Kind: core.SignalOffer, SessionID: sid, SDP: sdp})
}

func (s *Signaling) SendAnswer(_ context.Context, sid domain.SessionID, sdp string) error {
	return s.record(Sent{Kind: core.SignalAnswer, SessionID: sid, SDP: sdp})
}

func (s *Signaling) SendCandidate(_ context.Context, sid domain.SessionID, c webrtc.ICECandidateInit) error {
	return s.record(Sent{Kind: core.SignalCandidate, SessionID: sid, Candidate: c})
}

func (s *Signaling) SendHangup(_ context.Context, sid domain.SessionID) error {
	return s.record(Sent{Kind: core.SignalHangup, SessionID: sid})
}

func (s *Signaling) Subscribe(sid domain.SessionID) (<-chan core.Signal, func()) {
	ch := make(chan core.Signal, 64)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[sid] == nil {
		s.subs[sid] = make(map[int]chan core.Signal)
	}
	s.subs[sid][id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[sid], id)
			if len(s.subs[sid]) == 0 {
				delete(s.subs, sid)
			}
			close(ch)
			s.mu.Unlock()
		})
	}
}

// Deliver hands sig to every subscriber of its session. Reports whether anyone got it.
func (s *Signaling) Deliver(sig core.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivered := false
	for _, ch := range s.subs[sig.SessionID] {
		select {
		case ch <- sig:
			delivered = true
		default:
		}
	}
	return delivered
}

// Subscribers counts open subscriptions for sid.
func (s *Signaling) Subscribers(sid domain.SessionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[sid])
}

// Sent returns every recorded outbound message in send order.
func (s *Signaling) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// SentOf filters Sent by kind.
func (s *Signaling) SentOf(kind core.SignalKind) []Sent {
	var out []Sent
	for _, m := range s.Sent() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Outbound yields messages as they are sent.
func (s *Signaling) Outbound() <-chan Sent { return s.notify }

func (s *Signaling) OnIncoming(fn func(core.Signal)) {
	s.mu.Lock()
	s.incoming = fn
	s.mu.Unlock()
}

// Offer plays an offer for a new session from the other party.
func (s *Signaling) Offer(sid domain.SessionID, sdp string) {
	s.announce(core.Signal{Kind: core.SignalOffer, SessionID: sid, SDP: sdp})
}

// Withdraw plays the other party hanging up before the offer was accepted.
func (s *Signaling) Withdraw(sid domain.SessionID) {
	s.announce(core.Signal{Kind: core.SignalHangup, SessionID: sid})
}

func (s *Signaling) announce(sig core.Signal) {
	s.mu.Lock()
	fn := s.incoming
	s.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
}

func (s *Signaling) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *Signaling) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}
