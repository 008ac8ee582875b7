package signal

import (
	"context"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Port is an in-process party of a consultation on a Hub. It implements
// core.SignalingPort.
type Port struct {
	hub          *Hub
	consultation string
	id           string
	dispatch     *dispatcher

	mu     sync.Mutex
	closed bool
}

// Join adds an in-process party to consultation.
func (h *Hub) Join(consultation string) (*Port, error) {
	p := &Port{
		hub:          h,
		consultation: consultation,
		id:           uuid.NewString(),
		dispatch:     newDispatcher(),
	}
	if err := h.join(consultation, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Port) label() string { return "local:" + p.id }

func (p *Port) deliver(f core.Frame) error {
	env, err := decode(f)
	if err != nil {
		return err
	}
	sig, err := env.signal()
	if err != nil {
		return err
	}
	p.dispatch.deliver(sig)
	return nil
}

func (p *Port) send(ctx context.Context, sig core.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.hub.relay(p.consultation, p, envelopeOf(sig))
}

func (p *Port) SendOffer(ctx context.Context, sid domain.SessionID, sdp string) error {
	return p.send(ctx, core.Signal{Kind: core.SignalOffer, SessionID: sid, SDP: sdp})
}

func (p *Port) SendAnswer(ctx context.Context, sid domain.SessionID, sdp string) error {
	return p.send(ctx, core.Signal{Kind: core.SignalAnswer, SessionID: sid, SDP: sdp})
}

func (p *Port) SendCandidate(ctx context.Context, sid domain.SessionID, cand webrtc.ICECandidateInit) error {
	return p.send(ctx, core.Signal{Kind: core.SignalCandidate, SessionID: sid, Candidate: cand})
}

func (p *Port) SendHangup(ctx context.Context, sid domain.SessionID) error {
	return p.send(ctx, core.Signal{Kind: core.SignalHangup, SessionID: sid})
}

func (p *Port) Subscribe(sid domain.SessionID) (<-chan core.Signal, func()) {
	return p.dispatch.subscribe(sid)
}

func (p *Port) OnIncoming(fn func(core.Signal)) { p.dispatch.onIncoming(fn) }

// Close leaves the consultation. The other party gets a hangup for every
// session this port took part in.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.hub.leave(p.consultation, p)
	p.dispatch.close()
	return nil
}
