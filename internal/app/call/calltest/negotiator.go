package calltest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

var handleSeq atomic.Int64

// Negotiator hands out Handles and keeps every one of them for inspection.
type Negotiator struct {
	// Err, when set, is returned by Create.
	Err error
	// Gate, when set, blocks Create until it is closed or receives.
	Gate chan struct{}
	// OfferErr and AnswerErr are copied into every new handle.
	OfferErr  error
	AnswerErr error

	mu      sync.Mutex
	handles []*Handle
	created chan *Handle
}

func NewNegotiator() *Negotiator {
	return &Negotiator{created: make(chan *Handle, 16)}
}

func (n *Negotiator) Create(ctx context.Context, cfg core.NegotiationConfig) (core.NegotiationHandle, error) {
	if n.Gate != nil {
		<-n.Gate
	}
	if n.Err != nil {
		return nil, n.Err
	}
	h := NewHandle()
	h.offerErr = n.OfferErr
	h.answerErr = n.AnswerErr
	h.cfg = cfg
	n.mu.Lock()
	n.handles = append(n.handles, h)
	n.mu.Unlock()
	select {
	case n.created <- h:
	default:
	}
	return h, nil
}

// Created yields handles as they are made.
func (n *Negotiator) Created() <-chan *Handle { return n.created }

func (n *Negotiator) Handles() []*Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Handle, len(n.handles))
	copy(out, n.handles)
	return out
}

// Last returns the newest handle or nil.
func (n *Negotiator) Last() *Handle {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.handles) == 0 {
		return nil
	}
	return n.handles[len(n.handles)-1]
}

// Handle is a scripted NegotiationHandle. Tests drive it with Emit*.
type Handle struct {
	id  string
	cfg core.NegotiationConfig

	offerErr  error
	answerErr error

	mu         sync.Mutex
	attached   *core.LocalTrackSet
	localDesc  bool
	remoteDesc bool
	applied    []webrtc.ICECandidateInit
	answers    []webrtc.SessionDescription
	offers     []webrtc.SessionDescription
	closes     int
	closed     bool

	candidates *core.EventStream[webrtc.ICECandidateInit]
	states     *core.EventStream[domain.ConnectionState]
	remotes    *core.EventStream[*core.RemoteStream]
}

func NewHandle() *Handle {
	return &Handle{
		id:         fmt.Sprintf("pc-%d", handleSeq.Add(1)),
		candidates: core.NewEventStream[webrtc.ICECandidateInit](),
		states:     core.NewEventStream[domain.ConnectionState](),
		remotes:    core.NewEventStream[*core.RemoteStream](),
	}
}

func (h *Handle) ID() string                     { return h.id }
func (h *Handle) Config() core.NegotiationConfig { return h.cfg }

func (h *Handle) AttachLocalTracks(set *core.LocalTrackSet) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.localDesc {
		return domain.NewNegotiationError("attach", domain.ErrInvalidState, nil)
	}
	h.attached = set
	return nil
}

func (h *Handle) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("create_offer", domain.ErrInvalidState, nil)
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("create_offer", domain.ErrTimeout, err)
	}
	if h.offerErr != nil {
		return webrtc.SessionDescription{}, h.offerErr
	}
	h.localDesc = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + h.id}, nil
}

func (h *Handle) ApplyRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.localDesc {
		return domain.NewNegotiationError("apply_answer", domain.ErrInvalidState, nil)
	}
	h.answers = append(h.answers, answer)
	h.remoteDesc = true
	return nil
}

func (h *Handle) ApplyRemoteOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.localDesc {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("apply_offer", domain.ErrInvalidState, nil)
	}
	if h.answerErr != nil {
		return webrtc.SessionDescription{}, h.answerErr
	}
	h.offers = append(h.offers, offer)
	h.remoteDesc = true
	h.localDesc = true
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + h.id}, nil
}

func (h *Handle) ApplyRemoteCandidate(c webrtc.ICECandidateInit) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.remoteDesc {
		return domain.NewNegotiationError("apply_candidate", domain.ErrInvalidState, nil)
	}
	h.applied = append(h.applied, c)
	return nil
}

func (h *Handle) LocalCandidates() <-chan webrtc.ICECandidateInit { return h.candidates.C() }
func (h *Handle) ConnectionStates() <-chan domain.ConnectionState { return h.states.C() }
func (h *Handle) RemoteStreams() <-chan *core.RemoteStream        { return h.remotes.C() }

func (h *Handle) Close() error {
	h.mu.Lock()
	h.closes++
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	h.candidates.Discard()
	h.states.Discard()
	h.remotes.Discard()
	return nil
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// EmitCandidate pretends ICE gathered c.
func (h *Handle) EmitCandidate(c webrtc.ICECandidateInit) { h.candidates.Push(c) }

// EmitState pretends the transport moved to st. Failed and Closed end every stream.
func (h *Handle) EmitState(st domain.ConnectionState) {
	h.states.Push(st)
	if !st.Terminal() {
		return
	}
	h.candidates.Close()
	h.states.Close()
	h.remotes.Close()
}

// EmitRemote pretends the peer announced a stream.
func (h *Handle) EmitRemote(id string) *core.RemoteStream {
	rs := core.NewRemoteStream(id)
	h.remotes.Push(rs)
	return rs
}

func (h *Handle) Attached() *core.LocalTrackSet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attached
}

func (h *Handle) AppliedCandidates() []webrtc.ICECandidateInit {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(h.applied))
	copy(out, h.applied)
	return out
}

func (h *Handle) Answers() []webrtc.SessionDescription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), h.answers...)
}

func (h *Handle) Offers() []webrtc.SessionDescription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), h.offers...)
}

func (h *Handle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}
