package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handle owns one pion PeerConnection. Callbacks never block: they feed
// event streams that the session drains.
type Handle struct {
	id     string
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu       sync.Mutex
	closed   bool
	attached map[webrtc.RTPCodecType]bool
	last     domain.ConnectionState

	streamsMu sync.Mutex
	streams   map[string]*core.RemoteStream

	candidates *core.EventStream[webrtc.ICECandidateInit]
	states     *core.EventStream[domain.ConnectionState]
	remotes    *core.EventStream[*core.RemoteStream]
}

func newHandle(pc *webrtc.PeerConnection) *Handle {
	id := uuid.NewString()
	h := &Handle{
		id:         id,
		pc:         pc,
		logger:     log.With().Str("module", "webrtc").Str("pc", id).Logger(),
		attached:   make(map[webrtc.RTPCodecType]bool),
		last:       domain.ConnectionNew,
		streams:    make(map[string]*core.RemoteStream),
		candidates: core.NewEventStream[webrtc.ICECandidateInit](),
		states:     core.NewEventStream[domain.ConnectionState](),
		remotes:    core.NewEventStream[*core.RemoteStream](),
	}
	h.bind()
	return h
}

func (h *Handle) bind() {
	h.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			h.logger.Debug().Msg("candidate gathering complete")
			return
		}
		h.candidates.Push(c.ToJSON())
	})

	h.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		h.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	h.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		h.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		h.onState(connectionState(s))
	})

	h.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		h.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		h.onTrack(track)
	})
}

// onState forwards a transport transition. pion fires these on separate
// goroutines, so repeats and anything after a terminal state are dropped.
func (h *Handle) onState(st domain.ConnectionState) {
	h.mu.Lock()
	if h.last.Terminal() || h.last == st {
		h.mu.Unlock()
		return
	}
	h.last = st
	h.mu.Unlock()

	h.states.Push(st)
	if st.Terminal() {
		h.finish()
	}
}

func (h *Handle) onTrack(track *webrtc.TrackRemote) {
	sid := track.StreamID()
	if sid == "" {
		sid = track.ID()
	}
	h.streamsMu.Lock()
	rs, ok := h.streams[sid]
	if !ok {
		rs = core.NewRemoteStream(sid)
		h.streams[sid] = rs
	}
	rs.AddTrack(track)
	h.streamsMu.Unlock()

	if !ok {
		h.remotes.Push(rs)
	}
}

// finish ends every stream after delivering what is queued.
func (h *Handle) finish() {
	h.candidates.Close()
	h.states.Close()
	h.remotes.Close()
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) usable(op string) error {
	if h.closed || h.last.Terminal() {
		return domain.NewNegotiationError(op, domain.ErrInvalidState, webrtc.ErrConnectionClosed)
	}
	return nil
}

func (h *Handle) AttachLocalTracks(set *core.LocalTrackSet) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable("attach"); err != nil {
		return err
	}
	if h.pc.LocalDescription() != nil {
		return domain.NewNegotiationError("attach", domain.ErrInvalidState, errors.New("local description already set"))
	}
	for _, t := range set.Tracks() {
		rtp := t.RTP()
		if rtp == nil {
			continue
		}
		sender, err := h.pc.AddTrack(rtp)
		if err != nil {
			return domain.NewNegotiationError("attach", domain.ErrTransportFailed, err)
		}
		h.attached[rtp.Kind()] = true
		go drainRTCP(sender)
		h.logger.Debug().Str("track", t.ID()).Str("kind", string(t.Kind())).Msg("local track attached")
	}
	return nil
}

// drainRTCP keeps the interceptors fed; pion needs RTCP read for NACK and reports.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ensureReceivers adds recvonly transceivers for kinds with no local track so
// the offer still asks for the peer's audio and video.
func (h *Handle) ensureReceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if h.attached[kind] {
			continue
		}
		if _, err := h.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
		h.attached[kind] = true
	}
	return nil
}

func (h *Handle) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable("create_offer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("create_offer", domain.ErrTimeout, err)
	}
	if err := h.ensureReceivers(); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("create_offer", domain.ErrTransportFailed, err)
	}
	offer, err := h.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("create_offer", domain.ErrInvalidState, err)
	}
	if err := h.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("create_offer", domain.ErrInvalidState, err)
	}
	h.logger.Debug().Msg("local offer applied")
	return offer, nil
}

func (h *Handle) ApplyRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable("apply_answer"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewNegotiationError("apply_answer", domain.ErrTimeout, err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || h.pc.LocalDescription() == nil {
		return domain.NewNegotiationError("apply_answer", domain.ErrInvalidState, errors.New("no pending local offer"))
	}
	if err := h.pc.SetRemoteDescription(answer); err != nil {
		return domain.NewNegotiationError("apply_answer", domain.ErrInvalidState, err)
	}
	h.logger.Debug().Msg("remote answer applied")
	return nil
}

func (h *Handle) ApplyRemoteOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable("apply_offer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("apply_offer", domain.ErrTimeout, err)
	}
	if offer.Type != webrtc.SDPTypeOffer || h.pc.LocalDescription() != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("apply_offer", domain.ErrInvalidState, errors.New("not expecting an offer"))
	}
	if err := h.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("apply_offer", domain.ErrInvalidState, err)
	}
	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("apply_offer", domain.ErrInvalidState, err)
	}
	if err := h.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, domain.NewNegotiationError("apply_offer", domain.ErrInvalidState, err)
	}
	h.logger.Debug().Msg("remote offer applied, answer ready")
	return answer, nil
}

func (h *Handle) ApplyRemoteCandidate(c webrtc.ICECandidateInit) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.usable("apply_candidate"); err != nil {
		return err
	}
	if h.pc.RemoteDescription() == nil {
		return domain.NewNegotiationError("apply_candidate", domain.ErrInvalidState, errors.New("remote description not applied"))
	}
	if err := h.pc.AddICECandidate(c); err != nil {
		return domain.NewNegotiationError("apply_candidate", domain.ErrTransportFailed, err)
	}
	return nil
}

func (h *Handle) LocalCandidates() <-chan webrtc.ICECandidateInit { return h.candidates.C() }
func (h *Handle) ConnectionStates() <-chan domain.ConnectionState { return h.states.C() }
func (h *Handle) RemoteStreams() <-chan *core.RemoteStream        { return h.remotes.C() }

// Close drops undelivered events and closes the peer connection. Idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.candidates.Discard()
	h.states.Discard()
	h.remotes.Discard()

	if err := h.pc.Close(); err != nil {
		h.logger.Error().Err(err).Msg("close error")
		return domain.NewNegotiationError("close", domain.ErrTransportFailed, err)
	}
	h.logger.Info().Msg("closed")
	return nil
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func connectionState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	}
	return domain.ConnectionNew
}
