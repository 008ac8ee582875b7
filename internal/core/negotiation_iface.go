package core

import (
	"context"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

type NegotiationConfig struct {
	ICEServers []webrtc.ICEServer
}

// Negotiator creates one handle per call attempt.
type Negotiator interface {
	Create(ctx context.Context, cfg NegotiationConfig) (NegotiationHandle, error)
}

// NegotiationHandle wraps a single peer connection for the lifetime of a session.
// Once the handle reports failed or closed, or Close is called, every stream
// below is closed and no further events are delivered.
type NegotiationHandle interface {
	ID() string
	// AttachLocalTracks binds local media to outgoing senders. Allowed only
	// before the local description is set; fails with ErrInvalidState otherwise.
	AttachLocalTracks(set *LocalTrackSet) error
	// CreateOffer creates and applies the local offer. The caller routes it.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	// ApplyRemoteOffer applies the remote offer and returns the applied local answer.
	ApplyRemoteOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyRemoteCandidate fails with ErrInvalidState before the remote description is applied.
	ApplyRemoteCandidate(c webrtc.ICECandidateInit) error

	// LocalCandidates yields gathered candidates in discovery order.
	LocalCandidates() <-chan webrtc.ICECandidateInit
	// ConnectionStates yields transport transitions.
	ConnectionStates() <-chan domain.ConnectionState
	// RemoteStreams yields one stream per remote stream id.
	RemoteStreams() <-chan *RemoteStream

	// Close tears down transport and ICE state. Idempotent.
	Close() error
	Closed() bool
}
