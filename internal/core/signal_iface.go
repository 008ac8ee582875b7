package core

import (
	"context"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is a raw binary payload on the signaling wire.
type Frame []byte

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalHangup    SignalKind = "hangup"
)

// Signal is one inbound message from the remote party.
type Signal struct {
	Kind      SignalKind
	SessionID domain.SessionID
	SDP       string
	Candidate webrtc.ICECandidateInit
}

// SignalingPort carries offers, answers and candidates to and from the remote party.
// The transport behind it is not part of the call engine.
type SignalingPort interface {
	SendOffer(ctx context.Context, sid domain.SessionID, sdp string) error
	SendAnswer(ctx context.Context, sid domain.SessionID, sdp string) error
	SendCandidate(ctx context.Context, sid domain.SessionID, c webrtc.ICECandidateInit) error
	SendHangup(ctx context.Context, sid domain.SessionID) error
	// Subscribe delivers inbound signals for sid until cancel is called.
	Subscribe(sid domain.SessionID) (ch <-chan Signal, cancel func())
}
