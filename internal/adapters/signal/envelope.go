package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

const (
	typePing  = "ping"
	typePong  = "pong"
	typeError = "error"
)

// Envelope is one JSON message on the signaling socket.
type Envelope struct {
	Type          string  `json:"type"`
	Session       string  `json:"session,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

var errBadEnvelope = errors.New("bad envelope")

func envelopeOf(sig core.Signal) Envelope {
	env := Envelope{Type: string(sig.Kind), Session: string(sig.SessionID), SDP: sig.SDP}
	if sig.Kind == core.SignalCandidate {
		env.Candidate = sig.Candidate.Candidate
		env.SDPMid = sig.Candidate.SDPMid
		env.SDPMLineIndex = sig.Candidate.SDPMLineIndex
	}
	return env
}

// signal converts a relayed envelope back into a core.Signal.
func (e Envelope) signal() (core.Signal, error) {
	sid, err := domain.ParseSessionID(e.Session)
	if err != nil {
		return core.Signal{}, fmt.Errorf("%w: %s: %w", errBadEnvelope, e.Type, err)
	}
	sig := core.Signal{Kind: core.SignalKind(e.Type), SessionID: sid}
	switch sig.Kind {
	case core.SignalOffer, core.SignalAnswer:
		if e.SDP == "" {
			return sig, fmt.Errorf("%w: %s without sdp", errBadEnvelope, e.Type)
		}
		sig.SDP = e.SDP
	case core.SignalCandidate:
		sig.Candidate = webrtc.ICECandidateInit{
			Candidate:     e.Candidate,
			SDPMid:        e.SDPMid,
			SDPMLineIndex: e.SDPMLineIndex,
		}
	case core.SignalHangup:
	default:
		return sig, fmt.Errorf("%w: unknown type %q", errBadEnvelope, e.Type)
	}
	return sig, nil
}

func encode(env Envelope) (core.Frame, error) {
	return json.Marshal(env)
}

func decode(f core.Frame) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return env, fmt.Errorf("%w: %v", errBadEnvelope, err)
	}
	return env, nil
}

// relayable reports whether env is call traffic for the other party.
func relayable(env Envelope) bool {
	switch core.SignalKind(env.Type) {
	case core.SignalOffer, core.SignalAnswer, core.SignalCandidate, core.SignalHangup:
		return env.Session != ""
	}
	return false
}
