package signal

import (
	"errors"
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// maxParties is the number of endpoints a consultation holds: patient and doctor.
const maxParties = 2

var ErrConsultationFull = errors.New("consultation full")

// endpoint is one party joined to a consultation.
type endpoint interface {
	deliver(f core.Frame) error
	label() string
}

type member struct {
	ep endpoint
	// sessions this member has sent traffic for; the other side gets a
	// hangup for each when the member leaves.
	sessions map[string]struct{}
}

// Hub pairs the two parties of a consultation inside one process. Parties in
// other processes reach each other through an external signaling service
// with Dial instead.
type Hub struct {
	mu            sync.Mutex
	consultations map[string]map[endpoint]*member
}

func NewHub() *Hub {
	return &Hub{
		consultations: make(map[string]map[endpoint]*member),
	}
}

func (h *Hub) join(consultation string, ep endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.consultations[consultation]
	if members == nil {
		members = make(map[endpoint]*member)
		h.consultations[consultation] = members
	}
	if len(members) >= maxParties {
		return ErrConsultationFull
	}
	members[ep] = &member{ep: ep, sessions: make(map[string]struct{})}
	log.Info().
		Str("module", "adapters.signal").
		Str("consultation", consultation).
		Str("endpoint", ep.label()).
		Int("parties", len(members)).
		Msg("joined consultation")
	return nil
}

func (h *Hub) leave(consultation string, ep endpoint) {
	h.mu.Lock()
	members := h.consultations[consultation]
	m, ok := members[ep]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(members, ep)
	if len(members) == 0 {
		delete(h.consultations, consultation)
	}
	others := peersOf(members, ep)
	h.mu.Unlock()

	for sid := range m.sessions {
		f, err := encode(Envelope{Type: string(core.SignalHangup), Session: sid})
		if err != nil {
			continue
		}
		for _, o := range others {
			_ = o.deliver(f)
		}
	}
	log.Info().
		Str("module", "adapters.signal").
		Str("consultation", consultation).
		Str("endpoint", ep.label()).
		Msg("left consultation")
}

func peersOf(members map[endpoint]*member, from endpoint) []endpoint {
	out := make([]endpoint, 0, len(members))
	for ep := range members {
		if ep != from {
			out = append(out, ep)
		}
	}
	return out
}

// relay forwards call traffic from one party to the others. Returns
// ErrNoPeer when nobody else is in the consultation.
func (h *Hub) relay(consultation string, from endpoint, env Envelope) error {
	f, err := encode(env)
	if err != nil {
		return err
	}
	h.mu.Lock()
	members := h.consultations[consultation]
	if m, ok := members[from]; ok {
		m.sessions[env.Session] = struct{}{}
	}
	others := peersOf(members, from)
	h.mu.Unlock()

	if len(others) == 0 {
		return ErrNoPeer
	}
	var errs error
	for _, o := range others {
		if err := o.deliver(f); err != nil {
			log.Warn().
				Str("module", "adapters.signal").
				Str("consultation", consultation).
				Str("endpoint", o.label()).
				Err(err).
				Msg("relay failed")
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Parties reports how many endpoints are in consultation.
func (h *Hub) Parties(consultation string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consultations[consultation])
}

var ErrNoPeer = errors.New("no other party in consultation")
