package signal

import (
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 64

// dispatcher fans inbound signals out to per-session subscribers. Offers for
// a session nobody listens to are handed to the incoming callback, and
// whatever follows them is held until that session subscribes.
type dispatcher struct {
	mu       sync.Mutex
	subs     map[domain.SessionID]chan core.Signal
	early    map[domain.SessionID][]core.Signal
	incoming func(core.Signal)
	closed   bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		subs:  make(map[domain.SessionID]chan core.Signal),
		early: make(map[domain.SessionID][]core.Signal),
	}
}

func (d *dispatcher) onIncoming(fn func(core.Signal)) {
	d.mu.Lock()
	d.incoming = fn
	d.mu.Unlock()
}

// subscribe replays anything held for sid before live delivery starts.
func (d *dispatcher) subscribe(sid domain.SessionID) (<-chan core.Signal, func()) {
	ch := make(chan core.Signal, subscriberBuffer)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	if prev, ok := d.subs[sid]; ok {
		close(prev)
	}
	for _, sig := range d.early[sid] {
		ch <- sig
	}
	delete(d.early, sid)
	d.subs[sid] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.subs[sid] == ch {
				delete(d.subs, sid)
				close(ch)
			}
		})
	}
}

func (d *dispatcher) deliver(sig core.Signal) {
	d.mu.Lock()
	if ch, ok := d.subs[sig.SessionID]; ok {
		select {
		case ch <- sig:
		default:
			dropped(sig, "subscriber backpressure, signal dropped")
		}
		d.mu.Unlock()
		return
	}
	incoming := d.incoming
	held, pending := d.early[sig.SessionID]

	switch {
	case d.closed:
		d.mu.Unlock()
		return
	case sig.Kind == core.SignalOffer && incoming != nil:
		// the screen keeps only the latest offer
		d.early = map[domain.SessionID][]core.Signal{sig.SessionID: {}}
	case !pending:
		d.mu.Unlock()
		log.Debug().
			Str("module", "adapters.signal").
			Str("sid", string(sig.SessionID)).
			Str("type", string(sig.Kind)).
			Msg("no subscriber for signal")
		return
	case len(held) >= subscriberBuffer:
		d.mu.Unlock()
		dropped(sig, "too many signals before accept, signal dropped")
		return
	default:
		d.early[sig.SessionID] = append(held, sig)
	}
	d.mu.Unlock()

	// the screen learns about the offer, and about a hangup that withdraws it
	if incoming != nil && (sig.Kind == core.SignalOffer || sig.Kind == core.SignalHangup) {
		incoming(sig)
	}
}

func dropped(sig core.Signal, msg string) {
	log.Warn().
		Str("module", "adapters.signal").
		Str("sid", string(sig.SessionID)).
		Str("type", string(sig.Kind)).
		Msg(msg)
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for sid, ch := range d.subs {
		close(ch)
		delete(d.subs, sid)
	}
	d.early = make(map[domain.SessionID][]core.Signal)
}
