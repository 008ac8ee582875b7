// Package screen keeps one call controller per open consultation screen and
// makes sure every controller is disposed with its screen.
package screen

import (
	"sync"
	"time"

	"github.com/dkeye/consult/internal/app/call"
	"github.com/dkeye/consult/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// ID names the client a screen belongs to; one client shows one consultation at a time.
type ID string

// Endpoint is a screen's signaling connection.
type Endpoint interface {
	core.SignalingPort
	OnIncoming(fn func(core.Signal))
	Close() error
}

// Connect joins the signaling of consultation for a new screen.
type Connect func(consultation string) (Endpoint, error)

// Build makes the controller for a new screen.
type Build func(id ID, sig core.SignalingPort) *call.Controller

type Registry struct {
	connect Connect
	build   Build

	mu      sync.RWMutex
	screens map[ID]*Screen
}

func NewRegistry(connect Connect, build Build) *Registry {
	return &Registry{
		connect: connect,
		build:   build,
		screens: make(map[ID]*Screen),
	}
}

// Open returns the client's screen for consultation, creating it on first
// use. A screen showing another consultation is closed first.
func (r *Registry) Open(id ID, consultation string) (*Screen, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.screens[id]; ok {
		if s.Consultation == consultation {
			return s, nil
		}
		delete(r.screens, id)
		s.close()
		log.Info().
			Str("module", "app.screen").
			Str("screen", string(id)).
			Str("consultation", s.Consultation).
			Msg("replaced screen")
	}
	ep, err := r.connect(consultation)
	if err != nil {
		log.Error().
			Str("module", "app.screen").
			Str("screen", string(id)).
			Str("consultation", consultation).
			Err(err).
			Msg("signaling connect failed")
		return nil, err
	}
	s := newScreen(id, consultation, r.build(id, ep), ep)
	r.screens[id] = s
	log.Info().
		Str("module", "app.screen").
		Str("screen", string(id)).
		Str("consultation", consultation).
		Msg("opened screen")
	return s, nil
}

func (r *Registry) Get(id ID) (*Screen, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.screens[id]
	return s, ok
}

// Close disposes the screen's controller, ending any live call, then drops
// its signaling. Reports whether the screen was open.
func (r *Registry) Close(id ID) bool {
	r.mu.Lock()
	s, ok := r.screens[id]
	delete(r.screens, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	log.Info().
		Str("module", "app.screen").
		Str("screen", string(id)).
		Dur("open_for", time.Since(s.openedAt)).
		Msg("closed screen")
	return true
}

// CloseAll disposes every screen concurrently and waits for all of them.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	screens := r.screens
	r.screens = make(map[ID]*Screen)
	r.mu.Unlock()

	var wg conc.WaitGroup
	for id, s := range screens {
		id, s := id, s
		wg.Go(func() {
			s.close()
			log.Debug().Str("module", "app.screen").Str("screen", string(id)).Msg("disposed on shutdown")
		})
	}
	wg.Wait()
	log.Info().Str("module", "app.screen").Int("count", len(screens)).Msg("closed all screens")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.screens)
}
