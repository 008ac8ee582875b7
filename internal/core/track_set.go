package core

import (
	"sync"

	"github.com/dkeye/consult/internal/domain"
	"go.uber.org/multierr"
)

// LocalTrackSet is the owned mapping of track kind to capture tracks.
// Stop is idempotent and stops every track exactly once.
type LocalTrackSet struct {
	mu       sync.RWMutex
	order    []LocalTrack
	byKind   map[domain.TrackKind][]LocalTrack
	released bool
}

func NewLocalTrackSet(tracks ...LocalTrack) *LocalTrackSet {
	s := &LocalTrackSet{byKind: make(map[domain.TrackKind][]LocalTrack)}
	for _, t := range tracks {
		if t == nil {
			continue
		}
		s.order = append(s.order, t)
		s.byKind[t.Kind()] = append(s.byKind[t.Kind()], t)
	}
	return s
}

func (s *LocalTrackSet) Tracks() []LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LocalTrack, len(s.order))
	copy(out, s.order)
	return out
}

func (s *LocalTrackSet) ByKind(kind domain.TrackKind) []LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LocalTrack, len(s.byKind[kind]))
	copy(out, s.byKind[kind])
	return out
}

func (s *LocalTrackSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Live counts tracks that have not been stopped yet.
func (s *LocalTrackSet) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.order {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

func (s *LocalTrackSet) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Stop stops every track. Later calls are no-ops returning nil.
func (s *LocalTrackSet) Stop() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	tracks := s.order
	s.mu.Unlock()

	var err error
	for _, t := range tracks {
		err = multierr.Append(err, t.Stop())
	}
	return err
}

func (s *LocalTrackSet) Infos() []domain.TrackInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrackInfo, 0, len(s.order))
	for _, t := range s.order {
		out = append(out, domain.TrackInfo{
			ID:      t.ID(),
			Kind:    t.Kind(),
			Enabled: !t.Stopped() && t.Enabled(),
			Stopped: t.Stopped(),
		})
	}
	return out
}
