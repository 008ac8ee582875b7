// Package calltest provides in-memory collaborators for exercising the call
// controller without a camera, a peer connection or a signaling server.
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

var trackSeq atomic.Int64

// Track is a LocalTrack that only records what was done to it.
type Track struct {
	id   string
	kind domain.TrackKind

	mu       sync.Mutex
	enabled  bool
	stops    int
	switches int
	switchFn func(ctx context.Context) error

	onStop func()
}

func NewTrack(kind domain.TrackKind) *Track {
	return &Track{
		id:      fmt.Sprintf("%s-%d", kind, trackSeq.Add(1)),
		kind:    kind,
		enabled: true,
	}
}

func (t *Track) ID() string             { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }
func (t *Track) RTP() webrtc.TrackLocal { return nil }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stops > 0 {
		return
	}
	t.enabled = enabled
}

func (t *Track) Stop() error {
	t.mu.Lock()
	t.stops++
	first := t.stops == 1
	onStop := t.onStop
	t.mu.Unlock()
	if first && onStop != nil {
		onStop()
	}
	return nil
}

func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

// StopCount reports how many times Stop was called.
func (t *Track) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// OnSwitch installs a hook run by SwitchCamera; a non-nil error aborts the switch.
func (t *Track) OnSwitch(fn func(ctx context.Context) error) {
	t.mu.Lock()
	t.switchFn = fn
	t.mu.Unlock()
}

func (t *Track) Switches() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.switches
}

// SwitchableTrack is a video Track that also implements core.CameraSwitcher.
type SwitchableTrack struct {
	*Track
}

func (t SwitchableTrack) SwitchCamera(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stops > 0 {
		return domain.ErrNoActiveSession
	}
	if t.switchFn != nil {
		if err := t.switchFn(ctx); err != nil {
			return err
		}
	}
	t.switches++
	return nil
}

// Media is a MediaResourceManager handing out fake tracks.
type Media struct {
	// Err, when set, is returned by every Acquire.
	Err error
	// Gate, when set, blocks Acquire until it is closed or receives.
	Gate chan struct{}
	// AudioOnly skips the video track.
	AudioOnly bool
	// Switchable makes video tracks implement core.CameraSwitcher.
	Switchable bool

	mu       sync.Mutex
	sets     []*core.LocalTrackSet
	tracks   []*Track
	acquires int
	releases int
	live     atomic.Int64
}

func (m *Media) Acquire(ctx context.Context, c domain.Constraints) (*core.LocalTrackSet, error) {
	m.mu.Lock()
	m.acquires++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}

	var tracks []core.LocalTrack
	add := func(t *Track) {
		m.live.Add(1)
		t.onStop = func() { m.live.Add(-1) }
		m.mu.Lock()
		m.tracks = append(m.tracks, t)
		m.mu.Unlock()
	}
	if c.Audio {
		t := NewTrack(domain.TrackAudio)
		add(t)
		tracks = append(tracks, t)
	}
	if c.Video != nil && !m.AudioOnly {
		t := NewTrack(domain.TrackVideo)
		add(t)
		if m.Switchable {
			tracks = append(tracks, SwitchableTrack{t})
		} else {
			tracks = append(tracks, t)
		}
	}
	set := core.NewLocalTrackSet(tracks...)
	m.mu.Lock()
	m.sets = append(m.sets, set)
	m.mu.Unlock()
	return set, nil
}

func (m *Media) Release(set *core.LocalTrackSet) error {
	m.mu.Lock()
	m.releases++
	m.mu.Unlock()
	return set.Stop()
}

// Live is the number of tracks handed out and not yet stopped: the camera/mic indicator.
func (m *Media) Live() int { return int(m.live.Load()) }

func (m *Media) Acquires() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires
}

func (m *Media) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// Tracks returns every track ever handed out.
func (m *Media) Tracks() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Track, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// TracksOf returns handed out tracks of one kind.
func (m *Media) TracksOf(kind domain.TrackKind) []*Track {
	var out []*Track
	for _, t := range m.Tracks() {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}
