package media

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/dkeye/consult/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
)

type trackState int32

const (
	trackLive trackState = iota
	trackDisabled
	trackStopped
)

// gate is shared by a track and its source. Zero value is live.
type gate struct {
	state atomic.Int32
}

func (g *gate) get() trackState { return trackState(g.state.Load()) }

func (g *gate) setEnabled(enabled bool) {
	from, to := trackDisabled, trackLive
	if !enabled {
		from, to = trackLive, trackDisabled
	}
	g.state.CompareAndSwap(int32(from), int32(to))
}

// stop reports whether this call did the stopping.
func (g *gate) stop() bool {
	return trackState(g.state.Swap(int32(trackStopped))) != trackStopped
}

type source interface {
	ID() string
	Close() error
}

// track is one acquired capture track. rtp is nil when no encoders are built in.
type track struct {
	kind   domain.TrackKind
	gate   *gate
	src    source
	rtp    mediadevices.Track
	onStop func()
}

func (t *track) ID() string              { return t.src.ID() }
func (t *track) Kind() domain.TrackKind  { return t.kind }
func (t *track) Enabled() bool           { return t.gate.get() == trackLive }
func (t *track) SetEnabled(enabled bool) { t.gate.setEnabled(enabled) }
func (t *track) Stopped() bool           { return t.gate.get() == trackStopped }

func (t *track) RTP() webrtc.TrackLocal {
	if t.rtp == nil {
		return nil
	}
	return t.rtp
}

func (t *track) Stop() error {
	if !t.gate.stop() {
		return nil
	}
	if t.onStop != nil {
		defer t.onStop()
	}
	if t.rtp != nil {
		// closing the mediadevices track closes its source
		return t.rtp.Close()
	}
	return t.src.Close()
}

// videoTrack can swap its camera in place.
type videoTrack struct {
	*track
	source *videoSource
	m      *Manager
}

func (t *videoTrack) SwitchCamera(ctx context.Context) error {
	if t.Stopped() {
		return domain.ErrNoActiveSession
	}
	return t.m.switchCamera(ctx, t.source)
}

// videoSource reads from the current camera and substitutes black frames
// while the track is disabled.
type videoSource struct {
	id    string
	gate  *gate
	black blackFrames

	constraints *domain.VideoConstraints

	mu       sync.RWMutex
	capture  VideoCapture
	deviceID string
	facing   domain.FacingMode
	closed   bool
}

func newVideoSource(g *gate, c VideoCapture, deviceID string, facing domain.FacingMode, v *domain.VideoConstraints) *videoSource {
	return &videoSource{
		id:          uuid.NewString(),
		gate:        g,
		constraints: v,
		capture:     c,
		deviceID:    deviceID,
		facing:      facing,
	}
}

func (s *videoSource) ID() string { return s.id }

func (s *videoSource) current() VideoCapture {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capture
}

func (s *videoSource) device() (string, domain.FacingMode) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID, s.facing
}

func (s *videoSource) Read() (image.Image, func(), error) {
	for {
		c := s.current()
		img, release, err := c.Read()
		if err != nil {
			// the camera was swapped under us; read from the new one
			if s.gate.get() != trackStopped && s.current() != c {
				continue
			}
			return nil, nil, err
		}
		if s.gate.get() == trackDisabled {
			r := img.Bounds()
			if release != nil {
				release()
			}
			return s.black.get(r), noRelease, nil
		}
		return img, release, nil
	}
}

// swap installs next and returns the capture it replaced. ok is false once
// the source is closed; next is then left to the caller.
func (s *videoSource) swap(next VideoCapture, deviceID string, facing domain.FacingMode) (prev VideoCapture, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	prev = s.capture
	s.capture, s.deviceID, s.facing = next, deviceID, facing
	return prev, true
}

func (s *videoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.capture.Close()
}

// audioSource reads from the microphone and substitutes silence while muted.
type audioSource struct {
	id      string
	gate    *gate
	capture AudioCapture
}

func newAudioSource(g *gate, c AudioCapture) *audioSource {
	return &audioSource{id: uuid.NewString(), gate: g, capture: c}
}

func (s *audioSource) ID() string   { return s.id }
func (s *audioSource) Close() error { return s.capture.Close() }

func (s *audioSource) Read() (wave.Audio, func(), error) {
	chunk, release, err := s.capture.Read()
	if err != nil {
		return nil, nil, err
	}
	if s.gate.get() == trackDisabled {
		quiet := silence(chunk)
		if release != nil {
			release()
		}
		return quiet, noRelease, nil
	}
	return chunk, release, nil
}
