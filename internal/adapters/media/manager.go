// Package media acquires camera and microphone tracks through pion/mediadevices.
package media

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Driver defaults to the mediadevices device registry.
	Driver Driver
	// Codecs encodes tracks for sending. Nil leaves tracks without RTP.
	Codecs *mediadevices.CodecSelector
}

// Manager implements core.MediaResourceManager.
type Manager struct {
	driver Driver
	codecs *mediadevices.CodecSelector
	active atomic.Int64
}

func NewManager(opts Options) *Manager {
	d := opts.Driver
	if d == nil {
		d = deviceDriver{}
	}
	return &Manager{driver: d, codecs: opts.Codecs}
}

// ActiveTracks counts acquired tracks not yet stopped.
func (m *Manager) ActiveTracks() int { return int(m.active.Load()) }

func (m *Manager) Acquire(ctx context.Context, c domain.Constraints) (*core.LocalTrackSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	devices := m.driver.Devices()
	var tracks []core.LocalTrack
	fail := func(err error) (*core.LocalTrackSet, error) {
		for _, t := range tracks {
			_ = t.Stop()
		}
		log.Warn().Str("module", "adapters.media").Err(err).Msg("acquire failed")
		return nil, err
	}

	if c.Video != nil {
		cam, ok := pickCamera(devicesOf(devices, mediadevices.VideoInput), c.Video.FacingMode)
		if !ok {
			return fail(domain.NewMediaAccessError(domain.ErrDeviceUnavailable, errors.New("no camera")))
		}
		capture, err := m.driver.OpenVideo(cam.DeviceID, c.Video)
		if err != nil {
			return fail(classify(err))
		}
		facing := facingOf(cam)
		if facing == "" {
			facing = c.Video.FacingMode
		}
		tracks = append(tracks, m.newVideoTrack(capture, cam.DeviceID, facing, c.Video))
		log.Info().Str("module", "adapters.media").Str("device", cam.Label).Msg("camera opened")
	}

	if c.Audio {
		mics := devicesOf(devices, mediadevices.AudioInput)
		if len(mics) == 0 {
			return fail(domain.NewMediaAccessError(domain.ErrDeviceUnavailable, errors.New("no microphone")))
		}
		capture, err := m.driver.OpenAudio(mics[0].DeviceID)
		if err != nil {
			return fail(classify(err))
		}
		tracks = append(tracks, m.newAudioTrack(capture))
		log.Info().Str("module", "adapters.media").Str("device", mics[0].Label).Msg("microphone opened")
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	return core.NewLocalTrackSet(tracks...), nil
}

// Release stops every track in set. Safe to call more than once.
func (m *Manager) Release(set *core.LocalTrackSet) error {
	if set == nil {
		return nil
	}
	return set.Stop()
}

func (m *Manager) track(kind domain.TrackKind, g *gate, src source) *track {
	m.active.Add(1)
	return &track{kind: kind, gate: g, src: src, onStop: func() { m.active.Add(-1) }}
}

func (m *Manager) newVideoTrack(c VideoCapture, deviceID string, facing domain.FacingMode, v *domain.VideoConstraints) *videoTrack {
	g := &gate{}
	src := newVideoSource(g, c, deviceID, facing, v)
	t := m.track(domain.TrackVideo, g, src)
	if m.codecs != nil {
		t.rtp = mediadevices.NewVideoTrack(src, m.codecs)
	}
	return &videoTrack{track: t, source: src, m: m}
}

func (m *Manager) newAudioTrack(c AudioCapture) *track {
	g := &gate{}
	src := newAudioSource(g, c)
	t := m.track(domain.TrackAudio, g, src)
	if m.codecs != nil {
		t.rtp = mediadevices.NewAudioTrack(src, m.codecs)
	}
	return t
}

func (m *Manager) switchCamera(ctx context.Context, src *videoSource) error {
	current, facing := src.device()
	next, ok := nextCamera(devicesOf(m.driver.Devices(), mediadevices.VideoInput), current, facing)
	if !ok {
		return domain.ErrUnsupportedOperation
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	capture, err := m.driver.OpenVideo(next.DeviceID, src.constraints)
	if err != nil {
		return classify(err)
	}
	if err := ctx.Err(); err != nil {
		_ = capture.Close()
		return err
	}

	nextFacing := facingOf(next)
	if nextFacing == "" {
		nextFacing = domain.FacingEnvironment
		if facing == domain.FacingEnvironment {
			nextFacing = domain.FacingUser
		}
	}
	prev, ok := src.swap(capture, next.DeviceID, nextFacing)
	if !ok {
		// stopped while the new camera was opening
		_ = capture.Close()
		return domain.ErrNoActiveSession
	}
	if err := prev.Close(); err != nil {
		log.Warn().Str("module", "adapters.media").Err(err).Msg("closing previous camera")
	}
	log.Info().
		Str("module", "adapters.media").
		Str("device", next.Label).
		Str("facing", string(nextFacing)).
		Msg("camera switched")
	return nil
}
