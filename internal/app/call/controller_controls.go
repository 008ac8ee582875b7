package call

import (
	"context"

	"github.com/dkeye/consult/internal/core"
	"github.com/dkeye/consult/internal/domain"
	"github.com/rs/zerolog/log"
)

// controllableLocked returns the session if in-call controls apply to it.
func (c *Controller) controllableLocked() (*session, error) {
	s := c.sess
	if s == nil || s.ending || s.tracks == nil {
		return nil, domain.ErrNoActiveSession
	}
	switch s.state {
	case domain.StateNegotiating, domain.StateConnected:
		return s, nil
	}
	return nil, domain.ErrNoActiveSession
}

// ToggleMute gates every local audio track and returns the new muted flag.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	s, err := c.controllableLocked()
	if err != nil {
		c.mu.Unlock()
		c.metrics.control("mute", err)
		return false, err
	}
	s.muted = !s.muted
	for _, t := range s.tracks.ByKind(domain.TrackAudio) {
		t.SetEnabled(!s.muted)
	}
	muted := s.muted
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.control("mute", nil)
	log.Debug().Str("module", "app.call").Str("sid", string(s.id)).Bool("muted", muted).Msg("mute toggled")
	c.publish(snap)
	return muted, nil
}

// ToggleVideo gates every local video track and returns the new video-enabled flag.
func (c *Controller) ToggleVideo() (bool, error) {
	c.mu.Lock()
	s, err := c.controllableLocked()
	if err != nil {
		c.mu.Unlock()
		c.metrics.control("video", err)
		return false, err
	}
	s.videoOff = !s.videoOff
	for _, t := range s.tracks.ByKind(domain.TrackVideo) {
		t.SetEnabled(!s.videoOff)
	}
	enabled := !s.videoOff
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.control("video", nil)
	log.Debug().Str("module", "app.call").Str("sid", string(s.id)).Bool("video", enabled).Msg("video toggled")
	c.publish(snap)
	return enabled, nil
}

// SwitchCamera swaps the capture device behind the video track. The sender
// binding stays as is.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	c.mu.Lock()
	s, err := c.controllableLocked()
	if err != nil {
		c.mu.Unlock()
		c.metrics.control("camera", err)
		return err
	}
	var sw core.CameraSwitcher
	for _, t := range s.tracks.ByKind(domain.TrackVideo) {
		if v, ok := t.(core.CameraSwitcher); ok {
			sw = v
			break
		}
	}
	c.mu.Unlock()

	if sw == nil {
		c.metrics.control("camera", domain.ErrUnsupportedOperation)
		return domain.ErrUnsupportedOperation
	}
	err = sw.SwitchCamera(ctx)
	c.metrics.control("camera", err)
	if err != nil {
		log.Warn().Str("module", "app.call").Str("sid", string(s.id)).Err(err).Msg("switch camera")
		return err
	}
	log.Info().Str("module", "app.call").Str("sid", string(s.id)).Msg("camera switched")
	return nil
}
