package core

import (
	"context"

	"github.com/dkeye/consult/internal/domain"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is one capture track. Owned by the media manager until handed
// to a session, then by the session until released.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	// Enabled gates the track without stopping it; a disabled track keeps
	// sending black or silent frames so nothing is renegotiated.
	Enabled() bool
	SetEnabled(enabled bool)
	// Stop releases the device. Idempotent; every other method is a no-op afterwards.
	Stop() error
	Stopped() bool
	// RTP returns the pion track to bind to a sender. May be nil for tracks
	// that have no encoder attached.
	RTP() webrtc.TrackLocal
}

// CameraSwitcher is implemented by video tracks that can swap the capture
// device (front/back) without touching the sender they are bound to.
type CameraSwitcher interface {
	SwitchCamera(ctx context.Context) error
}

// MediaResourceManager acquires and releases local capture resources.
// It never retries; retry is a caller decision.
type MediaResourceManager interface {
	// Acquire fails with a *domain.MediaAccessError. No partial set is ever returned.
	Acquire(ctx context.Context, c domain.Constraints) (*LocalTrackSet, error)
	// Release stops every track in set. Safe to call more than once.
	Release(set *LocalTrackSet) error
}
