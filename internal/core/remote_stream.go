package core

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteStream is the media announced by the remote peer. It is owned by the
// negotiation layer; a session only keeps a reference and never closes it.
type RemoteStream struct {
	id string

	mu     sync.RWMutex
	tracks []*webrtc.TrackRemote
}

func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (r *RemoteStream) ID() string { return r.id }

func (r *RemoteStream) AddTrack(t *webrtc.TrackRemote) {
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}

func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	return out
}
