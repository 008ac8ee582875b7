package domain

import "time"

// TrackInfo is a read-only view of one local capture track.
type TrackInfo struct {
	ID      string    `json:"id"`
	Kind    TrackKind `json:"kind"`
	Enabled bool      `json:"enabled"`
	Stopped bool      `json:"stopped"`
}

// CallSnapshot is what the UI renders. No transport handles here.
type CallSnapshot struct {
	SessionID    SessionID   `json:"session_id,omitempty"`
	State        CallState   `json:"state"`
	Status       string      `json:"status"`
	Muted        bool        `json:"muted"`
	VideoEnabled bool        `json:"video_enabled"`
	LocalTracks  []TrackInfo `json:"local_tracks"`
	RemoteStream string      `json:"remote_stream,omitempty"`
	CreatedAt    time.Time   `json:"created_at,omitzero"`
	EndedAt      time.Time   `json:"ended_at,omitzero"`
	EndReason    string      `json:"end_reason,omitempty"`
	Error        string      `json:"error,omitempty"`
}
