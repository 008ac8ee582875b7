// Package domain contains call entities without transport logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxSessionIDLen = 64

var (
	ErrSessionIDEmpty   = errors.New("session id empty")
	ErrSessionIDTooLong = errors.New("session id too long")
)

// SessionID identifies one call attempt. A new one is minted on every startCall.
type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ParseSessionID validates an id received from the remote party.
func ParseSessionID(raw string) (SessionID, error) {
	if len(raw) == 0 {
		return "", ErrSessionIDEmpty
	}
	if len(raw) > MaxSessionIDLen {
		return "", ErrSessionIDTooLong
	}
	return SessionID(raw), nil
}

type CallState int

const (
	StateIdle CallState = iota
	StateAcquiringMedia
	StateNegotiating
	StateConnected
	StateEnding
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring_media"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Active reports whether a session in this state holds or is acquiring resources.
func (s CallState) Active() bool {
	return s != StateIdle && s != StateEnded
}

// StatusText is the line shown under the consultation title.
func (s CallState) StatusText() string {
	switch s {
	case StateAcquiringMedia:
		return "Initializing..."
	case StateNegotiating:
		return "Calling..."
	case StateConnected:
		return "Connected"
	case StateEnding, StateEnded:
		return "Call Ended"
	}
	return "Disconnected"
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionState mirrors the transport state of the negotiation layer.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further events follow this state.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionFailed || s == ConnectionClosed
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)
