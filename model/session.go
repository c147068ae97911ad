package model

import (
	"time"
)

// SessionMode selects which live adapter a realtime session feeds.
type SessionMode string

const (
	ModeNoiseReduction SessionMode = "noise_reduction"
	ModeTranscription  SessionMode = "transcription"
)

// Valid reports whether the mode is one the session manager supports.
func (m SessionMode) Valid() bool {
	return m == ModeNoiseReduction || m == ModeTranscription
}

// StreamSession describes one live duplex connection. The sequence counter
// is strictly increasing per chunk and used to detect reordering.
type StreamSession struct {
	SessionID   string      `json:"session_id"`
	Mode        SessionMode `json:"mode"`
	ConnectedAt time.Time   `json:"connected_at"`
	LastSeq     int64       `json:"last_seq"`
}
