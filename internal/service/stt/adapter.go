// Package stt defines the interface for Speech-to-Text adapters.
package stt

import (
	"context"
	"time"
)

// Event is one transcription result. Final marks a finalized utterance;
// everything else is an interim partial that may still change.
type Event struct {
	Text  string
	Final bool
}

// SessionInfo describes the provider-side session once it is open.
type SessionInfo struct {
	ID        string
	ExpiresAt time.Time
}

// Callback receives transcript results from the STT provider.
// Adapters invoke it from their own goroutines.
type Callback interface {
	// OnOpen is called once the provider session is established.
	OnOpen(info SessionInfo)

	// OnTranscript is called for every partial or final transcript.
	OnTranscript(ev Event)

	// OnError is called when an error occurs during transcription.
	OnError(err error)

	// OnClose is called when the provider session ends.
	OnClose()
}

// Adapter defines the interface for STT providers (AssemblyAI, Google, mock).
type Adapter interface {
	// Start begins a streaming transcription session.
	Start(ctx context.Context, cb Callback) error

	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Close ends the session and releases resources.
	Close() error
}
