// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is StreamHandle: once
// opened, a stream accepts raw PCM audio chunks and emits two channels of
// Transcript values: low-latency partials for live captioning and
// authoritative finals for the conversation.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcript is one recognition result from the provider.
type Transcript struct {
	// Text is the recognised utterance so far.
	Text string

	// IsFinal reports whether the provider has committed to this result.
	// Non-final transcripts may be revised by later ones.
	IsFinal bool

	// Confidence is the provider's confidence in the result, 0 to 1.
	// Zero when the backend does not report one.
	Confidence float64
}

// StreamConfig describes the audio format and recognition hints for a new
// transcription stream.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz, e.g. 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono, which is what most
	// providers expect.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en", "de-DE").
	// Empty lets the provider use its default or auto-detect.
	Language string
}

// StreamHandle is an open transcription stream. It is an interface so test
// code can substitute a mock without a live provider connection.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type StreamHandle interface {
	// SendAudio delivers a chunk of raw PCM bytes to the provider. The chunk
	// must match the format agreed in StreamConfig. Calling SendAudio after
	// Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of interim transcripts. These
	// drive live captions but must not be treated as authoritative.
	// The channel is closed when the stream ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of committed transcripts. These are
	// the values handed to the conversation model.
	// The channel is closed when the stream ends.
	Finals() <-chan Transcript

	// Close flushes pending audio, terminates the stream, and releases all
	// associated resources. After Close returns both transcript channels are
	// closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend. Multiple streams may be
// open simultaneously, one per live session.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format. The returned StreamHandle accepts audio immediately.
	// The caller owns the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}
