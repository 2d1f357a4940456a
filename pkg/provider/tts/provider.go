// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// streaming interface. The primary entry point is SynthesizeStream, which
// accepts a channel of text fragments and returns a channel of raw PCM audio
// bytes as they become available, so language-model output can be piped
// straight into synthesis without waiting for the full response.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects and tunes the synthesis voice.
type Voice struct {
	// ID is the provider-specific voice identifier. Required.
	ID string

	// Stability controls voice consistency, 0 to 1. Zero means use the
	// provider default.
	Stability float64

	// SimilarityBoost controls adherence to the reference voice, 0 to 1.
	// Zero means use the provider default.
	SimilarityBoost float64
}

// VoiceInfo describes one voice from the provider's catalogue.
type VoiceInfo struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Labels holds provider-specific attributes (gender, age, accent, etc.).
	Labels map[string]string
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel, one per live session.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio chunks as they are
	// synthesised.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from
	// provider failure.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// ListVoices returns the provider's current voice catalogue.
	ListVoices(ctx context.Context) ([]VoiceInfo, error)
}
