package resilience

import (
	"context"

	"github.com/solenne-ai/solenne/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a streaming transcription session against the first
// healthy provider. If the primary fails to start the stream, subsequent
// fallbacks are tried. Failover covers stream setup only; an established
// stream that dies mid-session is surfaced to the caller.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.StreamHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
