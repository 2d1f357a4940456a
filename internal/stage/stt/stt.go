// Package stt implements the transcription pipeline stage.
//
// The stage opens a provider stream when the session starts, feeds it every
// downstream audio chunk, and turns the provider's partial and final results
// into transcript frames flowing down the chain. Audio is consumed here;
// nothing after this stage ever sees the user's raw PCM.
package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
	"github.com/solenne-ai/solenne/pkg/provider/stt"
)

// Stage is the transcription stage. It is driven entirely by the pipeline:
// Process is never invoked concurrently, so the handle field needs no lock of
// its own, but the pump goroutine runs until the provider stream closes.
type Stage struct {
	provider stt.Provider
	cfg      stt.StreamConfig

	handle stt.StreamHandle
	wg     sync.WaitGroup
}

// New creates a transcription stage backed by the given provider.
func New(provider stt.Provider, cfg stt.StreamConfig) *Stage {
	return &Stage{provider: provider, cfg: cfg}
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return "stt" }

// Process implements [pipeline.Stage].
func (s *Stage) Process(ctx context.Context, f frame.Frame, emit pipeline.Emit) error {
	switch f.Kind {
	case frame.KindSessionStart:
		emit(f)
		return s.open(ctx, emit)

	case frame.KindSessionEnd:
		emit(f)
		s.close()
		return nil

	case frame.KindAudioChunk:
		if f.Direction != frame.Downstream || s.handle == nil {
			emit(f)
			return nil
		}
		if err := s.handle.SendAudio(f.Audio.Data); err != nil {
			return fmt.Errorf("stt: send audio: %w", err)
		}
		return nil

	default:
		emit(f)
		return nil
	}
}

// open starts the provider stream and launches the pump that converts
// transcripts into frames. The emit callback outlives this call; the pipeline
// keeps it routable for the whole session.
func (s *Stage) open(ctx context.Context, emit pipeline.Emit) error {
	if s.handle != nil {
		return nil
	}
	handle, err := s.provider.StartStream(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("stt: start stream: %w", err)
	}
	s.handle = handle

	s.wg.Add(2)
	go s.pump(handle.Partials(), false, emit)
	go s.pump(handle.Finals(), true, emit)
	return nil
}

func (s *Stage) pump(ch <-chan stt.Transcript, final bool, emit pipeline.Emit) {
	defer s.wg.Done()
	for t := range ch {
		if t.Text == "" {
			continue
		}
		if final {
			emit(frame.FinalTranscript(t.Text))
		} else {
			emit(frame.InterimTranscript(t.Text))
		}
	}
}

func (s *Stage) close() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Close(); err != nil {
		slog.Warn("stt: close stream", "err", err)
	}
	s.wg.Wait()
	s.handle = nil
}
