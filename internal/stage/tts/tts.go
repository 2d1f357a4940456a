// Package tts implements the speech-synthesis pipeline stage.
//
// The stage turns the conversation's streaming text into spoken audio. Text
// chunks are accumulated and flushed to the provider sentence by sentence so
// synthesis starts before the reply is complete; the SpeakStop terminator
// from the conversation stage flushes the remainder and closes the utterance.
// Synthesised audio flows downstream wrapped in SpeakStart/SpeakStop so the
// stages behind it can track when the bot is audible.
//
// A downstream SpeakStart arriving as input is the barge-in signal from the
// transport: the active utterance is aborted and the frame is consumed here.
package tts

import (
	"context"
	"strings"
	"sync"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
	"github.com/solenne-ai/solenne/pkg/provider/tts"
)

const (
	// defaultSampleRate is the PCM rate stamped on emitted audio frames when
	// none is configured. Matches the pcm_16000 provider default.
	defaultSampleRate = 16000

	// textBufDepth absorbs several sentences without blocking Process.
	textBufDepth = 16
)

// Option is a functional option for [New].
type Option func(*Stage)

// WithSampleRate sets the PCM sample rate stamped on emitted audio frames.
// It must match the provider's configured output format.
func WithSampleRate(rate int) Option {
	return func(s *Stage) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// Stage is the synthesis stage.
type Stage struct {
	provider   tts.Provider
	voice      tts.Voice
	sampleRate int

	// buf holds text not yet flushed to the active utterance.
	buf strings.Builder

	mu     sync.Mutex
	active *utterance // nil when not synthesising
	wg     sync.WaitGroup
}

// utterance is one in-flight synthesis run.
type utterance struct {
	textCh chan string
	cancel context.CancelFunc
	closed bool
}

// New creates a synthesis stage backed by the given provider and voice.
func New(provider tts.Provider, voice tts.Voice, opts ...Option) *Stage {
	s := &Stage{provider: provider, voice: voice, sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return "tts" }

// Process implements [pipeline.Stage].
func (s *Stage) Process(ctx context.Context, f frame.Frame, emit pipeline.Emit) error {
	switch {
	case f.Kind == frame.KindTextChunk && f.Direction == frame.Downstream:
		emit(f)
		s.buf.WriteString(f.Text)
		s.flushSentences(ctx, emit)
		return nil

	case f.Kind == frame.KindSpeakStop && f.Direction == frame.Downstream:
		// End of the reply: flush the partial tail and close the utterance.
		// The frame itself is not forwarded; the pump re-emits SpeakStop once
		// the audio has actually finished.
		s.finishUtterance(ctx, emit)
		return nil

	case f.Kind == frame.KindSpeakStart || f.Kind == frame.KindInterrupt:
		s.abort()
		s.buf.Reset()
		return nil

	case f.Kind == frame.KindSessionEnd:
		s.abort()
		s.buf.Reset()
		s.wg.Wait()
		emit(f)
		return nil

	default:
		emit(f)
		return nil
	}
}

// flushSentences moves every complete sentence from the buffer into the
// active utterance, opening one if needed.
func (s *Stage) flushSentences(ctx context.Context, emit pipeline.Emit) {
	for {
		idx := firstSentenceBoundary(s.buf.String())
		if idx < 0 {
			return
		}
		sentence := s.buf.String()[:idx+1]
		rest := strings.TrimLeft(s.buf.String()[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)
		s.feed(ctx, sentence, emit)
	}
}

// finishUtterance flushes any remaining partial sentence and signals the
// provider that the utterance is complete.
func (s *Stage) finishUtterance(ctx context.Context, emit pipeline.Emit) {
	if tail := strings.TrimSpace(s.buf.String()); tail != "" {
		s.feed(ctx, tail, emit)
	}
	s.buf.Reset()

	s.mu.Lock()
	u := s.active
	if u != nil && !u.closed {
		u.closed = true
		close(u.textCh)
	}
	s.active = nil
	s.mu.Unlock()
}

// feed delivers one text fragment to the active utterance, starting a new
// synthesis stream on first use.
func (s *Stage) feed(ctx context.Context, text string, emit pipeline.Emit) {
	s.mu.Lock()
	u := s.active
	s.mu.Unlock()

	if u == nil {
		u = s.startUtterance(ctx, emit)
		if u == nil {
			return
		}
	}
	select {
	case u.textCh <- text:
	case <-ctx.Done():
	}
}

// startUtterance opens a provider stream and launches the audio pump.
func (s *Stage) startUtterance(ctx context.Context, emit pipeline.Emit) *utterance {
	synthCtx, cancel := context.WithCancel(ctx)
	textCh := make(chan string, textBufDepth)

	audioCh, err := s.provider.SynthesizeStream(synthCtx, textCh, s.voice)
	if err != nil {
		cancel()
		emit(frame.Error(s.Name(), err))
		return nil
	}

	u := &utterance{textCh: textCh, cancel: cancel}
	s.mu.Lock()
	s.active = u
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pump(audioCh, cancel, emit)

	emit(frame.SpeakStart())
	return u
}

// pump forwards synthesised audio downstream and closes the utterance with
// SpeakStop once the provider's stream ends, whether it completed or was
// aborted.
func (s *Stage) pump(audioCh <-chan []byte, cancel context.CancelFunc, emit pipeline.Emit) {
	defer s.wg.Done()
	defer cancel()
	for pcm := range audioCh {
		emit(frame.AudioChunk(pcm, s.sampleRate, 1))
	}
	emit(frame.SpeakStop())
}

// abort cancels the active utterance, if any. The pump still emits the
// closing SpeakStop as the provider stream drains.
func (s *Stage) abort() {
	s.mu.Lock()
	u := s.active
	s.active = nil
	s.mu.Unlock()
	if u == nil {
		return
	}
	u.cancel()
	if !u.closed {
		u.closed = true
		close(u.textCh)
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?' that
// is immediately followed by whitespace. Returns -1 if no boundary exists;
// trailing punctuation without whitespace is flushed with the tail instead.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
