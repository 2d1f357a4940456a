// Package caption implements the live-caption stage.
//
// A Sender aggregates streaming text into per-speaker caption messages and
// speaking-state toggles for the transport. Each pipeline uses two
// independent instances, one bound to user transcripts and one to bot text,
// so the accumulation state of one speaker can never bleed into the other.
package caption

import (
	"context"
	"log/slog"
	"strings"

	"github.com/solenne-ai/solenne/internal/bridge"
	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
)

// Speaker identifies whose captions an instance emits.
type Speaker string

const (
	// SpeakerUser binds the instance to STT transcript frames. User captions
	// are emitted immediately with the STT-reported finality, with no
	// accumulation.
	SpeakerUser Speaker = "user"

	// SpeakerBot binds the instance to LLM text chunks and the TTS
	// speaking-state control frames. Bot text accumulates across chunks
	// until SpeakStop finalises the utterance.
	SpeakerBot Speaker = "bot"
)

// Sender is the caption pipeline stage. It forwards every frame unchanged
// and emits caption / speaking-state messages as a side channel through the
// transport sender. Send failures are logged and swallowed: a lost caption
// must not terminate the session.
type Sender struct {
	speaker Speaker
	out     bridge.Sender

	// buffer is the in-progress bot utterance. Non-empty only while an
	// utterance is running; finalising always clears it.
	buffer strings.Builder

	isSpeaking bool
}

// New creates a caption Sender bound to the given speaker.
func New(speaker Speaker, out bridge.Sender) *Sender {
	return &Sender{speaker: speaker, out: out}
}

// Name implements [pipeline.Stage].
func (s *Sender) Name() string { return "caption-" + string(s.speaker) }

// Process implements [pipeline.Stage].
func (s *Sender) Process(ctx context.Context, f frame.Frame, emit pipeline.Emit) error {
	emit(f)

	switch s.speaker {
	case SpeakerUser:
		s.processUser(ctx, f)
	case SpeakerBot:
		s.processBot(ctx, f)
	}
	return nil
}

func (s *Sender) processUser(ctx context.Context, f frame.Frame) {
	// The conversation stage echoes user text back upstream for safety
	// monitoring; only the downstream transcripts from STT become captions.
	if f.Direction != frame.Downstream {
		return
	}
	switch f.Kind {
	case frame.KindInterimTranscript:
		if strings.TrimSpace(f.Text) != "" {
			s.sendCaption(ctx, f.Text, false)
		}
	case frame.KindFinalTranscript:
		if strings.TrimSpace(f.Text) != "" {
			s.sendCaption(ctx, f.Text, true)
		}
	}
}

func (s *Sender) processBot(ctx context.Context, f frame.Frame) {
	switch f.Kind {
	case frame.KindTextChunk:
		s.buffer.WriteString(f.Text)
		s.sendCaption(ctx, s.buffer.String(), false)

	case frame.KindSpeakStart:
		s.isSpeaking = true
		s.sendSpeakingState(ctx, true)

	case frame.KindSpeakStop:
		if strings.TrimSpace(s.buffer.String()) != "" {
			s.sendCaption(ctx, s.buffer.String(), true)
		}
		s.buffer.Reset()
		s.isSpeaking = false
		s.sendSpeakingState(ctx, false)

	case frame.KindSessionEnd:
		s.buffer.Reset()
		s.isSpeaking = false
	}
}

func (s *Sender) sendCaption(ctx context.Context, text string, isFinal bool) {
	msg := bridge.OutboundMessage{
		Type:    bridge.OutboundCaption,
		Speaker: string(s.speaker),
		Text:    text,
		IsFinal: bridge.Bool(isFinal),
	}
	if err := s.out.Send(ctx, msg); err != nil {
		slog.Warn("caption: send failed", "speaker", s.speaker, "final", isFinal, "err", err)
	}
}

func (s *Sender) sendSpeakingState(ctx context.Context, speaking bool) {
	msg := bridge.OutboundMessage{
		Type:       bridge.OutboundSpeakingState,
		IsSpeaking: bridge.Bool(speaking),
	}
	if err := s.out.Send(ctx, msg); err != nil {
		slog.Warn("caption: speaking-state send failed", "speaker", s.speaker, "err", err)
	}
}
