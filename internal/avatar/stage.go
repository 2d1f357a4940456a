package avatar

import (
	"context"
	"log/slog"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
)

// Stage feeds the bot's synthesised audio to a renderer subprocess and
// injects the resulting video frames into the chain. It sits after the
// synthesis stage, so every downstream audio chunk it sees is bot speech.
//
// The avatar is an enhancement, not a dependency: if the subprocess cannot
// be started the stage logs the failure and the session continues voice-only.
type Stage struct {
	cfg        Config
	runner     *Runner
	onFallback func()
}

// StageOption is a functional option for [NewStage].
type StageOption func(*Stage)

// WithFallbackHook registers fn to be called whenever the renderer becomes
// unavailable and the session drops to voice-only.
func WithFallbackHook(fn func()) StageOption {
	return func(s *Stage) { s.onFallback = fn }
}

// NewStage creates an avatar stage that will launch the renderer described
// by cfg when the session starts.
func NewStage(cfg Config, opts ...StageOption) *Stage {
	s := &Stage{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Stage) fallback() {
	if s.onFallback != nil {
		s.onFallback()
	}
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return "avatar" }

// Process implements [pipeline.Stage].
func (s *Stage) Process(ctx context.Context, f frame.Frame, emit pipeline.Emit) error {
	switch f.Kind {
	case frame.KindSessionStart:
		emit(f)
		runner, err := Start(ctx, s.cfg, func(data []byte, w, h int, format string) {
			emit(frame.VideoFrame(data, w, h, format))
		})
		if err != nil {
			slog.Warn("avatar: renderer unavailable, continuing voice-only", "err", err)
			s.fallback()
			return nil
		}
		s.runner = runner
		return nil

	case frame.KindSessionEnd:
		emit(f)
		if s.runner != nil {
			if err := s.runner.Stop(); err != nil {
				slog.Warn("avatar: renderer exit", "err", err)
			}
			s.runner = nil
		}
		return nil

	case frame.KindAudioChunk:
		emit(f)
		if f.Direction != frame.Downstream || s.runner == nil {
			return nil
		}
		if err := s.runner.SendAudio(f.Audio.Data, f.Audio.SampleRate, f.Audio.Channels); err != nil {
			// A broken pipe means the renderer died; drop to voice-only
			// rather than failing the session.
			slog.Warn("avatar: lost renderer, continuing voice-only", "err", err)
			s.runner = nil
			s.fallback()
		}
		return nil

	default:
		emit(f)
		return nil
	}
}
