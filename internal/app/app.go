// Package app assembles the Solenne voice pipeline into running sessions.
//
// A [Session] owns one client conversation end to end: the stage chain
// (transcription, safety monitoring, captions, conversation, synthesis,
// optional avatar, transport capture), the pipeline that runs it, and the
// bridge driver that pumps the transport. The [Registry] tracks every live
// session for introspection and shutdown.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solenne-ai/solenne/internal/avatar"
	"github.com/solenne-ai/solenne/internal/bridge"
	"github.com/solenne-ai/solenne/internal/config"
	"github.com/solenne-ai/solenne/internal/stage/caption"
	"github.com/solenne-ai/solenne/internal/stage/crisis"
	llmstage "github.com/solenne-ai/solenne/internal/stage/llm"
	sttstage "github.com/solenne-ai/solenne/internal/stage/stt"
	ttsstage "github.com/solenne-ai/solenne/internal/stage/tts"
	"github.com/solenne-ai/solenne/pkg/pipeline"
	"github.com/solenne-ai/solenne/pkg/provider/llm"
	"github.com/solenne-ai/solenne/pkg/provider/stt"
	"github.com/solenne-ai/solenne/pkg/provider/tts"
)

// defaultSampleRate is assumed when the session config does not set one.
const defaultSampleRate = 16000

// Providers holds one interface value per provider slot. All three are
// required to run a voice session. Populated by main.go via the config
// registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// SessionConfig holds the dependencies for [NewSession].
type SessionConfig struct {
	Config    *config.Config
	Providers *Providers

	// Transport is the duplex message connection for this client.
	Transport bridge.Transport

	// SessionID, when non-empty, is used instead of a generated id so
	// clients can correlate a reconnect with their own identifier.
	SessionID string

	// FaceID overrides the configured avatar face for this session. Empty
	// keeps the config default.
	FaceID string

	// Stats, when non-nil, observes every processed frame.
	Stats pipeline.StatsRecorder

	// OnCrisis, when non-nil, is invoked after the built-in escalation
	// handling (resource injection, client alert) for each escalation.
	OnCrisis func(text string, keywords []string)

	// OnAvatarFallback, when non-nil, is invoked each time the avatar
	// renderer becomes unavailable and the session drops to voice-only.
	OnAvatarFallback func()
}

// SessionInfo holds metadata about a session for introspection endpoints.
type SessionInfo struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FaceID        string    `json:"face_id,omitempty"`
	AvatarEnabled bool      `json:"avatar_enabled"`
}

// Session is one live client conversation.
type Session struct {
	id            string
	startedAt     time.Time
	faceID        string
	avatarEnabled bool

	transport bridge.Transport
	pipe      *pipeline.Pipeline
	driver    *bridge.Driver
	conv      *llmstage.Stage

	onCrisisHook func(text string, keywords []string)
}

// NewSession builds the full stage chain for one client connection. The
// avatar stage is included only when a renderer command is configured; a
// renderer that fails to start later degrades that session to voice-only
// without surfacing an error here.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Config == nil {
		return nil, errors.New("app: session config is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("app: transport is required")
	}
	p := cfg.Providers
	if p == nil || p.STT == nil || p.LLM == nil || p.TTS == nil {
		return nil, errors.New("app: stt, llm, and tts providers are all required")
	}

	sess := cfg.Config.Session

	faceID := cfg.FaceID
	if faceID == "" {
		faceID = cfg.Config.Avatar.FaceID
	}
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	s := &Session{
		id:            id,
		startedAt:     time.Now().UTC(),
		faceID:        faceID,
		avatarEnabled: len(cfg.Config.Avatar.Command) > 0,
		transport:     cfg.Transport,
		onCrisisHook:  cfg.OnCrisis,
	}

	var convOpts []llmstage.Option
	if sess.Temperature != 0 {
		convOpts = append(convOpts, llmstage.WithTemperature(sess.Temperature))
	}
	if sess.MaxTokens != 0 {
		convOpts = append(convOpts, llmstage.WithMaxTokens(sess.MaxTokens))
	}
	s.conv = llmstage.New(p.LLM, sess.SystemPrompt, convOpts...)

	sampleRate := sess.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	voice := tts.Voice{
		ID:              sess.Voice.VoiceID,
		Stability:       sess.Voice.Stability,
		SimilarityBoost: sess.Voice.SimilarityBoost,
	}

	stages := []pipeline.Stage{
		sttstage.New(p.STT, stt.StreamConfig{
			SampleRate: sampleRate,
			Channels:   1,
			Language:   sess.Language,
		}),
		crisis.New(crisis.NotifierFunc(s.handleCrisis)),
		caption.New(caption.SpeakerUser, cfg.Transport),
		s.conv,
		ttsstage.New(p.TTS, voice, ttsstage.WithSampleRate(sampleRate)),
		caption.New(caption.SpeakerBot, cfg.Transport),
	}
	if s.avatarEnabled {
		var avatarOpts []avatar.StageOption
		if cfg.OnAvatarFallback != nil {
			avatarOpts = append(avatarOpts, avatar.WithFallbackHook(cfg.OnAvatarFallback))
		}
		stages = append(stages, avatar.NewStage(avatar.Config{
			Command:        cfg.Config.Avatar.Command,
			FaceID:         faceID,
			StartupTimeout: time.Duration(cfg.Config.Avatar.StartupTimeoutSeconds) * time.Second,
		}, avatarOpts...))
	}
	stages = append(stages, bridge.NewOutputCapture(cfg.Transport))

	var pipeOpts []pipeline.Option
	if cfg.Stats != nil {
		pipeOpts = append(pipeOpts, pipeline.WithStats(cfg.Stats))
	}
	s.pipe = pipeline.New(stages, pipeOpts...)

	s.driver = bridge.NewDriver(bridge.DriverConfig{
		Transport: cfg.Transport,
		Pipeline:  s.pipe,
		Input:     bridge.NewAudioInput(),
		FaceID:    faceID,
		Greeting:  sess.Greeting,
	})

	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Info returns metadata for introspection endpoints.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:            s.id,
		StartedAt:     s.startedAt,
		FaceID:        s.faceID,
		AvatarEnabled: s.avatarEnabled,
	}
}

// Run drives the session until the client disconnects, the pipeline is
// cancelled, or ctx is cancelled. All of those are clean shutdown: Run
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	slog.Info("session started", "session_id", s.id, "face_id", s.faceID, "avatar", s.avatarEnabled)
	err := s.driver.Run(ctx)
	slog.Info("session ended", "session_id", s.id, "err", err)
	return err
}

// Cancel terminates the session's pipeline. Safe to call from any goroutine
// and idempotent; a running [Session.Run] returns shortly after.
func (s *Session) Cancel() {
	s.pipe.Cancel()
}

// Done returns a channel closed once the session's pipeline has been
// cancelled.
func (s *Session) Done() <-chan struct{} {
	return s.pipe.Done()
}

// History returns a copy of the conversation history so far.
func (s *Session) History() []llm.Message {
	return s.conv.History()
}

// handleCrisis reacts to a safety escalation: support resources are injected
// into the conversation so the next reply leads with them, and the client is
// alerted so the UI can surface the resources immediately.
func (s *Session) handleCrisis(text string, keywords []string) {
	slog.Warn("session: crisis keywords detected", "session_id", s.id, "keywords", keywords)

	s.conv.InjectSystemNote(crisis.Resources)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := bridge.OutboundMessage{
		Type:     bridge.OutboundCrisisAlert,
		Text:     crisis.Resources,
		Keywords: keywords,
	}
	if err := s.transport.Send(ctx, msg); err != nil {
		slog.Warn("session: crisis alert send failed", "session_id", s.id, "err", err)
	}

	if s.onCrisisHook != nil {
		s.onCrisisHook(text, keywords)
	}
}
