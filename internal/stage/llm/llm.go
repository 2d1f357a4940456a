// Package llm implements the conversation pipeline stage.
//
// The stage keeps the session's conversation history, turns each final user
// transcript into a streaming model completion, and feeds the reply down the
// chain as text chunks terminated by a SpeakStop marker. It also echoes the
// user's text back upstream so monitoring stages positioned before it can
// observe both sides of the conversation.
//
// A completion runs on its own goroutine so the stage stays responsive: a
// barge-in control frame arriving mid-generation aborts the active stream
// immediately instead of waiting behind it.
package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
	"github.com/solenne-ai/solenne/pkg/provider/llm"
)

// Option is a functional option for [New].
type Option func(*Stage)

// WithTemperature sets the sampling temperature for completions.
func WithTemperature(t float64) Option {
	return func(s *Stage) { s.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(s *Stage) { s.maxTokens = n }
}

// Stage is the conversation stage.
type Stage struct {
	provider     llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int

	mu      sync.Mutex
	history []llm.Message
	active  *generation // nil when idle
	genWG   sync.WaitGroup
}

// generation identifies one in-flight completion so a finished goroutine can
// tell whether it is still the current one.
type generation struct {
	cancel context.CancelFunc
}

// New creates a conversation stage backed by the given provider.
func New(provider llm.Provider, systemPrompt string, opts ...Option) *Stage {
	s := &Stage{provider: provider, systemPrompt: systemPrompt}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name implements [pipeline.Stage].
func (s *Stage) Name() string { return "conversation" }

// Process implements [pipeline.Stage].
func (s *Stage) Process(ctx context.Context, f frame.Frame, emit pipeline.Emit) error {
	switch {
	case f.Kind == frame.KindFinalTranscript && f.Direction == frame.Downstream:
		emit(f)
		s.onUserTurn(ctx, f.Text, emit)
		return nil

	case f.Kind == frame.KindTextChunk && f.Direction == frame.Downstream:
		// Injected utterances (greeting) speak verbatim without a completion.
		emit(f)
		s.remember(llm.Message{Role: llm.RoleAssistant, Content: f.Text})
		return nil

	case f.Kind == frame.KindSpeakStart || f.Kind == frame.KindInterrupt:
		// The user barged in: stop generating mid-reply.
		s.abortActive()
		emit(f)
		return nil

	case f.Kind == frame.KindSessionEnd:
		s.abortActive()
		s.genWG.Wait()
		emit(f)
		return nil

	default:
		emit(f)
		return nil
	}
}

// InjectSystemNote appends a system message to the conversation history. The
// next completion sees it; the active one is unaffected. Safe to call from
// any goroutine.
func (s *Stage) InjectSystemNote(note string) {
	if strings.TrimSpace(note) == "" {
		return
	}
	s.remember(llm.Message{Role: llm.RoleSystem, Content: note})
}

// History returns a copy of the conversation so far.
func (s *Stage) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Stage) onUserTurn(ctx context.Context, text string, emit pipeline.Emit) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	// Upstream echo for stages watching the user's words.
	emit(frame.TextChunk(text).WithDirection(frame.Upstream))

	s.mu.Lock()
	// A new turn supersedes whatever reply was still streaming.
	if s.active != nil {
		s.active.cancel()
	}
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	req := llm.CompletionRequest{
		Messages:     append([]llm.Message(nil), s.history...),
		SystemPrompt: s.systemPrompt,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	}
	genCtx, cancel := context.WithCancel(ctx)
	gen := &generation{cancel: cancel}
	s.active = gen
	s.genWG.Add(1)
	s.mu.Unlock()

	go s.generate(genCtx, gen, req, emit)
}

// generate streams one completion and forwards it as text chunks, closing the
// utterance with SpeakStop so downstream synthesis knows the reply is whole.
func (s *Stage) generate(ctx context.Context, gen *generation, req llm.CompletionRequest, emit pipeline.Emit) {
	defer s.genWG.Done()
	defer s.release(gen)

	ch, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		emit(frame.Error(s.Name(), err))
		return
	}

	var reply strings.Builder
	for chunk := range ch {
		if ctx.Err() != nil {
			break
		}
		if chunk.FinishReason == llm.FinishError {
			emit(frame.Error(s.Name(), errStream(chunk.Text)))
			break
		}
		if chunk.Text != "" {
			reply.WriteString(chunk.Text)
			emit(frame.TextChunk(chunk.Text))
		}
	}

	if full := reply.String(); full != "" {
		s.remember(llm.Message{Role: llm.RoleAssistant, Content: full})
	}
	if ctx.Err() == nil {
		emit(frame.SpeakStop())
	}
}

func (s *Stage) remember(m llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, m)
	s.mu.Unlock()
}

func (s *Stage) abortActive() {
	s.mu.Lock()
	if s.active != nil {
		s.active.cancel()
		s.active = nil
	}
	s.mu.Unlock()
}

// release clears the active marker, but only if it still belongs to this
// generation: a newer turn may have replaced it already.
func (s *Stage) release(gen *generation) {
	gen.cancel()
	s.mu.Lock()
	if s.active == gen {
		s.active = nil
	}
	s.mu.Unlock()
}

type streamError string

func (e streamError) Error() string { return "completion stream failed: " + string(e) }

func errStream(detail string) error { return streamError(detail) }
