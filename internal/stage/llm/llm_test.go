package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/provider/llm"
	"github.com/solenne-ai/solenne/pkg/provider/llm/mock"
)

type recorder struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (r *recorder) emit(f frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []frame.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frame.Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recorder) waitFor(t *testing.T, cond func([]frame.Frame) bool) []frame.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); cond(got) {
			return got
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met; frames: %+v", r.snapshot())
	return nil
}

func hasKind(frames []frame.Frame, kind frame.Kind) bool {
	for _, f := range frames {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func TestUserTurnStreamsReplyAndTerminator(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "I hear "},
		{Text: "you."},
		{FinishReason: "stop"},
	}}
	s := New(p, "be gentle")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.FinalTranscript("I feel low"), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}

	frames := rec.waitFor(t, func(fs []frame.Frame) bool { return hasKind(fs, frame.KindSpeakStop) })

	var text string
	for _, f := range frames {
		if f.Kind == frame.KindTextChunk && f.Direction == frame.Downstream {
			text += f.Text
		}
	}
	if text != "I hear you." {
		t.Fatalf("streamed reply = %q", text)
	}
	// The terminator must come after the text.
	last := frames[len(frames)-1]
	if last.Kind != frame.KindSpeakStop {
		t.Fatalf("expected trailing SpeakStop, got %s", last.Kind)
	}
}

func TestUserTextEchoedUpstream(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}
	s := New(p, "")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.FinalTranscript("  I want to hurt myself "), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}

	frames := rec.snapshot()
	var echo *frame.Frame
	for i := range frames {
		if frames[i].Kind == frame.KindTextChunk && frames[i].Direction == frame.Upstream {
			echo = &frames[i]
		}
	}
	if echo == nil {
		t.Fatal("no upstream echo emitted")
	}
	if echo.Text != "I want to hurt myself" {
		t.Fatalf("echo should carry trimmed user text, got %q", echo.Text)
	}
	// The transcript itself still continues downstream.
	if frames[0].Kind != frame.KindFinalTranscript || frames[0].Direction != frame.Downstream {
		t.Fatalf("transcript not forwarded first: %+v", frames[0])
	}
}

func TestHistoryAccumulatesBothSides(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there."},
		{FinishReason: "stop"},
	}}
	s := New(p, "sys")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.FinalTranscript("hi"), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}
	rec.waitFor(t, func(fs []frame.Frame) bool { return hasKind(fs, frame.KindSpeakStop) })

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("want 2 history entries, got %d: %+v", len(hist), hist)
	}
	if hist[0].Role != llm.RoleUser || hist[0].Content != "hi" {
		t.Fatalf("unexpected user entry: %+v", hist[0])
	}
	if hist[1].Role != llm.RoleAssistant || hist[1].Content != "Hello there." {
		t.Fatalf("unexpected assistant entry: %+v", hist[1])
	}
}

func TestSecondTurnSendsFullHistory(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{
		{Text: "ok"},
		{FinishReason: "stop"},
	}}
	s := New(p, "sys")
	rec := &recorder{}

	for _, turn := range []string{"first", "second"} {
		if err := s.Process(context.Background(), frame.FinalTranscript(turn), rec.emit); err != nil {
			t.Fatalf("process %q: %v", turn, err)
		}
		rec.waitFor(t, func(fs []frame.Frame) bool { return hasKind(fs, frame.KindSpeakStop) })
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && p.StreamCallCount() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if p.StreamCallCount() != 2 {
		t.Fatalf("want 2 completions, got %d", p.StreamCallCount())
	}
	second := p.StreamCalls[1].Req
	if second.SystemPrompt != "sys" {
		t.Fatalf("system prompt lost: %q", second.SystemPrompt)
	}
	// first user + first assistant + second user.
	if len(second.Messages) != 3 {
		t.Fatalf("want 3 messages in second request, got %d: %+v", len(second.Messages), second.Messages)
	}
	if second.Messages[2].Role != llm.RoleUser || second.Messages[2].Content != "second" {
		t.Fatalf("last message should be the new turn: %+v", second.Messages[2])
	}
}

func TestInjectedSystemNoteAppearsInNextRequest(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}
	s := New(p, "sys")
	rec := &recorder{}

	s.InjectSystemNote("If the user mentions self-harm, share the crisis line.")
	if err := s.Process(context.Background(), frame.FinalTranscript("hello"), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}
	rec.waitFor(t, func(fs []frame.Frame) bool { return hasKind(fs, frame.KindSpeakStop) })

	req := p.StreamCalls[0].Req
	if len(req.Messages) != 2 {
		t.Fatalf("want note + user turn, got %+v", req.Messages)
	}
	if req.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("note should precede the user turn: %+v", req.Messages[0])
	}
}

// hangingProvider emits one chunk and then keeps the stream open until the
// caller's context is cancelled.
type hangingProvider struct{}

func (hangingProvider) StreamCompletion(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 1)
	ch <- llm.Chunk{Text: "long "}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (hangingProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, nil
}

func TestBargeInAbortsGeneration(t *testing.T) {
	t.Parallel()

	s := New(hangingProvider{}, "")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.FinalTranscript("talk to me"), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}
	rec.waitFor(t, func(fs []frame.Frame) bool {
		for _, f := range fs {
			if f.Kind == frame.KindTextChunk && f.Direction == frame.Downstream {
				return true
			}
		}
		return false
	})

	if err := s.Process(context.Background(), frame.SpeakStart(), rec.emit); err != nil {
		t.Fatalf("process barge-in: %v", err)
	}
	s.genWG.Wait()

	for _, f := range rec.snapshot() {
		if f.Kind == frame.KindSpeakStop {
			t.Fatal("aborted generation must not emit its terminator")
		}
	}
}

func TestEmptyTranscriptStartsNoCompletion(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	s := New(p, "")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.FinalTranscript("   "), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := p.StreamCallCount(); n != 0 {
		t.Fatalf("blank transcript should not reach the model, got %d calls", n)
	}
}

func TestStreamStartFailureEmitsErrorFrame(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{StreamErr: errors.New("gateway down")}
	s := New(p, "")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.FinalTranscript("hi"), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}
	frames := rec.waitFor(t, func(fs []frame.Frame) bool { return hasKind(fs, frame.KindError) })
	for _, f := range frames {
		if f.Kind == frame.KindError {
			if f.Direction != frame.Upstream {
				t.Fatalf("error frames travel upstream, got %v", f.Direction)
			}
			if f.Origin != "conversation" {
				t.Fatalf("error origin = %q", f.Origin)
			}
		}
	}
}

func TestGreetingTextRecordedAsAssistant(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	s := New(p, "")
	rec := &recorder{}

	if err := s.Process(context.Background(), frame.TextChunk("Welcome back."), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}

	hist := s.History()
	if len(hist) != 1 || hist[0].Role != llm.RoleAssistant || hist[0].Content != "Welcome back." {
		t.Fatalf("greeting not recorded: %+v", hist)
	}
	if !hasKind(rec.snapshot(), frame.KindTextChunk) {
		t.Fatal("greeting must be forwarded downstream")
	}
}
