package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/provider/stt"
	"github.com/solenne-ai/solenne/pkg/provider/stt/mock"
)

// recorder is a thread-safe emit sink; pump goroutines emit concurrently
// with the test body.
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

func (r *recorder) waitForKind(t *testing.T, kind frame.Kind) frame.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range r.snapshot() {
			if f.Kind == kind {
				return f
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s frame emitted within deadline", kind)
	return frame.Frame{}
}

func startStage(t *testing.T, stream *mock.Stream) (*Stage, *recorder) {
	t.Helper()
	s := New(&mock.Provider{Stream: stream}, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	rec := &recorder{}
	if err := s.Process(context.Background(), frame.SessionStart(), rec.emit); err != nil {
		t.Fatalf("session start: %v", err)
	}
	return s, rec
}

func TestAudioIsConsumedAndForwardedToProvider(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{
		PartialsCh: make(chan stt.Transcript),
		FinalsCh:   make(chan stt.Transcript),
	}
	s, rec := startStage(t, stream)

	pcm := []byte{1, 2, 3, 4}
	if err := s.Process(context.Background(), frame.AudioChunk(pcm, 16000, 1), rec.emit); err != nil {
		t.Fatalf("process audio: %v", err)
	}

	if n := stream.SendAudioCallCount(); n != 1 {
		t.Fatalf("want 1 SendAudio call, got %d", n)
	}
	for _, f := range rec.snapshot() {
		if f.Kind == frame.KindAudioChunk {
			t.Fatalf("audio chunk must not be forwarded past the stt stage")
		}
	}
}

func TestTranscriptsBecomeFrames(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{
		PartialsCh: make(chan stt.Transcript, 4),
		FinalsCh:   make(chan stt.Transcript, 4),
	}
	_, rec := startStage(t, stream)

	stream.PartialsCh <- stt.Transcript{Text: "how ar"}
	stream.FinalsCh <- stt.Transcript{Text: "how are you", IsFinal: true}

	interim := rec.waitForKind(t, frame.KindInterimTranscript)
	if interim.Text != "how ar" {
		t.Fatalf("interim text = %q", interim.Text)
	}
	final := rec.waitForKind(t, frame.KindFinalTranscript)
	if final.Text != "how are you" {
		t.Fatalf("final text = %q", final.Text)
	}
	if final.Direction != frame.Downstream {
		t.Fatalf("transcripts must flow downstream, got %v", final.Direction)
	}
}

func TestEmptyTranscriptsAreSkipped(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{
		PartialsCh: make(chan stt.Transcript, 2),
		FinalsCh:   make(chan stt.Transcript, 2),
	}
	_, rec := startStage(t, stream)

	stream.FinalsCh <- stt.Transcript{Text: "", IsFinal: true}
	stream.FinalsCh <- stt.Transcript{Text: "real", IsFinal: true}

	got := rec.waitForKind(t, frame.KindFinalTranscript)
	if got.Text != "real" {
		t.Fatalf("empty transcript should have been skipped, got %q", got.Text)
	}
}

func TestSessionEndClosesStream(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{
		PartialsCh: make(chan stt.Transcript),
		FinalsCh:   make(chan stt.Transcript),
	}
	s, rec := startStage(t, stream)

	// Close must drain the pumps; the mock's channels close with the stream.
	if err := s.Process(context.Background(), frame.SessionEnd(), rec.emit); err != nil {
		t.Fatalf("session end: %v", err)
	}
	if stream.CloseCallCount != 1 {
		t.Fatalf("want 1 Close call, got %d", stream.CloseCallCount)
	}

	// Audio after close is forwarded, not sent to the dead stream.
	if err := s.Process(context.Background(), frame.AudioChunk([]byte{9}, 16000, 1), rec.emit); err != nil {
		t.Fatalf("process audio after end: %v", err)
	}
	if n := stream.SendAudioCallCount(); n != 0 {
		t.Fatalf("audio sent to closed stream: %d calls", n)
	}
}

func TestSendAudioFailureSurfacesError(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{
		PartialsCh:   make(chan stt.Transcript),
		FinalsCh:     make(chan stt.Transcript),
		SendAudioErr: errors.New("socket gone"),
	}
	s, rec := startStage(t, stream)

	err := s.Process(context.Background(), frame.AudioChunk([]byte{1}, 16000, 1), rec.emit)
	if err == nil {
		t.Fatal("want error when provider rejects audio")
	}
}

func TestStartStreamFailureSurfacesError(t *testing.T) {
	t.Parallel()

	s := New(&mock.Provider{StartStreamErr: errors.New("auth failed")}, stt.StreamConfig{})
	rec := &recorder{}
	if err := s.Process(context.Background(), frame.SessionStart(), rec.emit); err == nil {
		t.Fatal("want error when the provider stream cannot be opened")
	}
}

func TestUnrelatedFramesAreForwarded(t *testing.T) {
	t.Parallel()

	stream := &mock.Stream{
		PartialsCh: make(chan stt.Transcript),
		FinalsCh:   make(chan stt.Transcript),
	}
	s, rec := startStage(t, stream)

	if err := s.Process(context.Background(), frame.SpeakStart(), rec.emit); err != nil {
		t.Fatalf("process: %v", err)
	}
	var found bool
	for _, f := range rec.snapshot() {
		if f.Kind == frame.KindSpeakStart {
			found = true
		}
	}
	if !found {
		t.Fatal("control frame was not forwarded")
	}
}
