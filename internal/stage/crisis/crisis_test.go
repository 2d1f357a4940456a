package crisis

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solenne-ai/solenne/pkg/frame"
)

// collectNotifier records escalations and signals each one on a channel.
type collectNotifier struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newCollectNotifier() *collectNotifier {
	return &collectNotifier{fired: make(chan struct{}, 16)}
}

func (n *collectNotifier) OnCrisisDetected(_ string, keywords []string) {
	n.mu.Lock()
	n.calls = append(n.calls, keywords)
	n.mu.Unlock()
	n.fired <- struct{}{}
}

func (n *collectNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func upstreamText(text string) frame.Frame {
	return frame.TextChunk(text).WithDirection(frame.Upstream)
}

func emitInto(sink *[]frame.Frame) func(frame.Frame) {
	return func(f frame.Frame) { *sink = append(*sink, f) }
}

func TestDetect(t *testing.T) {
	t.Parallel()

	t.Run("matches are case-insensitive", func(t *testing.T) {
		t.Parallel()
		got := Detect("I sometimes want to DIE")
		if len(got) != 1 || got[0] != "want to die" {
			t.Fatalf("want [want to die], got %v", got)
		}
	})

	t.Run("multiple keywords all reported", func(t *testing.T) {
		t.Parallel()
		got := Detect("i feel suicidal and want to hurt myself")
		if len(got) != 2 || got[0] != "suicidal" || got[1] != "hurt myself" {
			t.Fatalf("want [suicidal, hurt myself], got %v", got)
		}
	})

	t.Run("benign text matches nothing", func(t *testing.T) {
		t.Parallel()
		if got := Detect("the weather is lovely today"); got != nil {
			t.Fatalf("want no matches, got %v", got)
		}
	})
}

func TestResourcesCompleteness(t *testing.T) {
	t.Parallel()

	for _, want := range []string{
		"988",
		"741741",
		"findahelpline.com",
		"You are not alone.",
		"I'm not equipped to handle crisis situations",
		"trained professionals",
	} {
		if !strings.Contains(Resources, want) {
			t.Errorf("Resources missing %q", want)
		}
	}
}

func TestDetectorFiresOncePerCooldown(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	notifier := newCollectNotifier()
	d := New(notifier, WithClock(clock))

	var out []frame.Frame
	for i := 0; i < 5; i++ {
		if err := d.Process(context.Background(), upstreamText("I want to die"), emitInto(&out)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	select {
	case <-notifier.fired:
	case <-time.After(time.Second):
		t.Fatalf("notifier never fired")
	}
	if got := notifier.count(); got != 1 {
		t.Fatalf("want exactly 1 escalation inside the window, got %d", got)
	}

	// Inside the window: still suppressed.
	now = now.Add(59 * time.Second)
	_ = d.Process(context.Background(), upstreamText("I want to die"), emitInto(&out))
	if got := notifier.count(); got != 1 {
		t.Fatalf("escalation fired inside the cooldown window, got %d", got)
	}

	// One second past the window: fires again.
	now = now.Add(2 * time.Second)
	_ = d.Process(context.Background(), upstreamText("I want to die"), emitInto(&out))
	select {
	case <-notifier.fired:
	case <-time.After(time.Second):
		t.Fatalf("notifier did not fire after the cooldown expired")
	}
	if got := notifier.count(); got != 2 {
		t.Fatalf("want 2 escalations total, got %d", got)
	}
}

func TestDetectorForwardsEverythingUnchanged(t *testing.T) {
	t.Parallel()

	d := New(nil)
	frames := []frame.Frame{
		upstreamText("I want to die"),
		frame.TextChunk("downstream bot text"),
		frame.AudioChunk([]byte{1}, 16000, 1),
		frame.SpeakStart(),
		frame.FinalTranscript("hello").WithDirection(frame.Upstream),
	}

	var out []frame.Frame
	for _, f := range frames {
		if err := d.Process(context.Background(), f, emitInto(&out)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if len(out) != len(frames) {
		t.Fatalf("want %d forwarded frames, got %d", len(frames), len(out))
	}
	for i, f := range frames {
		if out[i].Kind != f.Kind || out[i].Text != f.Text || out[i].Direction != f.Direction {
			t.Fatalf("frame %d was not forwarded unchanged: %+v vs %+v", i, out[i], f)
		}
	}
}

func TestDetectorIgnoresDownstreamText(t *testing.T) {
	t.Parallel()

	notifier := newCollectNotifier()
	d := New(notifier)

	var out []frame.Frame
	// Bot output travelling downstream is not user speech.
	_ = d.Process(context.Background(), frame.TextChunk("thoughts of suicide are serious"), emitInto(&out))

	select {
	case <-notifier.fired:
		t.Fatalf("notifier fired on downstream bot text")
	case <-time.After(50 * time.Millisecond):
	}
}
