package avatar

import (
	"context"
	"os"
	"testing"
	"time"
)

// childModeEnv selects renderer behaviour when the test binary is re-executed
// as the subprocess under test.
const childModeEnv = "SOLENNE_RENDERER_TEST_MODE"

func TestMain(m *testing.M) {
	mode := os.Getenv(childModeEnv)
	if mode == "" {
		os.Exit(m.Run())
	}
	childMain(mode)
}

// childMain is the renderer stand-in. "obedient" follows the protocol and
// echoes every audio chunk as a video frame; "deaf" reports ready but never
// reads stdin; "mute" never reports ready at all.
func childMain(mode string) {
	if mode == "mute" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	if err := WriteMessage(os.Stdout, Message{Type: TypeReady}); err != nil {
		os.Exit(1)
	}
	if mode == "deaf" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	for {
		msg, err := ReadMessage(os.Stdin)
		if err != nil {
			// EOF is the implicit stop.
			os.Exit(0)
		}
		switch msg.Type {
		case TypeAudio:
			_ = WriteMessage(os.Stdout, Message{
				Type:   TypeVideoFrame,
				Data:   msg.Data,
				Width:  2,
				Height: 2,
				Format: "gray8",
			})
		case TypeStop:
			os.Exit(0)
		}
	}
}

func startTestRenderer(t *testing.T, ctx context.Context, mode string, cfg Config) (*Runner, chan []byte, error) {
	t.Helper()
	t.Setenv(childModeEnv, mode)

	cfg.Command = []string{os.Args[0]}
	frames := make(chan []byte, 16)
	r, err := Start(ctx, cfg, func(data []byte, _, _ int, _ string) {
		frames <- data
	})
	return r, frames, err
}

func TestRunnerGracefulStop(t *testing.T) {
	r, frames, err := startTestRenderer(t, context.Background(), "obedient", Config{
		StartupTimeout: 10 * time.Second,
		StopGrace:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.SendAudio([]byte{1, 2, 3, 4}, 16000, 1); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	select {
	case data := <-frames:
		if len(data) != 4 {
			t.Fatalf("frame payload = %d bytes, want 4", len(data))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no video frame before timeout")
	}

	// A cooperative child exits zero within the grace period.
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRunnerOutlivesStartContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r, frames, err := startTestRenderer(t, ctx, "obedient", Config{
		StartupTimeout: 10 * time.Second,
		StopGrace:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Cancelling the startup context must not touch a running child: the
	// session teardown path cancels its contexts before the stage's stop
	// walk reaches the runner, and the child has to stay alive to receive
	// the stop message.
	cancel()

	if err := r.SendAudio([]byte{9, 9}, 16000, 1); err != nil {
		t.Fatalf("SendAudio after cancel: %v", err)
	}
	select {
	case <-frames:
	case <-time.After(5 * time.Second):
		t.Fatal("child stopped rendering after context cancel")
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop after cancel: %v, want graceful nil", err)
	}
}

func TestRunnerKillsChildThatIgnoresStop(t *testing.T) {
	r, _, err := startTestRenderer(t, context.Background(), "deaf", Config{
		StartupTimeout: 10 * time.Second,
		StopGrace:      200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	err = r.Stop()
	if err == nil {
		t.Fatal("Stop = nil for a child that ignores stop, want kill error")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("child killed after %s, before the grace period elapsed", elapsed)
	}
}

func TestRunnerStartupTimeout(t *testing.T) {
	_, _, err := startTestRenderer(t, context.Background(), "mute", Config{
		StartupTimeout: 200 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("Start = nil for a child that never reports ready")
	}
}
