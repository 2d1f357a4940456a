package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	// defaultStartupTimeout bounds the wait for the child's ready message.
	defaultStartupTimeout = 10 * time.Second

	// defaultStopGrace is how long a stopped child may keep running before
	// it is killed.
	defaultStopGrace = 3 * time.Second
)

// Config describes how to launch the renderer subprocess.
type Config struct {
	// Command is the argv of the renderer binary. Required.
	Command []string

	// FaceID selects the rendered face, passed to the child via its
	// environment as SOLENNE_FACE_ID.
	FaceID string

	// StartupTimeout bounds the wait for the ready message. Zero means the
	// default.
	StartupTimeout time.Duration

	// StopGrace is how long Stop waits after asking the child to exit before
	// killing it. Zero means the default.
	StopGrace time.Duration
}

// VideoSink receives rendered frames from the child as they arrive.
type VideoSink func(data []byte, width, height int, format string)

// Runner supervises one renderer subprocess. Start launches it and waits for
// ready; SendAudio feeds it speech; Stop shuts it down. All methods are safe
// for concurrent use.
type Runner struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	grace time.Duration

	writeMu sync.Mutex

	stopOnce sync.Once
	stopErr  error
	readDone chan struct{}
}

// Start launches the subprocess described by cfg and blocks until the child
// reports ready or the startup timeout expires. Video frames are delivered
// to sink from a dedicated goroutine until the child's stdout closes.
//
// ctx bounds startup only. Once the child is ready its lifetime belongs to
// [Runner.Stop], which asks it to exit and enforces the grace period; tying
// the process to a session context would kill it before the stop message
// could reach it.
func Start(ctx context.Context, cfg Config, sink VideoSink) (*Runner, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("avatar: empty renderer command")
	}
	startupTimeout := cfg.StartupTimeout
	if startupTimeout == 0 {
		startupTimeout = defaultStartupTimeout
	}
	grace := cfg.StopGrace
	if grace == 0 {
		grace = defaultStopGrace
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if cfg.FaceID != "" {
		cmd.Env = append(cmd.Environ(), "SOLENNE_FACE_ID="+cfg.FaceID)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("avatar: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("avatar: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("avatar: start renderer: %w", err)
	}

	r := &Runner{
		cmd:      cmd,
		stdin:    stdin,
		grace:    grace,
		readDone: make(chan struct{}),
	}

	ready := make(chan error, 1)
	go r.readLoop(stdout, sink, ready)

	select {
	case err := <-ready:
		if err != nil {
			r.kill()
			return nil, err
		}
	case <-time.After(startupTimeout):
		r.kill()
		return nil, fmt.Errorf("avatar: renderer not ready after %s", startupTimeout)
	case <-ctx.Done():
		r.kill()
		return nil, ctx.Err()
	}
	return r, nil
}

// SendAudio delivers one PCM chunk to the child.
func (r *Runner) SendAudio(pcm []byte, sampleRate, channels int) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return WriteMessage(r.stdin, Message{
		Type:       TypeAudio,
		Data:       pcm,
		SampleRate: sampleRate,
		Channels:   channels,
	})
}

// Stop asks the child to exit, waits out the grace period, and kills it if
// it is still running. Safe to call more than once.
func (r *Runner) Stop() error {
	r.stopOnce.Do(func() {
		r.writeMu.Lock()
		// Best effort: the closed stdin below carries the same meaning.
		_ = WriteMessage(r.stdin, Message{Type: TypeStop})
		_ = r.stdin.Close()
		r.writeMu.Unlock()

		done := make(chan error, 1)
		go func() { done <- r.cmd.Wait() }()
		select {
		case err := <-done:
			r.stopErr = err
		case <-time.After(r.grace):
			slog.Warn("avatar: renderer ignored stop, killing")
			r.kill()
			r.stopErr = <-done
		}
		<-r.readDone
	})
	return r.stopErr
}

func (r *Runner) kill() {
	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
}

// readLoop consumes child messages until stdout closes. The first message
// must be ready; afterwards video frames go to sink and child errors are
// logged.
func (r *Runner) readLoop(stdout io.Reader, sink VideoSink, ready chan<- error) {
	defer close(r.readDone)

	first, err := ReadMessage(stdout)
	if err != nil {
		ready <- fmt.Errorf("avatar: reading ready message: %w", err)
		return
	}
	if first.Type != TypeReady {
		ready <- fmt.Errorf("avatar: expected ready, got %q", first.Type)
		return
	}
	ready <- nil

	for {
		msg, err := ReadMessage(stdout)
		if err != nil {
			if err != io.EOF {
				slog.Warn("avatar: renderer stream ended abnormally", "err", err)
			}
			return
		}
		switch msg.Type {
		case TypeVideoFrame:
			if sink != nil {
				sink(msg.Data, msg.Width, msg.Height, msg.Format)
			}
		case TypeError:
			slog.Warn("avatar: renderer reported error", "detail", msg.Text)
		case TypeStop:
			return
		default:
			slog.Debug("avatar: ignoring unexpected renderer message", "type", msg.Type)
		}
	}
}
