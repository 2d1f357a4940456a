// Package bridge adapts an external duplex transport (in production a
// browser WebSocket) to the pipeline's queue-based frame injection, and
// serialises pipeline output back into transport messages.
//
// The bridge has three cooperating parts: [AudioInput] feeds inbound audio
// into the pipeline, [OutputCapture] sits at the pipeline tail and converts
// frames into outbound messages, and [Driver] runs the per-session message
// loop with ordered teardown.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
)

const (
	// defaultQueueDepth bounds the audio input queue. At 20ms per chunk this
	// is several seconds of backlog; beyond that the producer blocks.
	defaultQueueDepth = 256

	// defaultPollInterval is how often the consumption loop wakes to check
	// for cancellation while the queue is empty. A deliberate trade-off
	// between cancellation responsiveness and wakeup overhead.
	defaultPollInterval = 100 * time.Millisecond
)

// Pipeline is the subset of [pipeline.Pipeline] the bridge needs. Satisfied
// by *pipeline.Pipeline; tests substitute a recorder.
type Pipeline interface {
	QueueFrame(f frame.Frame) error
	Done() <-chan struct{}
}

// AudioInput is the inbound half of the bridge: a bounded queue of audio
// chunks plus a single consumption loop that injects them into the pipeline
// in enqueue order. Enqueue is safe for concurrent use by multiple
// producers; the single consumer serialises delivery.
type AudioInput struct {
	queue        chan frame.Frame
	pollInterval time.Duration
}

// AudioInputOption is a functional option for [NewAudioInput].
type AudioInputOption func(*AudioInput)

// WithQueueDepth overrides the bounded queue capacity. Default 256.
func WithQueueDepth(n int) AudioInputOption {
	return func(a *AudioInput) {
		if n > 0 {
			a.queue = make(chan frame.Frame, n)
		}
	}
}

// WithPollInterval overrides the consumption loop's cancellation poll
// interval. Default 100ms.
func WithPollInterval(d time.Duration) AudioInputOption {
	return func(a *AudioInput) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// NewAudioInput creates an AudioInput with a bounded queue.
func NewAudioInput(opts ...AudioInputOption) *AudioInput {
	a := &AudioInput{
		queue:        make(chan frame.Frame, defaultQueueDepth),
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Enqueue places one chunk of raw PCM on the queue. It blocks while the
// queue is full and returns ctx's error if the caller gives up first.
func (a *AudioInput) Enqueue(ctx context.Context, data []byte, sampleRate, channels int) error {
	select {
	case a.queue <- frame.AudioChunk(data, sampleRate, channels):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the consumption loop: it repeatedly waits on the queue with a
// short timeout and injects each item into p as an AudioChunk frame. The
// timeout, rather than a bare blocking wait, is what lets the loop
// observe pipeline cancellation promptly without a separate interrupt
// mechanism.
//
// Run returns nil on cancellation (of ctx or of the pipeline); frames still
// queued at that point are dropped, never partially processed.
func (a *AudioInput) Run(ctx context.Context, p Pipeline) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Done():
			return nil
		case f := <-a.queue:
			if err := p.QueueFrame(f); err != nil {
				if errors.Is(err, pipeline.ErrCancelled) {
					return nil
				}
				return err
			}
		case <-time.After(a.pollInterval):
			// Idle wakeup; loop back and re-check cancellation.
		}
	}
}
