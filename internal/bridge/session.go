package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/solenne-ai/solenne/pkg/frame"
)

const (
	// defaultSampleRate is assumed for inbound audio messages that omit one.
	defaultSampleRate = 16000

	// defaultChannels is assumed for inbound audio messages that omit one.
	defaultChannels = 1
)

// Transport is the duplex message connection the driver reads from and
// writes to. The production implementation wraps a WebSocket; tests use an
// in-memory pair.
type Transport interface {
	Sender

	// ReadMessage blocks until the next inbound message arrives. It returns
	// an error on transport closure; the driver treats every read error as
	// session end, never as a fault.
	ReadMessage(ctx context.Context) (InboundMessage, error)
}

// SessionPipeline is the pipeline surface the driver controls.
// *pipeline.Pipeline satisfies it.
type SessionPipeline interface {
	QueueFrame(f frame.Frame) error
	Run(ctx context.Context) error
	Done() <-chan struct{}
}

// Driver runs one transport session end to end: it announces readiness,
// speaks the greeting, pumps inbound messages into the pipeline, and tears
// the session down in order, input loop first and pipeline second, so the
// pipeline never observes a write from a half-closed producer.
type Driver struct {
	transport Transport
	pipe      SessionPipeline
	input     *AudioInput

	faceID   string
	greeting string
}

// DriverConfig holds the dependencies for [NewDriver].
type DriverConfig struct {
	Transport Transport
	Pipeline  SessionPipeline
	Input     *AudioInput

	// FaceID is echoed in the ready message for the client's avatar setup.
	FaceID string

	// Greeting, when non-empty, is sent as a greeting message and queued
	// through the pipeline so the bot speaks it on connect.
	Greeting string
}

// NewDriver creates a session driver.
func NewDriver(cfg DriverConfig) *Driver {
	return &Driver{
		transport: cfg.Transport,
		pipe:      cfg.Pipeline,
		input:     cfg.Input,
		faceID:    cfg.FaceID,
		greeting:  cfg.Greeting,
	}
}

// Run drives the session until the transport closes, a stop message
// arrives, or ctx is cancelled. Cancellation is the clean-shutdown path:
// Run returns nil for all of those.
func (d *Driver) Run(ctx context.Context) error {
	inputCtx, cancelInput := context.WithCancel(ctx)
	pipeCtx, cancelPipe := context.WithCancel(ctx)
	defer cancelPipe()
	defer cancelInput()

	var g errgroup.Group
	g.Go(func() error { return d.pipe.Run(pipeCtx) })
	g.Go(func() error { return d.input.Run(inputCtx, d.pipe) })

	d.sendReady(ctx)
	d.sendGreeting(ctx)

	d.readLoop(ctx)

	// Ordered teardown: stop the producer before the pipeline so no frame
	// is queued into a cancelled chain.
	cancelInput()
	cancelPipe()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readLoop consumes inbound messages until stop, closure, or cancellation.
func (d *Driver) readLoop(ctx context.Context) {
	for {
		msg, err := d.transport.ReadMessage(ctx)
		if err != nil {
			slog.Debug("bridge: transport closed", "err", err)
			return
		}

		switch msg.Type {
		case InboundAudio:
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				slog.Warn("bridge: dropping undecodable audio message", "err", err)
				continue
			}
			rate := msg.SampleRate
			if rate == 0 {
				rate = defaultSampleRate
			}
			ch := msg.Channels
			if ch == 0 {
				ch = defaultChannels
			}
			if err := d.input.Enqueue(ctx, pcm, rate, ch); err != nil {
				slog.Debug("bridge: enqueue aborted", "err", err)
				return
			}

		case InboundInterrupt:
			// Let downstream stages react to the user barging in.
			if err := d.pipe.QueueFrame(frame.SpeakStart()); err != nil {
				slog.Debug("bridge: interrupt dropped", "err", err)
			}

		case InboundStop:
			slog.Info("bridge: stop message received")
			return

		default:
			slog.Debug("bridge: ignoring unknown inbound message", "type", msg.Type)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (d *Driver) sendReady(ctx context.Context) {
	msg := OutboundMessage{Type: OutboundReady, FaceID: d.faceID}
	if err := d.transport.Send(ctx, msg); err != nil {
		slog.Warn("bridge: ready send failed", "err", err)
	}
}

func (d *Driver) sendGreeting(ctx context.Context) {
	if d.greeting == "" {
		return
	}
	if err := d.transport.Send(ctx, OutboundMessage{Type: OutboundGreeting, Text: d.greeting}); err != nil {
		slog.Warn("bridge: greeting send failed", "err", err)
	}
	// Queue the greeting through the chain so the TTS stage speaks it.
	if err := d.pipe.QueueFrame(frame.TextChunk(d.greeting)); err != nil {
		slog.Warn("bridge: greeting queue failed", "err", err)
		return
	}
	if err := d.pipe.QueueFrame(frame.SpeakStop()); err != nil {
		slog.Warn("bridge: greeting terminator queue failed", "err", err)
	}
}
