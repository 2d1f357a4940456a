package bridge

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/solenne-ai/solenne/pkg/frame"
	"github.com/solenne-ai/solenne/pkg/pipeline"
)

// OutputCapture is the stage placed at the pipeline's tail. For each
// synthesised audio frame, final transcript, bot text chunk, or
// speaking-stop frame it observes, it serialises a transport message and
// hands it to the session's [Sender]. Send failures are logged and
// swallowed; a single lost chunk must not terminate the session.
type OutputCapture struct {
	out Sender
}

// NewOutputCapture creates the tail capture stage writing to out.
func NewOutputCapture(out Sender) *OutputCapture {
	return &OutputCapture{out: out}
}

// Name implements [pipeline.Stage].
func (o *OutputCapture) Name() string { return "output-capture" }

// Process implements [pipeline.Stage]. Every frame is forwarded unchanged;
// at the tail that only matters for upstream feedback frames.
func (o *OutputCapture) Process(ctx context.Context, f frame.Frame, emit pipeline.Emit) error {
	emit(f)

	switch f.Kind {
	case frame.KindAudioChunk:
		// Audio reaching the tail is synthesised bot speech: inbound user
		// audio enters at the head and is consumed by the STT stage.
		o.send(ctx, OutboundMessage{
			Type:       OutboundAudio,
			Data:       base64.StdEncoding.EncodeToString(f.Audio.Data),
			SampleRate: f.Audio.SampleRate,
			Channels:   f.Audio.Channels,
		})

	case frame.KindTextChunk:
		o.send(ctx, OutboundMessage{Type: OutboundText, Text: f.Text})

	case frame.KindFinalTranscript:
		o.send(ctx, OutboundMessage{
			Type:    OutboundTranscription,
			Text:    f.Text,
			IsFinal: Bool(true),
		})

	case frame.KindSpeakStop:
		o.send(ctx, OutboundMessage{Type: OutboundBotResponseEnd})
	}
	return nil
}

func (o *OutputCapture) send(ctx context.Context, msg OutboundMessage) {
	if err := o.out.Send(ctx, msg); err != nil {
		slog.Warn("bridge: outbound send failed", "type", msg.Type, "err", err)
	}
}
