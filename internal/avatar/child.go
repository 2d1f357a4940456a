package avatar

import (
	"fmt"
	"io"
	"sync"
)

// RenderedFrame is one video frame produced by a Renderer.
type RenderedFrame struct {
	Data   []byte
	Width  int
	Height int
	Format string
}

// Renderer is the child-side rendering backend. RenderAudio is called once
// per received audio chunk and returns zero or more video frames; Close is
// called exactly once when the stream ends.
type Renderer interface {
	RenderAudio(pcm []byte, sampleRate, channels int) ([]RenderedFrame, error)
	Close() error
}

// Serve runs the child side of the protocol: it announces ready on out, then
// reads messages from in until a stop message or EOF, feeding audio to the
// renderer and writing its frames back.
//
// Render failures are reported as error messages and the loop continues;
// protocol failures terminate the loop with an error.
func Serve(in io.Reader, out io.Writer, r Renderer) error {
	defer r.Close()

	var writeMu sync.Mutex
	write := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return WriteMessage(out, msg)
	}

	if err := write(Message{Type: TypeReady}); err != nil {
		return err
	}

	for {
		msg, err := ReadMessage(in)
		if err != nil {
			if err == io.EOF {
				// Closed stdin is an implicit stop.
				return nil
			}
			return err
		}

		switch msg.Type {
		case TypeAudio:
			frames, err := r.RenderAudio(msg.Data, msg.SampleRate, msg.Channels)
			if err != nil {
				if werr := write(Message{Type: TypeError, Text: err.Error()}); werr != nil {
					return werr
				}
				continue
			}
			for _, f := range frames {
				err := write(Message{
					Type:   TypeVideoFrame,
					Data:   f.Data,
					Width:  f.Width,
					Height: f.Height,
					Format: f.Format,
				})
				if err != nil {
					return err
				}
			}

		case TypeStop:
			return nil

		default:
			return fmt.Errorf("avatar: unexpected message type %q from parent", msg.Type)
		}
	}
}
