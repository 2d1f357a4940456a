// Package avatar supervises the external renderer subprocess that turns the
// bot's speech audio into synchronised video frames.
//
// Parent and child speak a length-prefixed JSON protocol over the child's
// stdin and stdout: each message is a big-endian uint32 byte length followed
// by exactly that many bytes of UTF-8 JSON. Binary payloads (PCM audio,
// encoded video frames) travel base64-encoded inside the JSON body.
package avatar

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Message types exchanged with the renderer subprocess.
const (
	// TypeReady is sent by the child once it can accept audio.
	TypeReady = "ready"

	// TypeAudio carries a PCM chunk from parent to child.
	TypeAudio = "audio"

	// TypeVideoFrame carries one rendered frame from child to parent.
	TypeVideoFrame = "video_frame"

	// TypeStop asks the child to finish and exit. Closing the child's stdin
	// carries the same meaning.
	TypeStop = "stop"

	// TypeError reports a child-side failure. The child may keep running
	// after sending one.
	TypeError = "error"
)

// maxMessageSize bounds a single protocol message. A length prefix beyond
// this is treated as stream corruption, not a large message.
const maxMessageSize = 32 << 20

// Message is one protocol frame in either direction. Fields are populated
// according to Type; unused ones are omitted from the wire form.
type Message struct {
	Type string `json:"type"`

	// Data is the binary payload for audio and video_frame messages,
	// base64-encoded by the JSON marshaller.
	Data []byte `json:"data,omitempty"`

	// SampleRate and Channels describe audio payloads.
	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`

	// Width, Height, and Format describe video_frame payloads.
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`

	// Text carries the detail of an error message.
	Text string `json:"message,omitempty"`
}

// WriteMessage encodes msg and writes it to w with its length prefix. A
// partial write leaves the stream unusable; callers should treat any error
// as fatal to the connection.
func WriteMessage(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("avatar: encode message: %w", err)
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("avatar: message of %d bytes exceeds protocol limit", len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("avatar: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("avatar: write message body: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed message from r. It returns io.EOF
// unwrapped when the stream ends cleanly between messages, which callers
// treat as an implicit stop. An EOF inside a message, an implausible length
// prefix, or malformed JSON is a protocol error.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("avatar: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > maxMessageSize {
		return Message{}, fmt.Errorf("avatar: implausible message length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("avatar: read message body: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("avatar: decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("avatar: message missing type")
	}
	return msg, nil
}
