package bridge

import "context"

// Inbound message types accepted from the transport.
const (
	InboundAudio     = "audio"
	InboundStop      = "stop"
	InboundInterrupt = "interrupt"
)

// Outbound message types sent to the transport.
const (
	OutboundReady          = "ready"
	OutboundGreeting       = "greeting"
	OutboundAudio          = "audio"
	OutboundText           = "text"
	OutboundTranscription  = "transcription"
	OutboundBotResponseEnd = "bot_response_end"
	OutboundCaption        = "caption"
	OutboundSpeakingState  = "speaking_state"
	OutboundCrisisAlert    = "crisis_alert"
)

// InboundMessage is one JSON message read from the transport.
type InboundMessage struct {
	Type string `json:"type"`

	// Data is base64-encoded PCM for audio messages.
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// OutboundMessage is one JSON message written to the transport. Type selects
// which of the optional fields are populated.
type OutboundMessage struct {
	Type string `json:"type"`

	// Audio messages.
	Data       string `json:"data,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`

	// Text, transcription, caption and greeting messages.
	Text    string `json:"text,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`

	// Speaking-state messages.
	IsSpeaking *bool `json:"is_speaking,omitempty"`

	// Crisis-alert messages.
	Keywords []string `json:"keywords,omitempty"`

	// Ready messages.
	FaceID string `json:"face_id,omitempty"`
}

// Sender delivers outbound messages to the transport. Implementations must
// be safe for concurrent use; a send failure affects only the one message,
// callers log and continue.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// SenderFunc adapts a function to the [Sender] interface.
type SenderFunc func(ctx context.Context, msg OutboundMessage) error

// Send implements [Sender].
func (f SenderFunc) Send(ctx context.Context, msg OutboundMessage) error { return f(ctx, msg) }

// Bool returns a pointer to b for the optional JSON fields above.
func Bool(b bool) *bool { return &b }
