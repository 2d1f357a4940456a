// Package frame defines the typed event unit that flows through a Solenne
// voice pipeline.
//
// A Frame is a closed tagged union: its Kind discriminant fully determines
// which payload fields are meaningful. Frames carry either content (audio
// samples, text, transcripts, video) or control (session lifecycle, speaking
// state, interruption). Frames are immutable by contract; a stage that wants
// to change a frame constructs a new one instead of mutating the input.
package frame

import "fmt"

// Kind discriminates the payload carried by a [Frame].
type Kind int

const (
	// KindAudioChunk carries raw PCM audio. At the head of the pipeline this
	// is user microphone audio; at the tail it is synthesised bot speech.
	KindAudioChunk Kind = iota

	// KindTextChunk carries a fragment of bot (LLM) output text.
	KindTextChunk

	// KindInterimTranscript carries a low-latency, non-authoritative STT guess.
	KindInterimTranscript

	// KindFinalTranscript carries an authoritative STT result.
	KindFinalTranscript

	// KindSpeakStart signals that speech output (or, when injected by the
	// transport on user interruption, speech input) has begun.
	KindSpeakStart

	// KindSpeakStop signals that speech output has ended. It finalises any
	// in-progress bot utterance.
	KindSpeakStop

	// KindSessionStart is the control frame propagated through the whole
	// chain before any content frame is accepted.
	KindSessionStart

	// KindSessionEnd is the control frame delivered to every stage on
	// cancellation. Stages must release held resources on receipt.
	KindSessionEnd

	// KindInterrupt signals user interruption of an in-flight bot response.
	KindInterrupt

	// KindVideoFrame carries one rendered avatar video frame.
	KindVideoFrame

	// KindError carries a stage processing failure travelling upstream.
	KindError
)

// String returns the canonical lower-snake name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAudioChunk:
		return "audio_chunk"
	case KindTextChunk:
		return "text_chunk"
	case KindInterimTranscript:
		return "interim_transcript"
	case KindFinalTranscript:
		return "final_transcript"
	case KindSpeakStart:
		return "speak_start"
	case KindSpeakStop:
		return "speak_stop"
	case KindSessionStart:
		return "session_start"
	case KindSessionEnd:
		return "session_end"
	case KindInterrupt:
		return "interrupt"
	case KindVideoFrame:
		return "video_frame"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsControl reports whether the kind carries control rather than content.
func (k Kind) IsControl() bool {
	switch k {
	case KindSpeakStart, KindSpeakStop, KindSessionStart, KindSessionEnd, KindInterrupt:
		return true
	}
	return false
}

// Direction is the travel direction of a frame between adjacent stages.
type Direction int

const (
	// Downstream follows the producer→consumer order of the stage list.
	Downstream Direction = iota

	// Upstream is the feedback direction toward the producer, used for
	// detected user speech, errors, and other control signals.
	Upstream
)

// String returns "downstream" or "upstream".
func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Audio is the payload of a [KindAudioChunk] frame.
type Audio struct {
	// Data is raw little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz (16000 for STT input, 24000 for TTS output).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Video is the payload of a [KindVideoFrame] frame.
type Video struct {
	// Data is the raw pixel buffer in the stated format.
	Data []byte

	Width  int
	Height int

	// Format names the pixel layout, e.g. "rgb24".
	Format string
}

// Frame is a single typed event flowing through the pipeline.
//
// Exactly one payload group is meaningful, selected by Kind: Audio for
// audio chunks, Text for text and transcript kinds, Video for video frames,
// Err/Origin for errors. All other fields are zero.
type Frame struct {
	Kind      Kind
	Direction Direction

	Audio Audio
	Text  string
	Video Video

	// Err is the stage failure carried by a KindError frame.
	Err error

	// Origin is the name of the stage that produced a KindError frame.
	Origin string
}

// WithDirection returns a copy of f travelling in dir.
func (f Frame) WithDirection(dir Direction) Frame {
	f.Direction = dir
	return f
}

// AudioChunk constructs a downstream audio content frame.
func AudioChunk(data []byte, sampleRate, channels int) Frame {
	return Frame{
		Kind:      KindAudioChunk,
		Direction: Downstream,
		Audio:     Audio{Data: data, SampleRate: sampleRate, Channels: channels},
	}
}

// TextChunk constructs a downstream bot text fragment frame.
func TextChunk(text string) Frame {
	return Frame{Kind: KindTextChunk, Direction: Downstream, Text: text}
}

// InterimTranscript constructs a downstream interim transcript frame.
func InterimTranscript(text string) Frame {
	return Frame{Kind: KindInterimTranscript, Direction: Downstream, Text: text}
}

// FinalTranscript constructs a downstream final transcript frame.
func FinalTranscript(text string) Frame {
	return Frame{Kind: KindFinalTranscript, Direction: Downstream, Text: text}
}

// SpeakStart constructs a downstream speaking-started control frame.
func SpeakStart() Frame {
	return Frame{Kind: KindSpeakStart, Direction: Downstream}
}

// SpeakStop constructs a downstream speaking-stopped control frame.
func SpeakStop() Frame {
	return Frame{Kind: KindSpeakStop, Direction: Downstream}
}

// SessionStart constructs the downstream session-start control frame.
func SessionStart() Frame {
	return Frame{Kind: KindSessionStart, Direction: Downstream}
}

// SessionEnd constructs the session-end control frame.
func SessionEnd() Frame {
	return Frame{Kind: KindSessionEnd, Direction: Downstream}
}

// Interrupt constructs a downstream interruption control frame.
func Interrupt() Frame {
	return Frame{Kind: KindInterrupt, Direction: Downstream}
}

// VideoFrame constructs a downstream avatar video frame.
func VideoFrame(data []byte, width, height int, format string) Frame {
	return Frame{
		Kind:      KindVideoFrame,
		Direction: Downstream,
		Video:     Video{Data: data, Width: width, Height: height, Format: format},
	}
}

// Error constructs an upstream error frame attributed to the named stage.
func Error(origin string, err error) Frame {
	return Frame{Kind: KindError, Direction: Upstream, Err: err, Origin: origin}
}
