// Command solenne-avatar is the reference avatar renderer for Solenne. It
// speaks the stdin/stdout framing protocol and produces placeholder video
// frames whose brightness tracks speech energy, so the full pipeline can be
// exercised without a GPU renderer.
//
// The face to render is passed through the SOLENNE_FACE_ID environment
// variable by the parent process.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/solenne-ai/solenne/internal/avatar"
)

const (
	frameWidth  = 256
	frameHeight = 256

	// samplesPerFrame is how much 16-bit mono audio one video frame covers at
	// 16kHz, roughly 25 fps.
	samplesPerFrame = 640
)

func main() {
	r := &energyRenderer{faceID: os.Getenv("SOLENNE_FACE_ID")}
	if err := avatar.Serve(os.Stdin, os.Stdout, r); err != nil {
		fmt.Fprintf(os.Stderr, "solenne-avatar: %v\n", err)
		os.Exit(1)
	}
}

// energyRenderer turns PCM chunks into flat grayscale frames whose level
// follows the audio's mean amplitude. A stand-in for a real lip-sync model
// with identical timing behaviour.
type energyRenderer struct {
	faceID string
	// carry holds samples left over from the previous chunk.
	carry []byte
}

func (r *energyRenderer) RenderAudio(pcm []byte, sampleRate, channels int) ([]avatar.RenderedFrame, error) {
	if channels <= 0 {
		channels = 1
	}
	buf := append(r.carry, pcm...)

	frameBytes := samplesPerFrame * 2 * channels
	var frames []avatar.RenderedFrame
	for len(buf) >= frameBytes {
		chunk := buf[:frameBytes]
		buf = buf[frameBytes:]
		frames = append(frames, avatar.RenderedFrame{
			Data:   solidFrame(meanAmplitude(chunk)),
			Width:  frameWidth,
			Height: frameHeight,
			Format: "gray8",
		})
	}
	r.carry = append(r.carry[:0], buf...)
	return frames, nil
}

func (r *energyRenderer) Close() error { return nil }

// meanAmplitude returns the average absolute sample value of 16-bit LE PCM,
// scaled to a byte.
func meanAmplitude(pcm []byte) byte {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var total int64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if s < 0 {
			s = -s
		}
		total += int64(s)
	}
	return byte(total / int64(n) >> 7)
}

func solidFrame(level byte) []byte {
	data := make([]byte, frameWidth*frameHeight)
	for i := range data {
		data[i] = level
	}
	return data
}
