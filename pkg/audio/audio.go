// Package audio provides the audio collaborator: an activity monitor
// exposing a presence flag to the fusion loop, and a voice-activated
// recorder that captures speech segments to disk.
//
// At this layer the rest of the system only ever sees a boolean
// activity signal; capture devices sit behind the Source interface.
package audio

import (
	"context"
	"io"
	"math"
)

// Chunk is a block of PCM16 audio samples.
type Chunk struct {
	// Samples contains PCM16 audio samples (little-endian).
	Samples []int16

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int
}

// Level returns the normalized mean absolute level of the chunk, 0-1.
func (c Chunk) Level() float64 {
	if len(c.Samples) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range c.Samples {
		total += math.Abs(float64(s))
	}
	return total / float64(len(c.Samples)) / 32768.0
}

// Bytes returns the raw little-endian bytes of the chunk.
func (c Chunk) Bytes() []byte {
	buf := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}

// Duration returns the chunk duration in seconds.
func (c Chunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture.
	Start(ctx context.Context) error

	// Stop halts audio capture. Safe to call multiple times.
	Stop() error

	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan Chunk

	// Name returns the backend name (e.g., "alsa", "mock").
	Name() string

	// Close releases all resources. The source cannot be restarted.
	io.Closer
}

// Monitor is the audio collaborator contract consumed by the fusion
// loop: presence/activity only at this layer.
type Monitor interface {
	// Active reports whether audio activity was observed recently.
	Active() bool
}
