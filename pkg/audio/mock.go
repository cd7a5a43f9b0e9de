package audio

import (
	"context"
	"math"
	"sync"
	"time"
)

// MockSource is a synthetic audio source for tests.
// It generates silence by default, or a sine wave when configured,
// and can be switched between the two at runtime to simulate speech
// starting and stopping.
type MockSource struct {
	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}

	sampleRate int
	chunkSize  int
	interval   time.Duration

	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithChunkInterval sets the wall-clock spacing of emitted chunks.
func WithChunkInterval(d time.Duration) MockSourceOption {
	return func(m *MockSource) { m.interval = d }
}

// NewMockSource creates a mock source emitting 20 ms chunks at 16 kHz.
func NewMockSource(opts ...MockSourceOption) *MockSource {
	m := &MockSource{
		streamCh:   make(chan Chunk, 10),
		stopCh:     make(chan struct{}),
		sampleRate: 16000,
		chunkSize:  320,
		interval:   20 * time.Millisecond,
		amplitude:  0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetTone switches the generated signal at runtime.
// frequency 0 produces silence.
func (m *MockSource) SetTone(frequency, amplitude float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frequency = frequency
	m.amplitude = amplitude
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.generate(ctx)
	return nil
}

func (m *MockSource) generate(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.streamCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			chunk := m.nextChunk()
			select {
			case m.streamCh <- chunk:
			default:
				// receiver lagging, drop the chunk
			}
		}
	}
}

func (m *MockSource) nextChunk() Chunk {
	m.mu.Lock()
	freq, amp := m.frequency, m.amplitude
	m.mu.Unlock()

	samples := make([]int16, m.chunkSize)
	if freq > 0 {
		step := 2 * math.Pi * freq / float64(m.sampleRate)
		for i := range samples {
			samples[i] = int16(amp * 32767 * math.Sin(m.phase))
			m.phase += step
		}
	}
	return Chunk{Samples: samples, SampleRate: m.sampleRate, Channels: 1}
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	return nil
}

// Stream implements Source.
func (m *MockSource) Stream() <-chan Chunk {
	return m.streamCh
}

// Name implements Source.
func (m *MockSource) Name() string { return "mock" }

// Close implements Source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	return nil
}

var _ Source = (*MockSource)(nil)
