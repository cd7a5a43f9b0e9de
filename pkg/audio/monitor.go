package audio

import (
	"context"
	"sync"
	"time"

	"github.com/cobotics/go-cobot/internal/log"
)

// activityHold is how long the activity flag stays raised after the
// last chunk above threshold. Smooths over the gaps between words.
const activityHold = 500 * time.Millisecond

// LevelMonitor watches a Source and raises an activity flag whenever
// the mean level crosses the activation threshold. It is the
// Monitor implementation behind the fusion loop's audio modality.
type LevelMonitor struct {
	source    Source
	threshold float64

	mu         sync.Mutex
	lastActive time.Time
	lastLevel  float64
	running    bool
	done       chan struct{}
}

// NewLevelMonitor creates a monitor over source. threshold is the
// normalized 0-1 mean level above which audio counts as active.
func NewLevelMonitor(source Source, threshold float64) *LevelMonitor {
	return &LevelMonitor{source: source, threshold: threshold}
}

// Start begins consuming the source stream. The monitor runs until
// ctx is cancelled or the source stream closes.
func (m *LevelMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.source.Start(ctx); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}

	go m.watch(ctx)
	log.Info("audio monitor started", "backend", m.source.Name(), "threshold", m.threshold)
	return nil
}

func (m *LevelMonitor) watch(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-m.source.Stream():
			if !ok {
				return
			}
			level := chunk.Level()
			m.mu.Lock()
			m.lastLevel = level
			if level > m.threshold {
				m.lastActive = time.Now()
			}
			m.mu.Unlock()
		}
	}
}

// Stop halts the monitor and its source.
func (m *LevelMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	done := m.done
	m.mu.Unlock()

	err := m.source.Stop()
	<-done
	return err
}

// Active implements Monitor.
func (m *LevelMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Since(m.lastActive) < activityHold
}

// Level returns the most recent normalized chunk level.
func (m *LevelMonitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLevel
}

var _ Monitor = (*LevelMonitor)(nil)
