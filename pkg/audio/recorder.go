package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cobotics/go-cobot/internal/log"
)

// RecorderConfig configures voice-activated recording.
type RecorderConfig struct {
	// ActivationThreshold is the 0-1 level above which voice is
	// considered present.
	ActivationThreshold float64

	// SilenceDuration ends the recording once voice has been absent
	// this long after activation.
	SilenceDuration time.Duration

	// MaxDuration bounds the whole recording regardless of activity.
	MaxDuration time.Duration

	// SaveDirectory receives the WAV files.
	SaveDirectory string
}

// Recorder captures voice-activated recordings from a Source.
//
// One background goroutine per recording: it waits for the level to
// cross the threshold, records until silence or the max duration, and
// writes a WAV file. Status flows through shared flags; Stop flips a
// flag observed at the next chunk, so callers tolerate up to one
// chunk of latency before the loop exits.
type Recorder struct {
	source Source
	cfg    RecorderConfig

	mu        sync.Mutex
	recording bool
	stop      bool
	lastPath  string
	done      chan struct{}
}

// NewRecorder creates a recorder over source.
func NewRecorder(source Source, cfg RecorderConfig) *Recorder {
	if cfg.SilenceDuration == 0 {
		cfg.SilenceDuration = 2 * time.Second
	}
	if cfg.MaxDuration == 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	if cfg.SaveDirectory == "" {
		cfg.SaveDirectory = "temp"
	}
	return &Recorder{source: source, cfg: cfg}
}

// Start launches the recording loop in the background. Returns an
// error if a recording is already in progress.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("recording already in progress")
	}
	r.recording = true
	r.stop = false
	r.done = make(chan struct{})

	go r.loop()
	log.Info("voice-activated recording armed (speak to begin)")
	return nil
}

// loop is the recording goroutine.
func (r *Recorder) loop() {
	defer func() {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		close(r.done)
	}()

	var (
		frames       []Chunk
		voiceStarted bool
		silenceSince time.Time
		start        = time.Now()
	)

	for chunk := range r.source.Stream() {
		r.mu.Lock()
		stopped := r.stop
		r.mu.Unlock()
		if stopped || time.Since(start) > r.cfg.MaxDuration {
			break
		}

		if chunk.Level() > r.cfg.ActivationThreshold {
			if !voiceStarted {
				voiceStarted = true
				log.Info("voice detected, recording started")
			}
			silenceSince = time.Time{}
			frames = append(frames, chunk)
			continue
		}

		if !voiceStarted {
			continue // still waiting for the first word
		}
		if silenceSince.IsZero() {
			silenceSince = time.Now()
		} else if time.Since(silenceSince) > r.cfg.SilenceDuration {
			log.Info("silence detected, recording stopped")
			break
		}
		// short pause mid-sentence, keep recording
		frames = append(frames, chunk)
	}

	if len(frames) == 0 {
		log.Warn("no audio recorded")
		return
	}

	path := filepath.Join(r.cfg.SaveDirectory,
		fmt.Sprintf("voice_%s.wav", uuid.NewString()))
	if err := r.saveWAV(frames, path); err != nil {
		log.Error("failed to save recording", "error", err)
		return
	}

	r.mu.Lock()
	r.lastPath = path
	r.mu.Unlock()
	log.Info("voice recording saved", "path", path, "chunks", len(frames))
}

// Stop requests the recording loop to exit. The flag is observed at
// the next chunk boundary; Stop blocks until the loop has finished.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	r.stop = true
	done := r.done
	r.mu.Unlock()
	<-done
}

// IsRecording reports whether the background loop is running.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// LastRecording returns the path of the most recent saved recording,
// empty if none.
func (r *Recorder) LastRecording() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPath
}

// saveWAV writes the captured frames as a PCM16 WAV file.
func (r *Recorder) saveWAV(frames []Chunk, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var pcm []byte
	for _, f := range frames {
		pcm = append(pcm, f.Bytes()...)
	}

	data := encodeWAV(pcm, frames[0].SampleRate, frames[0].Channels)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}
