// Package fusion merges vision, audio, and robot-state snapshots into
// a decaying, queryable scene model.
//
// A single loop ticks at the configured frequency. Each tick samples
// every available collaborator, fuses the results into a scored
// SceneContext, refreshes the tracked-object table, and prunes both
// the table and the time-bounded history. Ticks never overlap: a new
// one starts only after the previous fuse-and-prune completes, so an
// overloaded system degrades in frequency instead of piling up.
package fusion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/internal/log"
	"github.com/cobotics/go-cobot/pkg/audio"
	"github.com/cobotics/go-cobot/pkg/hardware"
	"github.com/cobotics/go-cobot/pkg/vision"
)

// Confidence contributions per modality. The sum is a heuristic
// score in [0, 1], not a probability.
const (
	visionConfidence = 0.4
	robotConfidence  = 0.3
	audioConfidence  = 0.3
)

// waitPollInterval is the WaitForObject polling period.
const waitPollInterval = 100 * time.Millisecond

// TrackedObject is one persistent entry in the object table, keyed by
// detection label.
type TrackedObject struct {
	Label       string     `json:"label"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	BoundingBox vision.Box `json:"bounding_box"`
	Confidence  float64    `json:"confidence"`
	Detections  int        `json:"detections"`
}

// SceneContext is one fused snapshot of the world.
type SceneContext struct {
	ID              string                  `json:"id"`
	Timestamp       time.Time               `json:"timestamp"`
	DetectedObjects []string                `json:"detected_objects"`
	RobotPosition   *hardware.CartesianPose `json:"robot_position,omitempty"`
	AudioActivity   bool                    `json:"audio_activity"`
	Description     string                  `json:"description"`
	Confidence      float64                 `json:"confidence"`

	// Reliable reports whether Confidence reached the configured
	// threshold; consumers act on unreliable contexts at their own risk.
	Reliable bool `json:"reliable"`
}

// PositionProvider is the robot-state collaborator contract.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (hardware.CartesianPose, error)
}

// Engine runs the fusion loop. Collaborators are optional: a missing
// one simply contributes nothing to each tick.
type Engine struct {
	cfg         config.Fusion
	colorRanges map[string]config.ColorRange

	detector vision.Detector
	monitor  audio.Monitor
	robot    PositionProvider

	mu      sync.RWMutex
	tracked map[string]*TrackedObject
	history []SceneContext
	current *SceneContext

	// OnContext, when set, receives each fused context (used by the
	// dashboard broadcast). Called outside the engine lock.
	OnContext func(SceneContext)

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithDetector attaches the vision collaborator.
func WithDetector(d vision.Detector, colorRanges map[string]config.ColorRange) Option {
	return func(e *Engine) {
		e.detector = d
		e.colorRanges = colorRanges
	}
}

// WithAudioMonitor attaches the audio collaborator.
func WithAudioMonitor(m audio.Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// WithRobot attaches the robot-state collaborator.
func WithRobot(p PositionProvider) Option {
	return func(e *Engine) { e.robot = p }
}

// New creates a fusion engine from pre-validated config.
func New(cfg config.Fusion, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		tracked: make(map[string]*TrackedObject),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the fusion loop. Returns an error if already running.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return fmt.Errorf("fusion already active")
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	go e.run(ctx)
	log.Info("scene fusion started", "frequency_hz", e.cfg.Frequency)
	return nil
}

// Stop flips the stop flag; the loop observes it at the next tick.
// Blocks until the loop has exited.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.runMu.Unlock()

	<-done
	log.Info("scene fusion stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	period := time.Duration(float64(time.Second) / e.cfg.Frequency)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick runs one collect-fuse-prune cycle.
func (e *Engine) tick(ctx context.Context) {
	now := time.Now()

	// Collect: absent collaborators and transient failures are simply
	// missing modalities, never tick failures.
	var detection *vision.DetectionResult
	if e.detector != nil {
		if res, err := e.detector.DetectByColor(e.colorRanges); err == nil {
			detection = &res
		} else {
			log.Debug("vision sample unavailable", "error", err)
		}
	}

	var position *hardware.CartesianPose
	if e.robot != nil {
		if pose, err := e.robot.CurrentPosition(ctx); err == nil {
			position = &pose
		} else {
			log.Debug("robot position unavailable", "error", err)
		}
	}

	audioActive := e.monitor != nil && e.monitor.Active()

	// Fuse
	confidence := 0.0
	var labels []string
	if detection != nil {
		labels = e.updateTracking(detection, now)
		if len(labels) > 0 {
			confidence += visionConfidence
		}
	}
	if position != nil {
		confidence += robotConfidence
	}
	if audioActive {
		confidence += audioConfidence
	}

	sc := SceneContext{
		ID:              uuid.NewString(),
		Timestamp:       now,
		DetectedObjects: labels,
		RobotPosition:   position,
		AudioActivity:   audioActive,
		Description:     describeScene(labels, position, audioActive),
		Confidence:      confidence,
		Reliable:        confidence >= e.cfg.ConfidenceThreshold,
	}

	e.mu.Lock()
	e.pruneTracked(now)
	e.current = &sc
	e.history = append(e.history, sc)
	cutoff := now.Add(-e.cfg.ContextWindow)
	for len(e.history) > 0 && e.history[0].Timestamp.Before(cutoff) {
		e.history = e.history[1:]
	}
	callback := e.OnContext
	e.mu.Unlock()

	if callback != nil {
		callback(sc)
	}
}

// updateTracking upserts the tracked-object table from one detection
// pass and returns the labels seen this tick.
func (e *Engine) updateTracking(res *vision.DetectionResult, now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var labels []string
	for _, box := range res.Boxes {
		labels = append(labels, box.Label)

		if obj, ok := e.tracked[box.Label]; ok {
			obj.LastSeen = now
			obj.BoundingBox = box
			obj.Confidence = box.Confidence
			obj.Detections++
		} else {
			e.tracked[box.Label] = &TrackedObject{
				Label:       box.Label,
				FirstSeen:   now,
				LastSeen:    now,
				BoundingBox: box,
				Confidence:  box.Confidence,
				Detections:  1,
			}
		}
	}
	return labels
}

// pruneTracked drops objects not seen within the persistence window.
// Caller must hold e.mu.
func (e *Engine) pruneTracked(now time.Time) {
	for label, obj := range e.tracked {
		if now.Sub(obj.LastSeen) > e.cfg.ObjectPersistence {
			delete(e.tracked, label)
			log.Debug("tracked object expired", "label", label)
		}
	}
}

// describeScene builds the natural-language description: objects,
// robot position, audio activity, in that order, joined with ". ".
func describeScene(labels []string, position *hardware.CartesianPose, audioActive bool) string {
	var parts []string

	switch {
	case len(labels) == 1:
		parts = append(parts, fmt.Sprintf("I can see a %s", labels[0]))
	case len(labels) > 1:
		parts = append(parts, fmt.Sprintf("I can see %s and %s",
			strings.Join(labels[:len(labels)-1], ", "), labels[len(labels)-1]))
	default:
		parts = append(parts, "I don't see any specific objects")
	}

	if position != nil {
		parts = append(parts, fmt.Sprintf("Robot is at position (%.0f, %.0f, %.0f)",
			position.X, position.Y, position.Z))
	}
	if audioActive {
		parts = append(parts, "Audio system is active")
	}

	return strings.Join(parts, ". ") + "."
}

// CurrentContext returns a copy of the most recent fused context,
// ok=false before the first tick.
func (e *Engine) CurrentContext() (SceneContext, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return SceneContext{}, false
	}
	return copyContext(*e.current), true
}

// History returns copies of contexts within the last d. Zero d means
// the whole retained window.
func (e *Engine) History(d time.Duration) []SceneContext {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cutoff := time.Time{}
	if d > 0 {
		cutoff = time.Now().Add(-d)
	}

	var out []SceneContext
	for _, sc := range e.history {
		if sc.Timestamp.After(cutoff) {
			out = append(out, copyContext(sc))
		}
	}
	return out
}

// TrackedObjects returns a copy of the current object table.
func (e *Engine) TrackedObjects() map[string]TrackedObject {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]TrackedObject, len(e.tracked))
	for label, obj := range e.tracked {
		out[label] = *obj
	}
	return out
}

// FindObject returns the tracked object for label, ok=false if it is
// not currently tracked.
func (e *Engine) FindObject(label string) (TrackedObject, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	obj, ok := e.tracked[label]
	if !ok {
		return TrackedObject{}, false
	}
	return *obj, true
}

// ObjectsInScene returns the labels in the current context.
func (e *Engine) ObjectsInScene() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil
	}
	return append([]string(nil), e.current.DetectedObjects...)
}

// IsObjectPresent reports whether label appears in the current
// context.
func (e *Engine) IsObjectPresent(label string) bool {
	for _, l := range e.ObjectsInScene() {
		if l == label {
			return true
		}
	}
	return false
}

// WaitForObject polls the current context until label appears or
// timeout elapses. Never blocks indefinitely.
func (e *Engine) WaitForObject(ctx context.Context, label string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if e.IsObjectPresent(label) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func copyContext(sc SceneContext) SceneContext {
	out := sc
	out.DetectedObjects = append([]string(nil), sc.DetectedObjects...)
	if sc.RobotPosition != nil {
		pos := *sc.RobotPosition
		out.RobotPosition = &pos
	}
	return out
}
