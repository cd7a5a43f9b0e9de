package fusion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/pkg/hardware"
	"github.com/cobotics/go-cobot/pkg/vision"
)

type fakeRobot struct {
	pose hardware.CartesianPose
	err  error
}

func (f *fakeRobot) CurrentPosition(ctx context.Context) (hardware.CartesianPose, error) {
	return f.pose, f.err
}

type fakeMonitor struct{ active bool }

func (f *fakeMonitor) Active() bool { return f.active }

func testFusionConfig() config.Fusion {
	return config.Fusion{
		Frequency:           50,
		ConfidenceThreshold: 0.7,
		ContextWindow:       time.Second,
		ObjectPersistence:   100 * time.Millisecond,
	}
}

func TestTick_FusesAllModalities(t *testing.T) {
	detector := vision.NewMockDetector()
	detector.SetBoxes(vision.Box{X1: 100, Y1: 100, X2: 200, Y2: 200, Label: "red cube", Confidence: 0.9})

	e := New(testFusionConfig(),
		WithDetector(detector, nil),
		WithRobot(&fakeRobot{pose: hardware.CartesianPose{X: 0, Y: -150, Z: 200}}),
		WithAudioMonitor(&fakeMonitor{active: true}),
	)
	e.tick(context.Background())

	sc, ok := e.CurrentContext()
	require.True(t, ok, "no context after tick")

	assert.Equal(t, []string{"red cube"}, sc.DetectedObjects)
	assert.InDelta(t, 1.0, sc.Confidence, 1e-9)
	assert.True(t, sc.Reliable)
	assert.True(t, sc.AudioActivity)
	require.NotNil(t, sc.RobotPosition)
	assert.Equal(t, -150.0, sc.RobotPosition.Y)
	assert.Equal(t,
		"I can see a red cube. Robot is at position (0, -150, 200). Audio system is active.",
		sc.Description)
}

func TestTick_NoCollaborators(t *testing.T) {
	e := New(testFusionConfig())
	e.tick(context.Background())

	sc, ok := e.CurrentContext()
	require.True(t, ok)
	assert.Empty(t, sc.DetectedObjects)
	assert.Zero(t, sc.Confidence)
	assert.False(t, sc.Reliable)
	assert.Equal(t, "I don't see any specific objects.", sc.Description)
}

func TestTick_RobotFailureIsMissingModality(t *testing.T) {
	detector := vision.NewMockDetector()
	detector.SetBoxes(vision.Box{Label: "cup", Confidence: 0.8})

	e := New(testFusionConfig(),
		WithDetector(detector, nil),
		WithRobot(&fakeRobot{err: errors.New("serial timeout")}),
	)
	e.tick(context.Background())

	sc, ok := e.CurrentContext()
	require.True(t, ok)
	assert.Nil(t, sc.RobotPosition)
	assert.InDelta(t, 0.4, sc.Confidence, 1e-9)
	assert.False(t, sc.Reliable, "vision alone must not clear the 0.7 threshold")
	assert.Equal(t, "I can see a cup.", sc.Description)
}

func TestDescribeScene_MultipleObjects(t *testing.T) {
	got := describeScene([]string{"cube", "cup", "marker"}, nil, false)
	assert.Equal(t, "I can see cube, cup and marker.", got)
}

func TestTrackedObject_UpsertAndPersistence(t *testing.T) {
	detector := vision.NewMockDetector()
	detector.SetBoxes(vision.Box{X1: 10, Y1: 10, X2: 20, Y2: 20, Label: "cube", Confidence: 0.7})

	e := New(testFusionConfig(), WithDetector(detector, nil))
	e.tick(context.Background())
	e.tick(context.Background())

	obj, ok := e.FindObject("cube")
	require.True(t, ok, "cube not tracked")
	assert.Equal(t, 2, obj.Detections)
	assert.False(t, obj.LastSeen.Before(obj.FirstSeen))

	// Object vanishes from view but survives within the persistence
	// window.
	detector.SetBoxes()
	e.tick(context.Background())

	_, ok = e.FindObject("cube")
	assert.True(t, ok, "cube purged while still within persistence window")
	assert.False(t, e.IsObjectPresent("cube"), "vanished object still in current context")

	// Past the window it is purged.
	time.Sleep(150 * time.Millisecond)
	e.tick(context.Background())

	_, ok = e.FindObject("cube")
	assert.False(t, ok, "cube survived past persistence window")
	assert.Empty(t, e.TrackedObjects())
}

func TestTrackedObject_ReappearanceRefreshes(t *testing.T) {
	detector := vision.NewMockDetector()
	detector.SetBoxes(vision.Box{Label: "cup", Confidence: 0.5})

	e := New(testFusionConfig(), WithDetector(detector, nil))
	e.tick(context.Background())
	first, _ := e.FindObject("cup")

	detector.SetBoxes(vision.Box{X1: 50, Label: "cup", Confidence: 0.9})
	e.tick(context.Background())

	obj, ok := e.FindObject("cup")
	require.True(t, ok)
	assert.Equal(t, first.FirstSeen, obj.FirstSeen, "FirstSeen must be stable across re-detections")
	assert.Equal(t, 0.9, obj.Confidence)
	assert.Equal(t, 50, obj.BoundingBox.X1)
}

func TestHistory_WindowEviction(t *testing.T) {
	cfg := testFusionConfig()
	cfg.ContextWindow = 100 * time.Millisecond
	e := New(cfg)

	e.tick(context.Background())
	time.Sleep(150 * time.Millisecond)
	e.tick(context.Background())
	e.tick(context.Background())

	// The first context fell out of the retention window.
	assert.Len(t, e.History(0), 2)
}

func TestReaders_ReturnCopies(t *testing.T) {
	detector := vision.NewMockDetector()
	detector.SetBoxes(vision.Box{Label: "cube", Confidence: 0.7})

	e := New(testFusionConfig(),
		WithDetector(detector, nil),
		WithRobot(&fakeRobot{pose: hardware.CartesianPose{Z: 200}}),
	)
	e.tick(context.Background())

	sc, _ := e.CurrentContext()
	sc.DetectedObjects[0] = "tampered"
	sc.RobotPosition.Z = -1

	again, _ := e.CurrentContext()
	assert.Equal(t, "cube", again.DetectedObjects[0])
	assert.Equal(t, 200.0, again.RobotPosition.Z)

	objs := e.TrackedObjects()
	entry := objs["cube"]
	entry.Detections = 99
	objs["cube"] = entry
	fresh, _ := e.FindObject("cube")
	assert.Equal(t, 1, fresh.Detections)
}

func TestWaitForObject(t *testing.T) {
	detector := vision.NewMockDetector()
	e := New(testFusionConfig(), WithDetector(detector, nil))

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	go func() {
		time.Sleep(150 * time.Millisecond)
		detector.SetBoxes(vision.Box{Label: "marker", Confidence: 0.8})
	}()

	assert.True(t, e.WaitForObject(ctx, "marker", time.Second), "marker never observed")
	assert.False(t, e.WaitForObject(ctx, "unicorn", 250*time.Millisecond), "absent object reported present")
}

func TestStartStop(t *testing.T) {
	e := New(testFusionConfig())
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	assert.Error(t, e.Start(ctx), "second Start must fail while running")

	e.Stop()
	e.Stop() // idempotent

	require.NoError(t, e.Start(ctx))
	e.Stop()
}

func TestOnContextCallback(t *testing.T) {
	e := New(testFusionConfig())

	got := make(chan SceneContext, 1)
	e.OnContext = func(sc SceneContext) {
		select {
		case got <- sc:
		default:
		}
	}
	e.tick(context.Background())

	select {
	case sc := <-got:
		assert.NotEmpty(t, sc.ID)
	default:
		t.Fatal("OnContext never invoked")
	}
}
