package motion

import (
	"math"
	"testing"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/pkg/hardware"
)

func testMotionConfig() config.Motion {
	return config.Motion{
		SafeHeight:      200,
		MaxVelocity:     100,
		MaxAcceleration: 500,
		PathResolution:  10,
		Workspace: config.Workspace{
			X: config.Range{Min: -250, Max: 250},
			Y: config.Range{Min: -250, Max: 250},
			Z: config.Range{Min: 50, Max: 350},
		},
	}
}

func pose(x, y, z float64) hardware.CartesianPose {
	return hardware.CartesianPose{X: x, Y: y, Z: z}
}

func TestPlanSafeHeight_LowStartLowGoal(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	start, goal := pose(0, -150, 80), pose(100, 100, 60)
	traj := p.Plan(start, goal, true)

	if len(traj) != 4 {
		t.Fatalf("Plan() len = %d, want 4 (lift, translate, descend)", len(traj))
	}
	if traj[0] != start {
		t.Errorf("trajectory starts at %+v, want %+v", traj[0], start)
	}
	if traj[len(traj)-1] != goal {
		t.Errorf("trajectory ends at %+v, want %+v", traj[len(traj)-1], goal)
	}

	// Every waypoint between the endpoints sits at the safe height.
	for i := 1; i < len(traj)-1; i++ {
		if traj[i].Z != 200 {
			t.Errorf("waypoint %d z = %v, want safe height 200", i, traj[i].Z)
		}
	}
}

func TestPlanSafeHeight_StartAboveSafeHeight(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	traj := p.Plan(pose(0, 0, 300), pose(100, 100, 80), true)

	// No lift waypoint needed: start, translate at height, descend.
	if len(traj) != 3 {
		t.Fatalf("Plan() len = %d, want 3", len(traj))
	}
	if traj[1].Z != 200 {
		t.Errorf("translate waypoint z = %v, want 200", traj[1].Z)
	}
}

func TestPlanSafeHeight_GoalAtSafeHeight(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	traj := p.Plan(pose(0, 0, 80), pose(100, 100, 200), true)

	// Goal is already at the safe height: no descend waypoint.
	last := traj[len(traj)-1]
	if last != pose(100, 100, 200) {
		t.Errorf("trajectory ends at %+v, want goal", last)
	}
	if len(traj) != 3 {
		t.Errorf("Plan() len = %d, want 3", len(traj))
	}
}

func TestPlanDirect_FreePath(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	start, goal := pose(0, 0, 100), pose(100, 0, 100)
	traj := p.Plan(start, goal, false)

	// 100mm at 10mm resolution: 10 steps, 11 samples.
	if len(traj) != 11 {
		t.Fatalf("Plan() len = %d, want 11", len(traj))
	}
	if traj[0] != start || traj[len(traj)-1] != goal {
		t.Error("direct trajectory does not span start to goal")
	}
	for i, wp := range traj {
		if !p.IsPositionValid(wp) {
			t.Errorf("waypoint %d invalid: %+v", i, wp)
		}
	}
}

func TestPlanDirect_ShortHop(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	traj := p.Plan(pose(0, 0, 100), pose(1, 0, 100), false)

	// Below resolution: still at least start, midpoint, goal.
	if len(traj) != 3 {
		t.Errorf("Plan() len = %d, want 3", len(traj))
	}
}

func TestPlanDirect_BlockedFallsBackToSafeHeight(t *testing.T) {
	cfg := testMotionConfig()
	cfg.Obstacles = []config.Obstacle{
		{Name: "fixture", Center: [3]float64{50, 0, 100}, Radius: 20},
	}
	p := NewPlanner(cfg)

	start, goal := pose(0, 0, 100), pose(100, 0, 100)
	traj := p.Plan(start, goal, false)

	// The straight line passes through the fixture, so the whole
	// trajectory degrades to safe-height mode.
	for i := 1; i < len(traj)-1; i++ {
		if traj[i].Z != cfg.SafeHeight {
			t.Errorf("waypoint %d z = %v, want safe height after fallback", i, traj[i].Z)
		}
	}
	if traj[len(traj)-1] != goal {
		t.Errorf("fallback trajectory ends at %+v, want goal", traj[len(traj)-1])
	}
}

func TestIsPositionValid(t *testing.T) {
	cfg := testMotionConfig()
	cfg.Obstacles = []config.Obstacle{
		{Name: "post", Center: [3]float64{0, 0, 100}, Radius: 30},
	}
	p := NewPlanner(cfg)

	cases := []struct {
		name string
		pose hardware.CartesianPose
		want bool
	}{
		{"inside workspace", pose(100, 100, 200), true},
		{"below z floor", pose(0, 0, 40), false},
		{"outside x", pose(300, 0, 100), false},
		{"inside obstacle", pose(10, 10, 100), false},
		{"on obstacle surface", pose(30, 0, 100), false},
		{"just clear of obstacle", pose(31, 0, 100), true},
	}
	for _, tc := range cases {
		if got := p.IsPositionValid(tc.pose); got != tc.want {
			t.Errorf("%s: IsPositionValid(%+v) = %v, want %v", tc.name, tc.pose, got, tc.want)
		}
	}
}

func TestSmooth(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	zigzag := Trajectory{
		pose(0, 0, 100),
		pose(50, 40, 100),
		pose(100, 0, 100),
	}
	smoothed := p.Smooth(zigzag, 0.5)

	if smoothed[0] != zigzag[0] || smoothed[2] != zigzag[2] {
		t.Error("Smooth() altered an endpoint")
	}
	// Interior point pulled halfway toward the neighbor midpoint (50, 0).
	if smoothed[1].Y != 20 {
		t.Errorf("smoothed interior y = %v, want 20", smoothed[1].Y)
	}
	if smoothed.Distance() >= zigzag.Distance() {
		t.Errorf("Smooth() distance %v, want shorter than %v", smoothed.Distance(), zigzag.Distance())
	}
}

func TestSmooth_InvalidPointReverts(t *testing.T) {
	cfg := testMotionConfig()
	cfg.Obstacles = []config.Obstacle{
		{Name: "post", Center: [3]float64{50, 10, 100}, Radius: 15},
	}
	p := NewPlanner(cfg)

	traj := Trajectory{
		pose(0, 0, 100),
		pose(50, 40, 100), // midpoint pull would land inside the post
		pose(100, 0, 100),
	}
	smoothed := p.Smooth(traj, 0.5)

	if smoothed[1] != traj[1] {
		t.Errorf("smoothed point %+v, want original %+v kept", smoothed[1], traj[1])
	}
}

func TestSmooth_TooFewWaypoints(t *testing.T) {
	p := NewPlanner(testMotionConfig())
	traj := Trajectory{pose(0, 0, 100), pose(10, 0, 100)}
	if got := p.Smooth(traj, 0.5); len(got) != 2 {
		t.Errorf("Smooth() len = %d, want 2 (no-op)", len(got))
	}
}

func TestEstimateTime_MonotonicInDistance(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	prev := 0.0
	for _, d := range []float64{1, 5, 10, 50, 100, 500} {
		est := p.EstimateTime(Trajectory{pose(0, 0, 100), pose(d, 0, 100)})
		if est <= prev {
			t.Errorf("EstimateTime(%vmm) = %v, want > %v", d, est, prev)
		}
		prev = est
	}
}

func TestEstimateTime_Profiles(t *testing.T) {
	p := NewPlanner(testMotionConfig())

	// vMax=100, aMax=500: accel distance 10mm per ramp.
	// 10mm total is exactly the triangular boundary.
	short := p.EstimateTime(Trajectory{pose(0, 0, 100), pose(10, 0, 100)})
	want := 2 * math.Sqrt(10.0/500.0)
	if math.Abs(short-want) > 1e-9 {
		t.Errorf("triangular estimate = %v, want %v", short, want)
	}

	// 120mm: 20mm ramping, 100mm cruising at 100mm/s.
	long := p.EstimateTime(Trajectory{pose(0, 0, 100), pose(120, 0, 100)})
	want = 2*(100.0/500.0) + 100.0/100.0
	if math.Abs(long-want) > 1e-9 {
		t.Errorf("trapezoidal estimate = %v, want %v", long, want)
	}

	if p.EstimateTime(Trajectory{pose(0, 0, 100)}) != 0 {
		t.Error("EstimateTime(single waypoint) != 0")
	}
}

func TestTrajectoryDistance(t *testing.T) {
	traj := Trajectory{pose(0, 0, 0), pose(3, 4, 0), pose(3, 4, 12)}
	if got := traj.Distance(); got != 17 {
		t.Errorf("Distance() = %v, want 17", got)
	}
}
