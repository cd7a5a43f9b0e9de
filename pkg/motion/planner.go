// Package motion generates collision-aware, time-estimated waypoint
// trajectories for the arm.
//
// Obstacles are approximated as spheres and the workspace as an
// axis-aligned box. Safe-height trajectories clear obstacles by
// construction on the assumption that the configured safe height is
// above every known obstacle; that assumption is a configuration
// contract, not something the planner verifies.
package motion

import (
	"math"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/internal/log"
	"github.com/cobotics/go-cobot/pkg/hardware"
)

// Trajectory is an ordered waypoint sequence. Never empty: planning
// failures degrade to the two-point direct path.
type Trajectory []hardware.CartesianPose

// Distance returns the total cartesian path length in millimetres.
func (t Trajectory) Distance() float64 {
	total := 0.0
	for i := 1; i < len(t); i++ {
		total += dist(t[i-1], t[i])
	}
	return total
}

// Planner turns (start, goal) pose pairs into validated trajectories.
type Planner struct {
	cfg config.Motion
}

// NewPlanner creates a planner from pre-validated motion config.
func NewPlanner(cfg config.Motion) *Planner {
	return &Planner{cfg: cfg}
}

// SafeHeight returns the configured clearance height.
func (p *Planner) SafeHeight() float64 {
	return p.cfg.SafeHeight
}

// Plan produces a trajectory from start to goal.
//
// With useSafeHeight the path lifts to the safe height, translates
// horizontally, then descends: 2-4 waypoints, collision-free by
// construction. Without it the straight line is discretized and each
// sample validated; the first invalid sample aborts direct planning
// and the whole trajectory falls back to safe-height mode.
func (p *Planner) Plan(start, goal hardware.CartesianPose, useSafeHeight bool) Trajectory {
	if useSafeHeight {
		return p.planSafeHeight(start, goal)
	}
	return p.planDirect(start, goal)
}

func (p *Planner) planSafeHeight(start, goal hardware.CartesianPose) Trajectory {
	waypoints := Trajectory{start}

	if start.Z < p.cfg.SafeHeight {
		lifted := start
		lifted.Z = p.cfg.SafeHeight
		waypoints = append(waypoints, lifted)
	}

	aboveGoal := goal
	aboveGoal.Z = p.cfg.SafeHeight
	waypoints = append(waypoints, aboveGoal)

	if goal.Z < p.cfg.SafeHeight {
		waypoints = append(waypoints, goal)
	}

	return waypoints
}

func (p *Planner) planDirect(start, goal hardware.CartesianPose) Trajectory {
	steps := int(dist(start, goal) / p.cfg.PathResolution)
	if steps < 2 {
		steps = 2
	}

	waypoints := make(Trajectory, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		wp := lerp(start, goal, t)

		if !p.IsPositionValid(wp) {
			log.Warn("direct path blocked, falling back to safe-height trajectory",
				"sample", i, "x", wp.X, "y", wp.Y, "z", wp.Z)
			return p.planSafeHeight(start, goal)
		}
		waypoints = append(waypoints, wp)
	}
	return waypoints
}

// IsPositionValid reports whether the pose lies inside the workspace
// box and outside every obstacle sphere.
func (p *Planner) IsPositionValid(pose hardware.CartesianPose) bool {
	ws := p.cfg.Workspace
	if !ws.X.Contains(pose.X) || !ws.Y.Contains(pose.Y) || !ws.Z.Contains(pose.Z) {
		return false
	}
	for _, obs := range p.cfg.Obstacles {
		d := math.Sqrt(sq(pose.X-obs.Center[0]) + sq(pose.Y-obs.Center[1]) + sq(pose.Z-obs.Center[2]))
		if d <= obs.Radius {
			return false
		}
	}
	return true
}

// Smooth nudges each interior waypoint toward the midpoint of its
// neighbors by factor (0-1). A smoothed point that fails validation
// reverts to its original. Endpoints are never altered; fewer than 3
// waypoints is a no-op.
func (p *Planner) Smooth(waypoints Trajectory, factor float64) Trajectory {
	if len(waypoints) < 3 {
		return waypoints
	}

	smoothed := make(Trajectory, 0, len(waypoints))
	smoothed = append(smoothed, waypoints[0])

	for i := 1; i < len(waypoints)-1; i++ {
		prev, curr, next := waypoints[i-1], waypoints[i], waypoints[i+1]

		wp := curr
		wp.X = curr.X + factor*((prev.X+next.X)/2-curr.X)
		wp.Y = curr.Y + factor*((prev.Y+next.Y)/2-curr.Y)
		wp.Z = curr.Z + factor*((prev.Z+next.Z)/2-curr.Z)

		if p.IsPositionValid(wp) {
			smoothed = append(smoothed, wp)
		} else {
			smoothed = append(smoothed, curr)
		}
	}

	smoothed = append(smoothed, waypoints[len(waypoints)-1])
	return smoothed
}

// EstimateTime returns the estimated execution time in seconds using
// a trapezoidal velocity profile per segment, degrading to triangular
// for segments too short to reach cruise velocity. Scheduling and
// logging only; no controller consumes this.
func (p *Planner) EstimateTime(waypoints Trajectory) float64 {
	if len(waypoints) < 2 {
		return 0
	}

	vMax := p.cfg.MaxVelocity
	aMax := p.cfg.MaxAcceleration
	accelTime := vMax / aMax
	accelDist := 0.5 * aMax * accelTime * accelTime

	total := 0.0
	for i := 1; i < len(waypoints); i++ {
		d := dist(waypoints[i-1], waypoints[i])
		if d <= 2*accelDist {
			// Too short to cruise: triangular profile
			total += 2 * math.Sqrt(d/aMax)
		} else {
			cruise := d - 2*accelDist
			total += 2*accelTime + cruise/vMax
		}
	}
	return total
}

// lerp linearly interpolates position and orientation between a and b.
func lerp(a, b hardware.CartesianPose, t float64) hardware.CartesianPose {
	return hardware.CartesianPose{
		X:  a.X + t*(b.X-a.X),
		Y:  a.Y + t*(b.Y-a.Y),
		Z:  a.Z + t*(b.Z-a.Z),
		RX: a.RX + t*(b.RX-a.RX),
		RY: a.RY + t*(b.RY-a.RY),
		RZ: a.RZ + t*(b.RZ-a.RZ),
	}
}

func dist(a, b hardware.CartesianPose) float64 {
	return math.Sqrt(sq(b.X-a.X) + sq(b.Y-a.Y) + sq(b.Z-a.Z))
}

func sq(v float64) float64 { return v * v }
