// Package arm provides the safety-gated arm controller: a state
// machine that drives a hardware backend through validated moves and
// the pick-and-place protocol.
//
// Every hardware failure is caught at this boundary, logged, and
// converted to an error return; nothing panics across the controller
// surface. Commands are serialized: no two hardware motion commands
// are ever in flight at once.
package arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cobotics/go-cobot/internal/config"
	"github.com/cobotics/go-cobot/internal/log"
	"github.com/cobotics/go-cobot/pkg/calibration"
	"github.com/cobotics/go-cobot/pkg/hardware"
	"github.com/cobotics/go-cobot/pkg/motion"
)

var (
	// ErrOutOfWorkspace is returned when a target lies outside the
	// configured workspace box. No hardware call is issued.
	ErrOutOfWorkspace = errors.New("arm: target outside workspace")

	// ErrEmergencyStop is returned for any command issued while the
	// emergency stop is active.
	ErrEmergencyStop = errors.New("arm: emergency stop active")

	// ErrNotCalibrated is returned by ImageToRobotCoords before a
	// hand-eye calibration exists. Coordinate conversion at the
	// controller fails closed, unlike the calibrator's default
	// fallback.
	ErrNotCalibrated = errors.New("arm: hand-eye calibration not available")
)

// suctionSettleTime is the dwell after descending to pick height,
// letting the vacuum seal before lifting.
const suctionSettleTime = time.Second

// Controller orchestrates the arm through its hardware backend.
type Controller struct {
	hw      hardware.Arm
	planner *motion.Planner
	calib   *calibration.Calibrator
	cfg     config.Motion

	maxSpeed float64

	mu    sync.Mutex // guards state
	state State

	// cmdMu serializes hardware motion commands. Held across each
	// blocking hardware call, so callers queue rather than interleave.
	cmdMu sync.Mutex
}

// New creates a controller in the disconnected state.
func New(hw hardware.Arm, planner *motion.Planner, calib *calibration.Calibrator, cfg config.Motion, maxSpeed float64) *Controller {
	return &Controller{
		hw:       hw,
		planner:  planner,
		calib:    calib,
		cfg:      cfg,
		maxSpeed: maxSpeed,
		state:    StateDisconnected,
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the hardware link.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEmergencyStop {
		return ErrEmergencyStop
	}
	if err := c.hw.Connect(ctx); err != nil {
		c.state = StateError
		return fmt.Errorf("connect hardware: %w", err)
	}
	if err := c.transition(eventConnect); err != nil {
		return err
	}
	log.Info("arm controller connected", "dof", c.hw.Capabilities().DegreesOfFreedom)
	return nil
}

// Shutdown stops motion, parks the arm, and disconnects. The
// controller ends in the disconnected state regardless of partial
// failures along the way.
func (c *Controller) Shutdown(ctx context.Context) error {
	if err := c.hw.Stop(); err != nil {
		log.Warn("stop during shutdown failed", "error", err)
	}
	if c.State() != StateEmergencyStop {
		if err := c.hw.Home(ctx); err != nil {
			log.Warn("could not park arm during shutdown", "error", err)
		}
		if err := c.hw.ReleaseServos(); err != nil {
			log.Warn("could not release servos during shutdown", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.hw.Disconnect()
	c.state = StateDisconnected
	if err != nil {
		return fmt.Errorf("disconnect hardware: %w", err)
	}
	log.Info("arm controller shut down")
	return nil
}

// EmergencyStop halts hardware motion immediately and latches the
// emergency state. Suction is deactivated before the condition is
// reported upward so a gripped object is never left hanging on a
// disabled arm. Sticky until ResetEmergencyStop.
func (c *Controller) EmergencyStop() error {
	c.mu.Lock()
	// estop is legal from every state, so the table result is ignored
	_ = c.transition(eventEStop)
	c.mu.Unlock()

	if err := hardware.SuctionOff(context.Background(), c.hw); err != nil &&
		!errors.Is(err, hardware.ErrNotSupported) {
		log.Error("suction release during emergency stop failed", "error", err)
	}

	log.Warn("EMERGENCY STOP ACTIVATED")
	if err := c.hw.EmergencyStop(); err != nil {
		return fmt.Errorf("hardware emergency stop: %w", err)
	}
	return nil
}

// ResetEmergencyStop clears the latched emergency state and
// re-establishes the hardware connection.
func (c *Controller) ResetEmergencyStop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEmergencyStop {
		return nil
	}
	if err := c.hw.Connect(ctx); err != nil {
		return fmt.Errorf("reconnect after emergency stop: %w", err)
	}
	if err := c.transition(eventReset); err != nil {
		return err
	}
	log.Info("emergency stop reset")
	return nil
}

// checkReady rejects commands while stopped or disconnected. Called
// before every hardware motion command, not merely polled.
func (c *Controller) checkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateEmergencyStop:
		return ErrEmergencyStop
	case StateDisconnected:
		return hardware.ErrNotConnected
	}
	return nil
}

// inWorkspace reports whether (x, y, z) is inside the configured
// workspace box.
func (c *Controller) inWorkspace(x, y, z float64) bool {
	ws := c.cfg.Workspace
	return ws.X.Contains(x) && ws.Y.Contains(y) && ws.Z.Contains(z)
}

// MoveTo moves the end effector to (x, y, z). Targets outside the
// workspace are rejected before any hardware call. With safeApproach
// the arm first moves to (x, y, safeHeight), then descends: two
// blocking hardware calls that must both succeed.
func (c *Controller) MoveTo(ctx context.Context, x, y, z, speed float64, safeApproach bool) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	if !c.inWorkspace(x, y, z) {
		log.Error("move rejected: outside workspace", "x", x, "y", y, "z", z)
		return ErrOutOfWorkspace
	}
	if speed == 0 {
		speed = c.maxSpeed
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	target := hardware.CartesianPose{X: x, Y: y, Z: z, Speed: speed}

	if safeApproach {
		above := target
		above.Z = c.cfg.SafeHeight
		if err := c.moveCartesian(ctx, above); err != nil {
			return err
		}
	}
	return c.moveCartesian(ctx, target)
}

// moveCartesian issues one blocking cartesian move with state
// bookkeeping. Caller must hold cmdMu.
func (c *Controller) moveCartesian(ctx context.Context, pose hardware.CartesianPose) error {
	if err := c.checkReady(); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.transition(eventMoveStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	err := c.hw.MoveCartesian(ctx, pose, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if errors.Is(err, hardware.ErrMovementTimeout) {
			// Bounded wait exceeded: motion abandoned, arm assumed settled.
			log.Warn("movement timed out", "x", pose.X, "y", pose.Y, "z", pose.Z)
			_ = c.transition(eventMoveDone)
			return err
		}
		if c.state == StateMoving {
			_ = c.transition(eventFault)
		}
		log.Error("cartesian move failed", "error", err, "x", pose.X, "y", pose.Y, "z", pose.Z)
		return fmt.Errorf("move cartesian: %w", err)
	}
	if c.state == StateMoving {
		_ = c.transition(eventMoveDone)
	}
	return nil
}

// MoveDirect plans a direct (or fallback safe-height) trajectory from
// the current position to goal and executes every waypoint. Goals
// outside the workspace are rejected before planning; the safe-height
// fallback would otherwise route straight to an unreachable point.
func (c *Controller) MoveDirect(ctx context.Context, goal hardware.CartesianPose) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	if !c.inWorkspace(goal.X, goal.Y, goal.Z) {
		log.Error("move rejected: outside workspace", "x", goal.X, "y", goal.Y, "z", goal.Z)
		return ErrOutOfWorkspace
	}
	start, err := c.CurrentPosition(ctx)
	if err != nil {
		return err
	}

	traj := c.planner.Plan(start, goal, false)
	log.Debug("direct move planned",
		"waypoints", len(traj), "est_seconds", c.planner.EstimateTime(traj))

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	for _, wp := range traj {
		if err := c.moveCartesian(ctx, wp); err != nil {
			return err
		}
	}
	return nil
}

// MoveHome sends the arm to its home posture.
func (c *Controller) MoveHome(ctx context.Context) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.hw.Home(ctx); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	return nil
}

// PickAndPlace runs the fixed pick-and-place protocol:
//
//	 1. move above pick at safe height
//	 2. suction on
//	 3. descend to pick height
//	 4. dwell for the vacuum seal
//	 5. rise to safe height
//	 6. move above place at safe height
//	 7. descend to place height
//	 8. suction off, rise to safe height
//
// Any failure before the deliberate suction-off triggers an
// unconditional suction-off before the error propagates. That is the
// controller's critical invariant: a failed sequence must never leave
// an object gripped.
func (c *Controller) PickAndPlace(ctx context.Context, pickX, pickY, placeX, placeY, pickHeight, placeHeight float64) (err error) {
	log.Info("pick and place starting",
		"pick_x", pickX, "pick_y", pickY, "place_x", placeX, "place_y", placeY)

	releaseOnFailure := func(e error) error {
		if offErr := hardware.SuctionOff(ctx, c.hw); offErr != nil &&
			!errors.Is(offErr, hardware.ErrNotSupported) {
			log.Error("suction release after failure also failed", "error", offErr)
		}
		return e
	}

	// 1. Above pick position at safe height
	if err := c.MoveTo(ctx, pickX, pickY, c.cfg.SafeHeight, 0, false); err != nil {
		return releaseOnFailure(err)
	}

	// 2. Grip
	if err := hardware.SuctionOn(ctx, c.hw); err != nil {
		log.Error("failed to activate suction", "error", err)
		return releaseOnFailure(fmt.Errorf("suction on: %w", err))
	}

	// 3. Descend to pick height
	if err := c.MoveTo(ctx, pickX, pickY, pickHeight, 0, false); err != nil {
		return releaseOnFailure(err)
	}

	// 4. Let the vacuum seal
	select {
	case <-time.After(suctionSettleTime):
	case <-ctx.Done():
		return releaseOnFailure(ctx.Err())
	}

	// 5. Lift object to safe height
	if err := c.MoveTo(ctx, pickX, pickY, c.cfg.SafeHeight, 0, false); err != nil {
		return releaseOnFailure(err)
	}

	// 6. Above place position at safe height
	if err := c.MoveTo(ctx, placeX, placeY, c.cfg.SafeHeight, 0, false); err != nil {
		return releaseOnFailure(err)
	}

	// 7. Descend to place height
	if err := c.MoveTo(ctx, placeX, placeY, placeHeight, 0, false); err != nil {
		return releaseOnFailure(err)
	}

	// 8. Release and rise
	if err := hardware.SuctionOff(ctx, c.hw); err != nil &&
		!errors.Is(err, hardware.ErrNotSupported) {
		log.Warn("failed to deactivate suction", "error", err)
	}
	if err := c.MoveTo(ctx, placeX, placeY, c.cfg.SafeHeight, 0, false); err != nil {
		// Object is already released; report but nothing to roll back.
		return err
	}

	log.Info("pick and place completed")
	return nil
}

// CalibrateHandEye delegates hand-eye calibration to the calibrator.
func (c *Controller) CalibrateHandEye(pixelPts []calibration.Pixel, worldPts []calibration.World) error {
	if err := c.calib.Calibrate(pixelPts, worldPts); err != nil {
		return err
	}
	log.Info("hand-eye calibration completed", "points", len(pixelPts))
	return nil
}

// ImageToRobotCoords converts pixel coordinates to robot coordinates.
// Fails closed when no calibration exists: commanding the arm from an
// unverified default transform is not acceptable at this layer.
func (c *Controller) ImageToRobotCoords(px, py float64) (calibration.World, error) {
	if !c.calib.IsCalibrated() {
		return calibration.World{}, ErrNotCalibrated
	}
	return c.calib.ImageToRobot(px, py), nil
}

// CurrentPosition returns the arm's current end-effector pose.
func (c *Controller) CurrentPosition(ctx context.Context) (hardware.CartesianPose, error) {
	pose, err := c.hw.CartesianPosition(ctx)
	if err != nil {
		return hardware.CartesianPose{}, fmt.Errorf("current position: %w", err)
	}
	return pose, nil
}

// Capabilities returns the hardware capability descriptor.
func (c *Controller) Capabilities() hardware.Capabilities {
	return c.hw.Capabilities()
}
