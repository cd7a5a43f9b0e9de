// Package hardware defines the arm hardware contract consumed by the
// controller, plus the simulated and serial-attached implementations.
//
// Vendors differ wildly in their native APIs; everything above this
// package depends only on the Arm interface and never sees a device
// handle.
package hardware

import (
	"context"
	"errors"
)

// State is the raw operational state reported by an arm backend.
// Interpretation and transition authority live in pkg/arm; backends
// only report connectivity and motion.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnected     State = "connected"
	StateIdle          State = "idle"
	StateMoving        State = "moving"
	StateError         State = "error"
	StateEmergencyStop State = "emergency_stop"
)

var (
	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("hardware: not connected")

	// ErrNotSupported is returned by optional end-effector operations
	// the backend does not implement.
	ErrNotSupported = errors.New("hardware: operation not supported")

	// ErrMovementTimeout is returned when a blocking move exceeds the
	// backend's bounded wait. The arm is assumed settled afterwards.
	ErrMovementTimeout = errors.New("hardware: movement timed out")
)

// CartesianPose is an end-effector pose in the arm's base frame.
// Position in millimetres, orientation in degrees.
type CartesianPose struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`

	// Speed is the requested movement speed (0-100). Zero means the
	// backend's configured default.
	Speed float64 `json:"speed,omitempty"`
}

// Joint is a single joint target or reading. Angle in degrees,
// constrained to [-180, 180] and further by the joint limits in
// Capabilities.
type Joint struct {
	ID    int     `json:"id"` // 1-based
	Angle float64 `json:"angle"`
	Speed float64 `json:"speed,omitempty"` // 0-100, 0 = default
}

// JointLimit is the (min, max) angle range for one joint in degrees.
type JointLimit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AxisLimit is the (min, max) coordinate range for one cartesian axis.
type AxisLimit struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Capabilities describes what a connected arm can do.
type Capabilities struct {
	DegreesOfFreedom int                  `json:"degrees_of_freedom"`
	MaxPayload       float64              `json:"max_payload"` // kg
	Reach            float64              `json:"reach"`       // mm
	JointLimits      []JointLimit         `json:"joint_limits"`
	CoordinateLimits map[string]AxisLimit `json:"coordinate_limits"` // "x","y","z"
	HasGripper       bool                 `json:"has_gripper"`
	HasSuction       bool                 `json:"has_suction"`
}

// DefaultCapabilities describes the stock 6-DOF desktop arm with a
// suction head, used when a backend has no capability discovery.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		DegreesOfFreedom: 6,
		MaxPayload:       0.25,
		Reach:            280,
		JointLimits: []JointLimit{
			{-165, 165}, {-165, 165}, {-165, 165},
			{-165, 165}, {-165, 165}, {-175, 175},
		},
		CoordinateLimits: map[string]AxisLimit{
			"x": {-280, 280}, "y": {-280, 280}, "z": {0, 400},
		},
		HasSuction: true,
	}
}

// Arm is the capability interface for a 6-DOF robotic arm.
//
// Blocking operations take a context for cancellation. All commands
// return an error rather than a status flag; callers treat any error
// as command failure.
type Arm interface {
	// Connect establishes the hardware link.
	Connect(ctx context.Context) error

	// Disconnect releases the hardware link. Safe to call twice.
	Disconnect() error

	// Capabilities returns the static hardware descriptor.
	Capabilities() Capabilities

	// JointPositions returns the current joint angles.
	JointPositions(ctx context.Context) ([]Joint, error)

	// CartesianPosition returns the current end-effector pose.
	CartesianPosition(ctx context.Context) (CartesianPose, error)

	// MoveJoints commands the given joint targets. When wait is true
	// the call blocks until motion settles or times out.
	MoveJoints(ctx context.Context, joints []Joint, wait bool) error

	// MoveCartesian commands the given end-effector pose. When wait is
	// true the call blocks until motion settles or times out.
	MoveCartesian(ctx context.Context, pose CartesianPose, wait bool) error

	// Home moves the arm to its home posture.
	Home(ctx context.Context) error

	// Stop halts current motion without dropping the connection.
	Stop() error

	// EmergencyStop halts motion and disables the arm until reconnect.
	EmergencyStop() error

	// ReleaseServos de-energizes the servos for manual manipulation.
	ReleaseServos() error

	// IsMoving reports whether the arm is currently in motion.
	IsMoving(ctx context.Context) (bool, error)

	// State returns the backend's raw state.
	State() State
}

// SuctionGripper is the optional vacuum end-effector surface.
// Backends without suction return ErrNotSupported.
type SuctionGripper interface {
	SuctionOn(ctx context.Context) error
	SuctionOff(ctx context.Context) error
}

// MoveRelative offsets the current end-effector position by
// (dx, dy, dz), keeping orientation. Composed from a position read and
// an absolute move, so it is not atomic against concurrent commands;
// callers serialize.
func MoveRelative(ctx context.Context, arm Arm, dx, dy, dz float64, wait bool) error {
	pose, err := arm.CartesianPosition(ctx)
	if err != nil {
		return err
	}
	pose.X += dx
	pose.Y += dy
	pose.Z += dz
	return arm.MoveCartesian(ctx, pose, wait)
}

// SuctionOn activates suction if arm supports it; ErrNotSupported
// otherwise.
func SuctionOn(ctx context.Context, arm Arm) error {
	if g, ok := arm.(SuctionGripper); ok {
		return g.SuctionOn(ctx)
	}
	return ErrNotSupported
}

// SuctionOff deactivates suction if arm supports it; ErrNotSupported
// otherwise.
func SuctionOff(ctx context.Context, arm Arm) error {
	if g, ok := arm.(SuctionGripper); ok {
		return g.SuctionOff(ctx)
	}
	return ErrNotSupported
}
