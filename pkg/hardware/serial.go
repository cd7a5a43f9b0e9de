package hardware

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/cobotics/go-cobot/internal/log"
)

// SerialConfig configures a serial-attached arm.
type SerialConfig struct {
	Port     string
	BaudRate int

	// CommandTimeout bounds a single request/response exchange.
	CommandTimeout time.Duration

	// MoveTimeout bounds a blocking move. Exceeding it returns
	// ErrMovementTimeout with the arm assumed settled.
	MoveTimeout time.Duration

	// PollInterval is how often a blocking move re-checks motion.
	PollInterval time.Duration
}

// DefaultSerialConfig returns production defaults.
func DefaultSerialConfig(port string) SerialConfig {
	return SerialConfig{
		Port:           port,
		BaudRate:       115200,
		CommandTimeout: 2 * time.Second,
		MoveTimeout:    30 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// SerialArm drives an arm controller over a newline-delimited ASCII
// protocol on a serial port. One in-flight exchange at a time; the
// command mutex serializes callers.
//
// Protocol summary (responses are "OK", "ERR <msg>", or a data line):
//
//	MOVC <x> <y> <z> <rx> <ry> <rz> <speed>
//	MOVJ <a1> <a2> <a3> <a4> <a5> <a6> <speed>
//	GETC               -> C <x> <y> <z> <rx> <ry> <rz>
//	GETJ               -> J <a1> ... <a6>
//	MOVING             -> 1 | 0
//	HOME | STOP | ESTOP | RELEASE | SUCTION 1 | SUCTION 0
type SerialArm struct {
	cfg  SerialConfig
	caps Capabilities

	mu     sync.Mutex
	port   serial.Port
	reader *bufio.Reader
	state  State
}

// NewSerialArm creates a serial arm backend. The port is opened on
// Connect, not here.
func NewSerialArm(cfg SerialConfig, caps Capabilities) *SerialArm {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 2 * time.Second
	}
	if cfg.MoveTimeout == 0 {
		cfg.MoveTimeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &SerialArm{cfg: cfg, caps: caps, state: StateDisconnected}
}

// Connect implements Arm.
func (a *SerialArm) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port != nil {
		return nil
	}

	mode := &serial.Mode{BaudRate: a.cfg.BaudRate}
	port, err := serial.Open(a.cfg.Port, mode)
	if err != nil {
		a.state = StateError
		return fmt.Errorf("open %s: %w", a.cfg.Port, err)
	}
	if err := port.SetReadTimeout(a.cfg.CommandTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	a.port = port
	a.reader = bufio.NewReader(port)
	a.state = StateConnected
	log.Info("serial arm connected", "port", a.cfg.Port, "baud", a.cfg.BaudRate)
	return nil
}

// Disconnect implements Arm.
func (a *SerialArm) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	a.reader = nil
	a.state = StateDisconnected
	return err
}

// Capabilities implements Arm.
func (a *SerialArm) Capabilities() Capabilities {
	return a.caps
}

// exchange sends one command line and reads one response line.
// Caller must hold a.mu.
func (a *SerialArm) exchange(cmd string) (string, error) {
	if a.port == nil {
		return "", ErrNotConnected
	}
	if _, err := a.port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read response to %q: %w", cmd, err)
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ERR") {
		return "", fmt.Errorf("device error for %q: %s", cmd, strings.TrimSpace(strings.TrimPrefix(line, "ERR")))
	}
	return line, nil
}

// command runs an exchange expecting a bare "OK".
func (a *SerialArm) command(cmd string) error {
	resp, err := a.exchange(cmd)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("unexpected response to %q: %q", cmd, resp)
	}
	return nil
}

// JointPositions implements Arm.
func (a *SerialArm) JointPositions(ctx context.Context) ([]Joint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.exchange("GETJ")
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 7 || fields[0] != "J" {
		return nil, fmt.Errorf("malformed GETJ response: %q", resp)
	}
	joints := make([]Joint, 6)
	for i := 0; i < 6; i++ {
		angle, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse joint %d: %w", i+1, err)
		}
		joints[i] = Joint{ID: i + 1, Angle: angle}
	}
	return joints, nil
}

// CartesianPosition implements Arm.
func (a *SerialArm) CartesianPosition(ctx context.Context) (CartesianPose, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.exchange("GETC")
	if err != nil {
		return CartesianPose{}, err
	}
	fields := strings.Fields(resp)
	if len(fields) != 7 || fields[0] != "C" {
		return CartesianPose{}, fmt.Errorf("malformed GETC response: %q", resp)
	}
	var vals [6]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return CartesianPose{}, fmt.Errorf("parse coordinate %d: %w", i, err)
		}
		vals[i] = v
	}
	return CartesianPose{X: vals[0], Y: vals[1], Z: vals[2], RX: vals[3], RY: vals[4], RZ: vals[5]}, nil
}

// MoveJoints implements Arm.
func (a *SerialArm) MoveJoints(ctx context.Context, joints []Joint, wait bool) error {
	if len(joints) != 6 {
		return fmt.Errorf("need 6 joint targets, got %d", len(joints))
	}
	speed := joints[0].Speed

	a.mu.Lock()
	cmd := fmt.Sprintf("MOVJ %.2f %.2f %.2f %.2f %.2f %.2f %.0f",
		joints[0].Angle, joints[1].Angle, joints[2].Angle,
		joints[3].Angle, joints[4].Angle, joints[5].Angle, speed)
	err := a.command(cmd)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return a.waitSettled(ctx)
}

// MoveCartesian implements Arm.
func (a *SerialArm) MoveCartesian(ctx context.Context, pose CartesianPose, wait bool) error {
	a.mu.Lock()
	cmd := fmt.Sprintf("MOVC %.2f %.2f %.2f %.2f %.2f %.2f %.0f",
		pose.X, pose.Y, pose.Z, pose.RX, pose.RY, pose.RZ, pose.Speed)
	err := a.command(cmd)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if !wait {
		return nil
	}
	return a.waitSettled(ctx)
}

// waitSettled polls MOVING until the arm stops, the move times out, or
// ctx is cancelled. On timeout the arm is assumed settled and
// ErrMovementTimeout is returned for the caller to log.
func (a *SerialArm) waitSettled(ctx context.Context) error {
	deadline := time.Now().Add(a.cfg.MoveTimeout)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			moving, err := a.IsMoving(ctx)
			if err != nil {
				return err
			}
			if !moving {
				return nil
			}
			if time.Now().After(deadline) {
				log.Warn("movement exceeded bounded wait, assuming settled",
					"timeout", a.cfg.MoveTimeout)
				return ErrMovementTimeout
			}
		}
	}
}

// Home implements Arm.
func (a *SerialArm) Home(ctx context.Context) error {
	a.mu.Lock()
	err := a.command("HOME")
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.waitSettled(ctx)
}

// Stop implements Arm.
func (a *SerialArm) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command("STOP")
}

// EmergencyStop implements Arm.
func (a *SerialArm) EmergencyStop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.command("ESTOP")
	if err == nil {
		a.state = StateEmergencyStop
	}
	return err
}

// ReleaseServos implements Arm.
func (a *SerialArm) ReleaseServos() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command("RELEASE")
}

// IsMoving implements Arm.
func (a *SerialArm) IsMoving(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.exchange("MOVING")
	if err != nil {
		return false, err
	}
	return resp == "1", nil
}

// State implements Arm.
func (a *SerialArm) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SuctionOn implements SuctionGripper.
func (a *SerialArm) SuctionOn(ctx context.Context) error {
	if !a.caps.HasSuction {
		return ErrNotSupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command("SUCTION 1")
}

// SuctionOff implements SuctionGripper.
func (a *SerialArm) SuctionOff(ctx context.Context) error {
	if !a.caps.HasSuction {
		return ErrNotSupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.command("SUCTION 0")
}

var (
	_ Arm            = (*SerialArm)(nil)
	_ SuctionGripper = (*SerialArm)(nil)
)
