package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/cobotics/go-cobot/internal/log"
)

// Sim is an in-memory arm used for development and headless testing.
// It books positions instead of computing kinematics and settles each
// move after a short latency proportional to nothing in particular.
type Sim struct {
	mu       sync.Mutex
	state    State
	pose     CartesianPose
	joints   []Joint
	suction  bool
	moving   bool
	caps     Capabilities
	latency  time.Duration
	failNext map[string]error // operation name -> injected error
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithMoveLatency sets the simulated settle time per move.
func WithMoveLatency(d time.Duration) SimOption {
	return func(s *Sim) { s.latency = d }
}

// NewSim creates a simulated 6-DOF arm with suction.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		state:    StateDisconnected,
		latency:  10 * time.Millisecond,
		pose:     CartesianPose{X: 0, Y: -150, Z: 200},
		joints:   make([]Joint, 6),
		caps:     DefaultCapabilities(),
		failNext: make(map[string]error),
	}
	for i := range s.joints {
		s.joints[i] = Joint{ID: i + 1}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext injects an error for the next call of the named operation
// ("connect", "move_cartesian", "move_joints", "suction_on",
// "suction_off", "home"). Used by tests to exercise failure paths.
func (s *Sim) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

func (s *Sim) takeInjected(op string) error {
	if err, ok := s.failNext[op]; ok {
		delete(s.failNext, op)
		return err
	}
	return nil
}

// Connect implements Arm.
func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeInjected("connect"); err != nil {
		return err
	}
	s.state = StateConnected
	log.Debug("sim arm connected")
	return nil
}

// Disconnect implements Arm.
func (s *Sim) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	return nil
}

// Capabilities implements Arm.
func (s *Sim) Capabilities() Capabilities {
	return s.caps
}

// JointPositions implements Arm.
func (s *Sim) JointPositions(ctx context.Context) ([]Joint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil, ErrNotConnected
	}
	out := make([]Joint, len(s.joints))
	copy(out, s.joints)
	return out, nil
}

// CartesianPosition implements Arm.
func (s *Sim) CartesianPosition(ctx context.Context) (CartesianPose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return CartesianPose{}, ErrNotConnected
	}
	return s.pose, nil
}

// MoveJoints implements Arm.
func (s *Sim) MoveJoints(ctx context.Context, joints []Joint, wait bool) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if err := s.takeInjected("move_joints"); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, j := range joints {
		if j.ID >= 1 && j.ID <= len(s.joints) {
			s.joints[j.ID-1].Angle = j.Angle
		}
	}
	s.moving = true
	s.mu.Unlock()

	return s.settle(ctx, wait)
}

// MoveCartesian implements Arm.
func (s *Sim) MoveCartesian(ctx context.Context, pose CartesianPose, wait bool) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if err := s.takeInjected("move_cartesian"); err != nil {
		s.mu.Unlock()
		return err
	}
	s.pose = pose
	s.moving = true
	s.mu.Unlock()

	return s.settle(ctx, wait)
}

// settle waits out the simulated motion latency, honoring cancellation.
func (s *Sim) settle(ctx context.Context, wait bool) error {
	clear := func() {
		s.mu.Lock()
		s.moving = false
		s.mu.Unlock()
	}
	if !wait {
		time.AfterFunc(s.latency, clear)
		return nil
	}
	select {
	case <-time.After(s.latency):
		clear()
		return nil
	case <-ctx.Done():
		clear()
		return ctx.Err()
	}
}

// Home implements Arm.
func (s *Sim) Home(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if err := s.takeInjected("home"); err != nil {
		s.mu.Unlock()
		return err
	}
	for i := range s.joints {
		s.joints[i].Angle = 0
	}
	s.pose = CartesianPose{X: 0, Y: -150, Z: 200}
	s.mu.Unlock()
	return s.settle(ctx, true)
}

// Stop implements Arm.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moving = false
	return nil
}

// EmergencyStop implements Arm.
func (s *Sim) EmergencyStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moving = false
	s.suction = false
	s.state = StateEmergencyStop
	return nil
}

// ReleaseServos implements Arm.
func (s *Sim) ReleaseServos() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrNotConnected
	}
	return nil
}

// IsMoving implements Arm.
func (s *Sim) IsMoving(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return false, ErrNotConnected
	}
	return s.moving, nil
}

// State implements Arm.
func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SuctionOn implements SuctionGripper.
func (s *Sim) SuctionOn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrNotConnected
	}
	if err := s.takeInjected("suction_on"); err != nil {
		return err
	}
	s.suction = true
	return nil
}

// SuctionOff implements SuctionGripper.
func (s *Sim) SuctionOff(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrNotConnected
	}
	if err := s.takeInjected("suction_off"); err != nil {
		return err
	}
	s.suction = false
	return nil
}

// SuctionActive reports the simulated vacuum state (for tests).
func (s *Sim) SuctionActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suction
}

var (
	_ Arm            = (*Sim)(nil)
	_ SuctionGripper = (*Sim)(nil)
)
