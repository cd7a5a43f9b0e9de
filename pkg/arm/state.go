package arm

import "fmt"

// State is the controller-level robot state. The controller is the
// only transition authority: hardware backends report raw
// connectivity and motion flags, and the controller interprets them
// through the transition table below.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnected     State = "connected"
	StateIdle          State = "idle"
	StateMoving        State = "moving"
	StateError         State = "error"
	StateEmergencyStop State = "emergency_stop"
)

// event is a state machine input.
type event string

const (
	eventConnect    event = "connect"
	eventDisconnect event = "disconnect"
	eventMoveStart  event = "move_start"
	eventMoveDone   event = "move_done"
	eventFault      event = "fault"
	eventEStop      event = "estop"
	eventReset      event = "reset"
)

// transitions is the exhaustive table of legal state changes. Absent
// entries are illegal; attempting one returns an error instead of
// mutating state. Emergency stop is reachable from every state and
// leaves only via eventReset, which makes "no motion command while
// emergency_stop" structural rather than a scattered guard.
var transitions = map[State]map[event]State{
	StateDisconnected: {
		eventConnect: StateConnected,
		eventEStop:   StateEmergencyStop,
	},
	StateConnected: {
		eventMoveStart:  StateMoving,
		eventDisconnect: StateDisconnected,
		eventFault:      StateError,
		eventEStop:      StateEmergencyStop,
	},
	StateIdle: {
		eventMoveStart:  StateMoving,
		eventDisconnect: StateDisconnected,
		eventFault:      StateError,
		eventEStop:      StateEmergencyStop,
	},
	StateMoving: {
		eventMoveDone:   StateIdle,
		eventFault:      StateError,
		eventDisconnect: StateDisconnected,
		eventEStop:      StateEmergencyStop,
	},
	StateError: {
		eventConnect:    StateConnected,
		eventDisconnect: StateDisconnected,
		eventEStop:      StateEmergencyStop,
	},
	StateEmergencyStop: {
		eventReset:      StateConnected,
		eventDisconnect: StateDisconnected,
	},
}

// transition applies ev to the current state. Caller must hold c.mu.
func (c *Controller) transition(ev event) error {
	next, ok := transitions[c.state][ev]
	if !ok {
		return fmt.Errorf("illegal transition: %s on %s", ev, c.state)
	}
	c.state = next
	return nil
}
