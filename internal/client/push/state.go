package push

import "fmt"

// State is the lifecycle state of the push connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives the state machine.
type Event int

const (
	// EventActivate is a user request to start syncing.
	EventActivate Event = iota
	// EventOpened means the connection is open and the private topic is subscribed.
	EventOpened
	// EventFailed covers dial errors, handshake rejections, read errors and missed heartbeats.
	EventFailed
	// EventRetry is the backoff timer firing.
	EventRetry
	// EventDeactivate is a user request to stop.
	EventDeactivate
)

func (e Event) String() string {
	switch e {
	case EventActivate:
		return "activate"
	case EventOpened:
		return "opened"
	case EventFailed:
		return "failed"
	case EventRetry:
		return "retry"
	case EventDeactivate:
		return "deactivate"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Action is the side effect the manager performs after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionDial
	ActionScheduleRetry
	ActionClose
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionDial:
		return "dial"
	case ActionScheduleRetry:
		return "schedule-retry"
	case ActionClose:
		return "close"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Transition is the whole connection lifecycle. Deactivate is the only way
// back to Disconnected; failures always lead to Reconnecting, which waits
// for exactly one retry. Pairs not listed leave the state unchanged.
func Transition(from State, ev Event) (State, Action) {
	if ev == EventDeactivate {
		if from == Disconnected {
			return Disconnected, ActionNone
		}
		return Disconnected, ActionClose
	}

	switch from {
	case Disconnected:
		if ev == EventActivate {
			return Connecting, ActionDial
		}
	case Connecting:
		switch ev {
		case EventOpened:
			return Connected, ActionNone
		case EventFailed:
			return Reconnecting, ActionScheduleRetry
		}
	case Connected:
		if ev == EventFailed {
			return Reconnecting, ActionScheduleRetry
		}
	case Reconnecting:
		if ev == EventRetry {
			return Connecting, ActionDial
		}
	}
	return from, ActionNone
}
