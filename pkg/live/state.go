package live

// State is the lifecycle of a room subscription.
//
//	Closed -> Connecting -> Open -> Closed
//	             |           |
//	             v           v
//	         Reconnecting <--+  -> Open
//	             |
//	             v
//	         Unavailable
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	// StateUnavailable is terminal: the retry budget is spent and live updates are off.
	StateUnavailable
)

// AllStates lists every state, for gauges and tests.
var AllStates = []State{StateClosed, StateConnecting, StateOpen, StateReconnecting, StateUnavailable}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	out := make([]string, len(AllStates))
	for i, s := range AllStates {
		out[i] = s.String()
	}
	return out
}
