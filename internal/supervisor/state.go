// Package supervisor manages the lifecycle of the backend service process.
package supervisor

// State represents the current state of the supervised backend.
type State int

const (
	// StateIdle is the initial state before the first launch.
	StateIdle State = iota

	// StateLaunching indicates the process has been spawned and no readiness
	// marker has been seen yet.
	StateLaunching

	// StateAwaitingReadinessSignal indicates a marker was seen and the settle
	// delay is running.
	StateAwaitingReadinessSignal

	// StatePollingHealth indicates the health endpoint is being probed.
	StatePollingHealth

	// StateReady indicates the backend answered a health probe.
	StateReady

	// StateFailed indicates startup failed or the backend crashed.
	StateFailed

	// StateStopping indicates a graceful termination is in progress.
	StateStopping

	// StateStopped indicates the process exit was observed after a stop.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLaunching:
		return "launching"
	case StateAwaitingReadinessSignal:
		return "awaiting_readiness_signal"
	case StatePollingHealth:
		return "polling_health"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsStarting returns true while startup has not been settled.
func (s State) IsStarting() bool {
	return s == StateLaunching || s == StateAwaitingReadinessSignal || s == StatePollingHealth
}

// CanLaunch returns true if Start may be called from this state.
func (s State) CanLaunch() bool {
	return s == StateIdle || s == StateStopped
}

// transitions lists every legal edge of the state machine.
var transitions = map[State][]State{
	StateIdle:                    {StateLaunching},
	StateStopped:                 {StateLaunching},
	StateLaunching:               {StateAwaitingReadinessSignal, StatePollingHealth, StateFailed},
	StateAwaitingReadinessSignal: {StatePollingHealth, StateFailed},
	StatePollingHealth:           {StateReady, StateFailed},
	StateReady:                   {StateStopping, StateFailed},
	StateFailed:                  {StateStopping, StateStopped},
	StateStopping:                {StateStopped},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
