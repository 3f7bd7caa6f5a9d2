package coordinator

// State represents the coordinator lifecycle state
type State int

const (
	// StateStarting - constructed, metadata not yet loaded
	StateStarting State = iota
	// StateRunning - file operations are accepted
	StateRunning
	// StateMaintenance - file operations are rejected until ExitMaintenance
	StateMaintenance
	// StateShutdown - terminal, every operation is rejected
	StateShutdown
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateMaintenance:
		return "MAINTENANCE"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}
