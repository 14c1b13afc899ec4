package episode

// State is the lifecycle of a runner's current episode
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateCompleted
	StateCollided
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCollided:
		return "collided"
	default:
		return "unknown"
	}
}

// Terminal reports whether the episode has finished
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCollided
}
