package assetforge

// NodeState tracks one graph node through a build pass.
type NodeState int

const (
	// StateNotBuilt is the state of a node before a pass registers it.
	StateNotBuilt NodeState = iota

	// StatePending means the node waits for its dependencies.
	StatePending

	// StateBuilding means the node's compiler (or cache check) is running.
	// A node enters Building only once every direct dependency is Built.
	StateBuilding

	// StateBuilt is terminal success, either compiled or reused from the
	// index.
	StateBuilt

	// StateFailed is terminal failure of this node's own compilation.
	StateFailed

	// StateBlocked is terminal: a transitive dependency failed, so the
	// node was never compiled against stale data.
	StateBlocked
)

func (s NodeState) String() string {
	switch s {
	case StateNotBuilt:
		return "not_built"
	case StatePending:
		return "pending"
	case StateBuilding:
		return "building"
	case StateBuilt:
		return "built"
	case StateFailed:
		return "failed"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Terminal reports whether the node is finished for this pass.
func (s NodeState) Terminal() bool {
	switch s {
	case StateBuilt, StateFailed, StateBlocked:
		return true
	default:
		return false
	}
}

// allowedTransition validates one state-machine edge. The scheduler treats
// a disallowed transition as a scheduling bug, not a recoverable condition.
func allowedTransition(from, to NodeState) bool {
	switch from {
	case StateNotBuilt:
		return to == StatePending
	case StatePending:
		return to == StateBuilding || to == StateBlocked
	case StateBuilding:
		return to == StateBuilt || to == StateFailed
	default:
		return false
	}
}
