package task

// transitionTable holds the allowed status edges. Terminal statuses have no
// entry: nothing leaves them.
var transitionTable = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusOnHold, StatusCompleted, StatusFailed, StatusEscalated},
	StatusOnHold:     {StatusInProgress, StatusCancelled},
	StatusEscalated:  {StatusInProgress, StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// A same-status "transition" is allowed as a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitionTable[from] {
		if next == to {
			return true
		}
	}
	return false
}
