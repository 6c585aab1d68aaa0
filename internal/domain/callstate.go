package domain

import (
	"github.com/yungbote/dialbridge-backend/internal/types"
)

// transitions is the call lifecycle graph. Everything not listed here is
// rejected, which is what keeps state movement monotonic: the only way back
// is the explicit failed -> queued retry edge.
var transitions = map[string]map[string]bool{
	types.CallStateQueued: {
		types.CallStateDispatching: true,
		types.CallStateAborted:     true,
	},
	types.CallStateDispatching: {
		types.CallStateInProgress:        true,
		types.CallStateFailed:            true,
		types.CallStateFailedPermanently: true,
		types.CallStateAborted:           true,
		types.CallStateQueued:            true, // stale-dispatch reclaim only
	},
	types.CallStateInProgress: {
		types.CallStateSucceeded:         true,
		types.CallStateFailed:            true,
		types.CallStateFailedPermanently: true,
		types.CallStateAborted:           true,
	},
	types.CallStateFailed: {
		types.CallStateQueued:            true,
		types.CallStateFailedPermanently: true,
		types.CallStateAborted:           true,
	},
}

func CanTransition(from, to string) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether no further automatic transition may occur.
func IsTerminal(state string) bool {
	switch state {
	case types.CallStateSucceeded, types.CallStateFailedPermanently, types.CallStateAborted:
		return true
	}
	return false
}

// NonTerminalStates lists every state an abort has to sweep.
func NonTerminalStates() []string {
	return []string{
		types.CallStateQueued,
		types.CallStateDispatching,
		types.CallStateInProgress,
		types.CallStateFailed,
	}
}
