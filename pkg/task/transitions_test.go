package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionCoversEveryEdge(t *testing.T) {
	all := []Status{
		StatusPending, StatusInProgress, StatusOnHold,
		StatusEscalated, StatusCompleted, StatusFailed, StatusCancelled,
	}

	allowed := map[Status]map[Status]bool{
		StatusPending:    {StatusInProgress: true, StatusCancelled: true},
		StatusInProgress: {StatusOnHold: true, StatusCompleted: true, StatusFailed: true, StatusEscalated: true},
		StatusOnHold:     {StatusInProgress: true, StatusCancelled: true},
		StatusEscalated:  {StatusInProgress: true, StatusCompleted: true, StatusFailed: true},
		StatusCompleted:  {},
		StatusFailed:     {},
		StatusCancelled:  {},
	}

	for _, from := range all {
		for _, to := range all {
			want := from == to || allowed[from][to]
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusEscalated.Terminal())

	for _, s := range UnresolvedStatuses {
		assert.True(t, s.Unresolved())
		assert.False(t, s.Terminal())
		assert.True(t, s.Valid())
	}

	assert.False(t, Status("UNKNOWN").Valid())
}
