package escalation

import (
	"context"
	"errors"
	"time"
)

// ErrInstanceNotFound is returned when no escalation instance exists for the
// requested id.
var ErrInstanceNotFound = errors.New("escalation instance not found")

// InstanceStatus tracks an instance through its policy.
type InstanceStatus string

const (
	InstanceScheduled  InstanceStatus = "scheduled"
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceCancelled  InstanceStatus = "cancelled"
)

// Active reports whether the instance still participates in policy stepping.
func (s InstanceStatus) Active() bool {
	return s == InstanceScheduled || s == InstanceInProgress
}

// Instance tracks one Task's progress through one escalation policy. A Task
// has at most one active instance per policy.
type Instance struct {
	ID               string         `json:"id"`
	OrganizationID   string         `json:"organizationId"`
	TaskID           string         `json:"taskId"`
	PolicyID         string         `json:"policyId"`
	CurrentStepIndex int            `json:"currentStepIndex"`
	Status           InstanceStatus `json:"status"`
	NextFireAt       time.Time      `json:"nextFireAt"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Event records the outcome of one executed step action. Failures are
// recorded, not retried; the surrounding step continues.
type Event struct {
	ID             string         `json:"id"`
	InstanceID     string         `json:"instanceId"`
	OrganizationID string         `json:"organizationId"`
	TaskID         string         `json:"taskId"`
	PolicyID       string         `json:"policyId"`
	StepIndex      int            `json:"stepIndex"`
	Action         StepActionType `json:"action"`
	Success        bool           `json:"success"`
	Error          string         `json:"error,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
}

// InstanceStore is the persistence contract for escalation instances.
type InstanceStore interface {
	CreateInstance(ctx context.Context, in *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	UpdateInstance(ctx context.Context, in *Instance) error
	// ListDueInstances returns active instances with nextFireAt at or before
	// now, bounded by limit. An empty organizationID means all orgs.
	ListDueInstances(ctx context.Context, organizationID string, now time.Time, limit int) ([]*Instance, error)
	// ListTaskInstances returns all instances attached to one Task.
	ListTaskInstances(ctx context.Context, organizationID, taskID string) ([]*Instance, error)
}

// EventStore is the persistence contract for escalation events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev *Event) error
	ListInstanceEvents(ctx context.Context, instanceID string) ([]*Event, error)
}
