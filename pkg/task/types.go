package task

import (
	"context"
	"time"
)

// Status is the lifecycle state of a Task. Transitions between statuses are
// restricted to the edges in transitionTable.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusOnHold     Status = "ON_HOLD"
	StatusEscalated  Status = "ESCALATED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Unresolved reports whether a Task in this status still needs attention and
// therefore participates in deadline sweeps and policy stepping.
func (s Status) Unresolved() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusOnHold, StatusEscalated:
		return true
	}
	return false
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s.Terminal() || s.Unresolved()
}

// UnresolvedStatuses lists every status in which a Task counts as unresolved,
// in a fixed order suitable for store queries.
var UnresolvedStatuses = []Status{StatusPending, StatusInProgress, StatusOnHold, StatusEscalated}

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

type Visibility string

const (
	VisibilityPrivate  Visibility = "PRIVATE"
	VisibilityInternal Visibility = "INTERNAL"
	VisibilityPublic   Visibility = "PUBLIC"
)

// Task is the central routed-work entity. Identity is (OrganizationID, ID).
// Tasks are never deleted; terminal statuses are retained for audit.
type Task struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`

	// Classification
	Type     string `json:"type,omitempty"`
	Category string `json:"category,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	Label    string `json:"label,omitempty"`

	// Content
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status     Status     `json:"status"`
	Priority   Priority   `json:"priority"`
	Severity   Severity   `json:"severity"`
	Visibility Visibility `json:"visibility"`
	Source     string     `json:"source,omitempty"`

	// Ownership
	OwnerRoleID       string `json:"ownerRoleId,omitempty"`
	OwnerUserID       string `json:"ownerUserId,omitempty"`
	AssigneeRole      string `json:"assigneeRole,omitempty"`
	CreatedByUserID   string `json:"createdByUserId,omitempty"`
	RequesterPersonID string `json:"requesterPersonId,omitempty"`

	// Timing
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	DueAt                *time.Time `json:"dueAt,omitempty"`
	ReactivityDeadlineAt *time.Time `json:"reactivityDeadlineAt,omitempty"`
	ClosedAt             *time.Time `json:"closedAt,omitempty"`

	// EscalationLevel only ever increases.
	EscalationLevel int `json:"escalationLevel"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hand snapshots to sinks without
// racing lifecycle mutations.
func (t *Task) Clone() *Task {
	cp := *t
	if t.DueAt != nil {
		due := *t.DueAt
		cp.DueAt = &due
	}
	if t.ReactivityDeadlineAt != nil {
		d := *t.ReactivityDeadlineAt
		cp.ReactivityDeadlineAt = &d
	}
	if t.ClosedAt != nil {
		c := *t.ClosedAt
		cp.ClosedAt = &c
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Store is the persistence contract the lifecycle manager needs. Missing
// Tasks are reported as ErrNotFound.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, organizationID, taskID string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, organizationID string) ([]*Task, error)
	// ListOverdueTasks returns unresolved Tasks with a reactivity deadline at
	// or before now, bounded by limit. An empty organizationID means all orgs.
	ListOverdueTasks(ctx context.Context, organizationID string, now time.Time, limit int) ([]*Task, error)
}

// ProfileDefaults are the organization-level fallback values consumed when a
// caller does not supply explicit ones.
type ProfileDefaults struct {
	Priority          Priority
	Severity          Severity
	Visibility        Visibility
	ReactivitySeconds int
}

// ProfileProvider resolves per-organization defaults. Implementations must
// fail soft: when the profile source is unavailable they return a hard-coded
// default profile instead of an error.
type ProfileProvider interface {
	GetDefaults(organizationID string) ProfileDefaults
}
