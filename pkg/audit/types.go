package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

// Audit event types emitted by the routing pipeline.
const (
	EventSignalReceived EventType = "signal.received"
	EventSignalRejected EventType = "signal.rejected"

	EventTaskCreated       EventType = "task.created"
	EventTaskStatusChanged EventType = "task.status_changed"
	EventTaskEscalated     EventType = "task.escalated"
	EventTaskAssigned      EventType = "task.assigned"

	EventSweepCompleted EventType = "sweep.completed"
	EventSweepRowFailed EventType = "sweep.row_failed"

	EventEscalationAttached  EventType = "escalation.attached"
	EventEscalationStepped   EventType = "escalation.stepped"
	EventEscalationCompleted EventType = "escalation.completed"
	EventEscalationCancelled EventType = "escalation.cancelled"

	EventFlagUpdated EventType = "flag.updated"

	EventRulesReloaded EventType = "rules.reloaded"
)

// Severity classifies how notable an audit event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityForEventType maps an event type to its default severity.
func SeverityForEventType(t EventType) Severity {
	switch t {
	case EventSignalRejected, EventSweepRowFailed:
		return SeverityWarning
	case EventTaskEscalated:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Actor identifies who or what caused an event. System-initiated events (the
// sweep, rule reloads) carry an empty User and a Component.
type Actor struct {
	User      string `json:"user,omitempty"`
	Component string `json:"component,omitempty"`
	SourceIP  string `json:"sourceIp,omitempty"`
}

// Event is one audit record.
type Event struct {
	ID             string                 `json:"id"`
	Type           EventType              `json:"type"`
	Severity       Severity               `json:"severity"`
	Timestamp      time.Time              `json:"timestamp"`
	OrganizationID string                 `json:"organizationId,omitempty"`
	TaskID         string                 `json:"taskId,omitempty"`
	RuleID         string                 `json:"ruleId,omitempty"`
	InstanceID     string                 `json:"instanceId,omitempty"`
	FlagCode       string                 `json:"flagCode,omitempty"`
	Actor          Actor                  `json:"actor"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// NewEvent creates an event with a fresh ID, the current timestamp and the
// default severity for its type.
func NewEvent(t EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  SeverityForEventType(t),
		Timestamp: time.Now().UTC(),
	}
}
