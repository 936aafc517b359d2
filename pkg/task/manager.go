package task

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/metrics"
	"github.com/orgsignal/taskrouter/pkg/system"
)

// CreateRequest carries everything a caller may supply when creating a Task.
// Zero-valued enum fields default from the organization profile.
type CreateRequest struct {
	OrganizationID string

	Type     string
	Category string
	Subtype  string
	Label    string

	Title       string
	Description string

	Priority   Priority
	Severity   Severity
	Visibility Visibility
	Source     string

	OwnerRoleID       string
	OwnerUserID       string
	AssigneeRole      string
	CreatedByUserID   string
	RequesterPersonID string

	DueAt    *time.Time
	SLA      SLAInputs
	Metadata map[string]string

	// Overrides is the CREATE_TASK field-override map resolved by the rule
	// engine. Override values win over both request fields and profile
	// defaults.
	Overrides map[string]string
}

// Manager owns Task lifecycle transitions and SLA computation. Mutations of
// one Task are serialized through a per-task lock; different Tasks proceed
// independently.
type Manager struct {
	store    Store
	profiles ProfileProvider
	log      *zap.SugaredLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Task lifecycle manager. A nil logger falls back to the
// global one.
func NewManager(store Store, profiles ProfileProvider, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.S()
	}
	return &Manager{
		store:    store,
		profiles: profiles,
		log:      log,
		locks:    map[string]*sync.Mutex{},
	}
}

// lockFor returns the mutex serializing mutations of one Task identity.
func (m *Manager) lockFor(organizationID, taskID string) *sync.Mutex {
	key := organizationID + "/" + taskID
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Create validates the request, applies profile defaults and overrides,
// computes the reactivity deadline and persists the new Task in PENDING.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if strings.TrimSpace(req.OrganizationID) == "" {
		return nil, &ValidationError{Field: "organizationId", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Title) == "" && req.Overrides["title"] == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	defaults := m.profiles.GetDefaults(req.OrganizationID)
	now := time.Now().UTC()

	t := &Task{
		ID:                uuid.NewString(),
		OrganizationID:    req.OrganizationID,
		Type:              req.Type,
		Category:          req.Category,
		Subtype:           req.Subtype,
		Label:             req.Label,
		Title:             req.Title,
		Description:       req.Description,
		Status:            StatusPending,
		Priority:          req.Priority,
		Severity:          req.Severity,
		Visibility:        req.Visibility,
		Source:            req.Source,
		OwnerRoleID:       req.OwnerRoleID,
		OwnerUserID:       req.OwnerUserID,
		AssigneeRole:      req.AssigneeRole,
		CreatedByUserID:   req.CreatedByUserID,
		RequesterPersonID: req.RequesterPersonID,
		CreatedAt:         now,
		UpdatedAt:         now,
		DueAt:             req.DueAt,
		EscalationLevel:   0,
		Metadata:          req.Metadata,
	}

	// Caller value wins over profile default.
	if t.Priority == "" {
		t.Priority = defaults.Priority
	}
	if t.Severity == "" {
		t.Severity = defaults.Severity
	}
	if t.Visibility == "" {
		t.Visibility = defaults.Visibility
	}

	sla := req.SLA
	if sla.Duration != "" {
		if _, err := ParseSLADuration(sla.Duration); err != nil {
			m.log.Warnw("Invalid reactivity duration override; falling back to profile default",
				"organization", req.OrganizationID, "value", sla.Duration, "error", err)
		}
	}
	applyOverrides(t, &sla, req.Overrides, m.log)

	deadline := ResolveReactivityDeadline(now, sla, defaults)
	t.ReactivityDeadlineAt = &deadline

	if err := m.store.CreateTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "failed to persist task")
	}
	metrics.TaskCreated.WithLabelValues(t.OrganizationID).Inc()
	m.log.Infow("Task created", append(system.TaskFields(t.OrganizationID, t.ID),
		"status", t.Status, "priority", t.Priority, "reactivityDeadlineAt", deadline)...)
	return t, nil
}

// applyOverrides merges a CREATE_TASK field-override map into the Task.
// Unknown keys land in metadata so rule authors never lose data silently.
func applyOverrides(t *Task, sla *SLAInputs, overrides map[string]string, log *zap.SugaredLogger) {
	for k, v := range overrides {
		switch strings.ToLower(k) {
		case "title":
			t.Title = v
		case "description":
			t.Description = v
		case "type":
			t.Type = v
		case "category":
			t.Category = v
		case "subtype":
			t.Subtype = v
		case "label":
			t.Label = v
		case "priority":
			t.Priority = Priority(strings.ToUpper(v))
		case "severity":
			t.Severity = Severity(strings.ToUpper(v))
		case "visibility":
			t.Visibility = Visibility(strings.ToUpper(v))
		case "assigneerole":
			t.AssigneeRole = v
		case "ownerroleid":
			t.OwnerRoleID = v
		case "owneruserid":
			t.OwnerUserID = v
		case "reactivityduration", "reactivityseconds":
			sla.Duration = v
		case "deadlineat":
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				sla.DeadlineAt = &ts
			} else if log != nil {
				log.Warnw("Invalid deadlineAt override, ignoring", "value", v, "error", err)
			}
		default:
			if t.Metadata == nil {
				t.Metadata = map[string]string{}
			}
			t.Metadata[k] = v
		}
	}
}

// Get fetches one Task by identity.
func (m *Manager) Get(ctx context.Context, organizationID, taskID string) (*Task, error) {
	return m.store.GetTask(ctx, organizationID, taskID)
}

// List returns all Tasks of one organization.
func (m *Manager) List(ctx context.Context, organizationID string) ([]*Task, error) {
	return m.store.ListTasks(ctx, organizationID)
}

// UpdateStatus moves the Task to newStatus. A same-status update is a no-op,
// not an error. Transitions outside the state machine fail with
// InvalidTransitionError and leave the Task unchanged. Entering a terminal
// status sets closedAt; leaving one clears it (defensive, should not occur).
func (m *Manager) UpdateStatus(ctx context.Context, organizationID, taskID string, newStatus Status) (*Task, error) {
	if !newStatus.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + string(newStatus)}
	}

	lock := m.lockFor(organizationID, taskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.GetTask(ctx, organizationID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == newStatus {
		m.log.Debugw("Status update is a no-op", system.TaskFields(organizationID, taskID)...)
		return t, nil
	}
	if !CanTransition(t.Status, newStatus) {
		metrics.TaskTransitionRejected.WithLabelValues(organizationID).Inc()
		return nil, &InvalidTransitionError{From: t.Status, To: newStatus}
	}

	now := time.Now().UTC()
	t.Status = newStatus
	t.UpdatedAt = now
	if newStatus.Terminal() {
		t.ClosedAt = &now
	} else if t.ClosedAt != nil {
		m.log.Warnw("Clearing closedAt on transition out of terminal status",
			append(system.TaskFields(organizationID, taskID), "to", newStatus)...)
		t.ClosedAt = nil
	}

	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "failed to persist status change")
	}
	metrics.TaskStatusChanged.WithLabelValues(organizationID, string(newStatus)).Inc()
	m.log.Infow("Task status changed", append(system.TaskFields(organizationID, taskID), "to", newStatus)...)
	return t, nil
}

// Escalate raises the Task to ESCALATED and increments its escalation level.
// Only legal from an unresolved status; anything else fails with
// CannotEscalateError.
func (m *Manager) Escalate(ctx context.Context, organizationID, taskID string) (*Task, error) {
	lock := m.lockFor(organizationID, taskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.GetTask(ctx, organizationID, taskID)
	if err != nil {
		return nil, err
	}
	if !t.Status.Unresolved() {
		return nil, &CannotEscalateError{Status: t.Status}
	}

	t.Status = StatusEscalated
	t.EscalationLevel++
	t.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "failed to persist escalation")
	}
	metrics.TaskEscalated.WithLabelValues(organizationID).Inc()
	m.log.Infow("Task escalated", append(system.TaskFields(organizationID, taskID), "level", t.EscalationLevel)...)
	return t, nil
}

// Assign sets the assignee role and/or owner user of a Task.
func (m *Manager) Assign(ctx context.Context, organizationID, taskID, assigneeRole, ownerUserID string) (*Task, error) {
	lock := m.lockFor(organizationID, taskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.GetTask(ctx, organizationID, taskID)
	if err != nil {
		return nil, err
	}
	if assigneeRole != "" {
		t.AssigneeRole = assigneeRole
	}
	if ownerUserID != "" {
		t.OwnerUserID = ownerUserID
	}
	t.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "failed to persist assignment")
	}
	m.log.Infow("Task assigned", append(system.TaskFields(organizationID, taskID),
		"assigneeRole", assigneeRole, "ownerUserId", ownerUserID)...)
	return t, nil
}

// SetSeverity sets the Task severity (used by raise_severity policy steps).
func (m *Manager) SetSeverity(ctx context.Context, organizationID, taskID string, severity Severity) (*Task, error) {
	lock := m.lockFor(organizationID, taskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.GetTask(ctx, organizationID, taskID)
	if err != nil {
		return nil, err
	}
	t.Severity = severity
	t.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "failed to persist severity change")
	}
	return t, nil
}

// MergeMetadata merges the given patch into the Task metadata. Existing keys
// are overwritten, other keys are preserved.
func (m *Manager) MergeMetadata(ctx context.Context, organizationID, taskID string, patch map[string]string) (*Task, error) {
	lock := m.lockFor(organizationID, taskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.GetTask(ctx, organizationID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	for k, v := range patch {
		t.Metadata[k] = v
	}
	t.UpdatedAt = time.Now().UTC()

	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, errors.Wrap(err, "failed to persist metadata merge")
	}
	return t, nil
}
