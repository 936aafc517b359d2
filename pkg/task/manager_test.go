package task

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeStore is a minimal in-memory Store for lifecycle tests.
type fakeStore struct {
	tasks map[string]*Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*Task{}}
}

func (s *fakeStore) key(organizationID, taskID string) string {
	return organizationID + "/" + taskID
}

func (s *fakeStore) CreateTask(_ context.Context, t *Task) error {
	s.tasks[s.key(t.OrganizationID, t.ID)] = t.Clone()
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, organizationID, taskID string) (*Task, error) {
	t, ok := s.tasks[s.key(organizationID, taskID)]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "task %s/%s", organizationID, taskID)
	}
	return t.Clone(), nil
}

func (s *fakeStore) UpdateTask(_ context.Context, t *Task) error {
	k := s.key(t.OrganizationID, t.ID)
	if _, ok := s.tasks[k]; !ok {
		return errors.Wrapf(ErrNotFound, "task %s/%s", t.OrganizationID, t.ID)
	}
	s.tasks[k] = t.Clone()
	return nil
}

func (s *fakeStore) ListTasks(_ context.Context, organizationID string) ([]*Task, error) {
	var out []*Task
	for _, t := range s.tasks {
		if t.OrganizationID == organizationID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) ListOverdueTasks(_ context.Context, organizationID string, now time.Time, limit int) ([]*Task, error) {
	var out []*Task
	for _, t := range s.tasks {
		if organizationID != "" && t.OrganizationID != organizationID {
			continue
		}
		if !t.Status.Unresolved() || t.ReactivityDeadlineAt == nil {
			continue
		}
		if !t.ReactivityDeadlineAt.After(now) {
			out = append(out, t.Clone())
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fixedProfiles struct {
	defaults ProfileDefaults
}

func (p fixedProfiles) GetDefaults(string) ProfileDefaults { return p.defaults }

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	s := newFakeStore()
	profiles := fixedProfiles{defaults: ProfileDefaults{
		Priority:          PriorityMedium,
		Severity:          SeverityMinor,
		Visibility:        VisibilityInternal,
		ReactivitySeconds: 3600,
	}}
	return NewManager(s, profiles, zaptest.NewLogger(t).Sugar()), s
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, CreateRequest{Title: "no org"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "organizationId", verr.Field)

	_, err = m.Create(ctx, CreateRequest{OrganizationID: "org-1"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	// A title supplied via overrides satisfies the requirement.
	created, err := m.Create(ctx, CreateRequest{
		OrganizationID: "org-1",
		Overrides:      map[string]string{"title": "from rule"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from rule", created.Title)
}

func TestCreateAppliesProfileDefaultsToZeroFieldsOnly(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateRequest{
		OrganizationID: "org-1",
		Title:          "defaulted",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, PriorityMedium, created.Priority)
	assert.Equal(t, SeverityMinor, created.Severity)
	assert.Equal(t, VisibilityInternal, created.Visibility)
	require.NotNil(t, created.ReactivityDeadlineAt)
	assert.Equal(t, created.CreatedAt.Add(time.Hour), *created.ReactivityDeadlineAt)

	created, err = m.Create(ctx, CreateRequest{
		OrganizationID: "org-1",
		Title:          "explicit",
		Priority:       PriorityCritical,
		Severity:       SeverityMajor,
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityCritical, created.Priority)
	assert.Equal(t, SeverityMajor, created.Severity)
	assert.Equal(t, VisibilityInternal, created.Visibility)
}

func TestCreateAppliesOverrides(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	deadline := time.Now().UTC().Add(30 * time.Minute).Truncate(time.Second)
	created, err := m.Create(ctx, CreateRequest{
		OrganizationID: "org-1",
		Title:          "original",
		Overrides: map[string]string{
			"title":      "overridden",
			"priority":   "high",
			"deadlineAt": deadline.Format(time.RFC3339),
			"runbook":    "https://wiki.internal/runbook-7",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "overridden", created.Title)
	assert.Equal(t, PriorityHigh, created.Priority, "priority overrides are uppercased")
	require.NotNil(t, created.ReactivityDeadlineAt)
	assert.True(t, created.ReactivityDeadlineAt.Equal(deadline))
	assert.Equal(t, "https://wiki.internal/runbook-7", created.Metadata["runbook"],
		"unknown override keys land in metadata")
}

func TestCreateDurationOverrideBeatsProfile(t *testing.T) {
	m, _ := newTestManager(t)

	created, err := m.Create(context.Background(), CreateRequest{
		OrganizationID: "org-1",
		Title:          "fast lane",
		Overrides:      map[string]string{"reactivityDuration": "15m"},
	})
	require.NoError(t, err)
	require.NotNil(t, created.ReactivityDeadlineAt)
	assert.Equal(t, created.CreatedAt.Add(15*time.Minute), *created.ReactivityDeadlineAt)
}

func TestUpdateStatusTransitions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateRequest{OrganizationID: "org-1", Title: "t"})
	require.NoError(t, err)

	updated, err := m.UpdateStatus(ctx, "org-1", created.ID, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Nil(t, updated.ClosedAt)

	// Same-status update is a no-op, not an error.
	again, err := m.UpdateStatus(ctx, "org-1", created.ID, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, updated.UpdatedAt, again.UpdatedAt)

	// Illegal edge is rejected and the task stays unchanged.
	_, err = m.UpdateStatus(ctx, "org-1", created.ID, StatusPending)
	var terr *InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusInProgress, terr.From)
	assert.Equal(t, StatusPending, terr.To)

	current, err := m.Get(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, current.Status)

	// Entering a terminal status sets closedAt.
	closed, err := m.UpdateStatus(ctx, "org-1", created.ID, StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.UpdateStatus(context.Background(), "org-1", "whatever", Status("RESOLVED"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)
}

func TestUpdateStatusUnknownTask(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.UpdateStatus(context.Background(), "org-1", "missing", StatusInProgress)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEscalate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateRequest{OrganizationID: "org-1", Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, 0, created.EscalationLevel)

	esc, err := m.Escalate(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, esc.Status)
	assert.Equal(t, 1, esc.EscalationLevel)

	// Escalating an already-escalated task raises the level again.
	esc, err = m.Escalate(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, esc.EscalationLevel)

	_, err = m.UpdateStatus(ctx, "org-1", created.ID, StatusCompleted)
	require.NoError(t, err)

	_, err = m.Escalate(ctx, "org-1", created.ID)
	var eerr *CannotEscalateError
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, StatusCompleted, eerr.Status)
}

func TestAssignAndMergeMetadata(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, CreateRequest{
		OrganizationID: "org-1",
		Title:          "t",
		Metadata:       map[string]string{"origin": "monitoring", "zone": "eu-1"},
	})
	require.NoError(t, err)

	assigned, err := m.Assign(ctx, "org-1", created.ID, "oncall-lead", "")
	require.NoError(t, err)
	assert.Equal(t, "oncall-lead", assigned.AssigneeRole)

	// Empty arguments leave the previous values alone.
	assigned, err = m.Assign(ctx, "org-1", created.ID, "", "user-9")
	require.NoError(t, err)
	assert.Equal(t, "oncall-lead", assigned.AssigneeRole)
	assert.Equal(t, "user-9", assigned.OwnerUserID)

	merged, err := m.MergeMetadata(ctx, "org-1", created.ID, map[string]string{
		"zone":   "eu-2",
		"ticket": "INC-1042",
	})
	require.NoError(t, err)
	assert.Equal(t, "monitoring", merged.Metadata["origin"])
	assert.Equal(t, "eu-2", merged.Metadata["zone"])
	assert.Equal(t, "INC-1042", merged.Metadata["ticket"])
}
