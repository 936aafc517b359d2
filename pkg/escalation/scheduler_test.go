package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/store"
	"github.com/orgsignal/taskrouter/pkg/task"
)

type testProfiles struct{}

func (testProfiles) GetDefaults(string) task.ProfileDefaults {
	return task.ProfileDefaults{
		Priority:          task.PriorityMedium,
		Severity:          task.SeverityMinor,
		Visibility:        task.VisibilityInternal,
		ReactivitySeconds: 3600,
	}
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Send(_ context.Context, _ *task.Task, eventType string) error {
	n.events = append(n.events, eventType)
	return nil
}

type staticGate bool

func (g staticGate) Enabled(context.Context, string, string, bool) bool { return bool(g) }

type fixture struct {
	mem       *store.Memory
	lifecycle *task.Manager
	policies  *escalation.StaticProvider
	notifier  *recordingNotifier
	scheduler *escalation.Scheduler
}

func newFixture(t *testing.T, gate escalation.FeatureGate) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	mem := store.NewMemory()
	lifecycle := task.NewManager(mem, testProfiles{}, log)
	policies := escalation.NewStaticProvider(log)
	notifier := &recordingNotifier{}
	return &fixture{
		mem:       mem,
		lifecycle: lifecycle,
		policies:  policies,
		notifier:  notifier,
		scheduler: escalation.NewScheduler(mem, lifecycle, mem, mem, policies, notifier, gate, log),
	}
}

func (f *fixture) createTask(t *testing.T, deadline time.Time) *task.Task {
	t.Helper()
	created, err := f.lifecycle.Create(context.Background(), task.CreateRequest{
		OrganizationID: "org-1",
		Title:          "needs attention",
		SLA:            task.SLAInputs{DeadlineAt: &deadline},
	})
	require.NoError(t, err)
	return created
}

func intp(v int) *int { return &v }

func TestAttachPolicySchedulesFirstStep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	f.policies.Put(&escalation.Policy{
		ID: "oncall",
		Steps: []escalation.Step{
			{WaitSeconds: intp(120), Actions: []escalation.StepAction{{Type: escalation.StepNotifyRole, Role: "oncall"}}},
		},
	})

	created := f.createTask(t, now.Add(time.Hour))

	in, err := f.scheduler.AttachPolicy(ctx, created, "oncall", now)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceScheduled, in.Status)
	assert.Equal(t, 0, in.CurrentStepIndex)
	assert.Equal(t, now.Add(2*time.Minute), in.NextFireAt)

	// Attaching the same policy again returns the active instance.
	again, err := f.scheduler.AttachPolicy(ctx, created, "oncall", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, in.ID, again.ID)

	all, err := f.scheduler.ListTaskInstances(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAttachPolicyUnknownPolicy(t *testing.T) {
	f := newFixture(t, nil)
	created := f.createTask(t, time.Now().UTC().Add(time.Hour))

	_, err := f.scheduler.AttachPolicy(context.Background(), created, "nonexistent", time.Now().UTC())
	assert.Error(t, err)
}

func TestSweepEscalatesOverdueTasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := f.createTask(t, now.Add(-10*time.Minute))
	_, err := f.lifecycle.SetSeverity(ctx, "org-1", overdue.ID, task.SeverityCritical)
	require.NoError(t, err)
	onTime := f.createTask(t, now.Add(time.Hour))

	stats := f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Equal(t, 1, stats.OverdueUnresolved)
	assert.Equal(t, 1, stats.OverdueCritical)
	assert.Equal(t, 1, stats.TasksEscalated)
	assert.InDelta(t, 600, stats.MaxDelaySeconds, 1)
	assert.Zero(t, stats.RowErrors)

	esc, err := f.lifecycle.Get(ctx, "org-1", overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusEscalated, esc.Status)
	assert.Equal(t, 1, esc.EscalationLevel)
	assert.Contains(t, f.notifier.events, "ESCALATED")

	untouched, err := f.lifecycle.Get(ctx, "org-1", onTime.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, untouched.Status)

	// Rerunning with the same clock still reports the overdue row but does
	// not escalate it a second time.
	stats = f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Equal(t, 1, stats.OverdueUnresolved)
	assert.Zero(t, stats.TasksEscalated)

	esc, err = f.lifecycle.Get(ctx, "org-1", overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, esc.EscalationLevel)
}

func TestSweepAdvancesAndCompletesInstances(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	f.policies.Put(&escalation.Policy{
		ID: "two-step",
		Steps: []escalation.Step{
			{WaitSeconds: intp(0), Actions: []escalation.StepAction{
				{Type: escalation.StepUpdateMetadata, Metadata: map[string]string{"escalation": "step-0"}},
				{Type: escalation.StepNotifyRole, Role: "oncall"},
			}},
			{WaitSeconds: intp(3600), Actions: []escalation.StepAction{
				{Type: escalation.StepRaiseSeverity, Severity: "CRITICAL"},
			}},
		},
	})

	created := f.createTask(t, now.Add(24*time.Hour))
	in, err := f.scheduler.AttachPolicy(ctx, created, "two-step", now)
	require.NoError(t, err)

	stats := f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Equal(t, 1, stats.InstancesAdvanced)
	assert.Zero(t, stats.InstancesCompleted)

	advanced, err := f.mem.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceInProgress, advanced.Status)
	assert.Equal(t, 1, advanced.CurrentStepIndex)
	assert.Equal(t, now.Add(time.Hour), advanced.NextFireAt)

	current, err := f.lifecycle.Get(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "step-0", current.Metadata["escalation"])
	assert.Contains(t, f.notifier.events, "ESCALATION_STEP")

	// Not due yet: nothing advances with an unchanged clock.
	stats = f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Zero(t, stats.InstancesAdvanced)
	assert.Zero(t, stats.InstancesCompleted)

	// The final step fires after its wait and completes the instance.
	stats = f.scheduler.Sweep(ctx, now.Add(time.Hour), "", escalation.Limits{})
	assert.Equal(t, 1, stats.InstancesCompleted)

	done, err := f.mem.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceCompleted, done.Status)

	current, err = f.lifecycle.Get(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.SeverityCritical, current.Severity)

	events, err := f.mem.ListInstanceEvents(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.True(t, ev.Success)
	}
}

func TestSweepCancelsInstanceForResolvedTask(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	f.policies.Put(&escalation.Policy{
		ID: "oncall",
		Steps: []escalation.Step{
			{WaitSeconds: intp(0), Actions: []escalation.StepAction{{Type: escalation.StepNotifyRole, Role: "oncall"}}},
		},
	})

	created := f.createTask(t, now.Add(time.Hour))
	in, err := f.scheduler.AttachPolicy(ctx, created, "oncall", now)
	require.NoError(t, err)

	_, err = f.lifecycle.UpdateStatus(ctx, "org-1", created.ID, task.StatusCancelled)
	require.NoError(t, err)

	stats := f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Equal(t, 1, stats.InstancesCancelled)

	cancelled, err := f.mem.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceCancelled, cancelled.Status)

	// No step actions ran.
	events, err := f.mem.ListInstanceEvents(ctx, in.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotContains(t, f.notifier.events, "ESCALATION_STEP")
}

func TestSweepCompletesInstanceWithMissingPolicy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	created := f.createTask(t, now.Add(time.Hour))
	orphan := &escalation.Instance{
		ID:             "orphan-1",
		OrganizationID: "org-1",
		TaskID:         created.ID,
		PolicyID:       "deleted-policy",
		Status:         escalation.InstanceScheduled,
		NextFireAt:     now.Add(-time.Minute),
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
	require.NoError(t, f.mem.CreateInstance(ctx, orphan))

	stats := f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Equal(t, 1, stats.InstancesCompleted)

	done, err := f.mem.GetInstance(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceCompleted, done.Status)
}

func TestSweepGateDisablesPolicyStepping(t *testing.T) {
	f := newFixture(t, staticGate(false))
	ctx := context.Background()
	now := time.Now().UTC()

	f.policies.Put(&escalation.Policy{
		ID: "oncall",
		Steps: []escalation.Step{
			{WaitSeconds: intp(0), Actions: []escalation.StepAction{{Type: escalation.StepNotifyRole, Role: "oncall"}}},
		},
	})

	created := f.createTask(t, now.Add(-time.Minute))
	in, err := f.scheduler.AttachPolicy(ctx, created, "oncall", now)
	require.NoError(t, err)

	stats := f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	// Pass A still runs, pass B is skipped entirely.
	assert.Equal(t, 1, stats.TasksEscalated)
	assert.Zero(t, stats.InstancesAdvanced)
	assert.Zero(t, stats.InstancesCompleted)

	untouched, err := f.mem.GetInstance(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceScheduled, untouched.Status)
}

func TestStepPartialFailureRecordsEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	f.policies.Put(&escalation.Policy{
		ID: "flaky",
		Steps: []escalation.Step{
			{WaitSeconds: intp(0), Actions: []escalation.StepAction{
				{Type: "page_ceo"},
				{Type: escalation.StepUpdateMetadata, Metadata: map[string]string{"paged": "yes"}},
			}},
		},
	})

	created := f.createTask(t, now.Add(time.Hour))
	in, err := f.scheduler.AttachPolicy(ctx, created, "flaky", now)
	require.NoError(t, err)

	stats := f.scheduler.Sweep(ctx, now, "", escalation.Limits{})
	assert.Equal(t, 1, stats.InstancesCompleted)

	// The failing action did not block the one after it.
	current, err := f.lifecycle.Get(ctx, "org-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "yes", current.Metadata["paged"])

	events, err := f.mem.ListInstanceEvents(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.False(t, events[0].Success)
	assert.Contains(t, events[0].Error, "page_ceo")
	assert.True(t, events[1].Success)
}

func TestCancelInstance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	f.policies.Put(&escalation.Policy{
		ID: "oncall",
		Steps: []escalation.Step{
			{WaitSeconds: intp(600), Actions: []escalation.StepAction{{Type: escalation.StepNotifyRole, Role: "oncall"}}},
		},
	})

	created := f.createTask(t, now.Add(time.Hour))
	in, err := f.scheduler.AttachPolicy(ctx, created, "oncall", now)
	require.NoError(t, err)

	cancelled, err := f.scheduler.Cancel(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceCancelled, cancelled.Status)

	// Cancelling twice is a no-op.
	again, err := f.scheduler.Cancel(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.InstanceCancelled, again.Status)

	_, err = f.scheduler.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, escalation.ErrInstanceNotFound)
}
