package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/ingest"
	"github.com/orgsignal/taskrouter/pkg/rules"
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

type recordingSink struct {
	events []string
}

func (s *recordingSink) Send(_ context.Context, _ *task.Task, eventType string) error {
	s.events = append(s.events, eventType)
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

type processorFixture struct {
	mem       *store.Memory
	lifecycle *task.Manager
	policies  *escalation.StaticProvider
	sink      *recordingSink
	processor *ingest.Processor
}

func newProcessorFixture(t *testing.T, ruleDocs ...string) *processorFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	engine := rules.NewEngine(log)
	raw := make([][]byte, 0, len(ruleDocs))
	for _, d := range ruleDocs {
		raw = append(raw, []byte(d))
	}
	_, err := engine.Reload(raw)
	require.NoError(t, err)

	mem := store.NewMemory()
	lifecycle := task.NewManager(mem, testProfiles{}, log)
	policies := escalation.NewStaticProvider(log)
	sink := &recordingSink{}
	scheduler := escalation.NewScheduler(mem, lifecycle, mem, mem, policies, sink, nil, log)

	return &processorFixture{
		mem:       mem,
		lifecycle: lifecycle,
		policies:  policies,
		sink:      sink,
		processor: ingest.NewProcessor(engine, lifecycle, scheduler, sink, nil, log),
	}
}

func TestProcessCreatesAndRoutesTask(t *testing.T) {
	f := newProcessorFixture(t, `
rules:
  - id: incident-route
    version: "1"
    match:
      type: incident
    actions:
      - type: CREATE_TASK
        set:
          priority: HIGH
          runbook: rb-12
      - type: ROUTE
        targetRole: oncall-lead
      - type: SET_METADATA
        metadata:
          routedBy: incident-route
`)

	res, err := f.processor.Process(context.Background(), ingest.Signal{
		OrganizationID: "org-1",
		Source:         "monitoring",
		Type:           "incident",
		Title:          "API latency above threshold",
	})
	require.NoError(t, err)

	require.Len(t, res.Matched, 1)
	assert.Len(t, res.Applied, 3)
	assert.Empty(t, res.Failed)
	require.Len(t, res.TaskIDs, 1)

	created, err := f.lifecycle.Get(context.Background(), "org-1", res.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "API latency above threshold", created.Title)
	assert.Equal(t, task.PriorityHigh, created.Priority)
	assert.Equal(t, "oncall-lead", created.AssigneeRole)
	assert.Equal(t, "rb-12", created.Metadata["runbook"], "unknown override keys land in metadata")
	assert.Equal(t, "incident-route", created.Metadata["routedBy"])
}

func TestProcessEscalateAttachesPolicy(t *testing.T) {
	f := newProcessorFixture(t, `
rules:
  - id: critical-incident
    version: "1"
    match:
      severity: CRITICAL
    actions:
      - type: CREATE_TASK
        set:
          title: critical incident
      - type: ESCALATE
        policyId: oncall
`)
	wait := 300
	f.policies.Put(&escalation.Policy{
		ID: "oncall",
		Steps: []escalation.Step{
			{WaitSeconds: &wait, Actions: []escalation.StepAction{{Type: escalation.StepNotifyRole, Role: "oncall"}}},
		},
	})

	received := time.Now().UTC().Truncate(time.Second)
	res, err := f.processor.Process(context.Background(), ingest.Signal{
		OrganizationID: "org-1",
		Severity:       "CRITICAL",
		ReceivedAt:     received,
	})
	require.NoError(t, err)
	require.Len(t, res.TaskIDs, 1)
	assert.Empty(t, res.Failed)

	instances, err := f.mem.ListTaskInstances(context.Background(), "org-1", res.TaskIDs[0])
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "oncall", instances[0].PolicyID)
	assert.Equal(t, received.Add(5*time.Minute), instances[0].NextFireAt)
}

func TestProcessNotifySendsSnapshot(t *testing.T) {
	f := newProcessorFixture(t, `
rules:
  - id: notify-after-create
    version: "1"
    match:
      source: helpdesk
    actions:
      - type: CREATE_TASK
        set:
          title: helpdesk request
      - type: NOTIFY
        channel: email
`)

	res, err := f.processor.Process(context.Background(), ingest.Signal{
		OrganizationID: "org-1",
		Source:         "helpdesk",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Contains(t, f.sink.events, "RULE_NOTIFY")
}

func TestProcessTaskDirectedActionWithoutScopeFails(t *testing.T) {
	f := newProcessorFixture(t, `
rules:
  - id: route-only
    version: "1"
    match:
      source: helpdesk
    actions:
      - type: ROUTE
        targetRole: support
`)

	res, err := f.processor.Process(context.Background(), ingest.Signal{
		OrganizationID: "org-1",
		Source:         "helpdesk",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Error, "no task in scope")
	assert.Empty(t, res.TaskIDs)
}

func TestProcessUnrecognizedActionFailsWithoutAborting(t *testing.T) {
	f := newProcessorFixture(t, `
rules:
  - id: future-rule
    version: "1"
    match:
      source: helpdesk
    actions:
      - type: TRIGGER_WORKFLOW
      - type: CREATE_TASK
        set:
          title: still created
`)

	res, err := f.processor.Process(context.Background(), ingest.Signal{
		OrganizationID: "org-1",
		Source:         "helpdesk",
	})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Error, `unrecognized action type "TRIGGER_WORKFLOW"`)
	require.Len(t, res.TaskIDs, 1, "the failing action does not abort the rest")
}

func TestProcessRequiresOrganization(t *testing.T) {
	f := newProcessorFixture(t)

	_, err := f.processor.Process(context.Background(), ingest.Signal{Source: "helpdesk"})
	assert.Error(t, err)
}

func TestEvaluateIsDryRun(t *testing.T) {
	f := newProcessorFixture(t, `
rules:
  - id: incident
    version: "1"
    match:
      type: incident
    actions:
      - type: CREATE_TASK
        set:
          title: created
`)

	res, err := f.processor.Evaluate(ingest.Signal{
		OrganizationID: "org-1",
		Type:           "incident",
	})
	require.NoError(t, err)
	assert.Len(t, res.Matched, 1)
	assert.Len(t, res.Actions, 1)

	tasks, err := f.lifecycle.List(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Empty(t, tasks, "dry-run never creates tasks")

	_, err = f.processor.Evaluate(ingest.Signal{Type: "incident"})
	assert.Error(t, err, "dry-run still requires an organization")
}
