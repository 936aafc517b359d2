package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const incidentRules = `
rules:
  - id: incident-major
    version: "3"
    match:
      type: incident
      severity: MAJOR
    actions:
      - type: CREATE_TASK
        set:
          priority: HIGH
      - type: ROUTE
        targetRole: oncall-lead
  - id: maintenance-window
    version: "1"
    enabled: false
    match:
      type: maintenance
    actions:
      - type: CREATE_TASK
        set:
          title: maintenance work
`

func newTestEngine(t *testing.T, docs ...string) *Engine {
	t.Helper()
	e := NewEngine(zaptest.NewLogger(t).Sugar())
	raw := make([][]byte, 0, len(docs))
	for _, d := range docs {
		raw = append(raw, []byte(d))
	}
	_, err := e.Reload(raw)
	require.NoError(t, err)
	return e
}

func TestEvaluateMatchesIncident(t *testing.T) {
	e := newTestEngine(t, incidentRules)

	res := e.Evaluate(EventContext{
		OrganizationID: "org-1",
		Source:         "monitoring",
		Type:           "incident",
		Severity:       "MAJOR",
		Title:          "API latency above threshold",
	})

	require.Len(t, res.Matched, 1)
	assert.Equal(t, "incident-major", res.Matched[0].RuleID)
	assert.Equal(t, "3", res.Matched[0].RuleVersion)

	require.Len(t, res.Actions, 2)
	assert.Equal(t, ActionCreateTask, res.Actions[0].Type)
	assert.Equal(t, "HIGH", res.Actions[0].Set["priority"])
	assert.Equal(t, ActionRoute, res.Actions[1].Type)
	assert.Equal(t, "oncall-lead", res.Actions[1].TargetRole)
}

func TestEvaluateMatchingIsCaseInsensitive(t *testing.T) {
	e := newTestEngine(t, incidentRules)

	res := e.Evaluate(EventContext{Type: "INCIDENT", Severity: "major"})
	assert.Len(t, res.Matched, 1)
}

func TestEvaluateSkipsDisabledRules(t *testing.T) {
	e := newTestEngine(t, incidentRules)

	res := e.Evaluate(EventContext{Type: "maintenance"})
	assert.Empty(t, res.Matched)
	assert.Empty(t, res.Actions)
}

func TestEvaluateNoMatchReturnsEmptyResult(t *testing.T) {
	e := newTestEngine(t, incidentRules)

	res := e.Evaluate(EventContext{Type: "incident", Severity: "MINOR"})
	assert.NotNil(t, res.Matched)
	assert.Empty(t, res.Matched)
	assert.Empty(t, res.Actions)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := newTestEngine(t, incidentRules)
	ctx := EventContext{
		Type:     "incident",
		Severity: "MAJOR",
		Metadata: map[string]string{"b": "2", "a": "1", "c": "3"},
		Payload:  map[string]string{"z": "26", "y": "25"},
	}

	first := e.Evaluate(ctx)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.Evaluate(ctx))
	}
}

func TestLabelPrefixIsCaseSensitiveLiteral(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - id: finance-labels
    version: "1"
    match:
      labelPrefix: "FIN-"
    actions:
      - type: CREATE_TASK
        set:
          title: finance
`)

	assert.Len(t, e.Evaluate(EventContext{Label: "FIN-1042"}).Matched, 1)
	assert.Empty(t, e.Evaluate(EventContext{Label: "fin-1042"}).Matched)
}

func TestLabelNumericBase(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - id: queue-42
    version: "1"
    match:
      labelNumericBase: 42
    actions:
      - type: CREATE_TASK
        set:
          title: queue
`)

	assert.Len(t, e.Evaluate(EventContext{Label: "42.7"}).Matched, 1)
	assert.Len(t, e.Evaluate(EventContext{Label: "42"}).Matched, 1)
	assert.Empty(t, e.Evaluate(EventContext{Label: "43.1"}).Matched)
	assert.Empty(t, e.Evaluate(EventContext{Label: "not-a-number"}).Matched)
	assert.Empty(t, e.Evaluate(EventContext{Label: ""}).Matched)
}

func TestKeywordMatchingSearchesMetadataAndPayload(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - id: database-any
    version: "1"
    match:
      keywordsAny: ["database", "storage"]
    actions:
      - type: CREATE_TASK
        set:
          title: db issue
  - id: outage-all
    version: "1"
    match:
      keywordsAll: ["outage", "production"]
    actions:
      - type: NOTIFY
        channel: email
`)

	res := e.Evaluate(EventContext{Title: "Database connection refused"})
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "database-any", res.Matched[0].RuleID)

	res = e.Evaluate(EventContext{
		Title:    "Service degraded",
		Metadata: map[string]string{"component": "STORAGE backend"},
	})
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "database-any", res.Matched[0].RuleID)

	res = e.Evaluate(EventContext{
		Title:   "Outage detected",
		Payload: map[string]string{"environment": "production"},
	})
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "outage-all", res.Matched[0].RuleID)

	// keywordsAll requires every keyword, not just one.
	res = e.Evaluate(EventContext{Title: "Outage detected"})
	assert.Empty(t, res.Matched)
}

func TestMultipleMatchingRulesPreserveOrder(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - id: first
    version: "1"
    match:
      source: helpdesk
    actions:
      - type: CREATE_TASK
        set:
          title: from first
  - id: second
    version: "1"
    match:
      source: helpdesk
    actions:
      - type: SET_METADATA
        metadata:
          routedBy: second
`)

	res := e.Evaluate(EventContext{Source: "helpdesk"})
	require.Len(t, res.Matched, 2)
	assert.Equal(t, "first", res.Matched[0].RuleID)
	assert.Equal(t, "second", res.Matched[1].RuleID)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, "first", res.Actions[0].RuleID)
	assert.Equal(t, "second", res.Actions[1].RuleID)
}

func TestReloadSwapsSnapshotAtomically(t *testing.T) {
	e := newTestEngine(t, incidentRules)
	old := e.Current()

	_, err := e.Reload([][]byte{[]byte(`
rules:
  - id: replacement
    version: "1"
    match:
      type: request
    actions:
      - type: CREATE_TASK
        set:
          title: replaced
`)})
	require.NoError(t, err)

	// The old snapshot still evaluates the old rules; the engine serves the new set.
	assert.Len(t, e.EvaluateSet(EventContext{Type: "incident", Severity: "MAJOR"}, old).Matched, 1)
	assert.Empty(t, e.Evaluate(EventContext{Type: "incident", Severity: "MAJOR"}).Matched)
	assert.Len(t, e.Evaluate(EventContext{Type: "request"}).Matched, 1)
	assert.Greater(t, e.Current().Generation, old.Generation)
}

func TestUnrecognizedActionTypeSurvivesEvaluation(t *testing.T) {
	e := newTestEngine(t, `
rules:
  - id: future-rule
    version: "2"
    match:
      type: incident
    actions:
      - type: TRIGGER_WORKFLOW
        set:
          workflow: wf-17
`)

	res := e.Evaluate(EventContext{Type: "incident"})
	require.Len(t, res.Actions, 1)
	assert.Equal(t, ActionUnrecognized, res.Actions[0].Type)
	assert.Equal(t, "TRIGGER_WORKFLOW", res.Actions[0].RawType)
}
