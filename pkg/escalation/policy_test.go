package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func intPtr(v int) *int { return &v }

func TestPolicyWaitFor(t *testing.T) {
	p := &Policy{
		ID:                 "oncall",
		DefaultWaitSeconds: 600,
		Steps: []Step{
			{WaitSeconds: intPtr(0), Actions: []StepAction{{Type: StepNotifyRole, Role: "oncall"}}},
			{Actions: []StepAction{{Type: StepRaiseSeverity, Severity: "CRITICAL"}}},
			{WaitSeconds: intPtr(1800), Actions: []StepAction{{Type: StepNotifyUser, UserID: "lead"}}},
		},
	}

	assert.Equal(t, 0, p.WaitFor(0), "explicit zero wait is honored")
	assert.Equal(t, 600, p.WaitFor(1), "missing wait falls back to the policy default")
	assert.Equal(t, 1800, p.WaitFor(2))
	assert.Equal(t, 600, p.WaitFor(-1))
	assert.Equal(t, 600, p.WaitFor(3), "out of range falls back to the default")
}

func TestStaticProviderLoadSkipsUnusablePolicies(t *testing.T) {
	sp := NewStaticProvider(zaptest.NewLogger(t).Sugar())

	err := sp.Load([]byte(`
policies:
  - id: oncall
    defaultWaitSeconds: 300
    steps:
      - actions:
          - type: notify_role
            role: oncall
      - waitSeconds: 900
        actions:
          - type: raise_severity
            severity: CRITICAL
  - id: ""
    steps:
      - actions:
          - type: notify_role
            role: nobody
  - id: stepless
`))
	require.NoError(t, err)

	p, ok := sp.GetPolicy("oncall")
	require.True(t, ok)
	assert.Equal(t, 300, p.DefaultWaitSeconds)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, StepNotifyRole, p.Steps[0].Actions[0].Type)
	assert.Equal(t, 900, p.WaitFor(1))

	_, ok = sp.GetPolicy("")
	assert.False(t, ok)
	_, ok = sp.GetPolicy("stepless")
	assert.False(t, ok)
}

func TestStaticProviderLoadRejectsBrokenYAML(t *testing.T) {
	sp := NewStaticProvider(zaptest.NewLogger(t).Sugar())
	assert.Error(t, sp.Load([]byte("policies: [\n  nope")))
}

func TestKnownStepActionType(t *testing.T) {
	for _, typ := range []StepActionType{
		StepNotifyRole, StepNotifyUser, StepAutoReassign,
		StepUpdateMetadata, StepRaiseSeverity, StepAutoClose,
	} {
		assert.True(t, KnownStepActionType(typ))
	}
	assert.False(t, KnownStepActionType("page_ceo"))
}
