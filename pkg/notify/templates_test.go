package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTaskNotification(t *testing.T) {
	body, err := RenderTaskNotification(TaskMailParams{
		EventType:       EventTaskEscalated,
		OrganizationID:  "org-1",
		TaskID:          "t-1",
		Title:           "API latency above threshold",
		Description:     "p99 latency exceeded 2s for 10 minutes",
		Status:          "ESCALATED",
		Priority:        "HIGH",
		Severity:        "CRITICAL",
		AssigneeRole:    "oncall-lead",
		EscalationLevel: 2,
		DeadlineAt:      "Mon, 24 Aug 2026 12:00:00 UTC",
		BrandingName:    "TaskRouter",
	})
	require.NoError(t, err)

	assert.Contains(t, body, "API latency above threshold")
	assert.Contains(t, body, "org-1")
	assert.Contains(t, body, "t-1")
	assert.Contains(t, body, "oncall-lead")
	assert.Contains(t, body, "CRITICAL")
	assert.Contains(t, body, "Mon, 24 Aug 2026 12:00:00 UTC")
}

func TestRenderTaskNotificationEscapesHTML(t *testing.T) {
	body, err := RenderTaskNotification(TaskMailParams{
		EventType: EventTaskCreated,
		Title:     "<script>alert(1)</script>",
		Status:    "PENDING",
	})
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>alert(1)</script>")
}

func TestRenderTaskNotificationWithMinimalParams(t *testing.T) {
	body, err := RenderTaskNotification(TaskMailParams{
		EventType: EventTaskCreated,
		Title:     "bare minimum",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "bare minimum")
}
