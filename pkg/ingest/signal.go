package ingest

import (
	"time"

	"github.com/orgsignal/taskrouter/pkg/rules"
)

// Signal is one inbound organizational event: an alert, a form submission, a
// request coming in over the API. Signals are normalized into a rule
// evaluation context and never stored themselves; Tasks are the durable
// artifact.
type Signal struct {
	OrganizationID string            `json:"organizationId"`
	Source         string            `json:"source"`
	Type           string            `json:"type"`
	Category       string            `json:"category"`
	Severity       string            `json:"severity"`
	Label          string            `json:"label"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
	CreatedByUser  string            `json:"createdByUser,omitempty"`
	ReceivedAt     time.Time         `json:"receivedAt,omitempty"`
}

// Normalize converts a signal into the context rules are matched against.
func (s Signal) Normalize() rules.EventContext {
	return rules.EventContext{
		OrganizationID: s.OrganizationID,
		Source:         s.Source,
		Type:           s.Type,
		Category:       s.Category,
		Severity:       s.Severity,
		Label:          s.Label,
		Title:          s.Title,
		Description:    s.Description,
		Metadata:       s.Metadata,
		Payload:        s.Payload,
	}
}
