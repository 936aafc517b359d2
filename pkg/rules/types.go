package rules

// ActionType enumerates the action kinds a rule may request. Unknown types
// coming from rule sources are preserved as ActionUnrecognized so a rule set
// written for a newer engine still loads, but the core never executes them.
type ActionType string

const (
	ActionCreateTask     ActionType = "CREATE_TASK"
	ActionUpdateTask     ActionType = "UPDATE_TASK"
	ActionRoute          ActionType = "ROUTE"
	ActionEscalate       ActionType = "ESCALATE"
	ActionAttachTemplate ActionType = "ATTACH_TEMPLATE"
	ActionSetMetadata    ActionType = "SET_METADATA"
	ActionNotify         ActionType = "NOTIFY"
	ActionUnrecognized   ActionType = "UNRECOGNIZED"
)

// KnownActionType reports whether t is one of the action types this engine
// understands (ActionUnrecognized is not one of them).
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionCreateTask, ActionUpdateTask, ActionRoute, ActionEscalate,
		ActionAttachTemplate, ActionSetMetadata, ActionNotify:
		return true
	}
	return false
}

// Action is one effect a rule requests. Exactly the fields matching its Type
// are meaningful; the rest stay zero. RawType keeps the original type string
// for unrecognized actions so they survive a round trip through the engine.
type Action struct {
	Type ActionType `yaml:"type" json:"type"`

	// Set carries field overrides for CREATE_TASK and UPDATE_TASK.
	Set map[string]string `yaml:"set,omitempty" json:"set,omitempty"`

	// TargetRole is the routing target for ROUTE and fallback assignee hints.
	TargetRole string `yaml:"targetRole,omitempty" json:"targetRole,omitempty"`

	// Channel selects the delivery channel for NOTIFY (e.g. "email", "webhook").
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`

	// TemplateID names the template for ATTACH_TEMPLATE.
	TemplateID string `yaml:"templateId,omitempty" json:"templateId,omitempty"`

	// Metadata carries the patch for SET_METADATA.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// PolicyID names the escalation policy for ESCALATE.
	PolicyID string `yaml:"policyId,omitempty" json:"policyId,omitempty"`

	// RawType preserves the original type string of an unrecognized action.
	RawType string `yaml:"-" json:"rawType,omitempty"`
}

// MatchCriteria are the AND-combined conditions of a rule. Every zero-valued
// field is a wildcard.
type MatchCriteria struct {
	Source           string   `yaml:"source,omitempty" json:"source,omitempty"`
	Type             string   `yaml:"type,omitempty" json:"type,omitempty"`
	Category         string   `yaml:"category,omitempty" json:"category,omitempty"`
	Severity         string   `yaml:"severity,omitempty" json:"severity,omitempty"`
	LabelPrefix      string   `yaml:"labelPrefix,omitempty" json:"labelPrefix,omitempty"`
	LabelNumericBase *int     `yaml:"labelNumericBase,omitempty" json:"labelNumericBase,omitempty"`
	KeywordsAny      []string `yaml:"keywordsAny,omitempty" json:"keywordsAny,omitempty"`
	KeywordsAll      []string `yaml:"keywordsAll,omitempty" json:"keywordsAll,omitempty"`
}

// Rule is one declarative match-to-actions mapping. Rules are immutable once
// loaded into a RuleSet.
type Rule struct {
	ID      string        `yaml:"id" json:"id"`
	Version string        `yaml:"version" json:"version"`
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Match   MatchCriteria `yaml:"match" json:"match"`
	Actions []Action      `yaml:"actions" json:"actions"`
}

// EventContext is the normalized view of a signal that rules are matched
// against. Metadata and Payload feed the keyword haystack.
type EventContext struct {
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
}

// ResolvedAction is an action tagged with the rule that produced it. The tag
// makes multi-rule results auditable and replays idempotent.
type ResolvedAction struct {
	Action
	RuleID      string `json:"ruleId"`
	RuleVersion string `json:"ruleVersion"`
}

// MatchedRule identifies one rule that matched during an evaluation.
type MatchedRule struct {
	RuleID      string `json:"ruleId"`
	RuleVersion string `json:"ruleVersion"`
}

// Result is the outcome of evaluating one context against a rule set.
type Result struct {
	Matched []MatchedRule    `json:"matched"`
	Actions []ResolvedAction `json:"actions"`
}

// RuleError describes why one rule failed validation. The rule stays in the
// set (fail-soft); callers decide whether the error is fatal.
type RuleError struct {
	RuleID string `json:"ruleId"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e RuleError) Error() string {
	if e.RuleID == "" {
		return e.Reason
	}
	return "rule " + e.RuleID + ": " + e.Reason
}
