package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// ruleDocument is the on-disk shape of one rule source file: an ordered list
// of rule entries. Unknown action types are caught during decoding so a
// newer rule file does not fail the whole load.
type ruleDocument struct {
	Rules []rawRule `yaml:"rules"`
}

type rawRule struct {
	ID      string        `yaml:"id"`
	Version string        `yaml:"version"`
	Enabled *bool         `yaml:"enabled"`
	Match   MatchCriteria `yaml:"match"`
	Actions []rawAction   `yaml:"actions"`
}

type rawAction struct {
	Type       string            `yaml:"type"`
	Set        map[string]string `yaml:"set"`
	TargetRole string            `yaml:"targetRole"`
	Channel    string            `yaml:"channel"`
	TemplateID string            `yaml:"templateId"`
	Metadata   map[string]string `yaml:"metadata"`
	PolicyID   string            `yaml:"policyId"`
}

// RuleSet is an immutable, ordered snapshot of loaded rules plus the
// validation errors collected while loading. Evaluation never mutates it, so
// one snapshot can serve any number of concurrent readers.
type RuleSet struct {
	Generation uint64
	rules      []Rule
	errors     []RuleError
}

// Rules returns the rules in load order.
func (rs *RuleSet) Rules() []Rule {
	return rs.rules
}

// Len returns the number of loaded rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Validate reports the per-rule validation errors collected at load time,
// verbatim. An empty slice means the set is clean.
func (rs *RuleSet) Validate() []RuleError {
	return rs.errors
}

// Loader reads rule source files into RuleSet snapshots. One malformed file
// or rule document is skipped with a logged error; the rest of the set loads.
type Loader struct {
	log *zap.SugaredLogger
}

// NewLoader creates a rule loader. A nil logger falls back to the global one.
func NewLoader(log *zap.SugaredLogger) *Loader {
	if log == nil {
		log = zap.S()
	}
	return &Loader{log: log}
}

// LoadFiles reads the given files in order and assembles a RuleSet.
// Returns an error only when no source could be read at all.
func (l *Loader) LoadFiles(paths []string) (*RuleSet, error) {
	var (
		docs     [][]byte
		readErrs int
	)
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			l.log.Errorw("Failed to read rule source, skipping", "path", p, "error", err)
			readErrs++
			continue
		}
		docs = append(docs, content)
	}
	if len(paths) > 0 && readErrs == len(paths) {
		return nil, errors.Errorf("none of the %d rule sources could be read", len(paths))
	}
	return l.Load(docs)
}

// Load assembles a RuleSet from raw rule documents in order. Malformed
// documents are skipped; invalid rules are kept and reported via Validate().
func (l *Loader) Load(docs [][]byte) (*RuleSet, error) {
	rs := &RuleSet{}
	index := 0
	for di, doc := range docs {
		var parsed ruleDocument
		if err := yaml.Unmarshal(doc, &parsed); err != nil {
			l.log.Errorw("Failed to parse rule document, skipping", "document", di, "error", err)
			continue
		}
		for _, raw := range parsed.Rules {
			rule := raw.toRule()
			rs.errors = append(rs.errors, validateRule(rule, index)...)
			rs.rules = append(rs.rules, rule)
			index++
		}
	}
	l.log.Infow("Loaded rule set", "rules", len(rs.rules), "validationErrors", len(rs.errors))
	return rs, nil
}

func (r rawRule) toRule() Rule {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	rule := Rule{
		ID:      r.ID,
		Version: r.Version,
		Enabled: enabled,
		Match:   r.Match,
	}
	for _, a := range r.Actions {
		rule.Actions = append(rule.Actions, a.toAction())
	}
	return rule
}

func (a rawAction) toAction() Action {
	t := ActionType(strings.ToUpper(strings.TrimSpace(a.Type)))
	act := Action{
		Type:       t,
		Set:        a.Set,
		TargetRole: a.TargetRole,
		Channel:    a.Channel,
		TemplateID: a.TemplateID,
		Metadata:   a.Metadata,
		PolicyID:   a.PolicyID,
	}
	if !KnownActionType(t) {
		act.RawType = a.Type
		act.Type = ActionUnrecognized
	}
	return act
}

// validateRule checks one rule against the loading invariants and returns the
// violations. The rule itself is not modified.
func validateRule(r Rule, index int) []RuleError {
	var errs []RuleError
	fail := func(reason string) {
		errs = append(errs, RuleError{RuleID: r.ID, Index: index, Reason: reason})
	}

	if strings.TrimSpace(r.ID) == "" {
		fail("rule id must not be empty")
	}
	if strings.TrimSpace(r.Version) == "" {
		fail("rule version must not be empty")
	}
	if len(r.Actions) == 0 {
		fail("rule must carry at least one action")
	}
	for i, a := range r.Actions {
		switch a.Type {
		case ActionCreateTask:
			if len(a.Set) == 0 {
				fail(actionErr(i, "CREATE_TASK action must carry a non-empty field-override map"))
			}
		case ActionRoute:
			if strings.TrimSpace(a.TargetRole) == "" {
				fail(actionErr(i, "ROUTE action must carry a target role"))
			}
		case ActionNotify:
			if strings.TrimSpace(a.Channel) == "" {
				fail(actionErr(i, "NOTIFY action must carry a channel"))
			}
		case ActionUnrecognized:
			fail(actionErr(i, fmt.Sprintf("unknown action type %q", a.RawType)))
		}
	}
	return errs
}

func actionErr(index int, reason string) string {
	return fmt.Sprintf("action %d: %s", index, reason)
}
