package escalation

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// StepActionType enumerates the effects one escalation policy step may
// request.
type StepActionType string

const (
	StepNotifyRole     StepActionType = "notify_role"
	StepNotifyUser     StepActionType = "notify_user"
	StepAutoReassign   StepActionType = "auto_reassign"
	StepUpdateMetadata StepActionType = "update_metadata"
	StepRaiseSeverity  StepActionType = "raise_severity"
	StepAutoClose      StepActionType = "auto_close"
)

// KnownStepActionType reports whether t is a step action this scheduler
// executes.
func KnownStepActionType(t StepActionType) bool {
	switch t {
	case StepNotifyRole, StepNotifyUser, StepAutoReassign,
		StepUpdateMetadata, StepRaiseSeverity, StepAutoClose:
		return true
	}
	return false
}

// StepAction is one effect of a policy step. Fields beyond Type are
// action-specific.
type StepAction struct {
	Type     StepActionType    `yaml:"type" json:"type"`
	Role     string            `yaml:"role,omitempty" json:"role,omitempty"`
	UserID   string            `yaml:"userId,omitempty" json:"userId,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Severity string            `yaml:"severity,omitempty" json:"severity,omitempty"`
}

// Step is one stage of an escalation policy. WaitSeconds is relative to the
// previous step; nil means the policy default applies.
type Step struct {
	WaitSeconds *int         `yaml:"waitSeconds,omitempty" json:"waitSeconds,omitempty"`
	Actions     []StepAction `yaml:"actions" json:"actions"`
}

// Policy is an ordered list of escalation steps, consumed read-only.
type Policy struct {
	ID                 string `yaml:"id" json:"id"`
	DefaultWaitSeconds int    `yaml:"defaultWaitSeconds,omitempty" json:"defaultWaitSeconds,omitempty"`
	Steps              []Step `yaml:"steps" json:"steps"`
}

// WaitFor returns the wait before executing step index, falling back to the
// policy default when the step omits one.
func (p *Policy) WaitFor(index int) int {
	if index < 0 || index >= len(p.Steps) {
		return p.DefaultWaitSeconds
	}
	if w := p.Steps[index].WaitSeconds; w != nil {
		return *w
	}
	return p.DefaultWaitSeconds
}

// PolicyProvider resolves escalation policy definitions by id. A missing or
// unparseable policy is reported by ok=false; the scheduler fails closed on
// it.
type PolicyProvider interface {
	GetPolicy(id string) (*Policy, bool)
}

// StaticProvider serves policies from an in-memory map, reloadable from a
// YAML file. Policies with an empty id or no steps are skipped with a log
// line instead of failing the whole file.
type StaticProvider struct {
	log *zap.SugaredLogger

	mu       sync.RWMutex
	policies map[string]*Policy
}

type policyFile struct {
	Policies []Policy `yaml:"policies"`
}

// NewStaticProvider creates an empty provider.
func NewStaticProvider(log *zap.SugaredLogger) *StaticProvider {
	if log == nil {
		log = zap.S()
	}
	return &StaticProvider{log: log, policies: map[string]*Policy{}}
}

// LoadFile reads policy definitions from a YAML file and replaces the
// provider contents atomically.
func (sp *StaticProvider) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read policy file %s", path)
	}
	return sp.Load(content)
}

// Load parses policy definitions and replaces the provider contents.
func (sp *StaticProvider) Load(content []byte) error {
	var parsed policyFile
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return errors.Wrap(err, "failed to parse policy definitions")
	}

	next := make(map[string]*Policy, len(parsed.Policies))
	for i := range parsed.Policies {
		p := parsed.Policies[i]
		if strings.TrimSpace(p.ID) == "" {
			sp.log.Warnw("Skipping escalation policy with empty id", "index", i)
			continue
		}
		if len(p.Steps) == 0 {
			sp.log.Warnw("Skipping escalation policy with no steps", "policy", p.ID)
			continue
		}
		next[p.ID] = &p
	}

	sp.mu.Lock()
	sp.policies = next
	sp.mu.Unlock()
	sp.log.Infow("Loaded escalation policies", "count", len(next))
	return nil
}

// Put registers a single policy, mostly useful in tests and wiring code.
func (sp *StaticProvider) Put(p *Policy) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.policies[p.ID] = p
}

// GetPolicy implements PolicyProvider.
func (sp *StaticProvider) GetPolicy(id string) (*Policy, bool) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	p, ok := sp.policies[id]
	return p, ok
}
