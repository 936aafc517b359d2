package profile

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/orgsignal/taskrouter/pkg/task"
)

// hardDefaults is the profile served when no organization profile can be
// resolved. Keeping the service routing signals matters more than having the
// right defaults.
var hardDefaults = task.ProfileDefaults{
	Priority:          task.PriorityMedium,
	Severity:          task.SeverityMinor,
	Visibility:        task.VisibilityInternal,
	ReactivitySeconds: task.DefaultReactivitySeconds,
}

// HardDefaults returns the hard-coded fallback profile.
func HardDefaults() task.ProfileDefaults {
	return hardDefaults
}

type profileEntry struct {
	OrganizationID    string `yaml:"organizationId"`
	Priority          string `yaml:"priority"`
	Severity          string `yaml:"severity"`
	Visibility        string `yaml:"visibility"`
	ReactivitySeconds int    `yaml:"reactivitySeconds"`
}

type profileFile struct {
	Profiles []profileEntry `yaml:"profiles"`
}

// Provider serves organization default profiles from a YAML file. It
// implements task.ProfileProvider and always fails soft: a missing file or
// unknown organization yields the hard-coded default profile.
type Provider struct {
	log *zap.SugaredLogger

	mu       sync.RWMutex
	profiles map[string]task.ProfileDefaults
}

// NewProvider creates an empty provider serving hard defaults for every org.
func NewProvider(log *zap.SugaredLogger) *Provider {
	if log == nil {
		log = zap.S()
	}
	return &Provider{log: log, profiles: map[string]task.ProfileDefaults{}}
}

// LoadFile reads profiles from a YAML file and replaces the provider
// contents. Callers may ignore the error: lookups keep working on hard
// defaults.
func (p *Provider) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		p.log.Warnw("Failed to read profile file, serving hard defaults", "path", path, "error", err)
		return errors.Wrapf(err, "failed to read profile file %s", path)
	}
	return p.Load(content)
}

// Load parses profile definitions and replaces the provider contents.
func (p *Provider) Load(content []byte) error {
	var parsed profileFile
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		p.log.Warnw("Failed to parse profile file, serving hard defaults", "error", err)
		return errors.Wrap(err, "failed to parse profile definitions")
	}

	next := make(map[string]task.ProfileDefaults, len(parsed.Profiles))
	for _, e := range parsed.Profiles {
		if e.OrganizationID == "" {
			continue
		}
		d := hardDefaults
		if e.Priority != "" {
			d.Priority = task.Priority(e.Priority)
		}
		if e.Severity != "" {
			d.Severity = task.Severity(e.Severity)
		}
		if e.Visibility != "" {
			d.Visibility = task.Visibility(e.Visibility)
		}
		if e.ReactivitySeconds > 0 {
			d.ReactivitySeconds = e.ReactivitySeconds
		}
		next[e.OrganizationID] = d
	}

	p.mu.Lock()
	p.profiles = next
	p.mu.Unlock()
	p.log.Infow("Loaded organization profiles", "count", len(next))
	return nil
}

// Put registers a single profile, mostly useful in tests.
func (p *Provider) Put(organizationID string, d task.ProfileDefaults) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[organizationID] = d
}

// GetDefaults implements task.ProfileProvider.
func (p *Provider) GetDefaults(organizationID string) task.ProfileDefaults {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if d, ok := p.profiles[organizationID]; ok {
		return d
	}
	return hardDefaults
}
