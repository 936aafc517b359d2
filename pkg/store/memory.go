package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/featureflag"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// Memory is an in-memory implementation of every persistence contract. It is
// the default wiring for development and the backend all package tests use.
type Memory struct {
	mu        sync.RWMutex
	tasks     map[string]*task.Task           // key organizationID/taskID
	instances map[string]*escalation.Instance // key instance id
	events    map[string][]*escalation.Event  // key instance id
	flags     map[string]*featureflag.Flag    // key code@organizationID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:     map[string]*task.Task{},
		instances: map[string]*escalation.Instance{},
		events:    map[string][]*escalation.Event{},
		flags:     map[string]*featureflag.Flag{},
	}
}

func taskKey(organizationID, taskID string) string {
	return organizationID + "/" + taskID
}

func flagKey(code, organizationID string) string {
	return code + "@" + organizationID
}

// --- task.Store ---

func (m *Memory) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[taskKey(t.OrganizationID, t.ID)] = t.Clone()
	return nil
}

func (m *Memory) GetTask(_ context.Context, organizationID, taskID string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskKey(organizationID, taskID)]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := taskKey(t.OrganizationID, t.ID)
	if _, ok := m.tasks[key]; !ok {
		return task.ErrNotFound
	}
	m.tasks[key] = t.Clone()
	return nil
}

func (m *Memory) ListTasks(_ context.Context, organizationID string) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*task.Task
	for _, t := range m.tasks {
		if organizationID == "" || t.OrganizationID == organizationID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListOverdueTasks(_ context.Context, organizationID string, now time.Time, limit int) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*task.Task
	for _, t := range m.tasks {
		if organizationID != "" && t.OrganizationID != organizationID {
			continue
		}
		if !t.Status.Unresolved() {
			continue
		}
		if t.ReactivityDeadlineAt == nil || t.ReactivityDeadlineAt.After(now) {
			continue
		}
		out = append(out, t.Clone())
	}
	// Oldest deadline first so the most overdue work is handled inside the
	// row limit.
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReactivityDeadlineAt.Before(*out[j].ReactivityDeadlineAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- escalation.InstanceStore ---

func (m *Memory) CreateInstance(_ context.Context, in *escalation.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.instances[in.ID] = &cp
	return nil
}

func (m *Memory) GetInstance(_ context.Context, id string) (*escalation.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[id]
	if !ok {
		return nil, escalation.ErrInstanceNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *Memory) UpdateInstance(_ context.Context, in *escalation.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[in.ID]; !ok {
		return escalation.ErrInstanceNotFound
	}
	cp := *in
	m.instances[in.ID] = &cp
	return nil
}

func (m *Memory) ListDueInstances(_ context.Context, organizationID string, now time.Time, limit int) ([]*escalation.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*escalation.Instance
	for _, in := range m.instances {
		if organizationID != "" && in.OrganizationID != organizationID {
			continue
		}
		if !in.Status.Active() {
			continue
		}
		if in.NextFireAt.After(now) {
			continue
		}
		cp := *in
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextFireAt.Before(out[j].NextFireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListTaskInstances(_ context.Context, organizationID, taskID string) ([]*escalation.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*escalation.Instance
	for _, in := range m.instances {
		if in.OrganizationID == organizationID && in.TaskID == taskID {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- escalation.EventStore ---

func (m *Memory) AppendEvent(_ context.Context, ev *escalation.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events[ev.InstanceID] = append(m.events[ev.InstanceID], &cp)
	return nil
}

func (m *Memory) ListInstanceEvents(_ context.Context, instanceID string) ([]*escalation.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[instanceID]
	out := make([]*escalation.Event, 0, len(evs))
	for _, ev := range evs {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

// --- featureflag.Store ---

func (m *Memory) GetFlag(_ context.Context, code, organizationID string) (*featureflag.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flags[flagKey(code, organizationID)]
	if !ok {
		return nil, featureflag.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) PutFlag(_ context.Context, f *featureflag.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.flags[flagKey(f.Code, f.OrganizationID)] = &cp
	return nil
}

func (m *Memory) ListFlags(_ context.Context, organizationID string) ([]*featureflag.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*featureflag.Flag
	for _, f := range m.flags {
		if organizationID == "" || f.OrganizationID == organizationID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
