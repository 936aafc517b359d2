package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/metrics"
	"github.com/orgsignal/taskrouter/pkg/system"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// PolicySteppingGate is the feature flag code consulted before pass B.
const PolicySteppingGate = "scheduler.policy-stepping"

// Notifier is the narrow notification contract the scheduler needs. Outcomes
// are advisory: a failed send is logged and recorded, never fatal.
type Notifier interface {
	Send(ctx context.Context, snapshot *task.Task, eventType string) error
}

// FeatureGate checks a feature flag, returning fallback when no flag row
// exists for the code.
type FeatureGate interface {
	Enabled(ctx context.Context, code, organizationID string, fallback bool) bool
}

// Limits bound how many rows each sweep pass processes. They cap the blast
// radius of one cycle; exclusivity comes from running the sweep as a
// singleton per deployment.
type Limits struct {
	TaskLimit     int
	InstanceLimit int
}

// Stats summarizes one sweep. The overdue counters and MaxDelaySeconds are
// the inputs an alerting collaborator consumes; the scheduler itself decides
// no thresholds.
type Stats struct {
	OverdueUnresolved  int     `json:"overdueUnresolved"`
	OverdueCritical    int     `json:"overdueCritical"`
	MaxDelaySeconds    float64 `json:"maxDelaySeconds"`
	TasksEscalated     int     `json:"tasksEscalated"`
	InstancesAdvanced  int     `json:"instancesAdvanced"`
	InstancesCompleted int     `json:"instancesCompleted"`
	InstancesCancelled int     `json:"instancesCancelled"`
	RowErrors          int     `json:"rowErrors"`
}

// Scheduler drives the deadline sweep and policy stepping. It is expected to
// run as a singleton per deployment (or behind a distributed lock); Sweep is
// idempotent because "already escalated" and "already advanced" are visible
// in the Task/Instance state the next run re-reads.
type Scheduler struct {
	taskStore task.Store
	lifecycle *task.Manager
	instances InstanceStore
	events    EventStore
	policies  PolicyProvider
	notifier  Notifier
	gate      FeatureGate
	log       *zap.SugaredLogger
}

// NewScheduler wires an escalation scheduler. notifier and gate may be nil
// (no notifications, pass B always on).
func NewScheduler(taskStore task.Store, lifecycle *task.Manager, instances InstanceStore,
	events EventStore, policies PolicyProvider, notifier Notifier, gate FeatureGate,
	log *zap.SugaredLogger,
) *Scheduler {
	if log == nil {
		log = zap.S()
	}
	return &Scheduler{
		taskStore: taskStore,
		lifecycle: lifecycle,
		instances: instances,
		events:    events,
		policies:  policies,
		notifier:  notifier,
		gate:      gate,
		log:       log,
	}
}

// AttachPolicy creates a scheduled escalation instance for the Task, firing
// its first step after the step's own wait. A Task keeps at most one active
// instance per policy; attaching again returns the existing one.
func (s *Scheduler) AttachPolicy(ctx context.Context, t *task.Task, policyID string, now time.Time) (*Instance, error) {
	existing, err := s.instances.ListTaskInstances(ctx, t.OrganizationID, t.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list task instances")
	}
	for _, in := range existing {
		if in.PolicyID == policyID && in.Status.Active() {
			s.log.Debugw("Policy already attached", append(system.TaskFields(t.OrganizationID, t.ID), "policy", policyID)...)
			return in, nil
		}
	}

	policy, ok := s.policies.GetPolicy(policyID)
	if !ok {
		return nil, errors.Errorf("unknown escalation policy %q", policyID)
	}

	in := &Instance{
		ID:               uuid.NewString(),
		OrganizationID:   t.OrganizationID,
		TaskID:           t.ID,
		PolicyID:         policyID,
		CurrentStepIndex: 0,
		Status:           InstanceScheduled,
		NextFireAt:       now.Add(time.Duration(policy.WaitFor(0)) * time.Second),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.instances.CreateInstance(ctx, in); err != nil {
		return nil, errors.Wrap(err, "failed to persist escalation instance")
	}
	s.log.Infow("Escalation policy attached", append(system.TaskFields(t.OrganizationID, t.ID),
		"policy", policyID, "nextFireAt", in.NextFireAt)...)
	return in, nil
}

// ListTaskInstances returns all escalation instances attached to a Task.
func (s *Scheduler) ListTaskInstances(ctx context.Context, organizationID, taskID string) ([]*Instance, error) {
	return s.instances.ListTaskInstances(ctx, organizationID, taskID)
}

// Cancel aborts an active instance manually.
func (s *Scheduler) Cancel(ctx context.Context, instanceID string) (*Instance, error) {
	in, err := s.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !in.Status.Active() {
		return in, nil
	}
	in.Status = InstanceCancelled
	in.UpdatedAt = time.Now().UTC()
	if err := s.instances.UpdateInstance(ctx, in); err != nil {
		return nil, errors.Wrap(err, "failed to persist instance cancellation")
	}
	metrics.EscalationInstancesCompleted.WithLabelValues(in.PolicyID, string(InstanceCancelled)).Inc()
	return in, nil
}

// Sweep runs both passes once. Per-row failures are counted and logged but
// never abort the remaining rows; rerunning with an unchanged clock does not
// double-escalate or double-advance anything.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time, organizationID string, limits Limits) Stats {
	metrics.SweepRuns.Inc()
	stats := Stats{}

	s.sweepDeadlines(ctx, now, organizationID, limits.TaskLimit, &stats)

	if s.gate == nil || s.gate.Enabled(ctx, PolicySteppingGate, organizationID, true) {
		s.stepInstances(ctx, now, organizationID, limits.InstanceLimit, &stats)
	} else {
		s.log.Infow("Policy stepping disabled by feature gate", "organization", organizationID)
	}

	metrics.SweepOverdueTasks.Set(float64(stats.OverdueUnresolved))
	metrics.SweepOverdueCritical.Set(float64(stats.OverdueCritical))
	metrics.SweepMaxDelaySeconds.Set(stats.MaxDelaySeconds)

	s.log.Infow("Sweep finished",
		"overdueUnresolved", stats.OverdueUnresolved,
		"overdueCritical", stats.OverdueCritical,
		"maxDelaySeconds", stats.MaxDelaySeconds,
		"tasksEscalated", stats.TasksEscalated,
		"instancesAdvanced", stats.InstancesAdvanced,
		"instancesCompleted", stats.InstancesCompleted,
		"instancesCancelled", stats.InstancesCancelled,
		"rowErrors", stats.RowErrors)
	return stats
}

// sweepDeadlines is pass A: escalate unresolved Tasks whose reactivity
// deadline has passed.
func (s *Scheduler) sweepDeadlines(ctx context.Context, now time.Time, organizationID string, limit int, stats *Stats) {
	overdue, err := s.taskStore.ListOverdueTasks(ctx, organizationID, now, limit)
	if err != nil {
		s.log.Errorw("Failed to list overdue tasks for deadline sweep", "error", err)
		stats.RowErrors++
		metrics.SweepRowErrors.WithLabelValues("deadline").Inc()
		return
	}

	for _, t := range overdue {
		// Defend against races: the store query and this check may disagree
		// when another writer touched the Task in between.
		if t.ReactivityDeadlineAt == nil || t.ReactivityDeadlineAt.After(now) || !t.Status.Unresolved() {
			continue
		}

		stats.OverdueUnresolved++
		if t.Severity == task.SeverityCritical || t.Priority == task.PriorityCritical {
			stats.OverdueCritical++
		}
		if delay := now.Sub(*t.ReactivityDeadlineAt).Seconds(); delay > stats.MaxDelaySeconds {
			stats.MaxDelaySeconds = delay
		}

		// Already-escalated Tasks still count as overdue but are not escalated
		// again; rerunning the sweep with an unchanged clock stays idempotent.
		if t.Status == task.StatusEscalated {
			continue
		}

		escalated, err := s.lifecycle.Escalate(ctx, t.OrganizationID, t.ID)
		if err != nil {
			s.log.Errorw("Failed to escalate overdue task", append(system.TaskFields(t.OrganizationID, t.ID), "error", err)...)
			stats.RowErrors++
			metrics.SweepRowErrors.WithLabelValues("deadline").Inc()
			continue
		}
		stats.TasksEscalated++
		s.notify(ctx, escalated, "ESCALATED")
	}
}

// stepInstances is pass B: advance due escalation instances through their
// policies.
func (s *Scheduler) stepInstances(ctx context.Context, now time.Time, organizationID string, limit int, stats *Stats) {
	due, err := s.instances.ListDueInstances(ctx, organizationID, now, limit)
	if err != nil {
		s.log.Errorw("Failed to list due escalation instances", "error", err)
		stats.RowErrors++
		metrics.SweepRowErrors.WithLabelValues("policy").Inc()
		return
	}

	for _, in := range due {
		if err := s.stepInstance(ctx, now, in, stats); err != nil {
			s.log.Errorw("Failed to step escalation instance",
				"instance", in.ID, "policy", in.PolicyID, "error", err)
			stats.RowErrors++
			metrics.SweepRowErrors.WithLabelValues("policy").Inc()
		}
	}
}

func (s *Scheduler) stepInstance(ctx context.Context, now time.Time, in *Instance, stats *Stats) error {
	t, err := s.lifecycle.Get(ctx, in.OrganizationID, in.TaskID)
	if err != nil {
		return errors.Wrap(err, "failed to load task for instance")
	}

	// A resolved Task ends the instance without executing further steps.
	if !t.Status.Unresolved() {
		in.Status = InstanceCancelled
		in.UpdatedAt = now
		if err := s.instances.UpdateInstance(ctx, in); err != nil {
			return errors.Wrap(err, "failed to cancel instance for resolved task")
		}
		stats.InstancesCancelled++
		metrics.EscalationInstancesCompleted.WithLabelValues(in.PolicyID, string(InstanceCancelled)).Inc()
		s.log.Infow("Cancelled escalation instance for resolved task",
			append(system.TaskFields(in.OrganizationID, in.TaskID), "instance", in.ID)...)
		return nil
	}

	policy, ok := s.policies.GetPolicy(in.PolicyID)
	if !ok || len(policy.Steps) == 0 {
		// Fail closed on missing or unusable policy data: never spin on it.
		in.Status = InstanceCompleted
		in.UpdatedAt = now
		if err := s.instances.UpdateInstance(ctx, in); err != nil {
			return errors.Wrap(err, "failed to complete instance with missing policy")
		}
		stats.InstancesCompleted++
		metrics.EscalationInstancesCompleted.WithLabelValues(in.PolicyID, string(InstanceCompleted)).Inc()
		s.log.Warnw("Completed escalation instance with missing policy definition",
			"instance", in.ID, "policy", in.PolicyID)
		return nil
	}

	if in.CurrentStepIndex >= len(policy.Steps) {
		in.Status = InstanceCompleted
		in.UpdatedAt = now
		if err := s.instances.UpdateInstance(ctx, in); err != nil {
			return errors.Wrap(err, "failed to complete exhausted instance")
		}
		stats.InstancesCompleted++
		metrics.EscalationInstancesCompleted.WithLabelValues(in.PolicyID, string(InstanceCompleted)).Inc()
		return nil
	}

	step := policy.Steps[in.CurrentStepIndex]
	for _, action := range step.Actions {
		err := s.executeStepAction(ctx, t, action)
		s.recordEvent(ctx, in, action, now, err)
		outcome := "success"
		if err != nil {
			// Partial-failure semantics: one failing action must not block
			// the remaining actions of the step.
			outcome = "failure"
			s.log.Errorw("Escalation step action failed",
				append(system.TaskFields(in.OrganizationID, in.TaskID),
					"instance", in.ID, "step", in.CurrentStepIndex, "action", action.Type, "error", err)...)
		}
		metrics.EscalationStepsExecuted.WithLabelValues(in.PolicyID, string(action.Type), outcome).Inc()
	}

	next := in.CurrentStepIndex + 1
	if next >= len(policy.Steps) {
		in.Status = InstanceCompleted
		in.CurrentStepIndex = next
		in.UpdatedAt = now
		if err := s.instances.UpdateInstance(ctx, in); err != nil {
			return errors.Wrap(err, "failed to complete instance")
		}
		stats.InstancesCompleted++
		metrics.EscalationInstancesCompleted.WithLabelValues(in.PolicyID, string(InstanceCompleted)).Inc()
		s.log.Infow("Escalation instance completed",
			append(system.TaskFields(in.OrganizationID, in.TaskID), "instance", in.ID)...)
		return nil
	}

	in.CurrentStepIndex = next
	in.Status = InstanceInProgress
	in.NextFireAt = now.Add(time.Duration(policy.WaitFor(next)) * time.Second)
	in.UpdatedAt = now
	if err := s.instances.UpdateInstance(ctx, in); err != nil {
		return errors.Wrap(err, "failed to advance instance")
	}
	stats.InstancesAdvanced++
	s.log.Infow("Escalation instance advanced",
		append(system.TaskFields(in.OrganizationID, in.TaskID),
			"instance", in.ID, "step", next, "nextFireAt", in.NextFireAt)...)
	return nil
}

func (s *Scheduler) executeStepAction(ctx context.Context, t *task.Task, action StepAction) error {
	switch action.Type {
	case StepNotifyRole, StepNotifyUser:
		if s.notifier == nil {
			return nil
		}
		return s.notifier.Send(ctx, t.Clone(), "ESCALATION_STEP")
	case StepAutoReassign:
		_, err := s.lifecycle.Assign(ctx, t.OrganizationID, t.ID, action.Role, action.UserID)
		return err
	case StepUpdateMetadata:
		_, err := s.lifecycle.MergeMetadata(ctx, t.OrganizationID, t.ID, action.Metadata)
		return err
	case StepRaiseSeverity:
		_, err := s.lifecycle.SetSeverity(ctx, t.OrganizationID, t.ID, task.Severity(action.Severity))
		return err
	case StepAutoClose:
		_, err := s.lifecycle.UpdateStatus(ctx, t.OrganizationID, t.ID, task.StatusCompleted)
		return err
	default:
		return errors.Errorf("unknown step action type %q", action.Type)
	}
}

func (s *Scheduler) recordEvent(ctx context.Context, in *Instance, action StepAction, now time.Time, actionErr error) {
	if s.events == nil {
		return
	}
	ev := &Event{
		ID:             uuid.NewString(),
		InstanceID:     in.ID,
		OrganizationID: in.OrganizationID,
		TaskID:         in.TaskID,
		PolicyID:       in.PolicyID,
		StepIndex:      in.CurrentStepIndex,
		Action:         action.Type,
		Success:        actionErr == nil,
		OccurredAt:     now,
	}
	if actionErr != nil {
		ev.Error = actionErr.Error()
	}
	if err := s.events.AppendEvent(ctx, ev); err != nil {
		s.log.Errorw("Failed to record escalation event", "instance", in.ID, "error", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, t *task.Task, eventType string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, t.Clone(), eventType); err != nil {
		s.log.Warnw("Notification send failed",
			append(system.TaskFields(t.OrganizationID, t.ID), "eventType", eventType, "error", err)...)
	}
}
