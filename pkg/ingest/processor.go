package ingest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/audit"
	"github.com/orgsignal/taskrouter/pkg/escalation"
	"github.com/orgsignal/taskrouter/pkg/metrics"
	"github.com/orgsignal/taskrouter/pkg/notify"
	"github.com/orgsignal/taskrouter/pkg/rules"
	"github.com/orgsignal/taskrouter/pkg/system"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// ActionOutcome reports how one resolved action went. Failed outcomes carry
// the error text; the action itself is echoed back for auditability.
type ActionOutcome struct {
	Action rules.ResolvedAction `json:"action"`
	TaskID string               `json:"taskId,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Result is the outcome of routing one signal: which rules matched, which
// actions were applied and which failed, and the Tasks that were created.
type Result struct {
	Matched []rules.MatchedRule `json:"matched"`
	Applied []ActionOutcome     `json:"applied"`
	Failed  []ActionOutcome     `json:"failed"`
	TaskIDs []string            `json:"taskIds"`
}

// Processor routes signals: it evaluates the current rule set and applies the
// resolved actions in order. One failing action never aborts the rest; every
// outcome is reported separately.
type Processor struct {
	engine    *rules.Engine
	lifecycle *task.Manager
	scheduler *escalation.Scheduler
	notifier  notify.Sink
	recorder  *audit.Recorder
	log       *zap.SugaredLogger
}

// NewProcessor wires a signal processor. scheduler, notifier and recorder may
// be nil; the corresponding action types then fail with a descriptive error
// instead of panicking.
func NewProcessor(engine *rules.Engine, lifecycle *task.Manager, scheduler *escalation.Scheduler,
	notifier notify.Sink, recorder *audit.Recorder, log *zap.SugaredLogger,
) *Processor {
	if log == nil {
		log = zap.S()
	}
	return &Processor{
		engine:    engine,
		lifecycle: lifecycle,
		scheduler: scheduler,
		notifier:  notifier,
		recorder:  recorder,
		log:       log,
	}
}

// Evaluate runs the rule engine for a signal without applying any actions.
// This is the dry-run path.
func (p *Processor) Evaluate(sig Signal) (rules.Result, error) {
	if sig.OrganizationID == "" {
		return rules.Result{}, errors.New("signal organizationId must not be empty")
	}
	return p.engine.Evaluate(sig.Normalize()), nil
}

// Process evaluates and applies a signal. Actions execute in rule order, then
// action order within each rule. A CREATE_TASK action brings a Task into
// scope; subsequent task-directed actions of the evaluation apply to the most
// recently created Task.
func (p *Processor) Process(ctx context.Context, sig Signal) (*Result, error) {
	if sig.OrganizationID == "" {
		return nil, errors.New("signal organizationId must not be empty")
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}
	metrics.SignalsReceived.WithLabelValues(sig.OrganizationID, sig.Source).Inc()

	evaluated := p.engine.Evaluate(sig.Normalize())
	out := &Result{Matched: evaluated.Matched}

	var current *task.Task
	for _, action := range evaluated.Actions {
		created, err := p.applyAction(ctx, sig, action, &current)
		outcome := ActionOutcome{Action: action}
		if current != nil {
			outcome.TaskID = current.ID
		}
		if err != nil {
			outcome.Error = err.Error()
			out.Failed = append(out.Failed, outcome)
			metrics.SignalActionsFailed.WithLabelValues(sig.OrganizationID, string(action.Type)).Inc()
			p.log.Warnw("Signal action failed",
				"organization", sig.OrganizationID, "rule", action.RuleID,
				"action", action.Type, "error", err)
			continue
		}
		out.Applied = append(out.Applied, outcome)
		metrics.SignalActionsApplied.WithLabelValues(sig.OrganizationID, string(action.Type)).Inc()
		if created {
			out.TaskIDs = append(out.TaskIDs, current.ID)
			p.recorder.TaskCreated(ctx, sig.OrganizationID, current.ID, action.RuleID)
		}
	}

	p.recorder.SignalReceived(ctx, sig.OrganizationID, sig.Source, len(evaluated.Matched))
	p.log.Infow("Signal processed",
		"organization", sig.OrganizationID, "source", sig.Source,
		"matched", len(evaluated.Matched), "applied", len(out.Applied),
		"failed", len(out.Failed), "tasks", len(out.TaskIDs))
	return out, nil
}

// applyAction executes one resolved action. It returns whether a new Task was
// created (and placed into *current).
func (p *Processor) applyAction(ctx context.Context, sig Signal, action rules.ResolvedAction, current **task.Task) (bool, error) {
	switch action.Type {
	case rules.ActionCreateTask:
		t, err := p.lifecycle.Create(ctx, p.createRequest(sig, action))
		if err != nil {
			return false, err
		}
		*current = t
		p.log.Debugw("Task created from signal",
			append(system.TaskFields(t.OrganizationID, t.ID), "rule", action.RuleID)...)
		return true, nil

	case rules.ActionUpdateTask:
		t, err := p.requireTask(*current, action)
		if err != nil {
			return false, err
		}
		updated, err := p.lifecycle.MergeMetadata(ctx, t.OrganizationID, t.ID, action.Set)
		if err != nil {
			return false, err
		}
		*current = updated
		return false, nil

	case rules.ActionRoute:
		t, err := p.requireTask(*current, action)
		if err != nil {
			return false, err
		}
		updated, err := p.lifecycle.Assign(ctx, t.OrganizationID, t.ID, action.TargetRole, "")
		if err != nil {
			return false, err
		}
		*current = updated
		return false, nil

	case rules.ActionEscalate:
		t, err := p.requireTask(*current, action)
		if err != nil {
			return false, err
		}
		if p.scheduler == nil {
			return false, errors.New("no escalation scheduler wired")
		}
		_, err = p.scheduler.AttachPolicy(ctx, t, action.PolicyID, sig.ReceivedAt)
		return false, err

	case rules.ActionSetMetadata:
		t, err := p.requireTask(*current, action)
		if err != nil {
			return false, err
		}
		updated, err := p.lifecycle.MergeMetadata(ctx, t.OrganizationID, t.ID, action.Metadata)
		if err != nil {
			return false, err
		}
		*current = updated
		return false, nil

	case rules.ActionAttachTemplate:
		t, err := p.requireTask(*current, action)
		if err != nil {
			return false, err
		}
		updated, err := p.lifecycle.MergeMetadata(ctx, t.OrganizationID, t.ID,
			map[string]string{"templateId": action.TemplateID})
		if err != nil {
			return false, err
		}
		*current = updated
		return false, nil

	case rules.ActionNotify:
		t, err := p.requireTask(*current, action)
		if err != nil {
			return false, err
		}
		if p.notifier == nil {
			return false, errors.New("no notification sink wired")
		}
		return false, p.notifier.Send(ctx, t.Clone(), notify.EventRuleNotify)

	default:
		// Unrecognized actions survive loading so newer rule sets still work,
		// but this engine never executes them.
		return false, errors.Errorf("unrecognized action type %q not executed", action.RawType)
	}
}

func (p *Processor) requireTask(current *task.Task, action rules.ResolvedAction) (*task.Task, error) {
	if current == nil {
		return nil, errors.Errorf("action %s of rule %s has no task in scope", action.Type, action.RuleID)
	}
	return current, nil
}

func (p *Processor) createRequest(sig Signal, action rules.ResolvedAction) task.CreateRequest {
	return task.CreateRequest{
		OrganizationID:  sig.OrganizationID,
		Type:            sig.Type,
		Category:        sig.Category,
		Label:           sig.Label,
		Title:           sig.Title,
		Description:     sig.Description,
		Severity:        task.Severity(sig.Severity),
		Source:          sig.Source,
		AssigneeRole:    action.TargetRole,
		CreatedByUserID: sig.CreatedByUser,
		Metadata:        sig.Metadata,
		Overrides:       action.Set,
	}
}
