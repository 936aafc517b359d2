package audit

import (
	"context"

	"go.uber.org/zap"
)

// Recorder is the emitting side of the audit pipeline. It builds events for
// the routing domain and hands them to the configured sink. Emission is
// fire-and-forget: a failing sink is logged, never propagated to the caller.
type Recorder struct {
	sink   Sink
	logger *zap.Logger
}

// NewRecorder creates a Recorder over the given sink. A nil sink yields a
// recorder that drops everything, which keeps call sites unconditional.
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger.Named("audit-recorder")}
}

// Emit writes one event to the sink.
func (r *Recorder) Emit(ctx context.Context, event *Event) {
	if r == nil || r.sink == nil {
		return
	}
	if err := r.sink.Write(ctx, event); err != nil {
		r.logger.Warn("failed to emit audit event",
			zap.String("event_type", string(event.Type)),
			zap.String("error", err.Error()))
	}
}

// SignalReceived records an accepted inbound signal.
func (r *Recorder) SignalReceived(ctx context.Context, organizationID, source string, matched int) {
	ev := NewEvent(EventSignalReceived)
	ev.OrganizationID = organizationID
	ev.Actor = Actor{Component: "ingest"}
	ev.Details = map[string]interface{}{"source": source, "matchedRules": matched}
	r.Emit(ctx, ev)
}

// TaskCreated records a task creation, optionally attributed to a rule.
func (r *Recorder) TaskCreated(ctx context.Context, organizationID, taskID, ruleID string) {
	ev := NewEvent(EventTaskCreated)
	ev.OrganizationID = organizationID
	ev.TaskID = taskID
	ev.RuleID = ruleID
	r.Emit(ctx, ev)
}

// TaskStatusChanged records a lifecycle transition.
func (r *Recorder) TaskStatusChanged(ctx context.Context, organizationID, taskID, from, to, actor string) {
	ev := NewEvent(EventTaskStatusChanged)
	ev.OrganizationID = organizationID
	ev.TaskID = taskID
	ev.Actor = Actor{User: actor}
	ev.Details = map[string]interface{}{"from": from, "to": to}
	r.Emit(ctx, ev)
}

// TaskEscalated records a deadline or manual escalation.
func (r *Recorder) TaskEscalated(ctx context.Context, organizationID, taskID string, level int) {
	ev := NewEvent(EventTaskEscalated)
	ev.OrganizationID = organizationID
	ev.TaskID = taskID
	ev.Actor = Actor{Component: "scheduler"}
	ev.Details = map[string]interface{}{"escalationLevel": level}
	r.Emit(ctx, ev)
}

// EscalationStepped records one executed escalation policy step.
func (r *Recorder) EscalationStepped(ctx context.Context, organizationID, taskID, instanceID string, stepIndex int) {
	ev := NewEvent(EventEscalationStepped)
	ev.OrganizationID = organizationID
	ev.TaskID = taskID
	ev.InstanceID = instanceID
	ev.Actor = Actor{Component: "scheduler"}
	ev.Details = map[string]interface{}{"stepIndex": stepIndex}
	r.Emit(ctx, ev)
}

// SweepCompleted records a finished sweep run with its statistics.
func (r *Recorder) SweepCompleted(ctx context.Context, organizationID string, stats map[string]interface{}) {
	ev := NewEvent(EventSweepCompleted)
	ev.OrganizationID = organizationID
	ev.Actor = Actor{Component: "scheduler"}
	ev.Details = stats
	r.Emit(ctx, ev)
}

// FlagUpdated records a feature flag write.
func (r *Recorder) FlagUpdated(ctx context.Context, organizationID, code, actor string) {
	ev := NewEvent(EventFlagUpdated)
	ev.OrganizationID = organizationID
	ev.FlagCode = code
	ev.Actor = Actor{User: actor}
	r.Emit(ctx, ev)
}

// RulesReloaded records a rule set reload, successful or not.
func (r *Recorder) RulesReloaded(ctx context.Context, generation uint64, ruleCount int, valid bool) {
	ev := NewEvent(EventRulesReloaded)
	ev.Actor = Actor{Component: "rules"}
	ev.Details = map[string]interface{}{
		"generation": generation,
		"ruleCount":  ruleCount,
		"valid":      valid,
	}
	r.Emit(ctx, ev)
}
