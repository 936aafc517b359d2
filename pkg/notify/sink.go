package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/system"
	"github.com/orgsignal/taskrouter/pkg/task"
)

// Event type values passed to Sink.Send.
const (
	EventTaskCreated    = "TASK_CREATED"
	EventTaskEscalated  = "ESCALATED"
	EventEscalationStep = "ESCALATION_STEP"
	EventRuleNotify     = "RULE_NOTIFY"
)

// Sink delivers a lifecycle notification for a task. Implementations must be
// safe for concurrent use.
type Sink interface {
	// Send delivers a notification about the given task for the given event
	// type.
	Send(ctx context.Context, t *task.Task, eventType string) error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes notifications to the structured logger. It is the default
// sink when no delivery channel is configured.
type LogSink struct {
	log *zap.SugaredLogger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *zap.SugaredLogger) *LogSink {
	if log == nil {
		log = zap.S()
	}
	return &LogSink{log: log.Named("notify")}
}

func (s *LogSink) Send(_ context.Context, t *task.Task, eventType string) error {
	fields := append(system.TaskFields(t.OrganizationID, t.ID),
		"event", eventType,
		"status", string(t.Status),
		"priority", string(t.Priority),
		"severity", string(t.Severity),
		"escalationLevel", t.EscalationLevel,
	)
	if t.AssigneeRole != "" {
		fields = append(fields, "assigneeRole", t.AssigneeRole)
	}
	s.log.Infow("Task notification", fields...)
	return nil
}

func (s *LogSink) Name() string {
	return "log"
}

// MultiSink fans a notification out to several sinks. Failures are logged per
// sink and the last error is returned so a single broken channel does not
// silence the others.
type MultiSink struct {
	sinks []Sink
	log   *zap.SugaredLogger
}

// NewMultiSink creates a sink delivering to all given sinks.
func NewMultiSink(log *zap.SugaredLogger, sinks ...Sink) *MultiSink {
	if log == nil {
		log = zap.S()
	}
	return &MultiSink{sinks: sinks, log: log}
}

func (s *MultiSink) Send(ctx context.Context, t *task.Task, eventType string) error {
	var lastErr error
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, t, eventType); err != nil {
			s.log.Warnw("Notification sink failed",
				"sink", sink.Name(), "event", eventType, "error", err.Error())
			lastErr = err
		}
	}
	return lastErr
}

func (s *MultiSink) Name() string {
	return "multi"
}
