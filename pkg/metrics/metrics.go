package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Signal ingest metrics
	SignalsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_signals_received_total",
		Help: "Total number of signals received for routing",
	}, []string{"organization", "source"})
	SignalActionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_signal_actions_applied_total",
		Help: "Total number of rule actions applied from signals",
	}, []string{"organization", "action_type"})
	SignalActionsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_signal_actions_failed_total",
		Help: "Total number of rule actions that failed to apply",
	}, []string{"organization", "action_type"})

	// Rule engine metrics
	RuleSetReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskrouter_ruleset_reloads_total",
		Help: "Total number of rule set reloads",
	})
	RuleEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_rule_evaluations_total",
		Help: "Total number of rule set evaluations",
	}, []string{"organization"})
	RulesMatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_rules_matched_total",
		Help: "Total number of individual rule matches",
	}, []string{"rule"})

	// Task lifecycle metrics
	TaskCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_task_created_total",
		Help: "Total number of Tasks created",
	}, []string{"organization"})
	TaskStatusChanged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_task_status_changed_total",
		Help: "Total number of Task status transitions",
	}, []string{"organization", "to_status"})
	TaskEscalated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_task_escalated_total",
		Help: "Total number of Task escalations",
	}, []string{"organization"})
	TaskTransitionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_task_transition_rejected_total",
		Help: "Total number of rejected Task status transitions",
	}, []string{"organization"})

	// Escalation scheduler metrics
	SweepRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskrouter_sweep_runs_total",
		Help: "Total number of escalation sweep runs",
	})
	SweepOverdueTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskrouter_sweep_overdue_tasks",
		Help: "Number of overdue unresolved Tasks seen by the last sweep",
	})
	SweepOverdueCritical = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskrouter_sweep_overdue_critical_tasks",
		Help: "Number of overdue critical Tasks seen by the last sweep",
	})
	SweepMaxDelaySeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskrouter_sweep_max_delay_seconds",
		Help: "Largest deadline overshoot in seconds seen by the last sweep",
	})
	SweepRowErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_sweep_row_errors_total",
		Help: "Total number of per-row failures during escalation sweeps",
	}, []string{"pass"})
	EscalationStepsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_escalation_steps_executed_total",
		Help: "Total number of escalation policy step actions executed",
	}, []string{"policy", "action", "outcome"})
	EscalationInstancesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_escalation_instances_completed_total",
		Help: "Total number of escalation instances that reached a final state",
	}, []string{"policy", "state"})

	// Feature flag metrics
	FlagEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_flag_evaluations_total",
		Help: "Total number of feature flag evaluations",
	}, []string{"code", "result"})
	FlagStrategyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_flag_strategy_errors_total",
		Help: "Total number of malformed rollout strategies encountered",
	}, []string{"code"})

	// Notification metrics
	NotifySendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_notify_send_success_total",
		Help: "Total number of successful notification sends",
	}, []string{"sink"})
	NotifySendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_notify_send_failure_total",
		Help: "Total number of failed notification sends",
	}, []string{"sink"})

	// Audit pipeline metrics
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_audit_events_processed_total",
		Help: "Total number of audit events written to sinks",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_audit_events_dropped_total",
		Help: "Total number of audit events dropped before reaching a sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskrouter_audit_sink_errors_total",
		Help: "Total number of audit sink write errors",
	}, []string{"sink", "operation"})
)

func init() {
	prometheus.MustRegister(SignalsReceived)
	prometheus.MustRegister(SignalActionsApplied)
	prometheus.MustRegister(SignalActionsFailed)
	prometheus.MustRegister(RuleSetReloads)
	prometheus.MustRegister(RuleEvaluations)
	prometheus.MustRegister(RulesMatched)
	prometheus.MustRegister(TaskCreated)
	prometheus.MustRegister(TaskStatusChanged)
	prometheus.MustRegister(TaskEscalated)
	prometheus.MustRegister(TaskTransitionRejected)
	prometheus.MustRegister(SweepRuns)
	prometheus.MustRegister(SweepOverdueTasks)
	prometheus.MustRegister(SweepOverdueCritical)
	prometheus.MustRegister(SweepMaxDelaySeconds)
	prometheus.MustRegister(SweepRowErrors)
	prometheus.MustRegister(EscalationStepsExecuted)
	prometheus.MustRegister(EscalationInstancesCompleted)
	prometheus.MustRegister(FlagEvaluations)
	prometheus.MustRegister(FlagStrategyErrors)
	prometheus.MustRegister(NotifySendSuccess)
	prometheus.MustRegister(NotifySendFailure)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
