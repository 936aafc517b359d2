// Package notify delivers task lifecycle notifications (creation,
// escalation, escalation policy steps) over configurable channels: the
// structured log, SMTP mail and HTTP webhooks. Sinks can be combined with
// MultiSink so one broken channel never silences the others.
package notify
