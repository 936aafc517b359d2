// Package ingest turns inbound signals into routed work: it normalizes each
// signal, evaluates it against the active rule set and applies the resolved
// actions (task creation, routing, escalation policy attachment, metadata
// patches, notifications) with per-action failure isolation.
package ingest
