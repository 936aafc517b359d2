// Package escalation implements the deadline-driven escalation scheduler:
// a periodic sweep that escalates overdue Tasks and advances multi-step
// escalation policy instances.
package escalation
