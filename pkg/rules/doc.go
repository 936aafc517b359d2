// Package rules implements the declarative rule-matching engine that decides
// which actions an incoming signal triggers. Rule sets are immutable
// snapshots swapped atomically on reload; evaluation is pure and safe for
// concurrent use.
package rules
