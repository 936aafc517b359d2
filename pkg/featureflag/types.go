package featureflag

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no flag row exists for the requested code.
var ErrNotFound = errors.New("feature flag not found")

// StrategyType selects how a rollout strategy gates a flag.
type StrategyType string

const (
	StrategyAll        StrategyType = "all"
	StrategyPercentage StrategyType = "percentage"
	StrategyRoles      StrategyType = "roles"
	StrategyUsers      StrategyType = "users"
)

// RolloutStrategy narrows which evaluation contexts see an enabled flag.
// A nil strategy on a Flag means no narrowing.
type RolloutStrategy struct {
	Type       StrategyType `json:"type" yaml:"type"`
	Percentage float64      `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Seed       string       `json:"seed,omitempty" yaml:"seed,omitempty"`
	RoleCodes  []string     `json:"roleCodes,omitempty" yaml:"roleCodes,omitempty"`
	UserIDs    []string     `json:"userIds,omitempty" yaml:"userIds,omitempty"`
}

// Flag is one feature flag row. OrganizationID empty means global; an
// org-scoped row overrides the global row for the same code.
type Flag struct {
	Code           string           `json:"code"`
	OrganizationID string           `json:"organizationId,omitempty"`
	Enabled        bool             `json:"enabled"`
	EnabledFrom    *time.Time       `json:"enabledFrom,omitempty"`
	DisabledAt     *time.Time       `json:"disabledAt,omitempty"`
	Strategy       *RolloutStrategy `json:"rolloutStrategy,omitempty"`
}

// Context carries the identity pieces a rollout strategy may bucket on.
type Context struct {
	OrganizationID string   `json:"organizationId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	Roles          []string `json:"roles,omitempty"`
}

// Store is the persistence contract for feature flags. Get resolves one row
// by exact (code, organizationID); organizationID "" addresses the global
// row.
type Store interface {
	GetFlag(ctx context.Context, code, organizationID string) (*Flag, error)
	PutFlag(ctx context.Context, f *Flag) error
	ListFlags(ctx context.Context, organizationID string) ([]*Flag, error)
}
