package featureflag

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/orgsignal/taskrouter/pkg/metrics"
)

// Evaluator decides whether a flag is enabled for a context. Evaluation is
// deterministic: the same flag, context and clock always yield the same
// answer, which is what makes percentage rollouts stable across restarts.
type Evaluator struct {
	log *zap.SugaredLogger
}

// NewEvaluator creates a flag evaluator. A nil logger falls back to the
// global one.
func NewEvaluator(log *zap.SugaredLogger) *Evaluator {
	if log == nil {
		log = zap.S()
	}
	return &Evaluator{log: log}
}

// IsEnabled evaluates one already-resolved flag row at the given time.
// A nil flag is disabled. A malformed strategy is disabled (fail-closed)
// and logged as a warning.
func (e *Evaluator) IsEnabled(flag *Flag, evalCtx Context, now time.Time) bool {
	if flag == nil || !flag.Enabled {
		return false
	}
	if flag.EnabledFrom != nil && now.Before(*flag.EnabledFrom) {
		return false
	}
	if flag.DisabledAt != nil && !now.Before(*flag.DisabledAt) {
		return false
	}
	if flag.Strategy == nil {
		return true
	}

	ok, err := evaluateStrategy(flag.Strategy, evalCtx)
	if err != nil {
		metrics.FlagStrategyErrors.WithLabelValues(flag.Code).Inc()
		e.log.Warnw("Malformed rollout strategy, treating flag as disabled",
			"code", flag.Code, "organization", flag.OrganizationID, "error", err)
		return false
	}
	return ok
}

// ValidateStrategy checks a rollout strategy shape without evaluating it, so
// flag write paths can reject misconfiguration up front instead of relying
// on the runtime fail-closed default.
func ValidateStrategy(s *RolloutStrategy) error {
	if s == nil {
		return nil
	}
	_, err := evaluateStrategy(s, Context{})
	return err
}

func evaluateStrategy(s *RolloutStrategy, evalCtx Context) (bool, error) {
	switch s.Type {
	case StrategyAll:
		return true, nil
	case StrategyPercentage:
		pct := s.Percentage
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		if pct == 0 {
			return false, nil
		}
		if pct == 100 {
			return true, nil
		}
		return bucket(seedFor(s, evalCtx)) < pct, nil
	case StrategyRoles:
		if len(s.RoleCodes) == 0 {
			return false, nil
		}
		for _, have := range evalCtx.Roles {
			for _, want := range s.RoleCodes {
				if strings.EqualFold(have, want) {
					return true, nil
				}
			}
		}
		return false, nil
	case StrategyUsers:
		if evalCtx.UserID == "" {
			return false, nil
		}
		for _, u := range s.UserIDs {
			if u == evalCtx.UserID {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, errors.Errorf("unknown rollout strategy type %q", s.Type)
	}
}

// seedFor picks the bucketing seed: explicit strategy seed, else the most
// specific identity available, else the literal "global" so every caller
// without identity lands in the same bucket.
func seedFor(s *RolloutStrategy, evalCtx Context) string {
	if s.Seed != "" {
		return s.Seed
	}
	if evalCtx.UserID != "" {
		return "user:" + evalCtx.UserID
	}
	if evalCtx.OrganizationID != "" {
		return "org:" + evalCtx.OrganizationID
	}
	if len(evalCtx.Roles) > 0 {
		roles := append([]string(nil), evalCtx.Roles...)
		sort.Strings(roles)
		return "roles:" + strings.Join(roles, ",")
	}
	return "global"
}

// bucket maps a seed string deterministically into [0,100). xxhash is stable
// across process restarts and platforms.
func bucket(seed string) float64 {
	h := xxhash.Sum64String(seed)
	return float64(h%10000) / 100.0
}

// Service resolves flag rows from a store and evaluates them. It implements
// the FeatureGate shape the scheduler and the rule paths consume.
type Service struct {
	store     Store
	evaluator *Evaluator
	log       *zap.SugaredLogger
}

// NewService creates a flag service over the given store.
func NewService(store Store, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.S()
	}
	return &Service{store: store, evaluator: NewEvaluator(log), log: log}
}

// Resolve returns the effective flag row for (code, organizationID): the
// org-scoped row when present, else the global row, else ErrNotFound.
func (s *Service) Resolve(ctx context.Context, code, organizationID string) (*Flag, error) {
	if organizationID != "" {
		if f, err := s.store.GetFlag(ctx, code, organizationID); err == nil {
			return f, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.store.GetFlag(ctx, code, "")
}

// IsEnabled resolves and evaluates a flag. An absent flag is disabled.
func (s *Service) IsEnabled(ctx context.Context, code string, evalCtx Context) bool {
	return s.enabled(ctx, code, evalCtx, false)
}

// Enabled resolves and evaluates a flag, returning fallback when no flag row
// exists for the code. This is the kill-switch shape internal gates use.
func (s *Service) Enabled(ctx context.Context, code, organizationID string, fallback bool) bool {
	return s.enabled(ctx, code, Context{OrganizationID: organizationID}, fallback)
}

func (s *Service) enabled(ctx context.Context, code string, evalCtx Context, fallback bool) bool {
	flag, err := s.Resolve(ctx, code, evalCtx.OrganizationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warnw("Flag lookup failed, using fallback", "code", code, "error", err)
		}
		metrics.FlagEvaluations.WithLabelValues(code, result(fallback)).Inc()
		return fallback
	}
	enabled := s.evaluator.IsEnabled(flag, evalCtx, time.Now().UTC())
	metrics.FlagEvaluations.WithLabelValues(code, result(enabled)).Inc()
	return enabled
}

func result(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
