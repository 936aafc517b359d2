package rules

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/orgsignal/taskrouter/pkg/metrics"
)

// Engine evaluates event contexts against the currently active RuleSet.
// The active set is an immutable snapshot behind an atomic pointer; Reload
// swaps the whole snapshot so readers never observe a half-applied set.
type Engine struct {
	log      *zap.SugaredLogger
	loader   *Loader
	current  atomic.Pointer[RuleSet]
	genCount atomic.Uint64
}

// NewEngine creates an Engine with an empty active rule set.
func NewEngine(log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.S()
	}
	e := &Engine{log: log, loader: NewLoader(log)}
	e.current.Store(&RuleSet{})
	return e
}

// Current returns the active rule set snapshot.
func (e *Engine) Current() *RuleSet {
	return e.current.Load()
}

// Reload loads the given rule source documents and atomically activates the
// resulting set. The previous set stays active when loading fails outright.
func (e *Engine) Reload(docs [][]byte) (*RuleSet, error) {
	rs, err := e.loader.Load(docs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load rule set")
	}
	e.activate(rs)
	return rs, nil
}

// ReloadFiles is Reload for rule source file paths.
func (e *Engine) ReloadFiles(paths []string) (*RuleSet, error) {
	rs, err := e.loader.LoadFiles(paths)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load rule set from files")
	}
	e.activate(rs)
	return rs, nil
}

func (e *Engine) activate(rs *RuleSet) {
	rs.Generation = e.genCount.Add(1)
	e.current.Store(rs)
	metrics.RuleSetReloads.Inc()
	e.log.Infow("Activated rule set", "generation", rs.Generation, "rules", rs.Len(), "validationErrors", len(rs.Validate()))
}

// Evaluate matches ctx against the active rule set. See EvaluateSet.
func (e *Engine) Evaluate(ctx EventContext) Result {
	return e.EvaluateSet(ctx, e.Current())
}

// EvaluateSet matches ctx against rs and resolves the actions of every
// matching rule, in rule order then action order. It is a pure function of
// its inputs: no I/O, no randomness, and repeated calls yield byte-identical
// results, which is what makes the dry-run mode trustworthy.
func (e *Engine) EvaluateSet(ctx EventContext, rs *RuleSet) Result {
	res := Result{Matched: []MatchedRule{}, Actions: []ResolvedAction{}}
	if rs == nil {
		return res
	}
	haystack := keywordHaystack(ctx)
	for _, rule := range rs.Rules() {
		if !rule.Enabled {
			continue
		}
		if !matches(rule.Match, ctx, haystack) {
			continue
		}
		res.Matched = append(res.Matched, MatchedRule{RuleID: rule.ID, RuleVersion: rule.Version})
		metrics.RulesMatched.WithLabelValues(rule.ID).Inc()
		for _, a := range rule.Actions {
			res.Actions = append(res.Actions, ResolvedAction{
				Action:      a,
				RuleID:      rule.ID,
				RuleVersion: rule.Version,
			})
		}
	}
	metrics.RuleEvaluations.WithLabelValues(ctx.OrganizationID).Inc()
	return res
}

// matches reports whether every specified criterion holds for ctx. Absent
// criteria are wildcards.
func matches(m MatchCriteria, ctx EventContext, haystack string) bool {
	if m.Source != "" && !strings.EqualFold(m.Source, ctx.Source) {
		return false
	}
	if m.Type != "" && !strings.EqualFold(m.Type, ctx.Type) {
		return false
	}
	if m.Category != "" && !strings.EqualFold(m.Category, ctx.Category) {
		return false
	}
	if m.Severity != "" && !strings.EqualFold(m.Severity, ctx.Severity) {
		return false
	}
	if m.LabelPrefix != "" && !strings.HasPrefix(ctx.Label, m.LabelPrefix) {
		return false
	}
	if m.LabelNumericBase != nil && labelNumericBase(ctx.Label) != *m.LabelNumericBase {
		return false
	}
	if len(m.KeywordsAny) > 0 && !anyKeyword(haystack, m.KeywordsAny) {
		return false
	}
	if len(m.KeywordsAll) > 0 && !allKeywords(haystack, m.KeywordsAll) {
		return false
	}
	return true
}

// labelNumericBase parses the substring before the first '.' of the label as
// an integer. Returns -1 when the label has no parseable numeric base, which
// never equals a valid criterion value.
func labelNumericBase(label string) int {
	base := label
	if idx := strings.Index(label, "."); idx >= 0 {
		base = label[:idx]
	}
	n, err := strconv.Atoi(strings.TrimSpace(base))
	if err != nil {
		return -1
	}
	return n
}

// keywordHaystack concatenates title, description and the serialized
// metadata/payload maps into one lowercase string. Maps are serialized with
// encoding/json, which orders keys, keeping the haystack deterministic.
func keywordHaystack(ctx EventContext) string {
	var b strings.Builder
	b.WriteString(ctx.Title)
	b.WriteByte(' ')
	b.WriteString(ctx.Description)
	if len(ctx.Metadata) > 0 {
		if enc, err := json.Marshal(ctx.Metadata); err == nil {
			b.WriteByte(' ')
			b.Write(enc)
		}
	}
	if len(ctx.Payload) > 0 {
		if enc, err := json.Marshal(ctx.Payload); err == nil {
			b.WriteByte(' ')
			b.Write(enc)
		}
	}
	return strings.ToLower(b.String())
}

func anyKeyword(haystack string, keywords []string) bool {
	return slices.IndexFunc(keywords, func(k string) bool {
		return strings.Contains(haystack, strings.ToLower(k))
	}) >= 0
}

func allKeywords(haystack string, keywords []string) bool {
	for _, k := range keywords {
		if !strings.Contains(haystack, strings.ToLower(k)) {
			return false
		}
	}
	return true
}
