package pricing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Engine holds the loaded ruleset registry and exposes the two
// evaluation entry points: Validate (parse a formula, authoring time)
// and Evaluate (apply a ruleset to a snapshot). Evaluation itself is a
// pure function of its inputs; the registry lock only guards hot
// reloads of the loaded configurations.
type Engine struct {
	mu       sync.RWMutex
	rulesets map[string]*domain.Ruleset // key: ruleset ID
}

// NewEngine creates an engine with an empty ruleset registry.
func NewEngine() *Engine {
	return &Engine{
		rulesets: make(map[string]*domain.Ruleset),
	}
}

// LoadRuleset validates and loads one ruleset into the registry.
func (e *Engine) LoadRuleset(rs *domain.Ruleset) error {
	if rs == nil || rs.ID == "" {
		return fmt.Errorf("ruleset id is required")
	}
	if err := ValidateRuleset(rs); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rulesets[rs.ID] = rs
	return nil
}

// LoadRulesets loads multiple rulesets, skipping inactive ones.
func (e *Engine) LoadRulesets(rulesets []*domain.Ruleset) error {
	for _, rs := range rulesets {
		if !rs.Active {
			continue
		}
		if err := e.LoadRuleset(rs); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRulesets replaces the registry contents, enabling hot reload
// from the database without a restart.
func (e *Engine) ReloadRulesets(rulesets []*domain.Ruleset) error {
	loaded := make(map[string]*domain.Ruleset)
	for _, rs := range rulesets {
		if !rs.Active {
			continue
		}
		if err := ValidateRuleset(rs); err != nil {
			return err
		}
		loaded[rs.ID] = rs
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rulesets = loaded
	return nil
}

// GetLoadedRulesets returns the currently loaded rulesets.
func (e *Engine) GetLoadedRulesets() []*domain.Ruleset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.Ruleset, 0, len(e.rulesets))
	for _, rs := range e.rulesets {
		out = append(out, rs)
	}
	return out
}

// RulesetCount returns the number of loaded rulesets.
func (e *Engine) RulesetCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rulesets)
}

// ActiveRuleset selects the ruleset applied for a tenant: the active
// ruleset owned by the tenant (or shared globally) with the lowest
// Priority value, ties broken by ID for determinism. Returns nil when
// nothing applies.
func (e *Engine) ActiveRuleset(tenantID string) *domain.Ruleset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best *domain.Ruleset
	for _, rs := range e.rulesets {
		if !rs.Active {
			continue
		}
		if rs.TenantID != tenantID && rs.TenantID != domain.GlobalTenantID && rs.TenantID != "" {
			continue
		}
		if best == nil || rs.Priority < best.Priority ||
			(rs.Priority == best.Priority && rs.ID < best.ID) {
			best = rs
		}
	}
	return best
}

// Close clears the registry.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rulesets = make(map[string]*domain.Ruleset)
	return nil
}

// Validate parses a formula without evaluating it. This is the
// authoring-time entry point: syntax, unknown-function, and arity
// errors fail fast here, before a rule is ever persisted.
func (e *Engine) Validate(expression string) domain.ValidationResult {
	if strings.TrimSpace(expression) == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"expression is empty"}}
	}
	if _, err := Parse(expression); err != nil {
		return domain.ValidationResult{Valid: false, Errors: []string{err.Error()}}
	}
	return domain.ValidationResult{Valid: true}
}

// ValidateRuleset performs the save-time checks the engine itself never
// does at evaluation time: formula parses, known operators and action
// types, negation only on negatable operators, non-negative weights.
func ValidateRuleset(rs *domain.Ruleset) error {
	for gi := range rs.Groups {
		g := &rs.Groups[gi]
		if g.Weight.IsNegative() {
			return fmt.Errorf("group %q: weight must not be negative", g.ID)
		}
		for ri := range g.Rules {
			r := &g.Rules[ri]
			if err := validateGroupTree(&r.Conditions); err != nil {
				return fmt.Errorf("rule %q: %w", r.ID, err)
			}
			for ai := range r.Actions {
				a := &r.Actions[ai]
				if !a.Type.Valid() {
					return fmt.Errorf("rule %q: unknown action type %q", r.ID, a.Type)
				}
				if a.Type == domain.ActionFormula {
					if _, err := Parse(a.Expression); err != nil {
						return fmt.Errorf("rule %q: %w", r.ID, err)
					}
				}
			}
		}
	}
	return nil
}

func validateGroupTree(g *domain.ConditionGroup) error {
	for i := range g.Children {
		node := &g.Children[i]
		if node.Condition != nil && node.Group != nil {
			return fmt.Errorf("condition node %d sets both a condition and a group", i)
		}
		if node.Group != nil {
			if err := validateGroupTree(node.Group); err != nil {
				return err
			}
			continue
		}
		if node.Condition == nil {
			return fmt.Errorf("condition node %d is empty", i)
		}
		c := node.Condition
		if !c.Operator.Valid() {
			return fmt.Errorf("unknown operator %q", c.Operator)
		}
		if c.Negated && !c.Operator.Negatable() {
			return fmt.Errorf("operator %q cannot be negated", c.Operator)
		}
	}
	return nil
}

// Evaluate applies one ruleset to one listing snapshot and base price.
// It is deterministic and side-effect free: repeated calls with the
// same inputs return identical results, and concurrent evaluations need
// no coordination because nothing here mutates the ruleset or snapshot.
//
// Groups run in display order, rules within a group in
// (priority, evaluation order) with lower values first. A rule whose
// action fails is rolled back and recorded as non-matching with the
// error attached; the remaining rules run unaffected. Each group's net
// delta is scaled by the group weight before folding into the total.
func (e *Engine) Evaluate(rs *domain.Ruleset, snap domain.Snapshot, basePrice decimal.Decimal) *domain.EvaluationResult {
	result := &domain.EvaluationResult{
		BasePrice: basePrice,
		Breakdown: []domain.RuleContribution{},
	}

	if rs == nil {
		result.AdjustedPrice = basePrice
		return result
	}

	listingCond := listingCondition(snap)
	running := basePrice

	for _, g := range orderedGroups(rs) {
		if !g.Active {
			continue
		}

		groupStart := running

		for _, r := range orderedRules(g) {
			if !r.Active {
				continue
			}

			if !EvalGroup(snap, &r.Conditions) {
				result.Breakdown = append(result.Breakdown, domain.RuleContribution{
					RuleID:            r.ID,
					RuleName:          r.Name,
					GroupID:           g.ID,
					Matched:           false,
					DeltaUSD:          decimal.Zero,
					RunningTotalAfter: running,
				})
				continue
			}

			beforeRule := running
			ruleDelta := decimal.Zero
			var ruleErr error

			for ai := range r.Actions {
				delta, err := ResolveAction(snap, &r.Actions[ai], running, listingCond)
				if err != nil {
					ruleErr = err
					break
				}
				running = running.Add(delta)
				ruleDelta = ruleDelta.Add(delta)
			}

			if ruleErr != nil {
				// The whole rule is treated as non-matching: earlier
				// actions of the same rule are rolled back so a partial
				// application never leaks into the price.
				running = beforeRule
				result.Breakdown = append(result.Breakdown, domain.RuleContribution{
					RuleID:            r.ID,
					RuleName:          r.Name,
					GroupID:           g.ID,
					Matched:           false,
					DeltaUSD:          decimal.Zero,
					RunningTotalAfter: running,
					Error:             ruleErr.Error(),
				})
				continue
			}

			result.Breakdown = append(result.Breakdown, domain.RuleContribution{
				RuleID:            r.ID,
				RuleName:          r.Name,
				GroupID:           g.ID,
				Matched:           true,
				DeltaUSD:          ruleDelta,
				RunningTotalAfter: running,
			})
		}

		rawDelta := running.Sub(groupStart)
		weightedDelta := rawDelta.Mul(g.Weight)
		running = groupStart.Add(weightedDelta)

		result.Groups = append(result.Groups, domain.GroupContribution{
			GroupID:       g.ID,
			Category:      g.Category,
			Weight:        g.Weight,
			RawDelta:      rawDelta,
			WeightedDelta: weightedDelta,
		})
	}

	result.AdjustedPrice = running
	return result
}

// listingCondition reads the listing condition out of the snapshot for
// condition-multiplier lookup. Missing or non-string values yield an
// empty condition, which matches no multiplier key and so defaults all
// multipliers to 1.
func listingCondition(snap domain.Snapshot) domain.ListingCondition {
	v := Resolve(snap, "condition")
	if v.Kind != KindString {
		return ""
	}
	return domain.ListingCondition(v.Str)
}

// orderedGroups returns the ruleset's groups sorted by display order
// without mutating the ruleset (it is a shared read-only snapshot).
func orderedGroups(rs *domain.Ruleset) []*domain.RuleGroup {
	groups := make([]*domain.RuleGroup, len(rs.Groups))
	for i := range rs.Groups {
		groups[i] = &rs.Groups[i]
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].DisplayOrder < groups[j].DisplayOrder
	})
	return groups
}

// orderedRules returns a group's rules sorted by (priority, evaluation
// order) ascending: lower number, higher priority.
func orderedRules(g *domain.RuleGroup) []*domain.Rule {
	rules := make([]*domain.Rule, len(g.Rules))
	for i := range g.Rules {
		rules[i] = &g.Rules[i]
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].EvaluationOrder < rules[j].EvaluationOrder
	})
	return rules
}
