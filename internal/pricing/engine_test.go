package pricing

import (
	"testing"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func ramRule(id string, perGB string) domain.Rule {
	return domain.Rule{
		ID:     id,
		Name:   "RAM per GB",
		Active: true,
		Conditions: domain.ConditionGroup{
			Combinator: domain.CombinatorAnd,
			Children: []domain.ConditionNode{
				{Condition: &domain.Condition{Field: "ram_gb", Operator: domain.OpIsNotNull}},
			},
		},
		Actions: []domain.Action{
			{Type: domain.ActionPerUnit, Metric: "ram_gb", AmountUSDPerUnit: decimal.RequireFromString(perGB)},
		},
	}
}

func baseRuleset() *domain.Ruleset {
	return &domain.Ruleset{
		ID:       "rs-base",
		TenantID: domain.GlobalTenantID,
		Name:     "Baseline",
		Priority: 1,
		Active:   true,
		Version:  1,
		Groups: []domain.RuleGroup{
			{
				ID:           "grp-memory",
				Category:     "memory",
				DisplayOrder: 1,
				Weight:       decimal.NewFromInt(1),
				Active:       true,
				Rules:        []domain.Rule{ramRule("ram-per-gb", "2.50")},
			},
		},
	}
}

func evalPrice(t *testing.T, rs *domain.Ruleset, snap domain.Snapshot, base string) *domain.EvaluationResult {
	t.Helper()
	e := NewEngine()
	return e.Evaluate(rs, snap, decimal.RequireFromString(base))
}

func wantPrice(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("price: got %s, want %s", got, want)
	}
}

// ----------------------------------------------------------------------------
// Registry
// ----------------------------------------------------------------------------

func TestEngineRegistry(t *testing.T) {
	engine := NewEngine()
	defer engine.Close()

	if engine.RulesetCount() != 0 {
		t.Errorf("expected empty registry, got %d", engine.RulesetCount())
	}

	if err := engine.LoadRuleset(baseRuleset()); err != nil {
		t.Fatalf("failed to load ruleset: %v", err)
	}
	if engine.RulesetCount() != 1 {
		t.Errorf("expected 1 ruleset, got %d", engine.RulesetCount())
	}

	if err := engine.LoadRuleset(&domain.Ruleset{}); err == nil {
		t.Error("expected error loading ruleset without ID")
	}
}

func TestLoadRulesetsSkipsInactive(t *testing.T) {
	engine := NewEngine()
	defer engine.Close()

	active := baseRuleset()
	inactive := baseRuleset()
	inactive.ID = "rs-retired"
	inactive.Active = false

	if err := engine.LoadRulesets([]*domain.Ruleset{active, inactive}); err != nil {
		t.Fatalf("failed to load rulesets: %v", err)
	}
	if engine.RulesetCount() != 1 {
		t.Errorf("expected 1 loaded ruleset, got %d", engine.RulesetCount())
	}
}

func TestReloadReplacesRegistry(t *testing.T) {
	engine := NewEngine()
	defer engine.Close()

	if err := engine.LoadRuleset(baseRuleset()); err != nil {
		t.Fatal(err)
	}

	replacement := baseRuleset()
	replacement.ID = "rs-v2"
	if err := engine.ReloadRulesets([]*domain.Ruleset{replacement}); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	loaded := engine.GetLoadedRulesets()
	if len(loaded) != 1 || loaded[0].ID != "rs-v2" {
		t.Errorf("expected only rs-v2 after reload, got %v", loaded)
	}
}

func TestActiveRulesetSelection(t *testing.T) {
	engine := NewEngine()
	defer engine.Close()

	global := baseRuleset()
	global.ID = "rs-global"
	global.Priority = 10

	tenantOwned := baseRuleset()
	tenantOwned.ID = "rs-acme"
	tenantOwned.TenantID = "acme"
	tenantOwned.Priority = 5

	other := baseRuleset()
	other.ID = "rs-other"
	other.TenantID = "globex"
	other.Priority = 1

	for _, rs := range []*domain.Ruleset{global, tenantOwned, other} {
		if err := engine.LoadRuleset(rs); err != nil {
			t.Fatal(err)
		}
	}

	// acme sees its own ruleset (priority 5 beats global's 10); globex's
	// ruleset is invisible to it.
	if got := engine.ActiveRuleset("acme"); got == nil || got.ID != "rs-acme" {
		t.Errorf("acme: expected rs-acme, got %v", got)
	}

	// A tenant with nothing of its own falls back to the global ruleset.
	if got := engine.ActiveRuleset("initech"); got == nil || got.ID != "rs-global" {
		t.Errorf("initech: expected rs-global, got %v", got)
	}
}

func TestActiveRulesetTieBreaksByID(t *testing.T) {
	engine := NewEngine()
	defer engine.Close()

	a := baseRuleset()
	a.ID = "rs-aaa"
	b := baseRuleset()
	b.ID = "rs-bbb"

	if err := engine.LoadRulesets([]*domain.Ruleset{b, a}); err != nil {
		t.Fatal(err)
	}

	if got := engine.ActiveRuleset("any"); got == nil || got.ID != "rs-aaa" {
		t.Errorf("expected deterministic tie-break to rs-aaa, got %v", got)
	}
}

func TestActiveRulesetNoneLoaded(t *testing.T) {
	engine := NewEngine()
	if engine.ActiveRuleset("acme") != nil {
		t.Error("expected nil from empty registry")
	}
}

// ----------------------------------------------------------------------------
// Validation
// ----------------------------------------------------------------------------

func TestValidateFormula(t *testing.T) {
	engine := NewEngine()

	if res := engine.Validate("ram_gb * 2.5"); !res.Valid {
		t.Errorf("expected valid, got errors %v", res.Errors)
	}
	if res := engine.Validate(""); res.Valid {
		t.Error("expected empty expression to be invalid")
	}
	if res := engine.Validate("   "); res.Valid {
		t.Error("expected blank expression to be invalid")
	}
	if res := engine.Validate("1 +"); res.Valid || len(res.Errors) == 0 {
		t.Errorf("expected syntax error, got %+v", res)
	}
}

func TestValidateRuleset(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(rs *domain.Ruleset)
	}{
		{"negative weight", func(rs *domain.Ruleset) {
			rs.Groups[0].Weight = decimal.NewFromInt(-1)
		}},
		{"unknown operator", func(rs *domain.Ruleset) {
			rs.Groups[0].Rules[0].Conditions.Children[0].Condition.Operator = "between"
		}},
		{"negation on non-negatable operator", func(rs *domain.Ruleset) {
			c := rs.Groups[0].Rules[0].Conditions.Children[0].Condition
			c.Operator = domain.OpGreaterThan
			c.Operand = 10
			c.Negated = true
		}},
		{"node with condition and group", func(rs *domain.Ruleset) {
			node := &rs.Groups[0].Rules[0].Conditions.Children[0]
			node.Group = &domain.ConditionGroup{Combinator: domain.CombinatorAnd}
		}},
		{"empty node", func(rs *domain.Ruleset) {
			rs.Groups[0].Rules[0].Conditions.Children[0] = domain.ConditionNode{}
		}},
		{"unknown action type", func(rs *domain.Ruleset) {
			rs.Groups[0].Rules[0].Actions[0].Type = "surcharge"
		}},
		{"bad formula", func(rs *domain.Ruleset) {
			rs.Groups[0].Rules[0].Actions[0] = domain.Action{
				Type:       domain.ActionFormula,
				Expression: "(1",
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rs := baseRuleset()
			tc.mutate(rs)
			if err := ValidateRuleset(rs); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := ValidateRuleset(baseRuleset()); err != nil {
		t.Errorf("baseline ruleset should validate: %v", err)
	}
}

// ----------------------------------------------------------------------------
// Evaluation
// ----------------------------------------------------------------------------

func TestEvaluateBasic(t *testing.T) {
	snap := domain.Snapshot{"ram_gb": 32.0, "condition": "new"}
	result := evalPrice(t, baseRuleset(), snap, "500")

	wantPrice(t, result.AdjustedPrice, "580")
	wantPrice(t, result.BasePrice, "500")

	if len(result.Breakdown) != 1 {
		t.Fatalf("expected 1 breakdown row, got %d", len(result.Breakdown))
	}
	row := result.Breakdown[0]
	if !row.Matched || !row.DeltaUSD.Equal(decimal.NewFromInt(80)) {
		t.Errorf("unexpected breakdown row: %+v", row)
	}
	if !row.RunningTotalAfter.Equal(decimal.NewFromInt(580)) {
		t.Errorf("running total: got %s, want 580", row.RunningTotalAfter)
	}
}

func TestEvaluateNilRuleset(t *testing.T) {
	result := evalPrice(t, nil, domain.Snapshot{}, "500")
	wantPrice(t, result.AdjustedPrice, "500")
	if len(result.Breakdown) != 0 {
		t.Errorf("expected empty breakdown, got %d rows", len(result.Breakdown))
	}
}

func TestEvaluateNonMatchingRuleAudited(t *testing.T) {
	snap := domain.Snapshot{"condition": "new"} // no ram_gb
	result := evalPrice(t, baseRuleset(), snap, "500")

	wantPrice(t, result.AdjustedPrice, "500")
	if len(result.Breakdown) != 1 {
		t.Fatalf("expected an audit row for the non-matching rule, got %d", len(result.Breakdown))
	}
	row := result.Breakdown[0]
	if row.Matched || !row.DeltaUSD.IsZero() {
		t.Errorf("non-matching row should carry zero delta: %+v", row)
	}
}

func TestEvaluateRuleErrorRollsBack(t *testing.T) {
	// The failing rule's first action applies +10 before the second
	// action divides by zero; the whole rule must roll back and the rule
	// after it must still run.
	rs := baseRuleset()
	failing := domain.Rule{
		ID:     "broken-formula",
		Name:   "Broken Formula",
		Active: true,
		Actions: []domain.Action{
			{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(10)},
			{Type: domain.ActionFormula, Expression: "100 / units"},
		},
	}
	rs.Groups[0].Rules = []domain.Rule{
		{ID: "a-before", Name: "Before", Active: true, EvaluationOrder: 1,
			Actions: []domain.Action{{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(5)}}},
		{ID: "b-broken", Name: "Broken", Active: true, EvaluationOrder: 2, Actions: failing.Actions},
		{ID: "c-after", Name: "After", Active: true, EvaluationOrder: 3,
			Actions: []domain.Action{{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(7)}}},
	}

	snap := domain.Snapshot{"units": 0.0}
	result := evalPrice(t, rs, snap, "500")

	// 500 + 5 (before) + 0 (rolled back) + 7 (after) = 512
	wantPrice(t, result.AdjustedPrice, "512")

	if len(result.Breakdown) != 3 {
		t.Fatalf("expected 3 breakdown rows, got %d", len(result.Breakdown))
	}
	broken := result.Breakdown[1]
	if broken.RuleID != "b-broken" {
		t.Fatalf("expected b-broken in position 2, got %s", broken.RuleID)
	}
	if broken.Matched || !broken.DeltaUSD.IsZero() || broken.Error == "" {
		t.Errorf("failed rule should be unmatched with zero delta and an error: %+v", broken)
	}
	if !broken.RunningTotalAfter.Equal(decimal.NewFromInt(505)) {
		t.Errorf("rollback left running total at %s, want 505", broken.RunningTotalAfter)
	}
}

func TestEvaluateGroupWeight(t *testing.T) {
	rs := baseRuleset()
	rs.Groups[0].Weight = decimal.RequireFromString("0.5")

	snap := domain.Snapshot{"ram_gb": 32.0}
	result := evalPrice(t, rs, snap, "500")

	// Raw group delta 80, weighted by 0.5 → 40.
	wantPrice(t, result.AdjustedPrice, "540")

	if len(result.Groups) != 1 {
		t.Fatalf("expected 1 group contribution, got %d", len(result.Groups))
	}
	g := result.Groups[0]
	if !g.RawDelta.Equal(decimal.NewFromInt(80)) || !g.WeightedDelta.Equal(decimal.NewFromInt(40)) {
		t.Errorf("group contribution: raw %s weighted %s, want 80/40", g.RawDelta, g.WeightedDelta)
	}
}

func TestEvaluateWeightedGroupsSum(t *testing.T) {
	fixedGroup := func(id string, order int, weight string) domain.RuleGroup {
		return domain.RuleGroup{
			ID:           id,
			Category:     id,
			DisplayOrder: order,
			Weight:       decimal.RequireFromString(weight),
			Active:       true,
			Rules: []domain.Rule{
				{
					ID:       id + "-bump",
					Name:     "Bump",
					Priority: 1,
					Active:   true,
					Actions: []domain.Action{
						{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(50)},
					},
				},
			},
		}
	}

	rs := baseRuleset()
	rs.Groups = []domain.RuleGroup{
		fixedGroup("grp-full", 1, "1.0"),
		fixedGroup("grp-half", 2, "0.5"),
	}

	result := evalPrice(t, rs, domain.Snapshot{}, "500")

	// 500 + 50×1.0 + 50×0.5
	wantPrice(t, result.AdjustedPrice, "575")
}

func TestEvaluateGroupsRunInDisplayOrder(t *testing.T) {
	// Declared out of order: the percentage group has displayOrder 2 so
	// it must see the memory group's output in its running price.
	rs := &domain.Ruleset{
		ID: "rs-ordered", Name: "Ordered", Active: true, Version: 1,
		Groups: []domain.RuleGroup{
			{
				ID: "grp-condition", Category: "condition", DisplayOrder: 2,
				Weight: decimal.NewFromInt(1), Active: true,
				Rules: []domain.Rule{{
					ID: "used-discount", Name: "Used Discount", Active: true,
					Actions: []domain.Action{{Type: domain.ActionPercentage, Percent: decimal.NewFromInt(-10)}},
				}},
			},
			{
				ID: "grp-memory", Category: "memory", DisplayOrder: 1,
				Weight: decimal.NewFromInt(1), Active: true,
				Rules: []domain.Rule{ramRule("ram-per-gb", "2.50")},
			},
		},
	}

	snap := domain.Snapshot{"ram_gb": 16.0}
	result := evalPrice(t, rs, snap, "400")

	// 400 + 40 = 440, then -10% of 440 = -44 → 396. Applying the
	// discount first would give 400×0.9 + 40 = 400 instead.
	wantPrice(t, result.AdjustedPrice, "396")

	if len(result.Groups) != 2 || result.Groups[0].GroupID != "grp-memory" {
		t.Errorf("expected grp-memory first in group contributions, got %+v", result.Groups)
	}
}

func TestEvaluateRuleOrderWithinGroup(t *testing.T) {
	// Lower priority first; evaluation order breaks ties. The percentage
	// rule must run after the fixed bump to compound on it.
	rs := baseRuleset()
	rs.Groups[0].Rules = []domain.Rule{
		{ID: "pct", Name: "Pct", Active: true, Priority: 2,
			Actions: []domain.Action{{Type: domain.ActionPercentage, Percent: decimal.NewFromInt(10)}}},
		{ID: "bump", Name: "Bump", Active: true, Priority: 1,
			Actions: []domain.Action{{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(100)}}},
	}

	result := evalPrice(t, rs, domain.Snapshot{}, "500")

	// 500 + 100 = 600, then +10% of 600 = 60 → 660.
	wantPrice(t, result.AdjustedPrice, "660")
	if result.Breakdown[0].RuleID != "bump" {
		t.Errorf("expected bump to run first, breakdown order: %s, %s",
			result.Breakdown[0].RuleID, result.Breakdown[1].RuleID)
	}
}

func TestEvaluateSkipsInactive(t *testing.T) {
	rs := baseRuleset()
	rs.Groups[0].Rules = append(rs.Groups[0].Rules, domain.Rule{
		ID: "retired", Name: "Retired", Active: false,
		Actions: []domain.Action{{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(1000)}},
	})
	rs.Groups = append(rs.Groups, domain.RuleGroup{
		ID: "grp-retired", Category: "retired", DisplayOrder: 3,
		Weight: decimal.NewFromInt(1), Active: false,
		Rules: []domain.Rule{{
			ID: "ghost", Name: "Ghost", Active: true,
			Actions: []domain.Action{{Type: domain.ActionFixedValue, AmountUSD: decimal.NewFromInt(1000)}},
		}},
	})

	snap := domain.Snapshot{"ram_gb": 32.0}
	result := evalPrice(t, rs, snap, "500")

	wantPrice(t, result.AdjustedPrice, "580")
	for _, row := range result.Breakdown {
		if row.RuleID == "retired" || row.RuleID == "ghost" {
			t.Errorf("inactive rule %s should not appear in the breakdown", row.RuleID)
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	rs := baseRuleset()
	snap := domain.Snapshot{"ram_gb": 32.0}
	engine := NewEngine()

	first := engine.Evaluate(rs, snap, decimal.NewFromInt(500))
	for i := 0; i < 10; i++ {
		again := engine.Evaluate(rs, snap, decimal.NewFromInt(500))
		if !again.AdjustedPrice.Equal(first.AdjustedPrice) {
			t.Fatalf("evaluation %d diverged: %s vs %s", i, again.AdjustedPrice, first.AdjustedPrice)
		}
	}
}

func TestEvaluateConditionMultiplierFromSnapshot(t *testing.T) {
	// The listing condition read from the snapshot drives the
	// condition-multiplier lookup.
	rs := baseRuleset()
	rs.Groups[0].Rules[0].Actions[0].Modifiers = &domain.ActionModifiers{
		ConditionMultipliers: map[string]decimal.Decimal{
			"refurb": decimal.RequireFromString("0.5"),
		},
	}

	snap := domain.Snapshot{"ram_gb": 32.0, "condition": "refurbished"}
	result := evalPrice(t, rs, snap, "500")

	// 32 × 2.50 × 0.5 = 40
	wantPrice(t, result.AdjustedPrice, "540")
}

func TestValidatedRulesetEvaluatesCleanly(t *testing.T) {
	// A ruleset that passes validation must evaluate without any
	// per-rule errors in the breakdown.
	rs := baseRuleset()
	rs.Groups = append(rs.Groups, domain.RuleGroup{
		ID:           "grp-condition",
		Category:     "condition",
		DisplayOrder: 2,
		Weight:       decimal.NewFromInt(1),
		Active:       true,
		Rules: []domain.Rule{
			{
				ID:       "used-discount",
				Name:     "Used discount",
				Priority: 1,
				Active:   true,
				Conditions: domain.ConditionGroup{
					Combinator: domain.CombinatorAnd,
					Children: []domain.ConditionNode{
						{Condition: &domain.Condition{Field: "condition", Operator: domain.OpEquals, Operand: "used"}},
					},
				},
				Actions: []domain.Action{
					{Type: domain.ActionPercentage, Percent: decimal.NewFromInt(-10)},
				},
			},
		},
	})

	if err := ValidateRuleset(rs); err != nil {
		t.Fatalf("expected valid ruleset, got %v", err)
	}

	snap := domain.Snapshot{"ram_gb": 32.0, "condition": "used"}
	result := evalPrice(t, rs, snap, "500")
	for _, row := range result.Breakdown {
		if row.Error != "" {
			t.Errorf("rule %s: unexpected error %q", row.RuleID, row.Error)
		}
	}
	// (500 + 80) × 0.9 applied as a -10% of the running price.
	wantPrice(t, result.AdjustedPrice, "522")
}
