package pricing

import (
	"testing"

	"github.com/refurb-labs/kestrel/internal/domain"
)

func condSnapshot() domain.Snapshot {
	return domain.Snapshot{
		"title":      "HP ProLiant DL380 Gen9 2U Server",
		"component":  "server",
		"condition":  "used",
		"ram_gb":     64.0,
		"drive_type": "ssd",
		"ports":      []any{"sfp+", "rj45"},
	}
}

func TestConditionOperators(t *testing.T) {
	snap := condSnapshot()

	cases := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"equals string", domain.Condition{Field: "component", Operator: domain.OpEquals, Operand: "server"}, true},
		{"equals mismatch", domain.Condition{Field: "component", Operator: domain.OpEquals, Operand: "gpu"}, false},
		{"equals number", domain.Condition{Field: "ram_gb", Operator: domain.OpEquals, Operand: 64}, true},
		{"equals absent field", domain.Condition{Field: "gpu_model", Operator: domain.OpEquals, Operand: "anything"}, false},

		{"not_equals", domain.Condition{Field: "component", Operator: domain.OpNotEquals, Operand: "gpu"}, true},
		// Absent is "not equal" to everything.
		{"not_equals absent field", domain.Condition{Field: "gpu_model", Operator: domain.OpNotEquals, Operand: "anything"}, true},

		{"greater_than", domain.Condition{Field: "ram_gb", Operator: domain.OpGreaterThan, Operand: 32}, true},
		{"greater_than equal value", domain.Condition{Field: "ram_gb", Operator: domain.OpGreaterThan, Operand: 64}, false},
		{"less_than", domain.Condition{Field: "ram_gb", Operator: domain.OpLessThan, Operand: 128}, true},
		{"gte boundary", domain.Condition{Field: "ram_gb", Operator: domain.OpGTE, Operand: 64}, true},
		{"lte boundary", domain.Condition{Field: "ram_gb", Operator: domain.OpLTE, Operand: 64}, true},
		// Numeric operator against a string field is a misconfiguration,
		// not an error: the rule just never matches.
		{"greater_than on string", domain.Condition{Field: "component", Operator: domain.OpGreaterThan, Operand: 10}, false},
		{"greater_than on absent", domain.Condition{Field: "gpu_model", Operator: domain.OpGreaterThan, Operand: 10}, false},

		{"contains substring", domain.Condition{Field: "title", Operator: domain.OpContains, Operand: "DL380"}, true},
		{"contains missing substring", domain.Condition{Field: "title", Operator: domain.OpContains, Operand: "R730"}, false},
		{"contains list member", domain.Condition{Field: "ports", Operator: domain.OpContains, Operand: "rj45"}, true},
		{"contains list non-member", domain.Condition{Field: "ports", Operator: domain.OpContains, Operand: "qsfp"}, false},

		{"in list", domain.Condition{Field: "drive_type", Operator: domain.OpIn, Operand: []any{"ssd", "nvme"}}, true},
		{"in list miss", domain.Condition{Field: "drive_type", Operator: domain.OpIn, Operand: []any{"hdd", "tape"}}, false},
		// A scalar operand degrades to single-element membership.
		{"in scalar", domain.Condition{Field: "drive_type", Operator: domain.OpIn, Operand: "ssd"}, true},
		{"not_in", domain.Condition{Field: "drive_type", Operator: domain.OpNotIn, Operand: []any{"hdd"}}, true},

		{"is_null on absent", domain.Condition{Field: "gpu_model", Operator: domain.OpIsNull}, true},
		{"is_null on present", domain.Condition{Field: "ram_gb", Operator: domain.OpIsNull}, false},
		{"is_not_null on present", domain.Condition{Field: "ram_gb", Operator: domain.OpIsNotNull}, true},
		{"is_not_null on absent", domain.Condition{Field: "gpu_model", Operator: domain.OpIsNotNull}, false},

		{"unknown operator", domain.Condition{Field: "ram_gb", Operator: "between", Operand: 10}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EvalCondition(snap, &tc.cond)
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestConditionNegation(t *testing.T) {
	snap := condSnapshot()

	negated := domain.Condition{Field: "component", Operator: domain.OpEquals, Operand: "server", Negated: true}
	if EvalCondition(snap, &negated) {
		t.Error("negated equals on matching value should be false")
	}

	// Negation on a non-negatable operator is ignored; the authoring
	// service rejects it at save time, a stale flag must not invert here.
	stale := domain.Condition{Field: "ram_gb", Operator: domain.OpGreaterThan, Operand: 32, Negated: true}
	if !EvalCondition(snap, &stale) {
		t.Error("negated flag on greater_than must be ignored")
	}

	// For every negatable operator the flag inverts the plain result.
	cases := []domain.Condition{
		{Field: "component", Operator: domain.OpEquals, Operand: "server"},
		{Field: "component", Operator: domain.OpNotEquals, Operand: "laptop"},
		{Field: "condition", Operator: domain.OpIn, Operand: []any{"used", "refurbished"}},
		{Field: "condition", Operator: domain.OpNotIn, Operand: []any{"new"}},
		{Field: "gpu_model", Operator: domain.OpIsNull},
		{Field: "ram_gb", Operator: domain.OpIsNotNull},
	}
	for _, c := range cases {
		plain := EvalCondition(snap, &c)
		neg := c
		neg.Negated = true
		if EvalCondition(snap, &neg) != !plain {
			t.Errorf("%s: negation did not invert result %v", c.Operator, plain)
		}
	}
}

func TestConditionGroups(t *testing.T) {
	snap := condSnapshot()

	serverCond := domain.ConditionNode{Condition: &domain.Condition{
		Field: "component", Operator: domain.OpEquals, Operand: "server",
	}}
	bigRAM := domain.ConditionNode{Condition: &domain.Condition{
		Field: "ram_gb", Operator: domain.OpGTE, Operand: 64,
	}}
	isGPU := domain.ConditionNode{Condition: &domain.Condition{
		Field: "component", Operator: domain.OpEquals, Operand: "gpu",
	}}

	t.Run("EmptyGroupIsTrue", func(t *testing.T) {
		if !EvalGroup(snap, &domain.ConditionGroup{Combinator: domain.CombinatorAnd}) {
			t.Error("empty and-group should be true")
		}
		if !EvalGroup(snap, &domain.ConditionGroup{Combinator: domain.CombinatorOr}) {
			t.Error("empty or-group should be true")
		}
		if !EvalGroup(snap, nil) {
			t.Error("nil group should be true")
		}
	})

	t.Run("AndFolding", func(t *testing.T) {
		g := &domain.ConditionGroup{
			Combinator: domain.CombinatorAnd,
			Children:   []domain.ConditionNode{serverCond, bigRAM},
		}
		if !EvalGroup(snap, g) {
			t.Error("server and ram_gb >= 64 should both hold")
		}

		g.Children = append(g.Children, isGPU)
		if EvalGroup(snap, g) {
			t.Error("adding a failing child must fail the and-group")
		}
	})

	t.Run("OrFolding", func(t *testing.T) {
		g := &domain.ConditionGroup{
			Combinator: domain.CombinatorOr,
			Children:   []domain.ConditionNode{isGPU, serverCond},
		}
		if !EvalGroup(snap, g) {
			t.Error("one matching child should satisfy the or-group")
		}

		g.Children = []domain.ConditionNode{isGPU}
		if EvalGroup(snap, g) {
			t.Error("or-group with only failing children should be false")
		}
	})

	t.Run("NestedGroups", func(t *testing.T) {
		// server AND (gpu OR ram_gb >= 64)
		g := &domain.ConditionGroup{
			Combinator: domain.CombinatorAnd,
			Children: []domain.ConditionNode{
				serverCond,
				{Group: &domain.ConditionGroup{
					Combinator: domain.CombinatorOr,
					Children:   []domain.ConditionNode{isGPU, bigRAM},
				}},
			},
		}
		if !EvalGroup(snap, g) {
			t.Error("nested or-group should satisfy the outer and-group")
		}
	})

	t.Run("EmptyNodeMatchesNothing", func(t *testing.T) {
		g := &domain.ConditionGroup{
			Combinator: domain.CombinatorAnd,
			Children:   []domain.ConditionNode{{}},
		}
		if EvalGroup(snap, g) {
			t.Error("a node with neither condition nor group must not match")
		}
	})

	t.Run("UnknownCombinatorFoldsAsAnd", func(t *testing.T) {
		g := &domain.ConditionGroup{
			Combinator: "xor",
			Children:   []domain.ConditionNode{serverCond, isGPU},
		}
		if EvalGroup(snap, g) {
			t.Error("unknown combinator should use the stricter and-fold")
		}
	})
}
