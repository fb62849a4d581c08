package pricing

import (
	"strings"

	"github.com/refurb-labs/kestrel/internal/domain"
)

// EvalGroup evaluates a condition group against a snapshot with
// short-circuit and/or folding. Child order never changes the result
// (pure boolean fold) but is preserved in breakdowns for explainability.
// An empty group is true for either combinator: a group the author has
// not filled in yet must not block its rule.
func EvalGroup(snap domain.Snapshot, g *domain.ConditionGroup) bool {
	if g == nil || len(g.Children) == 0 {
		return true
	}

	if g.Combinator == domain.CombinatorOr {
		for i := range g.Children {
			if evalNode(snap, &g.Children[i]) {
				return true
			}
		}
		return false
	}

	// Unknown combinators fold as AND, the stricter default.
	for i := range g.Children {
		if !evalNode(snap, &g.Children[i]) {
			return false
		}
	}
	return true
}

func evalNode(snap domain.Snapshot, node *domain.ConditionNode) bool {
	if node.Group != nil {
		return EvalGroup(snap, node.Group)
	}
	if node.Condition != nil {
		return EvalCondition(snap, node.Condition)
	}
	// A node with neither side set matches nothing.
	return false
}

// EvalCondition evaluates a single field comparison. Misconfigurations
// (numeric operator against a string field, unknown operator) evaluate
// to false rather than erroring: a stale condition should stop its rule
// from matching, not take down the whole ruleset.
func EvalCondition(snap domain.Snapshot, c *domain.Condition) bool {
	field := Resolve(snap, c.Field)
	operand := ValueOf(c.Operand)

	result := compare(c.Operator, field, operand)

	// Negation only applies to operators with a defined inverse; the
	// authoring service rejects the rest, and a stale negated flag on a
	// non-negatable operator is ignored here.
	if c.Negated && c.Operator.Negatable() {
		result = !result
	}
	return result
}

func compare(op domain.Operator, field, operand Value) bool {
	switch op {
	case domain.OpEquals:
		return field.Equal(operand)

	case domain.OpNotEquals:
		// Absent is "not equal" to everything.
		return !field.Equal(operand)

	case domain.OpGreaterThan, domain.OpLessThan, domain.OpGTE, domain.OpLTE:
		if field.Kind != KindNumber || operand.Kind != KindNumber {
			return false
		}
		cmp := field.Num.Cmp(operand.Num)
		switch op {
		case domain.OpGreaterThan:
			return cmp > 0
		case domain.OpLessThan:
			return cmp < 0
		case domain.OpGTE:
			return cmp >= 0
		default:
			return cmp <= 0
		}

	case domain.OpContains:
		if field.Kind == KindString && operand.Kind == KindString {
			return strings.Contains(field.Str, operand.Str)
		}
		if field.Kind == KindList {
			for _, item := range field.List {
				if item.Equal(operand) {
					return true
				}
			}
		}
		return false

	case domain.OpIn:
		return memberOf(field, operand)

	case domain.OpNotIn:
		return !memberOf(field, operand)

	case domain.OpIsNull:
		return field.Kind == KindAbsent

	case domain.OpIsNotNull:
		return field.Kind != KindAbsent

	default:
		return false
	}
}

func memberOf(field, operand Value) bool {
	if operand.Kind != KindList {
		// A scalar operand degrades to single-element membership.
		return field.Equal(operand)
	}
	for _, item := range operand.List {
		if field.Equal(item) {
			return true
		}
	}
	return false
}
