package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpGTE         Operator = "gte"
	OpLTE         Operator = "lte"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
)

// Negatable reports whether the operator has a defined inverse. Negation
// on any other operator is a configuration error caught at save time; the
// evaluator ignores it there.
func (o Operator) Negatable() bool {
	switch o {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// Valid reports whether the operator is one of the known operators.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGTE, OpLTE,
		OpContains, OpIn, OpNotIn, OpIsNull, OpIsNotNull:
		return true
	}
	return false
}

// Combinator joins the children of a condition group.
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Condition is a single field comparison.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`

	// Operand is the literal to compare against (string, number, bool, or
	// a list of literals for in/not_in). Ignored by is_null/is_not_null.
	Operand any `json:"operand,omitempty"`

	Negated bool `json:"negated,omitempty"`
}

// ConditionNode is one child of a condition group: either a leaf
// condition or a nested group, never both.
type ConditionNode struct {
	Condition *Condition      `json:"condition,omitempty"`
	Group     *ConditionGroup `json:"group,omitempty"`
}

// ConditionGroup combines ordered children with and/or. Groups own their
// children exclusively; no back references exist, so the tree cannot
// cycle. An empty group evaluates to true for either combinator: a group
// with no conditions authored yet never blocks its rule.
type ConditionGroup struct {
	Combinator Combinator      `json:"combinator"`
	Children   []ConditionNode `json:"children,omitempty"`
}

// ActionType tags the five action kinds.
type ActionType string

const (
	ActionFixedValue     ActionType = "fixed_value"
	ActionPerUnit        ActionType = "per_unit"
	ActionPercentage     ActionType = "percentage"
	ActionBenchmarkBased ActionType = "benchmark_based"
	ActionFormula        ActionType = "formula"
)

// Valid reports whether the action type is known.
func (t ActionType) Valid() bool {
	switch t {
	case ActionFixedValue, ActionPerUnit, ActionPercentage, ActionBenchmarkBased, ActionFormula:
		return true
	}
	return false
}

// Action adjusts the running price by a delta when its rule matches.
// Which fields apply depends on Type:
//
//	fixed_value, benchmark_based: AmountUSD
//	per_unit:                     Metric, AmountUSDPerUnit
//	percentage:                   Percent (of the running price)
//	formula:                      Expression
type Action struct {
	Type ActionType `json:"type"`

	AmountUSD        decimal.Decimal `json:"amountUsd,omitempty"`
	Metric           string          `json:"metric,omitempty"`
	AmountUSDPerUnit decimal.Decimal `json:"amountUsdPerUnit,omitempty"`
	Percent          decimal.Decimal `json:"percent,omitempty"`
	Expression       string          `json:"expression,omitempty"`

	Modifiers *ActionModifiers `json:"modifiers,omitempty"`
}

// ActionModifiers scale an action's delta after it is computed.
// Condition multipliers apply first, then field multipliers, in that
// fixed order (both are multiplicative, but authors are told the order).
type ActionModifiers struct {
	// ConditionMultipliers is keyed by condition label ("new", "refurb",
	// "used"); a missing key means 1.0.
	ConditionMultipliers map[string]decimal.Decimal `json:"conditionMultipliers,omitempty"`

	FieldMultipliers []FieldMultiplier `json:"fieldMultipliers,omitempty"`
}

// FieldMultiplier maps resolved field values to multipliers,
// first match wins. No match contributes 1.0, never 0.
type FieldMultiplier struct {
	Field string           `json:"field"`
	Rules []MultiplierRule `json:"rules"`
}

// MultiplierRule is one (match value, multiplier) entry.
type MultiplierRule struct {
	Match      any             `json:"match"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// Rule is a condition tree plus an ordered list of actions. Rules are
// read-only snapshots at evaluation time; the authoring service bumps
// Version on every edit (opaque to the engine).
type Rule struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Lower Priority evaluates first; EvaluationOrder breaks ties.
	Priority        int `json:"priority"`
	EvaluationOrder int `json:"evaluationOrder"`

	Active bool `json:"active"`

	Conditions ConditionGroup `json:"conditions"`
	Actions    []Action       `json:"actions"`

	Version int `json:"version,omitempty"`
}

// RuleGroup is a named, weighted category of rules ("RAM", "Condition").
// Weight scales the group's net contribution to the adjusted price.
type RuleGroup struct {
	ID       string `json:"id"`
	Category string `json:"category"`

	DisplayOrder int             `json:"displayOrder"`
	Weight       decimal.Decimal `json:"weight"`
	Active       bool            `json:"active"`

	Rules []Rule `json:"rules"`
}

// Ruleset is a versioned, prioritized collection of rule groups applied
// together. At most one ruleset is active per valuation context; lower
// Priority wins when several are loaded.
type Ruleset struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name"`

	Priority int  `json:"priority"`
	Active   bool `json:"active"`
	Version  int  `json:"version"`

	Groups []RuleGroup `json:"groups"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
