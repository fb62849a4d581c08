package pricing

import (
	"fmt"
	"log/slog"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ResolveAction computes the signed delta an action contributes against
// the current running price, with condition and field multipliers
// applied in that fixed order. Formula and type failures return an
// error; the engine localizes it to the rule.
func ResolveAction(snap domain.Snapshot, action *domain.Action, runningPrice decimal.Decimal, cond domain.ListingCondition) (decimal.Decimal, error) {
	base, err := baseDelta(snap, action, runningPrice)
	if err != nil {
		return decimal.Zero, err
	}

	delta := base.Mul(conditionMultiplier(action.Modifiers, cond))
	for _, fm := range fieldMultipliers(action.Modifiers) {
		delta = delta.Mul(fieldMultiplier(snap, &fm))
	}
	return delta, nil
}

func baseDelta(snap domain.Snapshot, action *domain.Action, runningPrice decimal.Decimal) (decimal.Decimal, error) {
	switch action.Type {
	case domain.ActionFixedValue, domain.ActionBenchmarkBased:
		// benchmark_based evaluates exactly like fixed_value; the tag
		// only records provenance for reporting.
		return action.AmountUSD, nil

	case domain.ActionPerUnit:
		metric := Resolve(snap, action.Metric)
		if metric.Kind != KindNumber {
			slog.Debug("per-unit metric not numeric, contributing zero",
				"metric", action.Metric,
				"kind", metric.Kind.String(),
			)
			return decimal.Zero, nil
		}
		return metric.Num.Mul(action.AmountUSDPerUnit), nil

	case domain.ActionPercentage:
		// Percent of the running price, not of the original base.
		return runningPrice.Mul(action.Percent).Div(hundred), nil

	case domain.ActionFormula:
		v, err := Evaluate(action.Expression, snap)
		if err != nil {
			return decimal.Zero, err
		}
		if v.Kind != KindNumber {
			return decimal.Zero, fmt.Errorf("%w: formula produced %s, want number", ErrTypeMismatch, v.Kind)
		}
		return v.Num, nil

	default:
		return decimal.Zero, fmt.Errorf("%w: unknown action type %q", ErrTypeMismatch, action.Type)
	}
}

func conditionMultiplier(mods *domain.ActionModifiers, cond domain.ListingCondition) decimal.Decimal {
	if mods == nil || mods.ConditionMultipliers == nil {
		return decimal.NewFromInt(1)
	}
	if m, ok := mods.ConditionMultipliers[cond.MultiplierKey()]; ok {
		return m
	}
	return decimal.NewFromInt(1)
}

func fieldMultipliers(mods *domain.ActionModifiers) []domain.FieldMultiplier {
	if mods == nil {
		return nil
	}
	return mods.FieldMultipliers
}

// fieldMultiplier resolves one field-multiplier table: first entry whose
// match value equals the resolved field wins. No match passes through as
// 1.0 so an unmatched table never zeroes out a legitimate action.
func fieldMultiplier(snap domain.Snapshot, fm *domain.FieldMultiplier) decimal.Decimal {
	field := Resolve(snap, fm.Field)
	for _, rule := range fm.Rules {
		if field.Equal(ValueOf(rule.Match)) {
			return rule.Multiplier
		}
	}
	return decimal.NewFromInt(1)
}
