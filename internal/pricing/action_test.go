package pricing

import (
	"errors"
	"testing"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func resolveDelta(t *testing.T, snap domain.Snapshot, action *domain.Action, running string, cond domain.ListingCondition) decimal.Decimal {
	t.Helper()
	delta, err := ResolveAction(snap, action, decimal.RequireFromString(running), cond)
	if err != nil {
		t.Fatalf("resolve action: %v", err)
	}
	return delta
}

func wantDelta(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("delta: got %s, want %s", got, want)
	}
}

func TestFixedValueAction(t *testing.T) {
	action := &domain.Action{
		Type:      domain.ActionFixedValue,
		AmountUSD: decimal.NewFromInt(25),
	}
	wantDelta(t, resolveDelta(t, nil, action, "500", ""), "25")
}

func TestBenchmarkBasedAction(t *testing.T) {
	// benchmark_based resolves exactly like fixed_value; the tag only
	// records where the amount came from.
	action := &domain.Action{
		Type:      domain.ActionBenchmarkBased,
		AmountUSD: decimal.RequireFromString("-12.50"),
	}
	wantDelta(t, resolveDelta(t, nil, action, "500", ""), "-12.50")
}

func TestPerUnitAction(t *testing.T) {
	snap := domain.Snapshot{"ram_gb": 32.0}
	action := &domain.Action{
		Type:             domain.ActionPerUnit,
		Metric:           "ram_gb",
		AmountUSDPerUnit: decimal.RequireFromString("2.50"),
	}
	wantDelta(t, resolveDelta(t, snap, action, "500", ""), "80")
}

func TestPerUnitMissingMetricContributesZero(t *testing.T) {
	action := &domain.Action{
		Type:             domain.ActionPerUnit,
		Metric:           "ram_gb",
		AmountUSDPerUnit: decimal.RequireFromString("2.50"),
	}

	// Missing metric is not an error; the action just contributes nothing.
	wantDelta(t, resolveDelta(t, domain.Snapshot{}, action, "500", ""), "0")

	// Same for a non-numeric metric value.
	snap := domain.Snapshot{"ram_gb": "a lot"}
	wantDelta(t, resolveDelta(t, snap, action, "500", ""), "0")
}

func TestPercentageOfRunningPrice(t *testing.T) {
	action := &domain.Action{
		Type:    domain.ActionPercentage,
		Percent: decimal.NewFromInt(-10),
	}

	// Percent applies to the running price, not the original base.
	wantDelta(t, resolveDelta(t, nil, action, "440", ""), "-44")
	wantDelta(t, resolveDelta(t, nil, action, "400", ""), "-40")
}

func TestFormulaAction(t *testing.T) {
	snap := domain.Snapshot{"ram_gb": 16.0, "condition": "used"}
	action := &domain.Action{
		Type:       domain.ActionFormula,
		Expression: "clamp(ram_gb * 2.5, 0, 200) if condition == 'used' else 0",
	}
	wantDelta(t, resolveDelta(t, snap, action, "500", "used"), "40")
}

func TestFormulaActionBranchesOnSnapshot(t *testing.T) {
	action := &domain.Action{
		Type:       domain.ActionFormula,
		Expression: "ram_gb * 3.0 if ram_gb >= 32 else ram_gb * 2.5",
	}

	small := domain.Snapshot{"ram_gb": 16.0}
	wantDelta(t, resolveDelta(t, small, action, "500", ""), "40")

	large := domain.Snapshot{"ram_gb": 32.0}
	wantDelta(t, resolveDelta(t, large, action, "500", ""), "96")
}

func TestFormulaActionErrorPropagates(t *testing.T) {
	action := &domain.Action{
		Type:       domain.ActionFormula,
		Expression: "100 / units",
	}

	_, err := ResolveAction(domain.Snapshot{"units": 0.0}, action, decimal.NewFromInt(500), "")
	if !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}

	_, err = ResolveAction(domain.Snapshot{}, action, decimal.NewFromInt(500), "")
	if !errors.Is(err, ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestFormulaActionNonNumericResult(t *testing.T) {
	action := &domain.Action{
		Type:       domain.ActionFormula,
		Expression: "condition == 'used'",
	}
	_, err := ResolveAction(domain.Snapshot{"condition": "used"}, action, decimal.NewFromInt(500), "used")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch for boolean formula result, got %v", err)
	}
}

func TestUnknownActionType(t *testing.T) {
	action := &domain.Action{Type: "surcharge"}
	_, err := ResolveAction(nil, action, decimal.NewFromInt(500), "")
	if err == nil {
		t.Error("expected error for unknown action type")
	}
}

func TestConditionMultipliers(t *testing.T) {
	action := &domain.Action{
		Type:      domain.ActionFixedValue,
		AmountUSD: decimal.NewFromInt(100),
		Modifiers: &domain.ActionModifiers{
			ConditionMultipliers: map[string]decimal.Decimal{
				"refurb": decimal.RequireFromString("0.5"),
				"used":   decimal.RequireFromString("0.3"),
			},
		},
	}

	// "refurbished" maps to the short label "refurb".
	wantDelta(t, resolveDelta(t, nil, action, "500", domain.ConditionRefurbished), "50")
	wantDelta(t, resolveDelta(t, nil, action, "500", domain.ConditionUsed), "30")

	// A condition without an entry passes through unscaled.
	wantDelta(t, resolveDelta(t, nil, action, "500", domain.ConditionNew), "100")
	wantDelta(t, resolveDelta(t, nil, action, "500", ""), "100")
}

func TestFieldMultipliers(t *testing.T) {
	snap := domain.Snapshot{"form_factor": "2U"}
	action := &domain.Action{
		Type:      domain.ActionFixedValue,
		AmountUSD: decimal.NewFromInt(100),
		Modifiers: &domain.ActionModifiers{
			FieldMultipliers: []domain.FieldMultiplier{
				{
					Field: "form_factor",
					Rules: []domain.MultiplierRule{
						{Match: "1U", Multiplier: decimal.RequireFromString("0.8")},
						{Match: "2U", Multiplier: decimal.RequireFromString("1.2")},
						// Later duplicate never wins: first match takes it.
						{Match: "2U", Multiplier: decimal.NewFromInt(99)},
					},
				},
			},
		},
	}

	wantDelta(t, resolveDelta(t, snap, action, "500", ""), "120")

	// No matching entry contributes 1.0, never 0.
	wantDelta(t, resolveDelta(t, domain.Snapshot{"form_factor": "4U"}, action, "500", ""), "100")
	wantDelta(t, resolveDelta(t, domain.Snapshot{}, action, "500", ""), "100")
}

func TestModifiersStack(t *testing.T) {
	snap := domain.Snapshot{"form_factor": "2U"}
	action := &domain.Action{
		Type:      domain.ActionFixedValue,
		AmountUSD: decimal.NewFromInt(100),
		Modifiers: &domain.ActionModifiers{
			ConditionMultipliers: map[string]decimal.Decimal{
				"refurb": decimal.RequireFromString("0.5"),
			},
			FieldMultipliers: []domain.FieldMultiplier{
				{
					Field: "form_factor",
					Rules: []domain.MultiplierRule{
						{Match: "2U", Multiplier: decimal.RequireFromString("1.2")},
					},
				},
			},
		},
	}

	// 100 × 0.5 (condition) × 1.2 (field) = 60
	wantDelta(t, resolveDelta(t, snap, action, "500", domain.ConditionRefurbished), "60")
}
