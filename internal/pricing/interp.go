package pricing

import (
	"fmt"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// EvalExpr evaluates a parsed formula against a snapshot. Field
// references resolve through Resolve; a reference to an absent field
// fails the whole formula with ErrMissingField rather than coercing to
// zero, since a silent zero would skew prices.
func EvalExpr(e Expr, snap domain.Snapshot) (Value, error) {
	switch n := e.(type) {
	case numberLit:
		return Number(n.val), nil

	case stringLit:
		return Str(n.val), nil

	case fieldRef:
		v := Resolve(snap, n.path)
		if v.Kind == KindAbsent {
			return Absent, fmt.Errorf("%w: %s", ErrMissingField, n.path)
		}
		return v, nil

	case unaryExpr:
		x, err := EvalExpr(n.x, snap)
		if err != nil {
			return Absent, err
		}
		if x.Kind != KindNumber {
			return Absent, fmt.Errorf("%w: unary minus on %s", ErrTypeMismatch, x.Kind)
		}
		return Number(x.Num.Neg()), nil

	case binaryExpr:
		return evalBinary(n, snap)

	case conditional:
		cond, err := EvalExpr(n.cond, snap)
		if err != nil {
			return Absent, err
		}
		if cond.Kind != KindBool {
			return Absent, fmt.Errorf("%w: conditional requires a boolean, got %s", ErrTypeMismatch, cond.Kind)
		}
		// Only the selected branch runs, so the untaken branch may
		// divide by zero or reference missing fields safely.
		if cond.Bool {
			return EvalExpr(n.then, snap)
		}
		return EvalExpr(n.alt, snap)

	case callExpr:
		return evalCall(n, snap)

	default:
		return Absent, fmt.Errorf("%w: unknown expression node %T", ErrSyntax, e)
	}
}

func evalBinary(n binaryExpr, snap domain.Snapshot) (Value, error) {
	// Logical operators short-circuit; everything else is strict.
	if n.op == tokAnd || n.op == tokOr {
		l, err := EvalExpr(n.l, snap)
		if err != nil {
			return Absent, err
		}
		if l.Kind != KindBool {
			return Absent, fmt.Errorf("%w: logical operand is %s, want bool", ErrTypeMismatch, l.Kind)
		}
		if n.op == tokAnd && !l.Bool {
			return BoolVal(false), nil
		}
		if n.op == tokOr && l.Bool {
			return BoolVal(true), nil
		}
		r, err := EvalExpr(n.r, snap)
		if err != nil {
			return Absent, err
		}
		if r.Kind != KindBool {
			return Absent, fmt.Errorf("%w: logical operand is %s, want bool", ErrTypeMismatch, r.Kind)
		}
		return BoolVal(r.Bool), nil
	}

	l, err := EvalExpr(n.l, snap)
	if err != nil {
		return Absent, err
	}
	r, err := EvalExpr(n.r, snap)
	if err != nil {
		return Absent, err
	}

	switch n.op {
	case tokPlus, tokMinus, tokStar, tokSlash:
		if l.Kind != KindNumber || r.Kind != KindNumber {
			return Absent, fmt.Errorf("%w: arithmetic on %s and %s", ErrTypeMismatch, l.Kind, r.Kind)
		}
		switch n.op {
		case tokPlus:
			return Number(l.Num.Add(r.Num)), nil
		case tokMinus:
			return Number(l.Num.Sub(r.Num)), nil
		case tokStar:
			return Number(l.Num.Mul(r.Num)), nil
		default:
			if r.Num.IsZero() {
				return Absent, ErrDivisionByZero
			}
			return Number(l.Num.Div(r.Num)), nil
		}

	case tokEq, tokNeq:
		eq, err := equalValues(l, r)
		if err != nil {
			return Absent, err
		}
		if n.op == tokNeq {
			eq = !eq
		}
		return BoolVal(eq), nil

	case tokLt, tokLte, tokGt, tokGte:
		if l.Kind != KindNumber || r.Kind != KindNumber {
			return Absent, fmt.Errorf("%w: ordering comparison on %s and %s", ErrTypeMismatch, l.Kind, r.Kind)
		}
		cmp := l.Num.Cmp(r.Num)
		switch n.op {
		case tokLt:
			return BoolVal(cmp < 0), nil
		case tokLte:
			return BoolVal(cmp <= 0), nil
		case tokGt:
			return BoolVal(cmp > 0), nil
		default:
			return BoolVal(cmp >= 0), nil
		}

	default:
		return Absent, fmt.Errorf("%w: unknown operator", ErrSyntax)
	}
}

// equalValues implements == for formulas: strings support equality only
// against strings, numbers against numbers. Mixing kinds is an error
// here, unlike the lenient condition evaluator.
func equalValues(l, r Value) (bool, error) {
	if l.Kind != r.Kind {
		return false, fmt.Errorf("%w: comparing %s with %s", ErrTypeMismatch, l.Kind, r.Kind)
	}
	switch l.Kind {
	case KindNumber:
		return l.Num.Equal(r.Num), nil
	case KindString:
		return l.Str == r.Str, nil
	case KindBool:
		return l.Bool == r.Bool, nil
	default:
		return false, fmt.Errorf("%w: comparing %s values", ErrTypeMismatch, l.Kind)
	}
}

func evalCall(n callExpr, snap domain.Snapshot) (Value, error) {
	args := make([]decimal.Decimal, len(n.args))
	for i, argExpr := range n.args {
		v, err := EvalExpr(argExpr, snap)
		if err != nil {
			return Absent, err
		}
		if v.Kind != KindNumber {
			return Absent, fmt.Errorf("%w: %s argument %d is %s, want number", ErrTypeMismatch, n.fn, i+1, v.Kind)
		}
		args[i] = v.Num
	}

	switch n.fn {
	case "abs":
		return Number(args[0].Abs()), nil
	case "min":
		if args[0].LessThan(args[1]) {
			return Number(args[0]), nil
		}
		return Number(args[1]), nil
	case "max":
		if args[0].GreaterThan(args[1]) {
			return Number(args[0]), nil
		}
		return Number(args[1]), nil
	case "clamp":
		x, lo, hi := args[0], args[1], args[2]
		if x.LessThan(lo) {
			return Number(lo), nil
		}
		if x.GreaterThan(hi) {
			return Number(hi), nil
		}
		return Number(x), nil
	default:
		// Unreachable when the expression came through Parse.
		return Absent, fmt.Errorf("%w: %q", ErrUnknownFunction, n.fn)
	}
}

// Evaluate parses and evaluates a formula in one step. Rule evaluation
// uses pre-parsed expressions; this is the convenience path for tests
// and one-off evaluation.
func Evaluate(expression string, snap domain.Snapshot) (Value, error) {
	expr, err := Parse(expression)
	if err != nil {
		return Absent, err
	}
	return EvalExpr(expr, snap)
}
