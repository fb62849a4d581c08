// Package pricing implements the rule evaluation engine: field
// resolution over listing snapshots, the formula mini-language, condition
// trees, action resolution, and the price-accumulating orchestrator.
package pricing

import (
	"encoding/json"
	"strings"

	"github.com/refurb-labs/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// ValueKind tags the closed set of runtime value kinds.
type ValueKind int

const (
	KindAbsent ValueKind = iota
	KindNumber
	KindString
	KindBool
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "absent"
	}
}

// Value is a typed runtime value. Exactly one payload field is
// meaningful, selected by Kind. Lists only come from resolved snapshot
// fields (for contains/in), never from formula evaluation.
type Value struct {
	Kind ValueKind
	Num  decimal.Decimal
	Str  string
	Bool bool
	List []Value
}

// Absent is the zero Value.
var Absent = Value{Kind: KindAbsent}

func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }
func Str(s string) Value             { return Value{Kind: KindString, Str: s} }
func BoolVal(b bool) Value           { return Value{Kind: KindBool, Bool: b} }

// ValueOf converts a raw snapshot or operand value (typically from
// decoded JSON) into a typed Value. Unknown types map to Absent.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Absent
	case Value:
		return x
	case decimal.Decimal:
		return Number(x)
	case float64:
		return Number(decimal.NewFromFloat(x))
	case float32:
		return Number(decimal.NewFromFloat32(x))
	case int:
		return Number(decimal.NewFromInt(int64(x)))
	case int64:
		return Number(decimal.NewFromInt(x))
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return Absent
		}
		return Number(d)
	case string:
		return Str(x)
	case bool:
		return BoolVal(x)
	case []any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			list = append(list, ValueOf(item))
		}
		return Value{Kind: KindList, List: list}
	default:
		return Absent
	}
}

// Resolve walks a dotted field path ("cpu.cpu_mark_single") through the
// snapshot's nested structure. A missing key or non-map intermediate
// yields Absent, never an error.
func Resolve(snap domain.Snapshot, path string) Value {
	if snap == nil || path == "" {
		return Absent
	}

	current := any(map[string]any(snap))
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return Absent
		}
		next, ok := m[seg]
		if !ok {
			return Absent
		}
		current = next
	}

	return ValueOf(current)
}

// Equal is the type-aware equality used by conditions and field
// multipliers: exact string match, exact numeric match, bool identity.
// Absent equals nothing, including another Absent.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num.Equal(other.Num)
	case KindString:
		return v.Str == other.Str
	case KindBool:
		return v.Bool == other.Bool
	default:
		return false
	}
}
