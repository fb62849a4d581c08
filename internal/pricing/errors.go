package pricing

import "errors"

// Evaluation error kinds. Parse-time kinds (syntax, unknown function,
// arity) surface through Validate; the rest only occur during
// evaluation. The engine never propagates these past a rule: a failing
// rule contributes delta 0 and carries the error in its breakdown row.
var (
	ErrSyntax          = errors.New("syntax error")
	ErrMissingField    = errors.New("missing field")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUnknownFunction = errors.New("unknown function")
	ErrArity           = errors.New("wrong number of arguments")
)
