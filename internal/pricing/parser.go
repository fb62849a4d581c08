package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Expr is a parsed formula AST node. The node set is closed; the
// evaluator switches exhaustively over it.
type Expr interface {
	isExpr()
}

type numberLit struct {
	val decimal.Decimal
}

type stringLit struct {
	val string
}

// fieldRef is an identifier, possibly a dotted path into a nested
// entity ("cpu.cpu_mark_single").
type fieldRef struct {
	path string
}

type unaryExpr struct {
	op tokenKind // tokMinus
	x  Expr
}

type binaryExpr struct {
	op   tokenKind
	l, r Expr
}

// conditional is the Python-style "then if cond else alt" form. Only
// the selected branch is evaluated.
type conditional struct {
	cond Expr
	then Expr
	alt  Expr
}

type callExpr struct {
	fn   string
	args []Expr
}

func (numberLit) isExpr()   {}
func (stringLit) isExpr()   {}
func (fieldRef) isExpr()    {}
func (unaryExpr) isExpr()   {}
func (binaryExpr) isExpr()  {}
func (conditional) isExpr() {}
func (callExpr) isExpr()    {}

// builtins is the closed, versioned function set. Adding a function is
// a deliberate engine change, not data-driven.
var builtins = map[string]int{
	"abs":   1,
	"min":   2,
	"max":   2,
	"clamp": 3,
}

// Parse tokenizes and parses a formula into an AST. Unknown functions
// and arity mismatches are caught here so Validate reports them without
// evaluating anything.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		t := p.peek()
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, t.text, t.pos)
	}
	return expr, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind tokenKind) bool {
	if p.peek().kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		if t.kind == tokEOF {
			return t, fmt.Errorf("%w: expected %s, found end of expression", ErrSyntax, what)
		}
		return t, fmt.Errorf("%w: expected %s, found %q at offset %d", ErrSyntax, what, t.text, t.pos)
	}
	return p.next(), nil
}

// parseExpr handles the lowest-precedence conditional form:
// "A if COND else B".
func (p *parser) parseExpr() (Expr, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.accept(tokIf) {
		return then, nil
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokElse, `"else"`); err != nil {
		return nil, err
	}
	alt, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return conditional{cond: cond, then: then, alt: alt}, nil
}

func (p *parser) parseOr() (Expr, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: tokOr, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (Expr, error) {
	l, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		r, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: tokAnd, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseComparison() (Expr, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte:
		op := p.next().kind
		r, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: op, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokPlus, tokMinus:
			op := p.next().kind
			r, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			l = binaryExpr{op: op, l: l, r: r}
		default:
			return l, nil
		}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokStar, tokSlash:
			op := p.next().kind
			r, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			l = binaryExpr{op: op, l: l, r: r}
		default:
			return l, nil
		}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.accept(tokMinus) {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: tokMinus, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at offset %d", ErrSyntax, t.text, t.pos)
		}
		return numberLit{val: d}, nil

	case tokString:
		p.next()
		return stringLit{val: t.text}, nil

	case tokIdent:
		p.next()
		if p.peek().kind != tokLParen {
			return fieldRef{path: t.text}, nil
		}
		return p.parseCall(t)

	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		return inner, nil

	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)

	default:
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, t.text, t.pos)
	}
}

func (p *parser) parseCall(name token) (Expr, error) {
	arity, known := builtins[name.text]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name.text)
	}

	p.next() // consume "("
	var args []Expr
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.accept(tokComma) {
				break
			}
		}
	}
	if _, err := p.expect(tokRParen, `")"`); err != nil {
		return nil, err
	}

	if len(args) != arity {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArity, name.text, arity, len(args))
	}
	return callExpr{fn: name.text, args: args}, nil
}
