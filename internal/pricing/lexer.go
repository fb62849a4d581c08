package pricing

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokIf
	tokElse
	tokAnd
	tokOr
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
	tokEq  // ==
	tokNeq // !=
	tokLt
	tokLte
	tokGt
	tokGte
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset in the source expression
}

var keywords = map[string]tokenKind{
	"if":   tokIf,
	"else": tokElse,
	"and":  tokAnd,
	"or":   tokOr,
}

// lex tokenizes a formula expression. String literals accept single or
// double quotes without escape sequences.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9':
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i < len(src) && src[i] == '.' && i+1 < len(src) && isDigit(src[i+1]) {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			toks = append(toks, token{tokNumber, src[start:i], start})

		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			for i < len(src) && src[i] != quote {
				i++
			}
			if i >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string literal at offset %d", ErrSyntax, start)
			}
			toks = append(toks, token{tokString, src[start+1 : i], start})
			i++

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			text := src[start:i]
			if kind, ok := keywords[text]; ok {
				toks = append(toks, token{kind, text, start})
			} else {
				if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
					return nil, fmt.Errorf("%w: malformed field path %q at offset %d", ErrSyntax, text, start)
				}
				toks = append(toks, token{tokIdent, text, start})
			}

		default:
			start := i
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch {
			case two == "==":
				toks = append(toks, token{tokEq, two, start})
				i += 2
			case two == "!=":
				toks = append(toks, token{tokNeq, two, start})
				i += 2
			case two == "<=":
				toks = append(toks, token{tokLte, two, start})
				i += 2
			case two == ">=":
				toks = append(toks, token{tokGte, two, start})
				i += 2
			case two == "&&":
				toks = append(toks, token{tokAnd, two, start})
				i += 2
			case two == "||":
				toks = append(toks, token{tokOr, two, start})
				i += 2
			case c == '<':
				toks = append(toks, token{tokLt, "<", start})
				i++
			case c == '>':
				toks = append(toks, token{tokGt, ">", start})
				i++
			case c == '+':
				toks = append(toks, token{tokPlus, "+", start})
				i++
			case c == '-':
				toks = append(toks, token{tokMinus, "-", start})
				i++
			case c == '*':
				toks = append(toks, token{tokStar, "*", start})
				i++
			case c == '/':
				toks = append(toks, token{tokSlash, "/", start})
				i++
			case c == '(':
				toks = append(toks, token{tokLParen, "(", start})
				i++
			case c == ')':
				toks = append(toks, token{tokRParen, ")", start})
				i++
			case c == ',':
				toks = append(toks, token{tokComma, ",", start})
				i++
			default:
				return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrSyntax, string(c), start)
			}
		}
	}

	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Identifier bodies include dots so a field path lexes as one token.
func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}
