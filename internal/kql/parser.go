package kql

import (
	"fmt"
	"regexp"
	"strings"
)

// tableWherePrefix recognizes an optional leading `<Table> | where ` clause,
// stripped before parsing the filter expression proper.
var tableWherePrefix = regexp.MustCompile(`(?i)^\s*[A-Za-z_][A-Za-z0-9_]*\s*\|\s*where\s+`)

// Parse parses a KQL-lite query string into an Expr tree.
func Parse(query string) (Expr, error) {
	query = tableWherePrefix.ReplaceAllString(query, "")
	query = strings.TrimSpace(query)
	if query == "" || query == "*" {
		return MatchAll{}, nil
	}

	toks, err := newLexer(query).tokens()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("kql: unexpected trailing input at token %q", p.cur().text)
	}
	return expr, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) advance()    { p.pos++ }

// parseOr handles `or`, the lowest-precedence operator.
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Expr{left}
	for p.cur().kind == tokKeyword && p.cur().text == "or" {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return Or{Operands: operands}, nil
}

// parseAnd handles `and`, higher precedence than `or`.
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	operands := []Expr{left}
	for p.cur().kind == tokKeyword && p.cur().text == "and" {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return And{Operands: operands}, nil
}

// parseNot handles `not`, the highest-precedence operator.
func (p *parser) parseNot() (Expr, error) {
	if p.cur().kind == tokKeyword && p.cur().text == "not" {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if inner, ok := operand.(Not); ok {
			return inner.Operand, nil // not not x == x
		}
		return Not{Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.cur().kind {
	case tokLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("kql: expected closing parenthesis")
		}
		p.advance()
		return inner, nil
	case tokStar:
		p.advance()
		return MatchAll{}, nil
	case tokField:
		return p.parseComparison()
	default:
		return nil, fmt.Errorf("kql: expected field, '(' or '*', got %q", p.cur().text)
	}
}

func (p *parser) parseComparison() (Expr, error) {
	field := p.cur().text
	p.advance()

	var opText string
	switch p.cur().kind {
	case tokOp:
		opText = p.cur().text
	case tokKeyword:
		switch p.cur().text {
		case "contains", "startswith", "endswith", "has", "in":
			opText = p.cur().text
		default:
			return nil, fmt.Errorf("kql: expected operator after field %q, got %q", field, p.cur().text)
		}
	default:
		return nil, fmt.Errorf("kql: expected operator after field %q, got %q", field, p.cur().text)
	}
	p.advance()

	if Operator(opText) == OpIn {
		if p.cur().kind != tokLParen {
			return nil, fmt.Errorf("kql: expected '(' after 'in'")
		}
		p.advance()
		var values []Value
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if p.cur().kind == tokComma {
				p.advance()
				continue
			}
			break
		}
		if p.cur().kind != tokRParen {
			return nil, fmt.Errorf("kql: expected ')' to close 'in' list")
		}
		p.advance()
		return Comparison{Field: field, Operator: OpIn, Values: values}, nil
	}

	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return Comparison{Field: field, Operator: Operator(opText), Value: val}, nil
}

func (p *parser) parseValue() (Value, error) {
	switch p.cur().kind {
	case tokString:
		v := Value{Str: p.cur().text}
		p.advance()
		return v, nil
	case tokInt:
		n, err := parseIntValue(p.cur().text)
		if err != nil {
			return Value{}, fmt.Errorf("kql: invalid integer literal %q", p.cur().text)
		}
		p.advance()
		return Value{Int: n, IsInt: true}, nil
	case tokField:
		// Bareword value (unquoted identifier-shaped literal), treated as a string.
		v := Value{Str: p.cur().text}
		p.advance()
		return v, nil
	default:
		return Value{}, fmt.Errorf("kql: expected value, got %q", p.cur().text)
	}
}
