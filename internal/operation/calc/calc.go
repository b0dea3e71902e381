// Package calc provides the Calculate operation: exact decimal arithmetic
// for the backend, which is notoriously bad at it.
package calc

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"taskforge/internal/operation"
)

// Calculate evaluates an arithmetic expression with +, -, *, /, unary
// minus and parentheses over arbitrary-precision decimals.
type Calculate struct {
	operation.Base
}

func (Calculate) Name() string             { return "Calculate" }
func (Calculate) Capabilities() []string   { return []string{"arithmetic"} }
func (Calculate) RequiresNetwork() bool    { return false }
func (Calculate) RequiresFileSystem() bool { return false }

func (Calculate) Run(ctx context.Context, opCtx *operation.Context) (*operation.Result, error) {
	expr, err := opCtx.StringParam("expression")
	if err != nil {
		return nil, err
	}
	value, err := Eval(expr)
	if err != nil {
		return nil, err
	}
	opCtx.State["lastResult"] = value.String()
	return operation.Ok(value.String()), nil
}

func (Calculate) EstimateCost(*operation.Context) decimal.Decimal {
	return decimal.NewFromFloat(0.001)
}

// Eval parses and evaluates expr.
func Eval(expr string) (decimal.Decimal, error) {
	p := &parser{input: expr}
	value, err := p.parseExpr()
	if err != nil {
		return decimal.Zero, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return decimal.Zero, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

// parser is a recursive-descent evaluator with the usual precedence:
// expr := term (('+' | '-') term)*
// term := factor (('*' | '/') factor)*
// factor := number | '-' factor | '(' expr ')'
type parser struct {
	input string
	pos   int
}

func (p *parser) parseExpr() (decimal.Decimal, error) {
	left, err := p.parseTerm()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Add(right)
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Sub(right)
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (decimal.Decimal, error) {
	left, err := p.parseFactor()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Mul(right)
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return decimal.Zero, err
			}
			if right.IsZero() {
				return decimal.Zero, fmt.Errorf("division by zero")
			}
			// 16 fractional digits keeps repeating quotients bounded.
			left = left.DivRound(right, 16)
		default:
			return left, nil
		}
	}
}

func (p *parser) parseFactor() (decimal.Decimal, error) {
	p.skipSpace()
	switch {
	case p.peek() == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return decimal.Zero, err
		}
		return inner.Neg(), nil
	case p.peek() == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return decimal.Zero, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return decimal.Zero, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return inner, nil
	default:
		return p.parseNumber()
	}
}

func (p *parser) parseNumber() (decimal.Decimal, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if unicode.IsDigit(c) || c == '.' {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		if p.pos >= len(p.input) {
			return decimal.Zero, fmt.Errorf("unexpected end of expression")
		}
		return decimal.Zero, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	value, err := decimal.NewFromString(p.input[start:p.pos])
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", p.input[start:p.pos], err)
	}
	return value, nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) skipSpace() {
	p.pos += len(p.input[p.pos:]) - len(strings.TrimLeft(p.input[p.pos:], " \t"))
}
