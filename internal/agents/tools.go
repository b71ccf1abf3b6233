package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/agentloop/agentloop/internal/registry"
)

// RegisterBuiltins installs the built-in tools into the registry.
func RegisterBuiltins(reg *registry.Registry) error {
	builtins := []struct {
		schema registry.Schema
		fn     registry.Func
	}{
		{
			schema: registry.Schema{
				Name:        "calculator",
				Description: "evaluates an arithmetic expression with + - * / and parentheses",
				Input: []registry.FieldSpec{
					{Name: "expression", Type: registry.TypeString, Required: true, MinLength: 3, MaxLength: 200},
				},
				Output: []registry.FieldSpec{
					{Name: "value", Type: registry.TypeFloat, Required: true},
				},
				Timeout: 2 * time.Second,
			},
			fn: Calculator,
		},
		{
			schema: registry.Schema{
				Name:        "echo",
				Description: "returns its input text unchanged",
				Input: []registry.FieldSpec{
					{Name: "text", Type: registry.TypeString, Required: true, MaxLength: 2000},
				},
				Timeout: time.Second,
			},
			fn: Echo,
		},
		{
			schema: registry.Schema{
				Name:        "clock",
				Description: "reports the current UTC time",
				Timeout:     time.Second,
			},
			fn: Clock,
		},
	}

	for _, b := range builtins {
		if err := reg.Register(b.schema, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// Calculator evaluates an arithmetic expression.
func Calculator(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	expr, _ := args["expression"].(string)
	val, err := evalExpr(expr)
	if err != nil {
		return "", nil, err
	}
	text := strconv.FormatFloat(val, 'f', -1, 64)
	return text, map[string]any{"value": val}, nil
}

// Echo returns its input.
func Echo(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	text, _ := args["text"].(string)
	return text, map[string]any{"text": text}, nil
}

// Clock reports the current UTC time.
func Clock(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	return now, map[string]any{"utc": now}, nil
}

// evalExpr is a recursive-descent evaluator over + - * / and parentheses.
func evalExpr(expr string) (float64, error) {
	p := &exprParser{input: strings.TrimSpace(expr)}
	val, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q in expression", p.input[p.pos:])
	}
	return val, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		val, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return val, nil
	case c == '-':
		p.pos++
		val, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		return -val, nil
	case unicode.IsDigit(rune(c)) || c == '.':
		start := p.pos
		for p.pos < len(p.input) {
			c := p.input[p.pos]
			if !unicode.IsDigit(rune(c)) && c != '.' {
				break
			}
			p.pos++
		}
		val, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
		}
		return val, nil
	default:
		return 0, fmt.Errorf("unexpected character %q", string(c))
	}
}

// peek returns the next non-space byte, or 0 at end of input.
func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}
