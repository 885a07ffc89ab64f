// Package expr implements the restricted expression language used for item
// identity, sort keys, field defaults and message templates. The grammar is
// closed on purpose: field references, literals, arithmetic and string
// operations, comparisons, and calls into an explicit function table supplied
// by the caller. There is no way to reach anything outside the environment.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Func is one allow-listed callable exposed to expressions
type Func func(args []any) (any, error)

// Env is the evaluation namespace: item/config fields and the function table.
// Evaluation never modifies the environment.
type Env struct {
	Vars  map[string]any
	Funcs map[string]Func
}

// Expr is a parsed expression, reusable across evaluations
type Expr struct {
	src  string
	root node
}

type node interface {
	eval(env Env) (any, error)
}

// Parse compiles the expression source
func Parse(src string) (*Expr, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression against the environment
func (e *Expr) Eval(env Env) (any, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", e.src, err)
	}
	return v, nil
}

// Eval is a parse-and-evaluate convenience for one-shot expressions
func Eval(src string, env Env) (any, error) {
	e, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(env)
}

// parser is a plain recursive-descent parser over the token stream
type parser struct {
	lex lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expectOp(op string) error {
	if p.tok.kind != tokOp || p.tok.text != op {
		return fmt.Errorf("expected %q at position %d", op, p.tok.pos)
	}
	return p.advance()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.tok.kind == tokOp {
		switch p.tok.text {
		case "==", "!=", "<", "<=", ">", ">=":
			op := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &binNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	switch p.tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at position %d", p.tok.text, p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{value: f}, nil
	case tokString:
		s := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{value: s}, nil
	case tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind == tokOp && p.tok.text == "(" {
			return p.parseCall(name)
		}
		return &identNode{name: name}, nil
	case tokOp:
		if p.tok.text == "(" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return inner, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
}

func (p *parser) parseCall(name string) (node, error) {
	if err := p.advance(); err != nil { // consume "("
		return nil, err
	}
	call := &callNode{name: name}
	if p.tok.kind == tokOp && p.tok.text == ")" {
		return call, p.advance()
	}
	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		if p.tok.kind == tokOp && p.tok.text == "," {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		return call, p.expectOp(")")
	}
}

type litNode struct{ value any }

func (n *litNode) eval(Env) (any, error) { return n.value, nil }

type identNode struct{ name string }

func (n *identNode) eval(env Env) (any, error) {
	v, ok := env.Vars[n.name]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", n.name)
	}
	return v, nil
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(env Env) (any, error) {
	fn, ok := env.Funcs[n.name]
	if !ok {
		return nil, fmt.Errorf("function %q is not allowed", n.name)
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := fn(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.name, err)
	}
	return v, nil
}

type negNode struct{ operand node }

func (n *negNode) eval(env Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	f, ok := toNumber(v)
	if !ok {
		return nil, fmt.Errorf("cannot negate %T", v)
	}
	return -f, nil
}

type binNode struct {
	op          string
	left, right node
}

func (n *binNode) eval(env Env) (any, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "+":
		if lf, lok := toNumber(l); lok {
			if rf, rok := toNumber(r); rok {
				return lf + rf, nil
			}
		}
		return ToString(l) + ToString(r), nil
	case "-", "*", "/", "%":
		lf, lok := toNumber(l)
		rf, rok := toNumber(r)
		if !lok || !rok {
			return nil, fmt.Errorf("operator %q needs numeric operands", n.op)
		}
		switch n.op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return lf / rf, nil
		case "%":
			if rf == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return float64(int64(lf) % int64(rf)), nil
		}
	case "==":
		return Compare(l, r) == 0, nil
	case "!=":
		return Compare(l, r) != 0, nil
	case "<":
		return Compare(l, r) < 0, nil
	case "<=":
		return Compare(l, r) <= 0, nil
	case ">":
		return Compare(l, r) > 0, nil
	case ">=":
		return Compare(l, r) >= 0, nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

// Compare orders two values: numerically when both coerce to numbers, by
// string otherwise. Used by == and friends and by pool sorting.
func Compare(a, b any) int {
	if af, aok := toNumber(a); aok {
		if bf, bok := toNumber(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(ToString(a), ToString(b))
}

// ToString renders an evaluation result as text; nil becomes empty
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
