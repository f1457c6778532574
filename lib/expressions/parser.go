package expressions

import (
	"fmt"
	"strconv"
	"strings"
)

var functionNames = map[string]string{
	"valid":   "is_valid",
	"missing": "is_missing",
}

var methodNames = map[string]string{
	"any":        "any",
	"all":        "all",
	"duplicates": "duplicates",
}

var comparisonOps = map[string]bool{
	"==": true,
	"!=": true,
	"<":  true,
	"<=": true,
	">":  true,
	">=": true,
}

// operand is a parsed sub-expression plus what the parser still needs to
// know about its syntactic form.
type operand struct {
	expr   Expr
	pos    int
	name   string // bare identifier
	isLit  bool   // number or string literal
	isList bool
}

type parser struct {
	src  string
	toks []token
	i    int
}

// Parse converts a filter expression into an expression tree that refers
// to variables by alias. A blank source yields an empty expression.
func Parse(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return Expr{}, nil
	}
	toks, err := tokenize(src)
	if err != nil {
		return Expr{}, err
	}
	p := &parser{src: src, toks: toks}
	out, err := p.expression()
	if err != nil {
		return Expr{}, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return Expr{}, p.errorf(tok, "unexpected %q", tok.text)
	}
	return out.expr, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) advance() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) is(kind tokenKind, text string) bool {
	tok := p.peek()
	return tok.kind == kind && tok.text == text
}

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.is(kind, text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if p.accept(tokOp, text) {
		return nil
	}
	tok := p.peek()
	if tok.kind == tokEOF {
		return p.errorf(tok, "expected %q, got end of input", text)
	}
	return p.errorf(tok, "expected %q, got %q", text, tok.text)
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Source: p.src, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expression() (operand, error) {
	return p.boolOp("or", p.andExpr)
}

func (p *parser) andExpr() (operand, error) {
	return p.boolOp("and", p.notExpr)
}

func (p *parser) boolOp(op string, next func() (operand, error)) (operand, error) {
	first, err := next()
	if err != nil {
		return operand{}, err
	}
	if !p.is(tokKeyword, op) {
		return first, nil
	}
	args := []Expr{first.expr}
	for p.accept(tokKeyword, op) {
		o, err := next()
		if err != nil {
			return operand{}, err
		}
		args = append(args, o.expr)
	}
	return operand{expr: nest(args, op, ""), pos: first.pos}, nil
}

func (p *parser) notExpr() (operand, error) {
	tok := p.peek()
	if p.accept(tokKeyword, "not") {
		inner, err := p.notExpr()
		if err != nil {
			return operand{}, err
		}
		return operand{expr: Func("not", inner.expr), pos: tok.pos}, nil
	}
	return p.comparison()
}

// comparisonOp consumes a comparison operator, reporting "not in" as
// negated "in".
func (p *parser) comparisonOp() (op string, negated bool, ok bool) {
	tok := p.peek()
	switch {
	case tok.kind == tokOp && comparisonOps[tok.text]:
		p.advance()
		return tok.text, false, true
	case tok.kind == tokKeyword && tok.text == "in":
		p.advance()
		return "in", false, true
	case tok.kind == tokKeyword && tok.text == "not" &&
		p.toks[p.i+1].kind == tokKeyword && p.toks[p.i+1].text == "in":
		p.advance()
		p.advance()
		return "in", true, true
	}
	return "", false, false
}

func (p *parser) comparison() (operand, error) {
	left, err := p.arith()
	if err != nil {
		return operand{}, err
	}
	op, negated, ok := p.comparisonOp()
	if !ok {
		return left, nil
	}
	right, err := p.arith()
	if err != nil {
		return operand{}, err
	}
	if tok := p.peek(); tok.kind == tokOp && comparisonOps[tok.text] ||
		tok.kind == tokKeyword && tok.text == "in" {
		return operand{}, p.errorf(tok, "chained comparisons are not supported")
	}
	out := Func(op, left.expr, right.expr)
	if negated {
		out = Func("not", out)
	}
	return operand{expr: out, pos: left.pos}, nil
}

func (p *parser) arith() (operand, error) {
	return p.binary(p.term, "+", "-")
}

func (p *parser) term() (operand, error) {
	return p.binary(p.unary, "*", "/")
}

func (p *parser) binary(next func() (operand, error), ops ...string) (operand, error) {
	left, err := next()
	if err != nil {
		return operand{}, err
	}
	for {
		tok := p.peek()
		matched := false
		for _, op := range ops {
			if tok.kind == tokOp && tok.text == op {
				matched = true
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return operand{}, err
		}
		left = operand{expr: Func(tok.text, left.expr, right.expr), pos: left.pos}
	}
}

func (p *parser) unary() (operand, error) {
	tok := p.peek()
	if tok.kind != tokOp || (tok.text != "-" && tok.text != "+") {
		return p.postfix()
	}
	p.advance()
	inner, err := p.unary()
	if err != nil {
		return operand{}, err
	}
	if !inner.isLit {
		return operand{}, p.errorf(tok, "unary %s is only supported on numbers", tok.text)
	}
	if tok.text == "+" {
		return inner, nil
	}
	switch v := inner.expr.Value.(type) {
	case int:
		inner.expr.Value = -v
	case float64:
		inner.expr.Value = -v
	default:
		return operand{}, p.errorf(tok, "unary - is only supported on numbers")
	}
	inner.pos = tok.pos
	return inner, nil
}

func (p *parser) postfix() (operand, error) {
	out, err := p.primary()
	if err != nil {
		return operand{}, err
	}
	for {
		tok := p.peek()
		switch {
		case p.is(tokOp, "."):
			p.advance()
			method := p.advance()
			if method.kind != tokIdent {
				return operand{}, p.errorf(method, "expected a method name")
			}
			if !p.is(tokOp, "(") {
				return operand{}, p.errorf(method, "attribute access is not supported")
			}
			if out.name == "" {
				return operand{}, p.errorf(tok, "methods can only be called on variables")
			}
			out, err = p.methodCall(out, method)
			if err != nil {
				return operand{}, err
			}
		case p.is(tokOp, "("):
			return operand{}, p.errorf(tok, "only named functions can be called")
		default:
			return out, nil
		}
	}
}

func (p *parser) primary() (operand, error) {
	tok := p.advance()
	switch tok.kind {
	case tokIdent:
		if p.is(tokOp, "(") {
			return p.functionCall(tok)
		}
		return operand{expr: Var(tok.text), pos: tok.pos, name: tok.text}, nil
	case tokInt:
		v, err := strconv.Atoi(tok.text)
		if err != nil {
			return operand{}, p.errorf(tok, "integer %s out of range", tok.text)
		}
		return operand{expr: Val(v), pos: tok.pos, isLit: true}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return operand{}, p.errorf(tok, "invalid number %s", tok.text)
		}
		return operand{expr: Val(v), pos: tok.pos, isLit: true}, nil
	case tokString:
		return operand{expr: Val(tok.text), pos: tok.pos, isLit: true}, nil
	case tokOp:
		switch tok.text {
		case "[":
			return p.list(tok, "]")
		case "(":
			if p.accept(tokOp, ")") {
				return operand{expr: Val([]any{}), pos: tok.pos, isList: true}, nil
			}
			save := p.i
			inner, err := p.expression()
			if err != nil {
				return operand{}, err
			}
			if p.accept(tokOp, ")") {
				return inner, nil
			}
			if p.is(tokOp, ",") {
				p.i = save
				return p.list(tok, ")")
			}
			return operand{}, p.expect(")")
		}
	case tokEOF:
		return operand{}, p.errorf(tok, "unexpected end of input")
	}
	return operand{}, p.errorf(tok, "unexpected %q", tok.text)
}

// list parses literal elements up to closer. Elements must all be numbers
// or all be strings; bare identifiers count as strings and r(lo, hi)
// expands to the inclusive integer range.
func (p *parser) list(open token, closer string) (operand, error) {
	items := []any{}
	var numbers, strs int
	for !p.is(tokOp, closer) {
		tok := p.peek()
		if tok.kind == tokIdent && tok.text == "r" && p.toks[p.i+1].kind == tokOp && p.toks[p.i+1].text == "(" {
			values, err := p.rangeCall()
			if err != nil {
				return operand{}, err
			}
			for _, v := range values {
				items = append(items, v)
			}
			numbers += len(values)
		} else {
			item, err := p.expression()
			if err != nil {
				return operand{}, err
			}
			switch {
			case item.name != "":
				items = append(items, item.name)
				strs++
			case item.isLit:
				if _, ok := item.expr.Value.(string); ok {
					strs++
				} else {
					numbers++
				}
				items = append(items, item.expr.Value)
			default:
				return operand{}, p.errorf(tok, "list elements must be numbers or strings")
			}
		}
		if !p.accept(tokOp, ",") {
			break
		}
	}
	if err := p.expect(closer); err != nil {
		return operand{}, err
	}
	if numbers > 0 && strs > 0 {
		return operand{}, p.errorf(open, "lists must hold only numbers or only strings")
	}
	return operand{expr: Val(items), pos: open.pos, isList: true}, nil
}

func (p *parser) rangeCall() ([]int, error) {
	name := p.advance()
	p.advance()
	var bounds []int
	for !p.is(tokOp, ")") {
		bound, err := p.unary()
		if err != nil {
			return nil, err
		}
		v, ok := bound.expr.Value.(int)
		if !bound.isLit || !ok {
			return nil, p.errorf(name, "function 'r' needs 2 integer arguments")
		}
		bounds = append(bounds, v)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	if len(bounds) != 2 {
		return nil, p.errorf(name, "function 'r' needs 2 integer arguments")
	}
	var out []int
	for v := bounds[0]; v <= bounds[1]; v++ {
		out = append(out, v)
	}
	return out, nil
}

// arguments parses a parenthesised call argument list.
func (p *parser) arguments() ([]operand, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []operand
	for !p.is(tokOp, ")") {
		if p.peek().kind == tokIdent && p.toks[p.i+1].kind == tokOp && p.toks[p.i+1].text == "=" {
			return nil, p.errorf(p.peek(), "keyword arguments are not supported")
		}
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.accept(tokOp, ",") {
			break
		}
	}
	return args, p.expect(")")
}

// functionCall handles valid(...) and missing(...). several arguments are
// wrapped individually and or-nested.
func (p *parser) functionCall(name token) (operand, error) {
	function, ok := functionNames[name.text]
	if !ok {
		return operand{}, p.errorf(name, "unknown function %q", name.text)
	}
	args, err := p.arguments()
	if err != nil {
		return operand{}, err
	}
	if len(args) == 0 {
		return operand{}, p.errorf(name, "%s() needs at least one variable", name.text)
	}
	exprs := make([]Expr, len(args))
	for i, a := range args {
		exprs[i] = a.expr
		if a.isLit {
			exprs[i] = Var(fmt.Sprint(a.expr.Value))
		}
	}
	if len(exprs) == 1 {
		return operand{expr: Func(function, exprs...), pos: name.pos}, nil
	}
	wrapped := make([]Expr, len(exprs))
	for i, e := range exprs {
		wrapped[i] = Func(function, e)
	}
	return operand{expr: nest(wrapped, function, "or"), pos: name.pos}, nil
}

func (p *parser) methodCall(receiver operand, name token) (operand, error) {
	method, ok := methodNames[name.text]
	if !ok {
		return operand{}, p.errorf(name, "unknown method %q", name.text)
	}
	args, err := p.arguments()
	if err != nil {
		return operand{}, err
	}
	if len(args) > 1 {
		return operand{}, p.errorf(name, "%s() takes at most one argument", name.text)
	}
	if method == "duplicates" && len(args) > 0 {
		return operand{}, p.errorf(name, "duplicates() takes no arguments")
	}
	exprs := []Expr{receiver.expr}
	for _, a := range args {
		if !a.isList {
			return operand{}, p.errorf(name, "%s() needs a list argument", name.text)
		}
		exprs = append(exprs, a.expr)
	}
	return operand{expr: Func(method, exprs...), pos: receiver.pos}, nil
}
