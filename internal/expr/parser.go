package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marte-community/dt-engine/internal/value"
)

// SyntaxError describes malformed expression source.
type SyntaxError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("expression %q: col %d: %s", e.Source, e.Pos+1, e.Msg)
}

type parser struct {
	src string
	lex *lexer
	buf []token
}

// Parse parses src into an expression tree.
func Parse(src string) (Node, error) {
	p := &parser{src: src, lex: &lexer{input: src}}
	n, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.val)
	}
	return n, nil
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Source: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) next() token {
	if len(p.buf) > 0 {
		t := p.buf[0]
		p.buf = p.buf[1:]
		return t
	}
	return p.lex.nextToken()
}

func (p *parser) peek() token {
	if len(p.buf) == 0 {
		p.buf = append(p.buf, p.lex.nextToken())
	}
	return p.buf[0]
}

// binaryOp returns the canonical operator and its precedence, or 0 when t
// does not continue a binary expression.
func binaryOp(t token) (string, int) {
	switch t.typ {
	case tokOp:
		switch t.val {
		case "||":
			return t.val, 1
		case "&&":
			return t.val, 2
		case "==", "!=":
			return t.val, 3
		case "<", "<=", ">", ">=":
			return t.val, 4
		case "+", "-":
			return t.val, 5
		case "*", "/", "%":
			return t.val, 6
		}
	case tokIdent:
		switch t.val {
		case "or":
			return "||", 1
		case "and":
			return "&&", 2
		}
	}
	return "", 0
}

func (p *parser) parseExpression(minPrec int) (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op, prec := binaryOp(t)
		if prec == 0 || prec <= minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseExpression(prec)
		if err != nil {
			return nil, err
		}
		left = &Binary{Position: left.Pos(), Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	t := p.peek()
	if (t.typ == tokOp && (t.val == "-" || t.val == "!")) || (t.typ == tokIdent && t.val == "not") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := t.val
		if op == "not" {
			op = "!"
		}
		if lit, ok := x.(*Literal); ok && op == "-" && lit.Value.IsNumber() {
			if lit.Value.Kind() == value.KindInt {
				return &Literal{Position: t.pos, Value: value.FromInt(-lit.Value.Int(0))}, nil
			}
			return &Literal{Position: t.pos, Value: value.FromFloat(-lit.Value.Float(0))}, nil
		}
		return &Unary{Position: t.pos, Op: op, X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		v, ok := ParseNumber(t.val)
		if !ok {
			return nil, p.errorf(t, "invalid number %q", t.val)
		}
		return &Literal{Position: t.pos, Value: v}, nil
	case tokString:
		s, err := Unquote(t.val)
		if err != nil {
			return nil, p.errorf(t, "%v", err)
		}
		return &Literal{Position: t.pos, Value: value.FromString(s)}, nil
	case tokVar:
		return &Ref{Position: t.pos, Path: t.val[1:], VarOnly: true}, nil
	case tokSoft:
		return &Ref{Position: t.pos, Path: t.val[1:], Soft: true}, nil
	case tokIdent:
		switch t.val {
		case "true":
			return &Literal{Position: t.pos, Value: value.FromBool(true)}, nil
		case "false":
			return &Literal{Position: t.pos, Value: value.FromBool(false)}, nil
		case "null":
			return &Literal{Position: t.pos, Value: value.Null}, nil
		}
		if p.peek().typ == tokLParen {
			return p.parseCall(t)
		}
		if strings.HasSuffix(t.val, ".") || strings.Contains(t.val, "..") {
			return nil, p.errorf(t, "malformed reference %q", t.val)
		}
		return &Ref{Position: t.pos, Path: t.val}, nil
	case tokLParen:
		n, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.typ != tokRParen {
			return nil, p.errorf(c, "expected )")
		}
		return n, nil
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	}
	return nil, p.errorf(t, "unexpected %q", t.val)
}

func (p *parser) parseCall(name token) (Node, error) {
	p.next() // (
	call := &Call{Position: name.pos, Name: name.val}
	if _, ok := builtins[name.val]; !ok {
		return nil, p.errorf(name, "unknown function %q", name.val)
	}
	if p.peek().typ == tokRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseExpression(0)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		t := p.next()
		if t.typ == tokRParen {
			return call, nil
		}
		if t.typ != tokComma {
			return nil, p.errorf(t, "expected , or )")
		}
	}
}

// ParseNumber parses an integer (decimal or 0x hex) or float literal.
func ParseNumber(s string) (value.Value, bool) {
	digits := strings.TrimLeft(s, "+-")
	if digits == "" || !(digits[0] >= '0' && digits[0] <= '9' || digits[0] == '.') {
		return value.Unknown, false
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return value.FromInt(i), true
	}
	if strings.ContainsAny(s, "xX") {
		return value.Unknown, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.FromFloat(f), true
	}
	return value.Unknown, false
}

// Unquote strips the surrounding quotes of a string token and resolves the
// \" \' \\ \n \t \r escapes.
func Unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != s[len(s)-1] || (s[0] != '"' && s[0] != '\'') {
		return "", fmt.Errorf("unterminated string %s", s)
	}
	body := s[1 : len(s)-1]
	if !strings.Contains(body, `\`) {
		return body, nil
	}
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 >= len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}
