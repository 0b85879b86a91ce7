package parser

import (
	"fmt"
	"strings"

	"github.com/marte-community/dt-engine/internal/expr"
)

// Error is a parse problem located in the source. Parsing continues after
// an error; the affected definition keeps whatever was read.
type Error struct {
	File     string
	Position Position
	Path     string
	Msg      string
}

func (e *Error) Error() string {
	loc := fmt.Sprintf("%d:%d", e.Position.Line, e.Position.Column)
	if e.File != "" {
		loc = e.File + ":" + loc
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Msg)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

type Parser struct {
	file     string
	lexer    *Lexer
	buf      []Token
	comments []Comment
	errors   []*Error
	path     []string
}

func NewParser(input string) *Parser {
	return &Parser{
		lexer: NewLexer(input),
	}
}

// NewFileParser is NewParser with the file name recorded in errors.
func NewFileParser(file, input string) *Parser {
	p := NewParser(input)
	p.file = file
	return p
}

func (p *Parser) Errors() []*Error {
	return p.errors
}

func (p *Parser) addError(pos Position, msg string) {
	p.errors = append(p.errors, &Error{
		File:     p.file,
		Position: pos,
		Path:     strings.Join(p.path, "."),
		Msg:      msg,
	})
}

func (p *Parser) next() Token {
	if len(p.buf) > 0 {
		t := p.buf[0]
		p.buf = p.buf[1:]
		return t
	}
	return p.fetchToken()
}

func (p *Parser) peek() Token {
	return p.peekN(0)
}

func (p *Parser) peekN(n int) Token {
	for len(p.buf) <= n {
		p.buf = append(p.buf, p.fetchToken())
	}
	return p.buf[n]
}

func (p *Parser) fetchToken() Token {
	for {
		tok := p.lexer.NextToken()
		if tok.Type == TokenComment {
			p.addComment(tok)
			continue
		}
		return tok
	}
}

func (p *Parser) addComment(tok Token) {
	p.comments = append(p.comments, Comment{
		Position: tok.Position,
		Text:     tok.Value,
		Block:    strings.HasPrefix(tok.Value, "/*"),
	})
}

// Parse reads the whole input. The returned configuration is always usable;
// the error is the first problem found, if any (see Errors for all).
func (p *Parser) Parse() (*Configuration, error) {
	config := &Configuration{File: p.file}
	config.Definitions, config.Condition = p.parseBlock(false)
	config.Comments = p.comments

	var err error
	if len(p.errors) > 0 {
		err = p.errors[0]
	}
	return config, err
}

// parseBlock reads definitions until '}' (when nested) or EOF. A leading
// #if directive is returned separately.
func (p *Parser) parseBlock(nested bool) ([]*Definition, *Directive) {
	var defs []*Definition
	var cond *Directive
	sameLine := false
	for {
		tok := p.peek()
		switch tok.Type {
		case TokenNewline:
			p.next()
			sameLine = false
			continue
		case TokenSemicolon:
			p.next()
			sameLine = len(defs) > 0
			continue
		case TokenEOF:
			if nested {
				p.addError(tok.Position, "unexpected EOF, expected }")
			}
			return defs, cond
		case TokenRBrace:
			if nested {
				return defs, cond
			}
			p.next()
			p.addError(tok.Position, "unexpected }")
			continue
		case TokenDirective:
			p.next()
			text := strings.TrimSpace(strings.TrimPrefix(tok.Value, "#if"))
			if len(defs) > 0 || cond != nil {
				p.addError(tok.Position, "#if must be the first entry of a file or block")
				continue
			}
			if text == "" {
				p.addError(tok.Position, "#if requires a condition")
				continue
			}
			if _, err := expr.Parse(text); err != nil {
				p.addError(tok.Position, err.Error())
			}
			cond = &Directive{Position: tok.Position, Expr: text}
			continue
		}

		def, ok := p.parseDefinition()
		if ok {
			def.StartsAtSameLine = sameLine
			defs = append(defs, def)
		} else if p.peek() == tok {
			// Synchronization: skip token if not consumed to make progress
			p.next()
		}
		sameLine = false
	}
}

func (p *Parser) parseDefinition() (*Definition, bool) {
	tok := p.peek()
	def := &Definition{Position: tok.Position}

	switch tok.Type {
	case TokenIdentifier:
		p.next()
		def.Key = tok.Value
		if t := p.peek(); t.Type == TokenIdentifier {
			p.next()
			def.Type, def.Key = def.Key, t.Value
		}
	case TokenEqual, TokenString, TokenMultiString, TokenLBracket, TokenLBrace:
		// anonymous entry
	default:
		p.next()
		p.addError(tok.Position, fmt.Sprintf("unexpected token %q", tok.Value))
		p.skipLine()
		return nil, false
	}

	p.path = append(p.path, def.Key)
	defer func() { p.path = p.path[:len(p.path)-1] }()

	if p.peek().Type == TokenColon {
		p.next()
		base := p.next()
		if base.Type != TokenIdentifier {
			p.addError(base.Position, "expected base path after :")
		} else {
			def.Base = base.Value
		}
	}

	switch t := p.peek(); t.Type {
	case TokenEqual:
		p.next()
		def.Value = p.parseValue()
	case TokenString, TokenMultiString, TokenLBracket:
		if def.Key == "" {
			def.Value = p.parseValue()
		}
	}

	p.parseChildren(def)

	switch t := p.peek(); t.Type {
	case TokenNewline, TokenSemicolon, TokenRBrace, TokenEOF:
	default:
		p.addError(t.Position, fmt.Sprintf("unexpected %q after field", t.Value))
		p.skipLine()
	}
	return def, true
}

func (p *Parser) parseChildren(def *Definition) {
	if p.peek().Type != TokenLBrace {
		// A block may open on the following line.
		n := 0
		for p.peekN(n).Type == TokenNewline {
			n++
		}
		if n == 0 || p.peekN(n).Type != TokenLBrace {
			return
		}
		for i := 0; i < n; i++ {
			p.next()
		}
		def.BraceOnNewLine = true
	}
	p.next() // {
	def.HasBlock = true
	def.Children, def.Condition = p.parseBlock(true)
	end := p.peek()
	def.EndPosition = end.Position
	if end.Type == TokenRBrace {
		p.next()
	}
}

// parseValue reads the value after '='. It must be called with an empty
// lookahead buffer because values are scanned in raw mode.
func (p *Parser) parseValue() Value {
	var tok Token
	if len(p.buf) > 0 {
		tok = p.next()
	} else {
		tok = p.lexer.ScanValue()
	}

	switch tok.Type {
	case TokenRaw:
		if tok.Value == "" {
			return nil
		}
		if strings.HasPrefix(tok.Value, `"`) {
			if s, err := expr.Unquote(tok.Value); err == nil && isSingleQuoted(tok.Value) {
				return &StringValue{Position: tok.Position, Value: s, Raw: tok.Value}
			}
		}
		return &RawValue{Position: tok.Position, Text: tok.Value}
	case TokenString:
		s, err := expr.Unquote(tok.Value)
		if err != nil {
			p.addError(tok.Position, "malformed quoted string")
		}
		return &StringValue{Position: tok.Position, Value: s, Raw: tok.Value}
	case TokenMultiString:
		body := strings.TrimSuffix(strings.TrimPrefix(tok.Value, "$["), "]")
		return &StringValue{Position: tok.Position, Value: body, Raw: tok.Value, Multiline: true}
	case TokenLBracket:
		return p.parseList(tok)
	case TokenError:
		if strings.HasPrefix(tok.Value, "$[") {
			p.addError(tok.Position, "unterminated $[ string")
		} else {
			p.addError(tok.Position, "malformed quoted string")
		}
		return &RawValue{Position: tok.Position, Text: tok.Value}
	}
	p.addError(tok.Position, fmt.Sprintf("unexpected value token %q", tok.Value))
	return nil
}

func isSingleQuoted(s string) bool {
	if len(s) < 2 || s[len(s)-1] != '"' {
		return false
	}
	for i := 1; i < len(s)-1; i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return false
		}
	}
	return true
}

func (p *Parser) parseList(open Token) Value {
	list := &ListValue{Position: open.Position}
	expectElem := true
	for {
		tok := p.lexer.ScanListElement()
		switch tok.Type {
		case TokenRBracket:
			list.EndPosition = tok.Position
			return list
		case TokenComma:
			if expectElem {
				p.addError(tok.Position, "empty list element")
			}
			expectElem = true
		case TokenComment:
			if n := len(list.Elements); n > 0 && list.Elements[n-1].Comment == "" {
				list.Elements[n-1].Comment = tok.Value
			} else {
				p.addComment(tok)
			}
		case TokenEOF:
			p.addError(open.Position, "unterminated value list")
			list.EndPosition = tok.Position
			return list
		case TokenError:
			p.addError(tok.Position, "malformed quoted string in list")
		default:
			if !expectElem {
				p.addError(tok.Position, "expected , between list elements")
			}
			expectElem = false
			var v Value
			switch tok.Type {
			case TokenMultiString:
				body := strings.TrimSuffix(strings.TrimPrefix(tok.Value, "$["), "]")
				v = &StringValue{Position: tok.Position, Value: body, Raw: tok.Value, Multiline: true}
			default:
				if s, err := expr.Unquote(tok.Value); err == nil && isSingleQuoted(tok.Value) {
					v = &StringValue{Position: tok.Position, Value: s, Raw: tok.Value}
				} else {
					v = &RawValue{Position: tok.Position, Text: tok.Value}
				}
			}
			list.Elements = append(list.Elements, ListElement{Value: v})
		}
	}
}

// skipLine drops tokens up to the end of the current line.
func (p *Parser) skipLine() {
	for {
		switch p.peek().Type {
		case TokenNewline, TokenEOF, TokenRBrace:
			return
		}
		p.next()
	}
}
