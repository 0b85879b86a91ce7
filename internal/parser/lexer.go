package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenType int

const (
	TokenError TokenType = iota
	TokenEOF
	TokenIdentifier
	TokenColon
	TokenEqual
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenSemicolon
	TokenNewline
	TokenString
	TokenMultiString
	TokenRaw
	TokenComment
	TokenDirective
)

type Token struct {
	Type     TokenType
	Value    string
	Position Position
}

type Lexer struct {
	input     string
	start     int
	pos       int
	width     int
	line      int
	lineStart int
	startLine int
	startCol  int
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		input:     input,
		line:      1,
		startLine: 1,
		startCol:  1,
	}
}

func (l *Lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return -1
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	if r == '\n' {
		l.line++
		l.lineStart = l.pos
	}
	return r
}

func (l *Lexer) backup() {
	if l.width == 0 {
		return
	}
	l.pos -= l.width
	if l.input[l.pos] == '\n' {
		l.line--
		l.lineStart = strings.LastIndexByte(l.input[:l.pos], '\n') + 1
	}
	l.width = 0
}

func (l *Lexer) peek() rune {
	w := l.width
	r := l.next()
	l.backup()
	l.width = w
	return r
}

func (l *Lexer) peekString(prefix string) bool {
	return strings.HasPrefix(l.input[l.pos:], prefix)
}

// mark records the start of the next token.
func (l *Lexer) mark() {
	l.start = l.pos
	l.startLine = l.line
	l.startCol = l.pos - l.lineStart + 1
}

func (l *Lexer) emit(t TokenType) Token {
	tok := Token{
		Type:     t,
		Value:    l.input[l.start:l.pos],
		Position: Position{Line: l.startLine, Column: l.startCol},
	}
	l.mark()
	return tok
}

func (l *Lexer) skipBlanks() {
	for {
		r := l.next()
		if r == ' ' || r == '\t' || r == '\r' || r == '\uFEFF' {
			continue
		}
		if r != -1 {
			l.backup()
		}
		l.mark()
		return
	}
}

// NextToken returns the next structural token of a definition header.
func (l *Lexer) NextToken() Token {
	l.skipBlanks()
	r := l.next()
	switch r {
	case -1:
		return l.emit(TokenEOF)
	case '\n':
		return l.emit(TokenNewline)
	case ':':
		return l.emit(TokenColon)
	case '=':
		return l.emit(TokenEqual)
	case '{':
		return l.emit(TokenLBrace)
	case '}':
		return l.emit(TokenRBrace)
	case '[':
		return l.emit(TokenLBracket)
	case ']':
		return l.emit(TokenRBracket)
	case ',':
		return l.emit(TokenComma)
	case ';':
		return l.emit(TokenSemicolon)
	case '"':
		return l.lexString()
	case '/':
		return l.lexComment()
	case '#':
		return l.lexDirective()
	case '$':
		if l.peek() == '[' {
			l.next()
			return l.lexMultiString()
		}
	}
	if isKeyRune(r) {
		return l.lexIdentifier()
	}
	return l.emit(TokenError)
}

func isKeyRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_.-*@'", r)
}

func (l *Lexer) lexIdentifier() Token {
	for {
		r := l.next()
		if isKeyRune(r) {
			continue
		}
		if r != -1 {
			l.backup()
		}
		return l.emit(TokenIdentifier)
	}
}

func (l *Lexer) lexString() Token {
	for {
		switch l.next() {
		case '\\':
			l.next()
		case '"':
			return l.emit(TokenString)
		case '\n':
			l.backup()
			return l.emit(TokenError)
		case -1:
			return l.emit(TokenError)
		}
	}
}

// lexMultiString scans a $[ ... ] string; nested brackets are balanced.
func (l *Lexer) lexMultiString() Token {
	depth := 1
	for {
		switch l.next() {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return l.emit(TokenMultiString)
			}
		case -1:
			return l.emit(TokenError)
		}
	}
}

func (l *Lexer) lexComment() Token {
	switch l.next() {
	case '/':
		return l.lexUntilNewline(TokenComment)
	case '*':
		for {
			r := l.next()
			if r == -1 {
				return l.emit(TokenError)
			}
			if r == '*' && l.peek() == '/' {
				l.next()
				return l.emit(TokenComment)
			}
		}
	}
	l.backup()
	return l.emit(TokenError)
}

func (l *Lexer) lexUntilNewline(t TokenType) Token {
	for {
		r := l.next()
		if r == '\n' {
			l.backup()
			return l.emit(t)
		}
		if r == -1 {
			return l.emit(t)
		}
	}
}

func (l *Lexer) lexDirective() Token {
	for unicode.IsLetter(l.peek()) {
		l.next()
	}
	if l.input[l.start:l.pos] != "#if" {
		return l.emit(TokenError)
	}
	return l.lexUntilNewline(TokenDirective)
}

// ScanValue scans the value that follows '=': a quoted or multi-line
// string, the opening '[' of a list, or raw text up to the end of the
// field. Quotes and brackets are balanced so that terminators inside them
// do not end the value.
func (l *Lexer) ScanValue() Token {
	l.skipBlanks()
	switch {
	case l.peekString("$["):
		l.next()
		l.next()
		return l.lexMultiString()
	case l.peekString("["):
		l.next()
		return l.emit(TokenLBracket)
	}
	return l.scanRaw(false)
}

// ScanListElement scans the next token inside a bracketed list.
func (l *Lexer) ScanListElement() Token {
	for {
		l.skipBlanks()
		r := l.next()
		switch r {
		case -1:
			return l.emit(TokenEOF)
		case '\n':
			l.mark()
			continue
		case ',':
			return l.emit(TokenComma)
		case ']':
			return l.emit(TokenRBracket)
		case '/':
			if p := l.peek(); p == '/' || p == '*' {
				return l.lexComment()
			}
		}
		l.backup()
		if r == '{' || r == '}' || r == ';' {
			// The list was never closed; leave the terminator to the caller.
			return Token{Type: TokenEOF, Position: Position{Line: l.startLine, Column: l.startCol}}
		}
		if l.peekString("$[") {
			l.next()
			l.next()
			return l.lexMultiString()
		}
		return l.scanRaw(true)
	}
}

func (l *Lexer) scanRaw(inList bool) Token {
	depth := 0
	end := l.pos
	for {
		r := l.next()
		switch {
		case r == -1:
			return l.emitRaw(end)
		case r == '"':
			if !l.skipQuoted() {
				return l.emit(TokenError)
			}
		case r == '(' || r == '[':
			depth++
		case (r == ')' || r == ']') && depth > 0:
			depth--
		case depth > 0:
		case r == '\n', r == ';', r == '{', r == '}',
			inList && (r == ',' || r == ']'),
			r == '/' && (l.peek() == '/' || l.peek() == '*'):
			l.backup()
			return l.emitRaw(end)
		}
		if r != ' ' && r != '\t' && r != '\r' {
			end = l.pos
		}
	}
}

// emitRaw emits the raw token with trailing blanks trimmed, then resumes
// scanning at the current position.
func (l *Lexer) emitRaw(end int) Token {
	pos := l.pos
	l.pos = end
	tok := l.emit(TokenRaw)
	l.pos = pos
	l.mark()
	return tok
}

func (l *Lexer) skipQuoted() bool {
	for {
		switch l.next() {
		case '\\':
			l.next()
		case '"':
			return true
		case '\n':
			l.backup()
			return false
		case -1:
			return false
		}
	}
}
