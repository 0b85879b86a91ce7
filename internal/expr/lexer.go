package expr

import (
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tokError tokenType = iota
	tokEOF
	tokNumber
	tokString
	tokIdent
	tokVar  // #name
	tokSoft // ?name
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	typ tokenType
	val string
	pos int
}

type lexer struct {
	input string
	start int
	pos   int
	width int
}

func (l *lexer) next() rune {
	if l.pos >= len(l.input) {
		l.width = 0
		return -1
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.width = w
	l.pos += w
	return r
}

func (l *lexer) backup() { l.pos -= l.width }

func (l *lexer) peek() rune {
	r := l.next()
	l.backup()
	return r
}

func (l *lexer) emit(t tokenType) token {
	tok := token{typ: t, val: l.input[l.start:l.pos], pos: l.start}
	l.start = l.pos
	return tok
}

func (l *lexer) nextToken() token {
	for {
		r := l.next()
		if r == -1 {
			return l.emit(tokEOF)
		}
		if unicode.IsSpace(r) {
			l.start = l.pos
			continue
		}

		switch r {
		case '(':
			return l.emit(tokLParen)
		case ')':
			return l.emit(tokRParen)
		case ',':
			return l.emit(tokComma)
		case '"', '\'':
			return l.lexString(r)
		case '#':
			return l.lexPrefixed(tokVar)
		case '?':
			return l.lexPrefixed(tokSoft)
		case '+', '-', '*', '/', '%':
			return l.emit(tokOp)
		case '<', '>', '!', '=':
			if l.peek() == '=' {
				l.next()
			} else if r == '=' {
				return l.emit(tokError)
			}
			return l.emit(tokOp)
		case '&', '|':
			if l.peek() != r {
				return l.emit(tokError)
			}
			l.next()
			return l.emit(tokOp)
		}

		if unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peek())) {
			return l.lexNumber()
		}
		if isIdentStart(r) {
			return l.lexIdent(tokIdent)
		}
		return l.emit(tokError)
	}
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

func (l *lexer) lexIdent(t tokenType) token {
	for {
		r := l.next()
		if isIdentRune(r) {
			continue
		}
		if r != -1 {
			l.backup()
		}
		return l.emit(t)
	}
}

func (l *lexer) lexPrefixed(t tokenType) token {
	if !isIdentStart(l.peek()) {
		return l.emit(tokError)
	}
	return l.lexIdent(t)
}

func (l *lexer) lexNumber() token {
	seenExp := false
	for {
		r := l.next()
		switch {
		case unicode.IsDigit(r), r == '.', r == 'x', r == 'X',
			(r >= 'a' && r <= 'f' && r != 'e'), (r >= 'A' && r <= 'F' && r != 'E'):
			continue
		case (r == 'e' || r == 'E') && !seenExp:
			seenExp = true
			if p := l.peek(); p == '+' || p == '-' {
				l.next()
			}
			continue
		}
		if r != -1 {
			l.backup()
		}
		return l.emit(tokNumber)
	}
}

func (l *lexer) lexString(quote rune) token {
	for {
		r := l.next()
		switch r {
		case '\\':
			l.next()
		case quote:
			return l.emit(tokString)
		case -1:
			return l.emit(tokError)
		}
	}
}
