package typeenc

import "strings"

type lexState int

const (
	stateNormal lexState = iota
	stateIdentifier
	stateTemplateTypes
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokString
	tokChar
)

type token struct {
	kind tokenKind
	text string // number digits, identifier, or quoted-string contents
	ch   byte   // the character for tokChar
}

// A lexer tokenizes one encoding string. The parser switches the state when
// it enters a struct/union tag or a template argument list; identifiers are
// only meaningful there.
type lexer struct {
	s     string
	pos   int
	state lexState
}

// Bridged C++ anonymous namespaces leak "<unnamed>::" into encodings, which
// would otherwise read as an unterminated template list.
func preprocess(s string) string {
	return strings.ReplaceAll(s, "<unnamed>::", "unnamed::")
}

func newLexer(s string) *lexer {
	return &lexer{s: preprocess(s)}
}

func (l *lexer) remaining() string { return l.s[l.pos:] }

func (l *lexer) eof() bool { return l.pos >= len(l.s) }

func (l *lexer) skipSpace() {
	for l.pos < len(l.s) && (l.s[l.pos] == ' ' || l.s[l.pos] == '\t') {
		l.pos++
	}
}

// peek returns the next non-space byte without consuming it, 0 at the end.
func (l *lexer) peek() byte {
	l.skipSpace()
	if l.eof() {
		return 0
	}
	return l.s[l.pos]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c == '?' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == ':'
}

func (l *lexer) next() token {
	l.skipSpace()
	if l.eof() {
		return token{kind: tokEOF}
	}
	c := l.s[l.pos]

	if isDigit(c) || (c == '-' && l.pos+1 < len(l.s) && isDigit(l.s[l.pos+1])) {
		start := l.pos
		l.pos++
		for l.pos < len(l.s) && isDigit(l.s[l.pos]) {
			l.pos++
		}
		return token{kind: tokNumber, text: l.s[start:l.pos]}
	}

	if (l.state == stateIdentifier || l.state == stateTemplateTypes) && isIdentStart(c) {
		start := l.pos
		l.pos++
		for l.pos < len(l.s) && isIdentCont(l.s[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.s[start:l.pos]}
	}

	if c == '"' {
		l.pos++
		start := l.pos
		for l.pos < len(l.s) && l.s[l.pos] != '"' {
			l.pos++
		}
		text := l.s[start:l.pos]
		if l.pos < len(l.s) {
			l.pos++ // closing quote
		}
		return token{kind: tokString, text: text}
	}

	l.pos++
	return token{kind: tokChar, ch: c}
}

// accept consumes the next token if it is the given character.
func (l *lexer) accept(c byte) bool {
	save := l.pos
	t := l.next()
	if t.kind == tokChar && t.ch == c {
		return true
	}
	l.pos = save
	return false
}
