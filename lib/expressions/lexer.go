package expressions

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokOp
	tokKeyword
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]bool{
	"and": true,
	"or":  true,
	"not": true,
	"in":  true,
}

// longest operators first
var operators = []string{
	"==", "!=", "<=", ">=", "//",
	"<", ">", "+", "-", "*", "/", "%",
	"(", ")", "[", "]", ",", ".", "=",
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.kind == tokEOF {
			return l.tokens, nil
		}
	}
}

func (l *lexer) errorf(pos int, msg string) error {
	return &SyntaxError{Source: l.src, Pos: pos, Msg: msg}
}

func (l *lexer) peekRune(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos+offset:])
	return r
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])

	switch {
	case r == '_' || unicode.IsLetter(r):
		for l.pos < len(l.src) {
			r, size := utf8.DecodeRuneInString(l.src[l.pos:])
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			l.pos += size
		}
		text := l.src[start:l.pos]
		if keywords[text] {
			return token{kind: tokKeyword, text: text, pos: start}, nil
		}
		return token{kind: tokIdent, text: text, pos: start}, nil

	case unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peekRune(1))):
		return l.number(start)

	case r == '\'' || r == '"':
		return l.string(start, byte(r))
	}

	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, l.errorf(start, "unexpected character "+string(r))
}

func (l *lexer) number(start int) (token, error) {
	kind := tokInt
	digits := func() {
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '_') {
			l.pos++
		}
	}
	digits()
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		kind = tokFloat
		l.pos++
		digits()
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		kind = tokFloat
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return token{}, l.errorf(start, "malformed exponent")
		}
		digits()
	}
	if l.pos < len(l.src) {
		r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		if r == '_' || unicode.IsLetter(r) {
			return token{}, l.errorf(start, "malformed number")
		}
	}
	text := strings.ReplaceAll(l.src[start:l.pos], "_", "")
	return token{kind: kind, text: text, pos: start}, nil
}

func (l *lexer) string(start int, quote byte) (token, error) {
	l.pos++
	var out strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == quote:
			l.pos++
			return token{kind: tokString, text: out.String(), pos: start}, nil
		case c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case '\\', '\'', '"':
				out.WriteByte(esc)
			default:
				out.WriteByte('\\')
				out.WriteByte(esc)
			}
			l.pos++
		case c == '\n':
			return token{}, l.errorf(start, "unterminated string")
		default:
			out.WriteByte(c)
			l.pos++
		}
	}
	return token{}, l.errorf(start, "unterminated string")
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
