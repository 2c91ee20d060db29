package nixexpr

import (
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokIndString
	tokURI
	tokPath
	tokNumber
	tokPunct
)

type token struct {
	kind  tokenKind
	start int
	end   int
	text  string // identifier name, punctuation, or literal source

	// Decoded string contents; only set for tokString and tokIndString.
	value        string
	interpolated bool
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

// Longest punctuation first so "..." wins over ".".
var punctuation = []string{
	"...", "${", "//", "++", "==", "!=", "<=", ">=", "&&", "||", "->",
	"{", "}", "[", "]", "(", ")", ";", ":", ",", ".", "=", "@", "?",
	"+", "-", "*", "/", "!", "<", ">",
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

func (l *lexer) errorf(off int, msg string) error {
	return newSyntaxError(l.src, off, msg)
}

func (l *lexer) skipSpaceAndComments() error {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case strings.HasPrefix(l.src[l.pos:], "/*"):
			end := strings.Index(l.src[l.pos+2:], "*/")
			if end < 0 {
				return l.errorf(l.pos, "unterminated block comment")
			}
			l.pos += 2 + end + 2
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, start: l.pos, end: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	if c == '"' {
		return l.lexString()
	}
	if strings.HasPrefix(l.src[l.pos:], "''") {
		return l.lexIndentedString()
	}
	if end, ok := l.matchURI(); ok {
		l.pos = end
		return token{kind: tokURI, start: start, end: end, text: l.src[start:end]}, nil
	}
	if end, ok := l.matchPath(); ok {
		l.pos = end
		return token{kind: tokPath, start: start, end: end, text: l.src[start:end]}, nil
	}
	if isIdentStart(c) {
		for l.pos < len(l.src) && isIdentChar(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, start: start, end: l.pos, text: l.src[start:l.pos]}, nil
	}
	if isDigit(c) {
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.' || l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
			l.pos++
		}
		return token{kind: tokNumber, start: start, end: l.pos, text: l.src[start:l.pos]}, nil
	}
	for _, p := range punctuation {
		if strings.HasPrefix(l.src[l.pos:], p) {
			l.pos += len(p)
			return token{kind: tokPunct, start: start, end: l.pos, text: p}, nil
		}
	}

	return token{}, l.errorf(start, "unexpected character "+quoteByte(c))
}

// matchURI recognises bare URI literals such as github:NixOS/nixpkgs.
func (l *lexer) matchURI() (int, bool) {
	i := l.pos
	if i >= len(l.src) || !isAlpha(l.src[i]) {
		return 0, false
	}
	i++
	for i < len(l.src) && (isAlpha(l.src[i]) || isDigit(l.src[i]) || strings.IndexByte("+-.", l.src[i]) >= 0) {
		i++
	}
	if i+1 >= len(l.src) || l.src[i] != ':' || !isURIChar(l.src[i+1]) {
		return 0, false
	}
	i++
	for i < len(l.src) && isURIChar(l.src[i]) {
		i++
	}
	return i, true
}

// matchPath recognises path literals: ./a, ../a, /a, ~/a, a/b and <nixpkgs>.
func (l *lexer) matchPath() (int, bool) {
	rest := l.src[l.pos:]
	if strings.HasPrefix(rest, "<") {
		i := 1
		for i < len(rest) && (isPathChar(rest[i]) || rest[i] == '/') {
			i++
		}
		if i > 1 && i < len(rest) && rest[i] == '>' {
			return l.pos + i + 1, true
		}
		return 0, false
	}

	i := 0
	if strings.HasPrefix(rest, "~") {
		i = 1
	} else {
		for i < len(rest) && isPathChar(rest[i]) {
			i++
		}
	}
	if i >= len(rest)-1 || rest[i] != '/' || !isPathChar(rest[i+1]) {
		return 0, false
	}
	for i < len(rest)-1 && rest[i] == '/' && isPathChar(rest[i+1]) {
		i++
		for i < len(rest) && isPathChar(rest[i]) {
			i++
		}
	}
	return l.pos + i, true
}

func (l *lexer) lexString() (token, error) {
	start := l.pos
	l.pos++ // opening quote

	var b strings.Builder
	interpolated := false
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string")
		}
		c := l.src[l.pos]
		switch {
		case c == '"':
			l.pos++
			return token{
				kind:         tokString,
				start:        start,
				end:          l.pos,
				text:         l.src[start:l.pos],
				value:        b.String(),
				interpolated: interpolated,
			}, nil
		case c == '\\':
			if l.pos+1 >= len(l.src) {
				return token{}, l.errorf(start, "unterminated string")
			}
			b.WriteString(unescape(l.src[l.pos+1]))
			l.pos += 2
		case strings.HasPrefix(l.src[l.pos:], "$${"):
			b.WriteString("$${")
			l.pos += 3
		case strings.HasPrefix(l.src[l.pos:], "${"):
			interpolated = true
			if err := l.skipInterpolation(); err != nil {
				return token{}, err
			}
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
}

func (l *lexer) lexIndentedString() (token, error) {
	start := l.pos
	l.pos += 2

	var b strings.Builder
	interpolated := false
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated indented string")
		}
		rest := l.src[l.pos:]
		switch {
		case strings.HasPrefix(rest, "'''"):
			b.WriteString("''")
			l.pos += 3
		case strings.HasPrefix(rest, "''$"):
			b.WriteByte('$')
			l.pos += 3
		case strings.HasPrefix(rest, "''\\") && len(rest) > 3:
			b.WriteString(unescape(rest[3]))
			l.pos += 4
		case strings.HasPrefix(rest, "''"):
			l.pos += 2
			return token{
				kind:         tokIndString,
				start:        start,
				end:          l.pos,
				text:         l.src[start:l.pos],
				value:        strings.TrimSpace(b.String()),
				interpolated: interpolated,
			}, nil
		case strings.HasPrefix(rest, "${"):
			interpolated = true
			if err := l.skipInterpolation(); err != nil {
				return token{}, err
			}
		default:
			b.WriteByte(rest[0])
			l.pos++
		}
	}
}

// skipInterpolation consumes "${ ... }" including nested strings and braces.
func (l *lexer) skipInterpolation() error {
	start := l.pos
	l.pos += 2
	depth := 1
	for depth > 0 {
		tok, err := l.next()
		if err != nil {
			return err
		}
		switch {
		case tok.kind == tokEOF:
			return l.errorf(start, "unterminated interpolation")
		case tok.kind == tokPunct && (tok.text == "{" || tok.text == "${"):
			depth++
		case tok.kind == tokPunct && tok.text == "}":
			depth--
		}
	}
	return nil
}

func unescape(c byte) string {
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case 'r':
		return "\r"
	default:
		return string(c)
	}
}

func quoteByte(c byte) string {
	return "'" + string(c) + "'"
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return isAlpha(c) || c == '_'
}

func isIdentChar(c byte) bool {
	return isAlpha(c) || isDigit(c) || c == '_' || c == '\'' || c == '-'
}

func isPathChar(c byte) bool {
	return isAlpha(c) || isDigit(c) || c == '.' || c == '_' || c == '-' || c == '+'
}

func isURIChar(c byte) bool {
	return isAlpha(c) || isDigit(c) || strings.IndexByte("%/?:@&=+$,-_.!~*'", c) >= 0
}
