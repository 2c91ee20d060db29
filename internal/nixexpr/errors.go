package nixexpr

import (
	"fmt"
	"unicode/utf8"
)

// SyntaxError is returned for source text that does not parse.
type SyntaxError struct {
	Offset int
	Line   int
	Column int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Column, e.Msg)
}

func newSyntaxError(src string, off int, msg string) *SyntaxError {
	line, col := Position(src, off)
	return &SyntaxError{Offset: off, Line: line, Column: col, Msg: msg}
}

// Position converts a byte offset into a 1-based line and column. Columns
// count characters, not bytes.
func Position(src string, off int) (line, col int) {
	if off > len(src) {
		off = len(src)
	}
	line, col = 1, 1
	for i := 0; i < off; {
		r, size := utf8.DecodeRuneInString(src[i:])
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
		i += size
	}
	return line, col
}
