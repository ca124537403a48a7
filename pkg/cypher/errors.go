package cypher

import "fmt"

// Pos is a 1-based line/column position in the query text.
type Pos struct {
	Line   int
	Column int
}

// String formats the position as line:column.
func (p Pos) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// SyntaxError reports query text outside the supported grammar subset,
// with the offending token and its position.
type SyntaxError struct {
	Msg   string
	Pos   Pos
	Token string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("syntax error at %s near %q: %s", e.Pos, e.Token, e.Msg)
	}
	return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Msg)
}

func syntaxErr(pos Pos, token, format string, args ...any) *SyntaxError {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Pos: pos, Token: token}
}
