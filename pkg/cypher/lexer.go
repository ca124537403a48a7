package cypher

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokParam
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokColon
	tokComma
	tokDot
	tokDotDot
	tokPipe
	tokStar
	tokPlus
	tokMinus
	tokSlash
	tokPercent
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokArrowRight // ->
	tokArrowLeft  // <-
)

// token is one lexed token. Offset/End index into the source string so
// the parser can recover verbatim expression text.
type token struct {
	kind   tokenKind
	text   string
	pos    Pos
	offset int
	end    int
}

// lex splits Cypher source into tokens. Strings keep their unquoted
// value in text; numbers keep their literal spelling.
func lex(src string) ([]token, error) {
	var tokens []token
	line, col := 1, 1
	i := 0

	emit := func(kind tokenKind, text string, start int, startCol int) {
		tokens = append(tokens, token{
			kind:   kind,
			text:   text,
			pos:    Pos{Line: line, Column: startCol},
			offset: start,
			end:    i,
		})
	}

	for i < len(src) {
		c := src[i]
		startCol := col

		switch {
		case c == '\n':
			i++
			line++
			col = 1

		case c == ' ' || c == '\t' || c == '\r':
			i++
			col++

		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}

		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			col++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				ch := src[i]
				if ch == '\\' && i+1 < len(src) {
					next := src[i+1]
					switch next {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(next)
					}
					i += 2
					col += 2
					continue
				}
				if ch == quote {
					i++
					col++
					closed = true
					break
				}
				if ch == '\n' {
					line++
					col = 1
				}
				sb.WriteByte(ch)
				i++
				col++
			}
			if !closed {
				return nil, syntaxErr(Pos{Line: line, Column: startCol}, src[start:], "unterminated string literal")
			}
			emit(tokString, sb.String(), start, startCol)

		case c == '$':
			start := i
			i++
			col++
			nameStart := i
			for i < len(src) && isIdentChar(src[i]) {
				i++
				col++
			}
			if i == nameStart {
				return nil, syntaxErr(Pos{Line: line, Column: startCol}, "$", "parameter name expected after '$'")
			}
			emit(tokParam, src[nameStart:i], start, startCol)

		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
				col++
			}
			kind := tokInt
			if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
				kind = tokFloat
				i++
				col++
				for i < len(src) && isDigit(src[i]) {
					i++
					col++
				}
			}
			emit(kind, src[start:i], start, startCol)

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentChar(src[i]) {
				i++
				col++
			}
			emit(tokIdent, src[start:i], start, startCol)

		case c == '`':
			// Backtick-quoted identifier.
			start := i
			i++
			col++
			nameStart := i
			for i < len(src) && src[i] != '`' {
				if src[i] == '\n' {
					line++
					col = 1
				}
				i++
				col++
			}
			if i >= len(src) {
				return nil, syntaxErr(Pos{Line: line, Column: startCol}, src[start:], "unterminated quoted identifier")
			}
			name := src[nameStart:i]
			i++
			col++
			emit(tokIdent, name, start, startCol)

		default:
			start := i
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			advance := func(n int, kind tokenKind, text string) {
				i += n
				col += n
				emit(kind, text, start, startCol)
			}
			switch {
			case two == "->":
				advance(2, tokArrowRight, "->")
			case two == "<-":
				advance(2, tokArrowLeft, "<-")
			case two == "<=":
				advance(2, tokLte, "<=")
			case two == ">=":
				advance(2, tokGte, ">=")
			case two == "<>":
				advance(2, tokNeq, "<>")
			case two == "..":
				advance(2, tokDotDot, "..")
			case c == '(':
				advance(1, tokLParen, "(")
			case c == ')':
				advance(1, tokRParen, ")")
			case c == '[':
				advance(1, tokLBracket, "[")
			case c == ']':
				advance(1, tokRBracket, "]")
			case c == '{':
				advance(1, tokLBrace, "{")
			case c == '}':
				advance(1, tokRBrace, "}")
			case c == ':':
				advance(1, tokColon, ":")
			case c == ',':
				advance(1, tokComma, ",")
			case c == '.':
				advance(1, tokDot, ".")
			case c == '|':
				advance(1, tokPipe, "|")
			case c == '*':
				advance(1, tokStar, "*")
			case c == '+':
				advance(1, tokPlus, "+")
			case c == '-':
				advance(1, tokMinus, "-")
			case c == '/':
				advance(1, tokSlash, "/")
			case c == '%':
				advance(1, tokPercent, "%")
			case c == '=':
				advance(1, tokEq, "=")
			case c == '<':
				advance(1, tokLt, "<")
			case c == '>':
				advance(1, tokGt, ">")
			default:
				return nil, syntaxErr(Pos{Line: line, Column: startCol}, string(c), "unexpected character")
			}
		}
	}

	tokens = append(tokens, token{kind: tokEOF, pos: Pos{Line: line, Column: col}, offset: len(src), end: len(src)})
	return tokens, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// parseIntLiteral converts a lexed integer token to int64.
func parseIntLiteral(t token) (int64, error) {
	n, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		return 0, syntaxErr(t.pos, t.text, "invalid integer literal")
	}
	return n, nil
}

// parseFloatLiteral converts a lexed float token to float64.
func parseFloatLiteral(t token) (float64, error) {
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, syntaxErr(t.pos, t.text, "invalid float literal")
	}
	return f, nil
}
