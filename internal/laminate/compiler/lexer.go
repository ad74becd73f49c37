package compiler

import "strings"

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokOp
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
	// bracket depth the token sits at; for brackets, the depth of the pair
	depth int
}

// scanner is a just-enough Lua tokenizer. It tracks bracket depth and long
// strings/comments across lines so the compiler can tell where a statement
// that spans several template lines ends.
type scanner struct {
	depth     int
	longLevel int
	inComment bool
}

func newScanner() *scanner {
	return &scanner{longLevel: -1}
}

func (s *scanner) inLong() bool {
	return s.longLevel >= 0
}

// scanLine returns line with comments removed, plus the tokens that lie
// outside strings and comments
func (s *scanner) scanLine(line string) (string, []token) {
	var out strings.Builder
	var toks []token
	n := len(line)

	for i := 0; i < n; {
		if s.inLong() {
			closer := "]" + strings.Repeat("=", s.longLevel) + "]"
			end := n
			j := strings.Index(line[i:], closer)
			if j >= 0 {
				end = i + j + len(closer)
			}
			if !s.inComment {
				out.WriteString(line[i:end])
			}
			if j >= 0 {
				if !s.inComment {
					toks = append(toks, token{kind: tokString, text: closer, depth: s.depth})
				}
				s.longLevel = -1
				s.inComment = false
			}
			i = end
			continue
		}

		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			out.WriteByte(c)
			i++

		case c == '-' && i+1 < n && line[i+1] == '-':
			if lvl, width := longBracket(line[i+2:]); lvl >= 0 {
				s.longLevel = lvl
				s.inComment = true
				i += 2 + width
			} else {
				i = n
			}

		case c == '"' || c == '\'':
			j := i + 1
			for j < n && line[j] != c {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j < n {
				j++
			} else {
				j = n
			}
			out.WriteString(line[i:j])
			toks = append(toks, token{kind: tokString, text: line[i:j], depth: s.depth})
			i = j

		case c == '[':
			if lvl, width := longBracket(line[i:]); lvl >= 0 {
				s.longLevel = lvl
				s.inComment = false
				out.WriteString(line[i : i+width])
				toks = append(toks, token{kind: tokString, text: line[i : i+width], depth: s.depth})
				i += width
				continue
			}
			toks = append(toks, token{kind: tokOpen, text: "[", depth: s.depth})
			s.depth++
			out.WriteByte(c)
			i++

		case c == '(' || c == '{':
			toks = append(toks, token{kind: tokOpen, text: string(c), depth: s.depth})
			s.depth++
			out.WriteByte(c)
			i++

		case c == ')' || c == '}' || c == ']':
			s.depth--
			toks = append(toks, token{kind: tokClose, text: string(c), depth: s.depth})
			out.WriteByte(c)
			i++

		case isLetter(c):
			j := i + 1
			for j < n && isIdent(line[j]) {
				j++
			}
			toks = append(toks, token{kind: tokName, text: line[i:j], depth: s.depth})
			out.WriteString(line[i:j])
			i = j

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(line[i+1])):
			j := scanNumber(line, i)
			toks = append(toks, token{kind: tokNumber, text: line[i:j], depth: s.depth})
			out.WriteString(line[i:j])
			i = j

		default:
			op := scanOp(line[i:])
			toks = append(toks, token{kind: tokOp, text: op, depth: s.depth})
			out.WriteString(op)
			i += len(op)
		}
	}

	return out.String(), toks
}

// longBracket reports the level of a long bracket opener ([[, [=[, ...) at
// the start of s, and its width. The level is -1 when s does not start one.
func longBracket(s string) (int, int) {
	if len(s) < 2 || s[0] != '[' {
		return -1, 0
	}
	level := 0
	for level+1 < len(s) && s[level+1] == '=' {
		level++
	}
	if level+1 < len(s) && s[level+1] == '[' {
		return level, level + 2
	}
	return -1, 0
}

func scanNumber(line string, i int) int {
	hex := strings.HasPrefix(line[i:], "0x") || strings.HasPrefix(line[i:], "0X")
	j := i + 1
	for j < len(line) {
		ch := line[j]
		switch {
		case isIdent(ch) || ch == '.':
			j++
		case (ch == '+' || ch == '-') && !hex && (line[j-1] == 'e' || line[j-1] == 'E'):
			j++
		default:
			return j
		}
	}
	return j
}

var multiCharOps = []string{"...", "..", "==", "~=", "<=", ">="}

func scanOp(s string) string {
	for _, op := range multiCharOps {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return s[:1]
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdent(c byte) bool {
	return isLetter(c) || isDigit(c)
}
