// Package compiler turns parsed template segments into a single Lua
// function.
//
// The generated function keeps a one-to-one line mapping with the template:
// template line k is generated line k+HeaderLines. Every statement that
// belongs to a template line is emitted on the same generated line, which is
// what lets interpreter errors be pointed back at the template source.
package compiler

import (
	"fmt"
	"strings"

	"laminate/internal/laminate/parser"
)

// HeaderLines is the number of generated lines before template line 1
const HeaderLines = 2

const bufferSetup = `local _out = {}; ` +
	`local function _emit(v) if v ~= nil then _out[#_out+1] = tostring(v) end end; ` +
	`local function out(...) for i = 1, select("#", ...) do _emit((select(i, ...))) end end`

// CompileError reports a segment the compiler does not know how to emit
type CompileError struct {
	Template string
	Index    int
	Kind     parser.Kind
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("template %q: segment %d has unknown kind %s", e.Template, e.Index, e.Kind)
}

// FunctionName derives the Lua function name for a template. Every byte
// that is not valid in a Lua identifier becomes an underscore.
func FunctionName(name string) string {
	var b strings.Builder
	b.WriteString("_template_")
	for i := 0; i < len(name); i++ {
		if isIdent(name[i]) {
			b.WriteByte(name[i])
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Compile emits the Lua source defining FunctionName(name). The output is a
// pure function of its inputs.
func Compile(name string, segments []parser.Segment) (string, error) {
	c := &compiler{lines: [][]string{nil}}

	for i, seg := range segments {
		switch seg.Kind {
		case parser.Text:
			c.text(seg.Content)
		case parser.Code:
			c.code(seg.Content, false)
		case parser.Print:
			c.code(seg.Content, true)
		default:
			return "", &CompileError{Template: name, Index: i, Kind: seg.Kind}
		}
	}

	body := c.lines
	if last := len(body) - 1; last >= 0 && len(body[last]) == 0 {
		body = body[:last]
	}

	out := make([]string, 0, len(body)+HeaderLines+2)
	out = append(out, "function "+FunctionName(name)+"()", bufferSetup)
	for _, stmts := range body {
		out = append(out, strings.Join(stmts, " "))
	}
	out = append(out, "return table.concat(_out)", "end")

	return strings.Join(out, "\n"), nil
}

type compiler struct {
	lines [][]string
}

func (c *compiler) current() int {
	return len(c.lines) - 1
}

func (c *compiler) newline() {
	c.lines = append(c.lines, nil)
}

func (c *compiler) put(line int, code string) {
	if code == "" {
		return
	}
	c.lines[line] = append(c.lines[line], code)
}

// text emits one append per source line, each carrying its own newline
func (c *compiler) text(content string) {
	pieces := strings.Split(content, "\n")
	for i, piece := range pieces {
		hasNewline := i < len(pieces)-1
		if hasNewline {
			piece += "\n"
		}
		if piece != "" {
			c.put(c.current(), "_out[#_out+1] = "+quote(piece)+";")
		}
		if hasNewline {
			c.newline()
		}
	}
}

type part struct {
	line int
	text string
}

// statement collects the physical lines of one logical Lua statement or
// expression until its brackets, long strings and trailing operators are
// all closed
type statement struct {
	print bool
	parts []part
	toks  []token
}

func (c *compiler) code(content string, print bool) {
	sc := newScanner()
	var st *statement

	for i, raw := range strings.Split(content, "\n") {
		if i > 0 {
			c.newline()
		}

		startedInLong := sc.inLong()
		text, toks := sc.scanLine(raw)
		endsInLong := sc.inLong()

		if !startedInLong {
			text = strings.TrimLeft(text, " \t\r\f\v")
		}
		if !endsInLong {
			text = strings.TrimRight(text, " \t\r\f\v")
		}

		if st == nil {
			if len(toks) == 0 && (!endsInLong || sc.inComment) {
				continue
			}
			st = &statement{print: print}
		}

		st.parts = append(st.parts, part{line: c.current(), text: text})
		st.toks = append(st.toks, toks...)

		if sc.depth <= 0 && !endsInLong && !continues(st.toks) {
			c.emit(st)
			st = nil
			sc.depth = 0
		}
	}

	if st != nil {
		c.emit(st)
	}
}

var statementKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "function": true, "local": true,
	"return": true, "break": true, "repeat": true, "until": true, "end": true,
	"else": true, "elseif": true, "do": true, "goto": true,
}

var continuationOps = map[string]bool{
	"..": true, "+": true, "-": true, "*": true, "/": true, "%": true, "^": true,
	"==": true, "~=": true, "<=": true, ">=": true, "<": true, ">": true,
	"=": true, ",": true, ".": true, ":": true, "#": true,
}

// continues reports whether the last token promises more on the next line
func continues(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	last := toks[len(toks)-1]
	switch last.kind {
	case tokOp:
		return continuationOps[last.text]
	case tokOpen:
		return true
	case tokName:
		return last.text == "and" || last.text == "or" || last.text == "not"
	}
	return false
}

// blockDelta counts block openers minus block closers
func blockDelta(toks []token) int {
	d := 0
	for _, t := range toks {
		if t.kind != tokName {
			continue
		}
		switch t.text {
		case "function", "do", "then", "repeat":
			d++
		case "end", "until", "elseif":
			d--
		}
	}
	return d
}

func (st *statement) isExpression() bool {
	if st.print {
		return true
	}
	first, last := st.toks[0], st.toks[len(st.toks)-1]
	if first.kind == tokName && statementKeywords[first.text] {
		return false
	}
	for _, t := range st.toks {
		if t.kind == tokOp && t.text == "=" && t.depth == 0 {
			return false
		}
	}
	if last.kind == tokOp && last.text == ";" {
		return false
	}
	return blockDelta(st.toks) == 0
}

func (st *statement) needsTerminator() bool {
	last := st.toks[len(st.toks)-1]
	if last.kind == tokOp && last.text == ";" {
		return false
	}
	if last.kind == tokName {
		switch last.text {
		case "do", "then", "else", "repeat":
			return false
		}
	}
	return blockDelta(st.toks) <= 0
}

func (c *compiler) emit(st *statement) {
	if len(st.toks) == 0 {
		return
	}
	first, final := 0, len(st.parts)-1

	if st.isExpression() {
		text := st.parts[final].text
		if st.print {
			text = strings.TrimRight(strings.TrimSuffix(text, ";"), " \t")
		}
		if strings.TrimSpace(text) == "" && final == first {
			return
		}
		st.parts[final].text = text + ");"
		st.parts[first].text = "_emit(" + st.parts[first].text
	} else if st.needsTerminator() {
		if strings.TrimSpace(st.parts[final].text) == "" {
			st.parts[final].text = ""
		} else {
			st.parts[final].text += ";"
		}
	}

	for _, p := range st.parts {
		c.put(p.line, p.text)
	}
}

// quote renders s as a double-quoted Lua string that never spans lines
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if ch < 0x20 || ch == 0x7f {
				fmt.Fprintf(&b, `\%03d`, ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
