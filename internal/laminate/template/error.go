package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"laminate/internal/laminate/compiler"
	"laminate/internal/laminate/parser"
)

const unclosedBlock = "'end' expected (a code block was opened but never closed)"

var (
	includedPattern = regexp.MustCompile(`(?s)included template: '([^']*)' line (\d+): (.*)`)
	runtimePattern  = regexp.MustCompile(`(?s)^(\S*?):(\d+):\s?(.*)`)
	syntaxPattern   = regexp.MustCompile(`(?s)^(\S*) line:(\d+)\(column:\d+\) near '(.*?)':\s*(.*)`)
	htmlSanitizer   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// TemplateError is a failed render, tied to a line of the template that
// caused it. For errors inside an included template, Name and Line refer to
// the included template.
type TemplateError struct {
	Name string
	// Line is 1-based; 0 means the failure has no template position
	// (a missing template, a helper that failed to bind)
	Line int
	// Column is only known for delimiter syntax errors
	Column   int
	Message  string
	Raw      string
	Included bool
	Cause    error

	source []string
}

// BuildError maps a raw interpreter message to a TemplateError. Generated
// line numbers are shifted back by the compiler's header; an included
// template's marker already carries a template line.
func BuildError(raw, name string, segments []parser.Segment, dialect parser.Dialect) *TemplateError {
	e := &TemplateError{Name: name, Raw: raw, Column: 1}
	msg := stripTraceback(raw)
	offset := -compiler.HeaderLines
	chunk := compiler.FunctionName(name)

	if m := includedPattern.FindStringSubmatch(msg); m != nil {
		e.Name = m[1]
		e.Included = true
		e.Line, _ = strconv.Atoi(m[2])
		e.Message = strings.TrimSpace(m[3])
		return e
	}

	switch {
	case strings.Contains(msg, " at EOF:"):
		e.Message = unclosedBlock
		e.Line = lastLine(segments)
	case syntaxPattern.MatchString(msg):
		m := syntaxPattern.FindStringSubmatch(msg)
		e.Message = fmt.Sprintf("%s near '%s'", strings.TrimSpace(m[4]), m[3])
		if m[1] == chunk {
			line, _ := strconv.Atoi(m[2])
			e.Line = clampLine(line+offset, segments)
		} else {
			e.Message = m[1] + ": " + e.Message
		}
	case runtimePattern.MatchString(msg):
		m := runtimePattern.FindStringSubmatch(msg)
		if m[1] == chunk {
			line, _ := strconv.Atoi(m[2])
			e.Line = clampLine(line+offset, segments)
			e.Message = strings.TrimSpace(m[3])
		} else {
			// raised outside the template function, e.g. by the vendor script
			e.Message = strings.TrimSpace(msg)
		}
	default:
		e.Message = strings.TrimSpace(msg)
	}

	e.setSource(segments, dialect)
	return e
}

// syntaxError reports a delimiter error from the parser, which already
// knows the template line and column
func syntaxError(name string, source string, err *parser.SyntaxError) *TemplateError {
	return &TemplateError{
		Name:    name,
		Line:    err.Line,
		Column:  err.Column,
		Message: err.Error(),
		Raw:     err.Error(),
		Cause:   err,
		source:  strings.Split(source, "\n"),
	}
}

// plainError wraps a failure that has no template position
func plainError(name string, err error) *TemplateError {
	return &TemplateError{Name: name, Message: err.Error(), Raw: err.Error(), Column: 1, Cause: err}
}

func (e *TemplateError) setSource(segments []parser.Segment, dialect parser.Dialect) {
	e.source = strings.Split(parser.Unparse(dialect, segments), "\n")
}

func (e *TemplateError) lineLabel() string {
	if e.Line <= 0 {
		return "?"
	}
	return strconv.Itoa(e.Line)
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("Template '%s' returned error at line %s: %s\n\nExtracted source\n%s",
		e.Name, e.lineLabel(), e.Message, e.Extract())
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// HTML renders the error as a fragment safe to embed in a page. The
// offending source line is bold.
func (e *TemplateError) HTML() string {
	before, line, marker, after := e.excerpt()

	var code strings.Builder
	if before != "" || line != "" {
		code.WriteString(sanitize(before))
		if before != "" {
			code.WriteString("\n")
		}
		code.WriteString("<b>" + sanitize(line) + "</b>\n" + marker + "\n" + sanitize(after))
	}

	out := fmt.Sprintf("Template '%s' returned error at line %s: %s\n\nExtracted source\n<pre><code>%s</code></pre>",
		sanitize(e.Name), e.lineLabel(), sanitize(e.Message), code.String())
	return strings.ReplaceAll(out, "\n", "<br />")
}

// Extract returns the previous, offending and next source lines, with a
// caret under the error column
func (e *TemplateError) Extract() string {
	before, line, marker, after := e.excerpt()
	if line == "" && before == "" {
		return ""
	}
	parts := []string{line, marker, after}
	if e.Line > 1 {
		parts = append([]string{before}, parts...)
	}
	return strings.Join(parts, "\n")
}

func (e *TemplateError) excerpt() (before, line, marker, after string) {
	i := e.Line - 1
	if i < 0 || i >= len(e.source) {
		return "", "", "", ""
	}
	if i > 0 {
		before = e.source[i-1]
	}
	if i+1 < len(e.source) {
		after = e.source[i+1]
	}
	col := e.Column
	if col < 1 {
		col = 1
	}
	return before, e.source[i], strings.Repeat(".", col-1) + "^", after
}

func sanitize(s string) string {
	return htmlSanitizer.Replace(s)
}

func stripTraceback(msg string) string {
	if i := strings.Index(msg, "\nstack traceback:"); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimRight(msg, "\n")
}

func lastLine(segments []parser.Segment) int {
	line := parser.LineOf(segments, len(segments))
	if n := len(segments); n > 0 && strings.HasSuffix(segments[n-1].Content, "\n") && line > 1 {
		line--
	}
	return line
}

func clampLine(line int, segments []parser.Segment) int {
	if line < 1 {
		return 1
	}
	if last := lastLine(segments); line > last {
		return last
	}
	return line
}
