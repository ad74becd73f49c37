package parser

import (
	"fmt"
	"strings"
)

// SyntaxError reports an open delimiter that is never closed
type SyntaxError struct {
	Line     int
	Column   int
	Dialect  string
	Expected string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("unterminated code block opened at line %d, column %d: expected %q", e.Line, e.Column, e.Expected)
}

// Parse splits source using the ERB dialect
func Parse(source string) ([]Segment, error) {
	return ParseDialect(ERB, source)
}

// ParseDialect splits source into segments. Text keeps its newlines
// verbatim and multi-line code stays a single segment, so the line of any
// character can be recovered by counting newlines in the preceding segments.
func ParseDialect(d Dialect, source string) ([]Segment, error) {
	var segments []Segment
	pos := 0

	for pos < len(source) {
		open := strings.Index(source[pos:], d.Open)
		if open < 0 {
			segments = appendText(segments, source[pos:])
			break
		}
		open += pos
		segments = appendText(segments, source[pos:open])

		bodyStart := open + len(d.Open)
		closeAt := strings.Index(source[bodyStart:], d.Close)
		if closeAt < 0 {
			line, col := position(source, open)
			return nil, &SyntaxError{Line: line, Column: col, Dialect: d.Name, Expected: d.Close}
		}

		body := source[bodyStart : bodyStart+closeAt]
		kind := Code
		if d.PrintMarker != "" && strings.HasPrefix(body, d.PrintMarker) {
			kind = Print
			body = body[len(d.PrintMarker):]
		}
		segments = append(segments, Segment{Kind: kind, Content: body})

		pos = bodyStart + closeAt + len(d.Close)
	}

	return segments, nil
}

func appendText(segments []Segment, text string) []Segment {
	if text == "" {
		return segments
	}
	if n := len(segments); n > 0 && segments[n-1].Kind == Text {
		segments[n-1].Content += text
		return segments
	}
	return append(segments, Segment{Kind: Text, Content: text})
}

// position converts a byte offset into a 1-based line and column
func position(source string, offset int) (int, int) {
	before := source[:offset]
	line := strings.Count(before, "\n") + 1
	col := offset - strings.LastIndex(before, "\n")
	return line, col
}

// Unparse rebuilds dialect source from segments. Code and print segments are
// re-wrapped in their delimiters; in text, the two-character escape \n is
// turned into a real newline. Unparse(Parse(s)) == s for any source without
// that escape.
func Unparse(d Dialect, segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case Text:
			b.WriteString(strings.ReplaceAll(seg.Content, `\n`, "\n"))
		case Print:
			b.WriteString(d.Open)
			b.WriteString(d.PrintMarker)
			b.WriteString(seg.Content)
			b.WriteString(d.Close)
		default:
			b.WriteString(d.Open)
			b.WriteString(seg.Content)
			b.WriteString(d.Close)
		}
	}
	return b.String()
}
