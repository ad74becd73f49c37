// Package parser splits laminate template source into text, code and print
// segments.
//
// Two delimiter dialects are understood. ERB style uses <% code %> and
// <%= expression %>; mustache style uses {{ code }} and {{= expression }}.
// Both produce the same segment model, so everything downstream of the
// parser is dialect-agnostic.
package parser

import (
	"fmt"
	"strings"
)

// Kind classifies a segment
type Kind int

const (
	// Text is literal output
	Text Kind = iota
	// Code is Lua spliced into the template function
	Code
	// Print is a Lua expression whose value is appended to the output
	Print
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Code:
		return "code"
	case Print:
		return "print"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Segment is one classified chunk of template source
type Segment struct {
	Kind    Kind
	Content string
}

// Dialect is a pair of delimiters plus the marker that turns a code block
// into a print block
type Dialect struct {
	Name        string
	Open        string
	Close       string
	PrintMarker string
}

var (
	// ERB is the <% %> / <%= %> dialect
	ERB = Dialect{Name: "erb", Open: "<%", Close: "%>", PrintMarker: "="}
	// Mustache is the {{ }} / {{= }} dialect
	Mustache = Dialect{Name: "mustache", Open: "{{", Close: "}}", PrintMarker: "="}
)

// DialectByName looks up a built-in dialect. The empty name selects ERB.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ERB.Name:
		return ERB, nil
	case Mustache.Name:
		return Mustache, nil
	default:
		return Dialect{}, fmt.Errorf("unknown template dialect %q (want %q or %q)", name, ERB.Name, Mustache.Name)
	}
}

// LineOf returns the 1-based template line on which segments[index] starts
func LineOf(segments []Segment, index int) int {
	line := 1
	for i := 0; i < index && i < len(segments); i++ {
		line += strings.Count(segments[i].Content, "\n")
	}
	return line
}
