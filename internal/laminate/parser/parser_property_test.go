//go:build property
// +build property

package parser

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// pieces are glued together to build sources that exercise delimiters,
// newlines and the print marker in arbitrary order
var pieces = []string{"<%", "%>", "<%=", "=", "{{", "}}", "\n", "a", " ", "x = 1", "'s'", "%", "<", "}"}

func genSource() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(pieces)-1)).Map(func(idx []int) string {
		var b strings.Builder
		for _, i := range idx {
			b.WriteString(pieces[i])
		}
		return b.String()
	})
}

func TestParserProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	for _, d := range []Dialect{ERB, Mustache} {
		d := d

		properties.Property(d.Name+": unparse reproduces the source", prop.ForAll(
			func(source string) bool {
				segments, err := ParseDialect(d, source)
				if err != nil {
					return true
				}
				return Unparse(d, segments) == source
			},
			genSource(),
		))

		properties.Property(d.Name+": parse after unparse is stable", prop.ForAll(
			func(source string) bool {
				first, err := ParseDialect(d, source)
				if err != nil {
					return true
				}
				second, err := ParseDialect(d, Unparse(d, first))
				if err != nil {
					return false
				}
				if len(first) != len(second) {
					return false
				}
				for i := range first {
					if first[i] != second[i] {
						return false
					}
				}
				return true
			},
			genSource(),
		))

		properties.Property(d.Name+": newline count is preserved", prop.ForAll(
			func(source string) bool {
				segments, err := ParseDialect(d, source)
				if err != nil {
					return true
				}
				total := 0
				for _, s := range segments {
					total += strings.Count(s.Content, "\n")
				}
				return total == strings.Count(source, "\n")
			},
			genSource(),
		))

		properties.Property(d.Name+": no two text segments are adjacent", prop.ForAll(
			func(source string) bool {
				segments, err := ParseDialect(d, source)
				if err != nil {
					return true
				}
				for i := 1; i < len(segments); i++ {
					if segments[i].Kind == Text && segments[i-1].Kind == Text {
						return false
					}
				}
				return true
			},
			genSource(),
		))
	}

	properties.TestingRun(t)
}
