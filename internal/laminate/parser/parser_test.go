package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []Segment
	}{
		{
			name:   "text then code",
			source: "Hello <% 'World' %>",
			want:   []Segment{{Text, "Hello "}, {Code, " 'World' "}},
		},
		{
			name:   "text only",
			source: "<h1>Hello</h1> World",
			want:   []Segment{{Text, "<h1>Hello</h1> World"}},
		},
		{
			name:   "html comment is text",
			source: "<!-- Comment --> ok",
			want:   []Segment{{Text, "<!-- Comment --> ok"}},
		},
		{
			name:   "code only",
			source: "<% code %>",
			want:   []Segment{{Code, " code "}},
		},
		{
			name:   "mixed code and print",
			source: "<% code %> text <%= print %><% code_2 %>",
			want: []Segment{
				{Code, " code "},
				{Text, " text "},
				{Print, " print "},
				{Code, " code_2 "},
			},
		},
		{
			name:   "multi-line code stays one segment",
			source: "Hello <%\n  x = 1\n  y = 2\n%> World",
			want: []Segment{
				{Text, "Hello "},
				{Code, "\n  x = 1\n  y = 2\n"},
				{Text, " World"},
			},
		},
		{
			name:   "close marker in text is literal",
			source: "100%> done",
			want:   []Segment{{Text, "100%> done"}},
		},
		{
			name:   "empty source",
			source: "",
			want:   nil,
		},
		{
			name:   "empty code block",
			source: "a<%%>b",
			want:   []Segment{{Text, "a"}, {Code, ""}, {Text, "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.source)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.source, diff)
			}
		})
	}
}

func TestParseMustache(t *testing.T) {
	got, err := ParseDialect(Mustache, "Hi {{= name }}!\n{{ if admin then }}*{{ end }}")
	require.NoError(t, err)

	want := []Segment{
		{Text, "Hi "},
		{Print, " name "},
		{Text, "!\n"},
		{Code, " if admin then "},
		{Text, "*"},
		{Code, " end "},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnterminated(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		source   string
		line     int
		column   int
		expected string
	}{
		{"erb first line", ERB, "Hello <% x = 1", 1, 7, "%>"},
		{"erb later line", ERB, "a\nbb\n  <%= name", 3, 3, "%>"},
		{"mustache", Mustache, "{{ ok }} and {{ broken", 1, 14, "}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDialect(tt.dialect, tt.source)
			require.Error(t, err)

			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, tt.line, syntaxErr.Line)
			assert.Equal(t, tt.column, syntaxErr.Column)
			assert.Equal(t, tt.expected, syntaxErr.Expected)
			assert.Contains(t, err.Error(), tt.expected)
		})
	}
}

func TestSegmentCountMatchesBlocks(t *testing.T) {
	source := "<%= a %>-<% b %>-<%= c %>\n<% d %>"
	segments, err := Parse(source)
	require.NoError(t, err)

	var blocks []string
	for _, s := range segments {
		if s.Kind != Text {
			blocks = append(blocks, s.Content)
		}
	}
	assert.Equal(t, []string{" a ", " b ", " c ", " d "}, blocks)
}

func TestUnparse(t *testing.T) {
	source := "Hello <% x = 1 %>\n<%= x %> and <%==y%>"
	segments, err := Parse(source)
	require.NoError(t, err)

	assert.Equal(t, source, Unparse(ERB, segments))

	mustache := Unparse(Mustache, segments)
	assert.Equal(t, "Hello {{ x = 1 }}\n{{= x }} and {{==y}}", mustache)

	back, err := ParseDialect(Mustache, mustache)
	require.NoError(t, err)
	assert.Equal(t, segments, back)
}

func TestUnparseExpandsNewlineEscapes(t *testing.T) {
	segments := []Segment{{Text, `line one\nline two`}, {Print, ` "a\nb" `}}

	out := Unparse(ERB, segments)
	assert.Equal(t, "line one\nline two<%= \"a\\nb\" %>", out)

	once, err := Parse(out)
	require.NoError(t, err)
	twice, err := Parse(Unparse(ERB, once))
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestLineOf(t *testing.T) {
	segments, err := Parse("line1\nline2 <% a\nb %>\n<%= c %>")
	require.NoError(t, err)

	require.Len(t, segments, 4)
	assert.Equal(t, 1, LineOf(segments, 0))
	assert.Equal(t, 2, LineOf(segments, 1))
	assert.Equal(t, 3, LineOf(segments, 2))
	assert.Equal(t, 4, LineOf(segments, 3))
}

func TestDialectByName(t *testing.T) {
	d, err := DialectByName("")
	require.NoError(t, err)
	assert.Equal(t, ERB, d)

	d, err = DialectByName("Mustache")
	require.NoError(t, err)
	assert.Equal(t, Mustache, d)

	_, err = DialectByName("jinja")
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "text", Text.String())
	assert.Equal(t, "code", Code.String())
	assert.Equal(t, "print", Print.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
}
