package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"laminate/internal/laminate/parser"
)

// run compiles source, loads it into a bare state and calls the template
func run(t *testing.T, name, source string, globals map[string]lua.LValue) (string, error) {
	t.Helper()

	segments, err := parser.Parse(source)
	require.NoError(t, err)
	script, err := Compile(name, segments)
	require.NoError(t, err)

	L := lua.NewState()
	defer L.Close()
	for k, v := range globals {
		L.SetGlobal(k, v)
	}

	chunk, err := L.Load(strings.NewReader(script), FunctionName(name))
	require.NoError(t, err, "generated script:\n%s", script)
	L.Push(chunk)
	require.NoError(t, L.PCall(0, 0, nil))

	err = L.CallByParam(lua.P{Fn: L.GetGlobal(FunctionName(name)), NRet: 1, Protect: true})
	if err != nil {
		return "", err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsString(ret), nil
}

func TestCompileRenders(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		globals map[string]lua.LValue
		want    string
	}{
		{"empty", "", nil, ""},
		{"text only", "<p>static</p>", nil, "<p>static</p>"},
		{"assign then print", "Hello <% x = 'world' %><%= x %>", nil, "Hello world"},
		{"print literal", "<%= 'code' %>", nil, "code"},
		{"code expression is emitted", "Hello <% 'World' %>", nil, "Hello World"},
		{"print strips semicolon", "<%= 1 + 2; %>", nil, "3"},
		{"nil prints nothing", "[<%= missing %>]", nil, "[]"},
		{"numeric loop", "<% for i = 1, 3 do %><%= i %>,<% end %>", nil, "1,2,3,"},
		{
			"if else",
			"<% if flag then %>yes<% else %>no<% end %>",
			map[string]lua.LValue{"flag": lua.LFalse},
			"no",
		},
		{
			"elseif chain",
			"<% if n == 1 then %>one<% elseif n == 2 then %>two<% else %>many<% end %>",
			map[string]lua.LValue{"n": lua.LNumber(2)},
			"two",
		},
		{
			"multi-line table",
			"<%\nlocal t = {\n  a = 1,\n  b = 2,\n}\n%><%= t.a + t.b %>",
			nil,
			"3",
		},
		{
			"multi-line call",
			"<%= string.format(\n  '%s-%s',\n  'a',\n  'b'\n) %>",
			nil,
			"a-b",
		},
		{
			"trailing operator continues",
			"<%= 'a' ..\n 'b' %>",
			nil,
			"ab",
		},
		{"line comment", "<% -- nothing to see %>ok", nil, "ok"},
		{"trailing comment in print", "<%= 5 -- five %>", nil, "5"},
		{"long comment", "<% --[[ one\n two ]] %>ok", nil, "ok"},
		{"long string spans lines", "<%= [[a\nb]] %>", nil, "a\nb"},
		{"text newlines", "a\nb\n", nil, "a\nb\n"},
		{"quoting", "He said \"hi\" \\ \t ok", nil, "He said \"hi\" \\ \t ok"},
		{"out helper", "<% out('a', 1, nil, 'b') %>", nil, "a1b"},
		{
			"local function",
			"<% local function twice(v)\n return v * 2\n end %><%= twice(21) %>",
			nil,
			"42",
		},
		{
			"callback spanning lines",
			"<% local t = {3, 1, 2}\ntable.sort(t, function(a, b)\n  return a < b\nend) %><%= table.concat(t, ',') %>",
			nil,
			"1,2,3",
		},
		{
			"repeat until",
			"<% local i = 0 repeat %>.<% i = i + 1 until i == 3 %>",
			nil,
			"...",
		},
		{"several statements on one line", "<% a = 1 b = 2 %><%= a + b %>", nil, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, "t", tt.source, tt.globals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileEmptySegments(t *testing.T) {
	script, err := Compile("t", nil)
	require.NoError(t, err)

	lines := strings.Split(script, "\n")
	require.Len(t, lines, HeaderLines+2)
	assert.Equal(t, "function _template_t()", lines[0])
	assert.Equal(t, "return table.concat(_out)", lines[2])
	assert.Equal(t, "end", lines[3])
}

func TestCompileLineMapping(t *testing.T) {
	segments, err := parser.Parse("line1\n<% x = 1 %>\n<%= y %>\n<%\n\nz = 2\n%>")
	require.NoError(t, err)
	script, err := Compile("t", segments)
	require.NoError(t, err)

	lines := strings.Split(script, "\n")
	// template line k is generated line k+HeaderLines (1-based)
	at := func(templateLine int) string { return lines[templateLine+HeaderLines-1] }

	assert.Contains(t, at(1), `"line1\n"`)
	assert.Contains(t, at(2), "x = 1;")
	assert.Contains(t, at(3), "_emit(y);")
	assert.Equal(t, "", at(5))
	assert.Equal(t, "z = 2;", at(6))
}

func TestCompileRuntimeErrorLine(t *testing.T) {
	_, err := run(t, "t", "a\nb\n<% error('boom') %>", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_template_t:5: boom")
}

func TestCompileSyntaxErrorLine(t *testing.T) {
	segments, err := parser.Parse("ok\n<% if then %>")
	require.NoError(t, err)
	script, err := Compile("t", segments)
	require.NoError(t, err)

	L := lua.NewState()
	defer L.Close()
	_, err = L.Load(strings.NewReader(script), FunctionName("t"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line:4")
}

func TestCompileDeterministic(t *testing.T) {
	segments, err := parser.Parse("Hi <%= name %>!\n<% for i = 1, 2 do %>x<% end %>")
	require.NoError(t, err)

	first, err := Compile("page", segments)
	require.NoError(t, err)
	second, err := Compile("page", segments)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompileUnknownKind(t *testing.T) {
	_, err := Compile("bad", []parser.Segment{{Kind: parser.Text, Content: "a"}, {Kind: parser.Kind(9)}})
	require.Error(t, err)

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, 1, compileErr.Index)
	assert.Equal(t, "bad", compileErr.Template)
}

func TestFunctionName(t *testing.T) {
	assert.Equal(t, "_template_page", FunctionName("page"))
	assert.Equal(t, "_template_emails_welcome_lam", FunctionName("emails/welcome.lam"))
	assert.Equal(t, "_template_a_b_c", FunctionName("a-b c"))
	assert.Equal(t, "_template_", FunctionName(""))
}

func TestQuote(t *testing.T) {
	tests := map[string]string{
		"plain":  `"plain"`,
		`a"b`:    `"a\"b"`,
		`a\b`:    `"a\\b"`,
		"a\nb":   `"a\nb"`,
		"a\r\tb": `"a\r\tb"`,
		"\x01":   `"\001"`,
		"\x7f":   `"\127"`,
	}
	for in, want := range tests {
		assert.Equal(t, want, quote(in), "quote(%q)", in)
	}
}
