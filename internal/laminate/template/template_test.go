package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"laminate/internal/common/cache"
	"laminate/internal/common/logging"
	"laminate/internal/laminate/helpers"
	"laminate/internal/laminate/loader"
	"laminate/internal/laminate/parser"
	"laminate/internal/laminate/state"
	"laminate/internal/testutil"
)

func quiet() Option {
	return WithLogger(testutil.NewRecordingLogger())
}

func strictError(t *testing.T, tmpl *Template, opts RenderOptions) *TemplateError {
	t.Helper()
	_, err := tmpl.RenderStrict(context.Background(), opts)
	require.Error(t, err)

	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
	return terr
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		source string
		locals map[string]any
		want   string
	}{
		{"empty", "", nil, ""},
		{"hello world", "Hello <% x = 'world' %><%= x %>", nil, "Hello world"},
		{"code expression", "<% 'code' %>", nil, "code"},
		{"local", "Hello <%= name %>", map[string]any{"name": "world"}, "Hello world"},
		{"nested local", "<%= user.tags[2] %>", map[string]any{"user": map[string]any{"tags": []string{"a", "b"}}}, "b"},
		{"loop", "<% for _, v in ipairs(items) do %><%= v %>;<% end %>", map[string]any{"items": []int{1, 2, 3}}, "1;2;3;"},
		{"multi-line", "a\n<%= 1 + 1 %>\nc", nil, "a\n2\nc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := New(tt.source, quiet()).RenderStrict(context.Background(), RenderOptions{Locals: tt.locals})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRenderHelpers(t *testing.T) {
	set := helpers.NewSet("Greeter", helpers.Fixed("shout", 1, func(args []any) (any, error) {
		return strings.ToUpper(args[0].(string)) + "!", nil
	}))

	tmpl := New("<%= shout(name) %>", quiet())
	out, err := tmpl.RenderStrict(context.Background(), RenderOptions{
		Locals:  map[string]any{"name": "hey"},
		Helpers: []helpers.Provider{set},
	})
	require.NoError(t, err)
	assert.Equal(t, "HEY!", out)
	assert.Equal(t, []string{"Greeter: shout"}, tmpl.HelperMethods())
	assert.Contains(t, tmpl.LocalNames(), "name")
}

func TestMustacheDialect(t *testing.T) {
	tmpl := New("Hi {{= name }}{{ if excited then }}!{{ end }}", quiet(), WithDialect(parser.Mustache))
	out, err := tmpl.RenderStrict(context.Background(), RenderOptions{
		Locals: map[string]any{"name": "there", "excited": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", out)
}

func TestRuntimeErrorLine(t *testing.T) {
	source := "line1\nline2\nline3\n<% error('boom') %>"
	terr := strictError(t, New(source, quiet()), RenderOptions{})

	assert.Equal(t, "inline", terr.Name)
	assert.Equal(t, 4, terr.Line)
	assert.Equal(t, "boom", terr.Message)
	assert.False(t, terr.Included)
	assert.Equal(t, "line3\n<% error('boom') %>\n^\n", terr.Extract())
	assert.True(t, strings.HasPrefix(terr.Error(), "Template 'inline' returned error at line 4: boom\n\nExtracted source\n"))
}

func TestLuaSyntaxErrorLine(t *testing.T) {
	terr := strictError(t, New("a\n<% x = = 1 %>\nc", quiet()), RenderOptions{})

	assert.Equal(t, 2, terr.Line)
	assert.Contains(t, terr.Message, "syntax error")

	var se *state.ScriptError
	require.ErrorAs(t, terr, &se)
	assert.True(t, se.Syntax)
}

func TestUnclosedBlock(t *testing.T) {
	terr := strictError(t, New("<% if true then %>\nhello", quiet()), RenderOptions{})
	assert.Equal(t, unclosedBlock, terr.Message)
	assert.Equal(t, 2, terr.Line)
	assert.Contains(t, terr.Error(), "'end' expected")
}

func TestDelimiterSyntaxError(t *testing.T) {
	terr := strictError(t, New("a\nb <%= oops", quiet()), RenderOptions{})
	assert.Equal(t, 2, terr.Line)
	assert.Equal(t, 3, terr.Column)
	assert.Contains(t, terr.Extract(), "..^")

	var syn *parser.SyntaxError
	assert.ErrorAs(t, terr, &syn)
}

func TestRenderReturnsHTMLFragment(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	tmpl := New("<p>\n<% error('<b>bad</b>') %>", WithLogger(logger))

	out := tmpl.Render(context.Background(), RenderOptions{})
	assert.Contains(t, out, "returned error at line 2: &lt;b&gt;bad&lt;/b&gt;")
	assert.Contains(t, out, "<pre><code>&lt;p&gt;<br /><b>&lt;% error(")
	assert.Contains(t, out, "<br />")
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "<p>")

	require.Len(t, tmpl.Errors(), 1)
	assert.Equal(t, 2, tmpl.Errors()[0].Line)

	assert.True(t, logger.Contains(logging.ErrorLevel, "Template render failed"))
	assert.True(t, logger.Contains(logging.ErrorLevel, "function _template_inline()"), "generated script is logged")
}

func TestRenderEHonoursRaiseErrors(t *testing.T) {
	tmpl := New("<% error('x') %>", quiet())

	out, err := tmpl.RenderE(context.Background(), RenderOptions{})
	require.NoError(t, err)
	assert.Contains(t, out, "returned error at line 1")

	out, err = tmpl.RenderE(context.Background(), RenderOptions{RaiseErrors: true})
	assert.Empty(t, out)
	assert.Error(t, err)
}

func TestErrorsResetOnSuccess(t *testing.T) {
	l := loader.NewMapLoader(map[string]string{"page": "<% error('x') %>"})
	tmpl := NewNamed("page", l, quiet())

	tmpl.Render(context.Background(), RenderOptions{})
	require.Len(t, tmpl.Errors(), 1)

	l.Set("page", "fixed")
	assert.Equal(t, "fixed", tmpl.Render(context.Background(), RenderOptions{}))
	assert.Empty(t, tmpl.Errors())
}

func TestVendorErrorHasNoLine(t *testing.T) {
	terr := strictError(t, New("ok", quiet()), RenderOptions{VendorSource: "error('vendor broke')"})
	assert.Equal(t, 0, terr.Line)
	assert.Contains(t, terr.Message, "vendor broke")
	assert.Contains(t, terr.Error(), "at line ?")
	assert.Empty(t, terr.Extract())
}

func TestUnwrappedHelperFailure(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("fail", 0, func([]any) (any, error) {
		return nil, errors.New("database down")
	}))
	terr := strictError(t, New("\n<%= fail() %>", quiet()), RenderOptions{
		Helpers:        []helpers.Provider{set},
		WrapExceptions: state.Bool(false),
	})

	assert.Equal(t, 2, terr.Line)
	var hce *state.HostCallError
	require.ErrorAs(t, terr, &hce)
	assert.Equal(t, "fail", hce.Func)
}

func TestCaughtHelperFailureIsNotBlamedLater(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("bad", 0, func([]any) (any, error) {
		return nil, errors.New("db down")
	}))
	terr := strictError(t, New("<% pcall(bad) %>\n<% error('unrelated template bug') %>", quiet()), RenderOptions{
		Helpers:        []helpers.Provider{set},
		WrapExceptions: state.Bool(false),
	})

	assert.Equal(t, 2, terr.Line)
	assert.Contains(t, terr.Message, "unrelated template bug")
	var hce *state.HostCallError
	assert.False(t, errors.As(terr, &hce))
}

func TestCaughtHelperMessageHasNoPosition(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("bad", 0, func([]any) (any, error) {
		return nil, errors.New("db down")
	}))
	out, err := New("<% local ok, msg = pcall(bad) %><%= msg %>", quiet()).RenderStrict(context.Background(), RenderOptions{
		Helpers: []helpers.Provider{set},
	})

	require.NoError(t, err)
	assert.Equal(t, "helper bad failed: db down", out)
}

func TestTimeout(t *testing.T) {
	start := time.Now()
	terr := strictError(t, New("<% while true do end %>", quiet()), RenderOptions{Timeout: 100 * time.Millisecond})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Contains(t, terr.Message, "execution timed out after 100ms")

	var se *state.ScriptError
	require.ErrorAs(t, terr, &se)
	assert.True(t, se.Timeout)
}

func TestInclude(t *testing.T) {
	l := loader.NewMapLoader(map[string]string{
		"page":    "Header\n<%= include('partial') %>\nFooter",
		"partial": "Hi <%= name %>",
	})
	out, err := NewNamed("page", l, quiet()).RenderStrict(context.Background(), RenderOptions{
		Locals: map[string]any{"name": "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Header\nHi Bob\nFooter", out)
}

func TestIncludeSharesState(t *testing.T) {
	l := loader.NewMapLoader(map[string]string{
		"page":    "<%= include('partial') %>[<%= shared %>]",
		"partial": "<% shared = 'set by partial' %>",
	})
	out, err := NewNamed("page", l, quiet()).RenderStrict(context.Background(), RenderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[set by partial]", out)
}

func TestIncludeErrorNamesIncludedTemplate(t *testing.T) {
	l := loader.NewMapLoader(map[string]string{
		"page":   "a\n<%= include('broken') %>",
		"broken": "one\ntwo\n<% error('inner') %>",
	})
	terr := strictError(t, NewNamed("page", l, quiet()), RenderOptions{})

	assert.Equal(t, "broken", terr.Name)
	assert.Equal(t, 3, terr.Line)
	assert.Equal(t, "inner", terr.Message)
	assert.True(t, terr.Included)
	assert.Contains(t, terr.Error(), "Template 'broken' returned error at line 3: inner")
	assert.Contains(t, terr.Extract(), "<% error('inner') %>")
}

func TestNestedIncludeReportsInnermost(t *testing.T) {
	l := loader.NewMapLoader(map[string]string{
		"page": "<%= include('mid') %>",
		"mid":  "m\n<%= include('leaf') %>",
		"leaf": "l\n<% error('deep') %>",
	})
	terr := strictError(t, NewNamed("page", l, quiet()), RenderOptions{})

	assert.Equal(t, "leaf", terr.Name)
	assert.Equal(t, 2, terr.Line)
	assert.Equal(t, "deep", terr.Message)
}

func TestMissingInclude(t *testing.T) {
	l := loader.NewMapLoader(map[string]string{"page": "x\n<%= include('no_file') %>"})
	terr := strictError(t, NewNamed("page", l, quiet()), RenderOptions{})

	assert.Equal(t, "page", terr.Name)
	assert.Equal(t, 2, terr.Line)
	assert.False(t, terr.Included)
	assert.Contains(t, terr.Message, "no_file")
}

func TestIncludeDepthLimit(t *testing.T) {
	terr := strictError(t, New("<%= include('inline') %>", quiet()), RenderOptions{})
	assert.Contains(t, terr.Message, "include depth limit of 16 exceeded")
}

func TestMissingTemplate(t *testing.T) {
	terr := strictError(t, NewNamed("nowhere", loader.NewMapLoader(nil), quiet()), RenderOptions{})
	assert.Equal(t, 0, terr.Line)
	assert.True(t, loader.IsMissing(terr))
}

func TestNewFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.lam"), []byte("A<%= include('part') %>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "part.lam"), []byte("B"), 0o644))

	tmpl := NewFile(filepath.Join(dir, "page.lam"), quiet())
	assert.Equal(t, "page", tmpl.Name())

	out, err := tmpl.RenderStrict(context.Background(), RenderOptions{})
	require.NoError(t, err)
	assert.Equal(t, "AB", out)
}

func TestCompileAndSource(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, New("<%= 1 %>", quiet()).Compile(ctx))

	err := New("<% if x then %>", quiet()).Compile(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'end' expected")

	// Compile must not run the template
	assert.NoError(t, New("<% error('never') %>", quiet()).Compile(ctx))

	src, err := New("hi", quiet()).Source(ctx)
	require.NoError(t, err)
	assert.Contains(t, src, "function _template_inline()")
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) Get(ctx context.Context, key string) (string, bool) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1)
}

func (m *mockCache) Put(ctx context.Context, key, script string) error {
	return m.Called(ctx, key, script).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func TestCompiledCache(t *testing.T) {
	source := "cached <%= 1 %>"
	key := loader.CacheKey(InlineName, parser.ERB.Name, source)

	t.Run("miss compiles and stores", func(t *testing.T) {
		c := &mockCache{}
		c.On("Get", mock.Anything, key).Return("", false).Once()
		c.On("Put", mock.Anything, key, mock.AnythingOfType("string")).Return(nil).Once()

		tmpl := New(source, quiet(), WithCache(c))
		assert.Equal(t, "cached 1", tmpl.Render(context.Background(), RenderOptions{}))
		// memoized: the cache is not consulted again
		assert.Equal(t, "cached 1", tmpl.Render(context.Background(), RenderOptions{}))
		c.AssertExpectations(t)
	})

	t.Run("hit skips compilation", func(t *testing.T) {
		c := &mockCache{}
		c.On("Get", mock.Anything, key).Return("function _template_inline()\nreturn 'from cache'\nend", true)

		out := New(source, quiet(), WithCache(c)).Render(context.Background(), RenderOptions{})
		assert.Equal(t, "from cache", out)
		c.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("clear invalidates", func(t *testing.T) {
		c := &mockCache{}
		c.On("Get", mock.Anything, key).Return("", false)
		c.On("Put", mock.Anything, key, mock.Anything).Return(nil)
		c.On("Invalidate", mock.Anything, InlineName).Return(nil).Once()

		tmpl := New(source, quiet(), WithCache(c))
		tmpl.Render(context.Background(), RenderOptions{})
		require.NoError(t, tmpl.ClearCompiled(context.Background()))
		c.AssertExpectations(t)
	})
}

func TestSharedScriptCache(t *testing.T) {
	local := cache.NewLocalCache(time.Minute, time.Minute)
	sc := loader.NewScriptCache(local, time.Minute)
	l := loader.NewMapLoader(map[string]string{"page": "<%= include('part') %>!", "part": "p"})

	out := NewNamed("page", l, quiet(), WithCache(sc)).Render(context.Background(), RenderOptions{})
	assert.Equal(t, "p!", out)
	assert.Equal(t, 2, local.Len(), "page and part are both cached")

	_, ok := sc.Get(context.Background(), loader.CacheKey("part", parser.ERB.Name, "p"))
	assert.True(t, ok)
}

func TestConcurrentRenders(t *testing.T) {
	tmpl := New("<%= n * 2 %>", quiet())
	results := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			results <- tmpl.Render(context.Background(), RenderOptions{Locals: map[string]any{"n": 21}})
		}()
	}
	for i := 0; i < 8; i++ {
		assert.Equal(t, "42", <-results)
	}
}

func TestSharedScriptCacheSeparatesDialects(t *testing.T) {
	sc := loader.NewScriptCache(cache.NewLocalCache(time.Minute, time.Minute), time.Minute)
	l := loader.NewMapLoader(map[string]string{"mixed": "{{= 1 }}<%= 2 %>"})

	erb := NewNamed("mixed", l, quiet(), WithCache(sc)).Render(context.Background(), RenderOptions{})
	mustache := NewNamed("mixed", l, quiet(), WithCache(sc), WithDialect(parser.Mustache)).Render(context.Background(), RenderOptions{})

	assert.Equal(t, "{{= 1 }}2", erb)
	assert.Equal(t, "1<%= 2 %>", mustache)
}
