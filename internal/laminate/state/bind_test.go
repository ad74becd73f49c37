package state

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laminate/internal/common/logging"
	"laminate/internal/laminate/helpers"
	"laminate/internal/testutil"
)

func constant(name string, v any) helpers.Func {
	return helpers.Fixed(name, 0, func([]any) (any, error) { return v, nil })
}

func TestBindHelper(t *testing.T) {
	set := helpers.NewSet("TestHelpers", helpers.Fixed("helper_method", 1, func(args []any) (any, error) {
		return "head " + fmt.Sprint(args[0]), nil
	}))

	out, err := eval(t, Options{Helpers: []helpers.Provider{set}}, `return helper_method("tail")`)
	require.NoError(t, err)
	assert.Equal(t, "head tail", out)
}

func TestArityPadding(t *testing.T) {
	var seen []any
	set := helpers.NewSet("pad", helpers.Fixed("describe", 2, func(args []any) (any, error) {
		seen = args
		if args[0] == nil {
			return "absent", nil
		}
		return fmt.Sprint(args[0]), nil
	}))

	out, err := eval(t, Options{Helpers: []helpers.Provider{set}}, "return describe()")
	require.NoError(t, err)
	assert.Equal(t, "absent", out)
	assert.Equal(t, []any{nil, nil}, seen)

	out, err = eval(t, Options{Helpers: []helpers.Provider{set}}, "return describe('a', 'b', 'c')")
	require.NoError(t, err)
	assert.Equal(t, "a", out)
	assert.Equal(t, []any{"a", "b"}, seen, "extra arguments are dropped")
}

func TestBindRejectsVariadic(t *testing.T) {
	set := helpers.NewSet("bad", helpers.Fixed("many", -1, func([]any) (any, error) { return nil, nil }))
	_, err := eval(t, Options{Helpers: []helpers.Provider{set}}, "return 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variable number of arguments")
}

func TestBindRejectsTooManyArguments(t *testing.T) {
	set := helpers.NewSet("wide", helpers.Fixed("wide", helpers.MaxArguments+1, func([]any) (any, error) { return nil, nil }))
	_, err := eval(t, Options{Helpers: []helpers.Provider{set}}, "return 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many arguments")
}

func TestNamespaces(t *testing.T) {
	set := helpers.NewSet("NestedFunctionsHelper",
		constant("vodspot_videos", "list of vodspot videos"),
		constant("vodspot_video_id", 99),
		constant("vodspottop_level", "topper"),
		constant("toplevel", "non-nested function"),
		constant("vodspot_collections_first", "first vodspot collection"),
	).InNamespaces("vodspot", "vodspot.collections")

	script := `return table.concat({
		vodspot.videos(),
		vodspot.video_id(),
		vodspottop_level(),
		toplevel(),
		vodspot.collections.first(),
	}, "|")`

	ctx := testContext()
	var methods []string
	out, err := New(Options{Helpers: []helpers.Provider{set}}).Run(ctx, func(s *State) (string, error) {
		methods = s.HelperMethods()
		v, err := s.Eval(ctx, script)
		return v.String(), err
	})
	require.NoError(t, err)
	assert.Equal(t, "list of vodspot videos|99|topper|non-nested function|first vodspot collection", out)
	assert.Contains(t, methods, "NestedFunctionsHelper: vodspot.collections.first")
}

func TestLuaName(t *testing.T) {
	ns := []string{"vodspot", "vodspot.collections"}
	assert.Equal(t, "vodspot.videos", LuaName("vodspot_videos", ns))
	assert.Equal(t, "vodspot.video_id", LuaName("vodspot_video_id", ns))
	assert.Equal(t, "vodspot.collections.first", LuaName("vodspot_collections_first", ns))
	assert.Equal(t, "vodspottop_level", LuaName("vodspottop_level", ns))
	assert.Equal(t, "toplevel", LuaName("toplevel", nil))
}

func TestWrappedHelperErrorIsCatchable(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	set := helpers.NewSet("failing",
		helpers.Fixed("fail", 0, func([]any) (any, error) { return nil, errors.New("boom") }),
		helpers.Fixed("explode", 0, func([]any) (any, error) { panic("kaboom") }),
	)

	ctx := testContext()
	s := New(Options{Helpers: []helpers.Provider{set}, Logger: logger})
	out, err := s.Run(ctx, func(s *State) (string, error) {
		v, err := s.Eval(ctx, `
			local ok, msg = pcall(fail)
			local first = tostring(ok) .. ":" .. msg .. ":" .. tostring(_host_error)
			local ok2, msg2 = pcall(explode)
			return first .. "|" .. tostring(ok2) .. ":" .. msg2`)
		return v.String(), err
	})
	require.NoError(t, err)

	parts := strings.Split(out, "|")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "false:")
	assert.Contains(t, parts[0], "helper fail failed: boom")
	assert.Contains(t, parts[1], "false:")
	assert.Contains(t, parts[1], "helper explode failed: kaboom")

	var hce *HostCallError
	require.ErrorAs(t, s.LastError(), &hce)
	assert.Equal(t, "explode", hce.Func)
	assert.True(t, logger.Contains(logging.ErrorLevel, "helper call failed"))
}

func TestWrappedHelperErrorUncaught(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("fail", 0, func([]any) (any, error) { return nil, errors.New("boom") }))
	_, err := eval(t, Options{Helpers: []helpers.Provider{set}}, "\nreturn fail()")

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Line)
	assert.Contains(t, se.Message, "boom")
}

func TestUnwrappedHelperError(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	set := helpers.NewSet("failing", helpers.Fixed("fail", 0, func([]any) (any, error) { return nil, errors.New("boom") }))

	_, err := eval(t, Options{
		Helpers:        []helpers.Provider{set},
		WrapExceptions: Bool(false),
		Logger:         logger,
	}, "return fail()")
	require.Error(t, err)

	var hce *HostCallError
	require.ErrorAs(t, err, &hce)
	assert.Equal(t, "fail", hce.Func)
	assert.EqualError(t, hce.Err, "boom")
	assert.False(t, logger.Contains(logging.ErrorLevel, "helper call failed"))
}

func TestUnwrappedHelperErrorUncaughtKeepsLine(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("fail", 0, func([]any) (any, error) { return nil, errors.New("boom") }))
	_, err := eval(t, Options{Helpers: []helpers.Provider{set}, WrapExceptions: Bool(false)}, "\n\nreturn fail()")

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 3, se.Line)
	assert.Contains(t, se.Message, ":3: boom")
}

func TestCaughtHelperErrorDoesNotLeak(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("bad", 0, func([]any) (any, error) { return nil, errors.New("db down") }))
	_, err := eval(t, Options{Helpers: []helpers.Provider{set}, WrapExceptions: Bool(false)},
		"pcall(bad)\nerror('unrelated template bug')")

	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Line)
	assert.Contains(t, se.Message, "unrelated template bug")

	var hce *HostCallError
	assert.False(t, errors.As(err, &hce), "a caught helper failure must not become the cause of a later error")
}

func TestCaughtHelperErrorMessage(t *testing.T) {
	set := helpers.NewSet("failing", helpers.Fixed("fail", 0, func([]any) (any, error) { return nil, errors.New("boom") }))

	out, err := eval(t, Options{Helpers: []helpers.Provider{set}}, "local ok, msg = pcall(fail)\nreturn msg")
	require.NoError(t, err)
	assert.Equal(t, "helper fail failed: boom", out)

	out, err = eval(t, Options{Helpers: []helpers.Provider{set}, WrapExceptions: Bool(false)}, "local ok, msg = pcall(fail)\nreturn msg")
	require.NoError(t, err)
	assert.Equal(t, "boom", out)
}

func TestPostProcess(t *testing.T) {
	get42 := constant("get42", 42)
	get42.PostProcess = "getdouble"
	colors := constant("vodspot_colors", map[string]any{
		"results":      []string{"red", "green", "blue", "orange"},
		"total_colors": 100,
	})
	colors.PostProcess = "_annotate"

	set := helpers.NewSet("post", get42, colors).InNamespaces("vodspot")
	out, err := eval(t, Options{
		Helpers:      []helpers.Provider{set},
		VendorSource: "function getdouble(i) return i * 2 end",
	}, "local c = vodspot.colors() return get42() .. ' ' .. #c .. '/' .. c.total_colors")
	require.NoError(t, err)
	assert.Equal(t, "84 4/100", out)
}

func TestPostProcessMissingFunction(t *testing.T) {
	f := constant("get42", 42)
	f.PostProcess = "nowhere"
	_, err := eval(t, Options{Helpers: []helpers.Provider{helpers.NewSet("p", f)}}, "return get42()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-process function 'nowhere' is not defined")
}

func TestHelperTimeConversion(t *testing.T) {
	out, err := eval(t, Options{Helpers: []helpers.Provider{helpers.Time()}}, "return type(time.now())")
	require.NoError(t, err)
	assert.Equal(t, "number", out)
}

func TestReflectedHelper(t *testing.T) {
	out, err := eval(t, Options{Helpers: []helpers.Provider{helpers.Reflect(&secrets{secret: 42})}},
		"return is_this_it(42) .. ' ' .. is_this_it(1)")
	require.NoError(t, err)
	assert.Equal(t, "Yes! No...", out)
}

type secrets struct{ secret int }

func (s *secrets) IsThisIt(compare int) string {
	if compare == s.secret {
		return "Yes!"
	}
	return "No..."
}
