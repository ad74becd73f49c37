// Package state runs compiled templates inside a sandboxed gopher-lua
// interpreter.
//
// A State owns exactly one *lua.LState and lives for a single render. It is
// never pooled: a fresh interpreter per render keeps bindings from leaking
// between renders.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"laminate/internal/common/logging"
	"laminate/internal/laminate/helpers"
)

// DefaultTimeout is the wall-clock budget of a render
const DefaultTimeout = 15 * time.Second

var timeoutsEnabled atomic.Bool

func init() {
	timeoutsEnabled.Store(true)
}

// SetTimeoutsEnabled switches timeout enforcement for every State created
// afterwards. It exists for tests and diagnostics.
func SetTimeoutsEnabled(enabled bool) {
	timeoutsEnabled.Store(enabled)
}

// TimeoutsEnabled reports whether new States arm the watchdog
func TimeoutsEnabled() bool {
	return timeoutsEnabled.Load()
}

// Options configure a State
type Options struct {
	// Locals become globals; values must be simple data (see Normalize)
	Locals map[string]any
	// Helpers are bound as global or namespaced functions
	Helpers []helpers.Provider
	// Timeout defaults to DefaultTimeout
	Timeout time.Duration
	// WrapExceptions defaults to true
	WrapExceptions *bool
	// VendorSource is evaluated before locals and helpers are bound
	VendorSource string
	Logger       logging.Logger
	// DisableTimeout skips the watchdog for this State only
	DisableTimeout bool
	// OnClose runs once when the interpreter is destroyed
	OnClose func()
}

// Bool returns a pointer to b, for Options.WrapExceptions
func Bool(b bool) *bool {
	return &b
}

// State is one sandboxed interpreter
type State struct {
	L        *lua.LState
	logger   logging.Logger
	timeout  time.Duration
	wrap     bool
	useAlarm bool
	opts     Options

	locals     map[string]lua.LValue
	localNames []string
	methods    []string

	// armed counts nested Eval/Call frames; only the outermost arms the alarm
	armed int
	alarm context.Context

	lastErr error
	raised  *raisedHelper

	closeOnce sync.Once
	onClose   func()
}

// New creates a sandboxed State. Locals and helpers are bound by Run.
func New(opts Options) *State {
	if opts.Logger == nil {
		opts.Logger = logging.ForComponent("lua")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	wrap := true
	if opts.WrapExceptions != nil {
		wrap = *opts.WrapExceptions
	}

	s := &State{
		L:        lua.NewState(),
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		wrap:     wrap,
		useAlarm: !opts.DisableTimeout && TimeoutsEnabled(),
		opts:     opts,
		locals:   map[string]lua.LValue{},
		onClose:  opts.OnClose,
	}

	s.applySandbox()
	s.installBuiltins()
	return s
}

// Run evaluates the vendor source, binds locals and helpers, then calls fn.
// The interpreter is closed on every path.
func (s *State) Run(ctx context.Context, fn func(*State) (string, error)) (string, error) {
	defer s.Close()

	if s.opts.VendorSource != "" {
		if _, err := s.EvalChunk(ctx, "vendor", s.opts.VendorSource); err != nil {
			return "", err
		}
	}
	if err := s.BindLocals(s.opts.Locals); err != nil {
		return "", err
	}
	if err := s.BindHelpers(s.opts.Helpers); err != nil {
		return "", err
	}
	return fn(s)
}

// Eval runs script as a chunk named "eval" and returns its first result
func (s *State) Eval(ctx context.Context, script string) (lua.LValue, error) {
	return s.EvalChunk(ctx, "eval", script)
}

// EvalChunk loads and runs script under the given chunk name. Errors are
// returned as *ScriptError.
func (s *State) EvalChunk(ctx context.Context, chunk, script string) (lua.LValue, error) {
	fn, err := s.L.Load(strings.NewReader(script), chunk)
	if err != nil {
		return lua.LNil, s.scriptError(err)
	}
	return s.protectedCall(ctx, fn)
}

// Call invokes a global function and returns its first result
func (s *State) Call(ctx context.Context, name string, args ...lua.LValue) (lua.LValue, error) {
	fn := s.L.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return lua.LNil, &ScriptError{Message: fmt.Sprintf("attempt to call a nil value (global '%s')", name)}
	}
	return s.protectedCall(ctx, fn, args...)
}

func (s *State) protectedCall(ctx context.Context, fn lua.LValue, args ...lua.LValue) (lua.LValue, error) {
	disarm := s.arm(ctx)
	defer disarm()

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, s.scriptError(err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// arm sets the watchdog for the outermost evaluation. Nested calls (an
// include running inside a template) share the deadline already armed.
func (s *State) arm(ctx context.Context) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	s.armed++
	if s.armed > 1 {
		return func() { s.armed-- }
	}

	if !s.useAlarm {
		if ctx.Done() == nil {
			return func() { s.armed-- }
		}
		s.L.SetContext(ctx)
		return func() {
			s.armed--
			s.L.RemoveContext()
		}
	}

	alarm, cancel := context.WithTimeout(ctx, s.timeout)
	s.alarm = alarm
	s.L.SetContext(alarm)
	return func() {
		s.armed--
		cancel()
		s.L.RemoveContext()
	}
}

func (s *State) scriptError(err error) *ScriptError {
	se := newScriptError(err)
	if s.alarm != nil && errors.Is(s.alarm.Err(), context.DeadlineExceeded) {
		se.Timeout = true
		se.Message = strings.ReplaceAll(se.Message, context.DeadlineExceeded.Error(),
			fmt.Sprintf("execution timed out after %s", s.timeout))
	}
	if r := s.raised; r != nil && se.Message == r.msg {
		// a helper failure nothing caught
		if r.where != "" {
			se.Message = r.where + " " + r.msg
			if m := runtimeLine.FindStringSubmatch(se.Message); m != nil {
				se.Line, _ = strconv.Atoi(m[1])
			}
		}
		if !s.wrap {
			se.Cause = r.err
		}
	}
	s.raised = nil
	return se
}

// Close destroys the interpreter. It is safe to call more than once.
func (s *State) Close() {
	s.closeOnce.Do(func() {
		s.L.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Timeout returns the configured watchdog duration
func (s *State) Timeout() time.Duration {
	return s.timeout
}

// LastError returns the last error raised by a wrapped helper call
func (s *State) LastError() error {
	return s.lastErr
}

// LocalNames lists the bound locals
func (s *State) LocalNames() []string {
	return s.localNames
}

// HelperMethods lists bound helper functions as "<provider>: <lua name>"
func (s *State) HelperMethods() []string {
	return s.methods
}

// Register binds a Go function under a global or dotted name
func (s *State) Register(name string, fn lua.LGFunction) error {
	return s.setPath(name, s.L.NewFunction(fn))
}

// Set binds a Go value under a global or dotted name
func (s *State) Set(name string, v any) error {
	lv, err := ToLua(s.L, v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return s.setPath(name, lv)
}

// BindLocals makes each local a global and records it for _getlocal. Keys
// are normalized on a copy; the caller's map is left alone.
func (s *State) BindLocals(locals map[string]any) error {
	names := make([]string, 0, len(locals))
	for name := range locals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lv, err := ToLua(s.L, locals[name])
		if err != nil {
			return fmt.Errorf("local %s: %w", name, err)
		}
		s.locals[name] = lv
		s.L.SetGlobal(name, lv)
	}
	s.localNames = append(s.localNames, names...)
	return nil
}

// EnsurePath makes sure every table along a dotted path exists and returns
// the innermost one
func (s *State) EnsurePath(path string) (*lua.LTable, error) {
	current := s.L.G.Global
	if path == "" {
		return current, nil
	}
	for _, part := range strings.Split(path, ".") {
		next := current.RawGetString(part)
		switch t := next.(type) {
		case *lua.LTable:
			current = t
		default:
			if next != lua.LNil {
				return nil, fmt.Errorf("cannot create namespace %q: %s is a %s", path, part, next.Type())
			}
			created := s.L.NewTable()
			current.RawSetString(part, created)
			current = created
		}
	}
	return current, nil
}

func (s *State) setPath(name string, v lua.LValue) error {
	parent, leaf := "", name
	if i := strings.LastIndex(name, "."); i >= 0 {
		parent, leaf = name[:i], name[i+1:]
	}
	table, err := s.EnsurePath(parent)
	if err != nil {
		return err
	}
	table.RawSetString(leaf, v)
	return nil
}
