package state

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	lua "github.com/yuin/gopher-lua"

	"laminate/internal/common/logging"
	"laminate/internal/laminate/helpers"
)

// hostErrorGlobal holds the message of the last failed wrapped helper call
const hostErrorGlobal = "_host_error"

// BindHelpers binds every func of every provider. Binding stops at the first
// func that cannot be bound (variadic, too wide, or a namespace clash).
func (s *State) BindHelpers(providers []helpers.Provider) error {
	for _, p := range providers {
		label := helpers.LabelOf(p)
		namespaces := helpers.NamespacesOf(p)

		for _, f := range p.Funcs() {
			if err := helpers.Validate(f); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
			name := LuaName(f.Name, namespaces)
			if err := s.Register(name, s.hostFunction(name, f)); err != nil {
				return fmt.Errorf("%s: %w", label, err)
			}
			s.methods = append(s.methods, label+": "+name)
		}
	}
	return nil
}

// LuaName returns the name a helper func is bound under. The longest
// namespace whose dotted form prefixes the func name wins; without a match
// the func is a plain global.
func LuaName(name string, namespaces []string) string {
	dotted := strings.ReplaceAll(name, "_", ".")
	matches := lo.Filter(namespaces, func(ns string, _ int) bool {
		return strings.HasPrefix(dotted, ns+".")
	})
	if len(matches) == 0 {
		return name
	}
	ns := lo.MaxBy(matches, func(a, b string) bool { return len(a) > len(b) })
	return ns + "." + name[len(ns)+1:]
}

// hostFunction adapts f to a Lua function. Missing arguments are padded with
// nil up to the declared arity and extra arguments are dropped.
func (s *State) hostFunction(luaName string, f helpers.Func) lua.LGFunction {
	return func(L *lua.LState) int {
		args := make([]any, f.Arity)
		for i := range args {
			args[i] = FromLua(L.Get(i + 1))
		}

		var (
			result any
			err    error
		)
		if s.wrap {
			result, err = s.guardedCall(luaName, f, args)
		} else {
			result, err = f.Call(args)
		}
		if err != nil {
			s.raiseHelperError(L, &HostCallError{Func: luaName, Err: err}, err.Error())
			return 0
		}

		lv, err := ToLua(L, result)
		if err != nil {
			L.RaiseError("%s returned %v", luaName, err)
			return 0
		}
		if f.PostProcess != "" {
			lv = s.postProcess(L, f.PostProcess, lv)
		}
		L.Push(lv)
		return 1
	}
}

// raisedHelper remembers the last helper failure raised into Lua
type raisedHelper struct {
	err   *HostCallError
	msg   string
	where string
}

// raiseHelperError raises msg without a position, so code that catches it
// with pcall sees the helper's message. The caller's position is kept for
// reporting the error if nothing catches it.
func (s *State) raiseHelperError(L *lua.LState, hce *HostCallError, msg string) {
	s.raised = &raisedHelper{err: hce, msg: msg, where: callerPosition(L)}
	L.Error(lua.LString(msg), 0)
}

// callerPosition returns "chunk:line:" of the nearest Lua frame
func callerPosition(L *lua.LState) string {
	for level := 1; ; level++ {
		where := L.Where(level)
		if where == "" || !strings.HasPrefix(where, "[G]") {
			return where
		}
	}
}

// guardedCall never lets a helper failure escape as a Go panic. The failure
// is logged and stashed in LastError and _host_error; the caller raises it
// as a Lua error that pcall can catch.
func (s *State) guardedCall(luaName string, f helpers.Func, args []any) (result any, err error) {
	s.L.SetGlobal(hostErrorGlobal, lua.LNil)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
		if err != nil {
			err = &HostCallError{Func: luaName, Err: err}
			s.lastErr = err
			s.L.SetGlobal(hostErrorGlobal, lua.LString(err.Error()))
			s.logger.Error("helper call failed", err, logging.Field{Key: "helper", Value: luaName})
		}
	}()

	return f.Call(args)
}

func (s *State) postProcess(L *lua.LState, fnName string, v lua.LValue) lua.LValue {
	fn := L.GetGlobal(fnName)
	if fn.Type() != lua.LTFunction {
		L.RaiseError("post-process function '%s' is not defined", fnName)
		return lua.LNil
	}
	L.Push(fn)
	L.Push(v)
	L.Call(1, 1)
	ret := L.Get(-1)
	L.Pop(1)
	return ret
}
