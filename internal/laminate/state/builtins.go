package state

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML is the implementation of string.escape
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

func (s *State) installBuiltins() {
	if str, ok := s.L.GetGlobal("string").(*lua.LTable); ok {
		str.RawSetString("escape", s.L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString(EscapeHTML(L.CheckString(1))))
			return 1
		}))
	}

	s.L.SetGlobal("debug", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(dump(L.Get(1))))
		return 1
	}))

	s.L.SetGlobal("debug_all", s.L.NewFunction(func(L *lua.LState) int {
		locals := make(map[string]any, len(s.locals))
		for name, v := range s.locals {
			locals[name] = FromLua(v)
		}
		L.Push(lua.LString(marshal(map[string]any{
			"locals":  locals,
			"helpers": s.methods,
		})))
		return 1
	}))

	s.L.SetGlobal("_getlocal", s.L.NewFunction(func(L *lua.LState) int {
		if v, ok := s.locals[L.CheckString(1)]; ok {
			L.Push(v)
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	s.L.SetGlobal("_annotate", s.L.NewFunction(annotate))
}

// annotate takes a table holding one list and some scalars and returns the
// list with the scalars attached, e.g. {results = {...}, total = 100}
// becomes the results list with list.total = 100
func annotate(L *lua.LState) int {
	tuple, ok := L.Get(1).(*lua.LTable)
	if !ok {
		L.Push(L.Get(1))
		return 1
	}

	var list *lua.LTable
	tuple.ForEach(func(_, v lua.LValue) {
		if t, ok := v.(*lua.LTable); ok && list == nil {
			list = t
		}
	})
	if list == nil {
		L.Push(tuple)
		return 1
	}

	tuple.ForEach(func(k, v lua.LValue) {
		if _, isTable := v.(*lua.LTable); isTable {
			return
		}
		if key, ok := k.(lua.LString); ok {
			list.RawSetString(string(key), v)
		}
	})
	L.Push(list)
	return 1
}

func dump(v lua.LValue) string {
	switch v.(type) {
	case *lua.LTable:
		return marshal(FromLua(v))
	case *lua.LNilType:
		return "nil"
	}
	return v.String()
}

func marshal(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return strings.TrimRight(string(out), "\n")
}
