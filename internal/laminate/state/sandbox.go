package state

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"laminate/internal/common/logging"
)

// Blacklist holds the globals removed from every State: file and process
// access, dynamic code loading, collector control, metatable and
// environment reflection, coroutines and the global table itself.
var Blacklist = []string{
	"io", "os", "package", "require", "module",
	"loadstring", "loadfile", "dofile", "load",
	"collectgarbage",
	"getmetatable", "setmetatable", "getfenv", "setfenv",
	"rawget", "rawset", "rawequal", "newproxy",
	"debug", "channel", "coroutine",
	"_G",
}

func (s *State) applySandbox() {
	for _, name := range Blacklist {
		s.L.SetGlobal(name, lua.LNil)
	}

	// string.rep can allocate unbounded memory; calling it must fail loudly
	if str, ok := s.L.GetGlobal("string").(*lua.LTable); ok {
		str.RawSetString("rep", s.L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("string.rep is disabled")
			return 0
		}))
	}

	s.L.SetGlobal("alarm", s.L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("alarm is not available inside templates")
		return 0
	}))

	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		s.logger.Info("template print", logging.Field{Key: "output", Value: strings.Join(parts, "\t")})
		return 0
	}))
}
