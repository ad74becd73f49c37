package template

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"laminate/internal/laminate/state"
)

// MaxIncludeDepth bounds nested include() calls
const MaxIncludeDepth = 16

// includer implements include(name) for one render. The included template
// runs in the same state, so it sees the locals, helpers and globals of the
// template that included it.
type includer struct {
	template *Template
	ctx      context.Context
	state    *state.State
	depth    int
	units    map[string]*unit
}

func (i *includer) include(L *lua.LState) int {
	name := L.CheckString(1)
	if i.depth >= MaxIncludeDepth {
		L.RaiseError("include depth limit of %d exceeded including '%s'", MaxIncludeDepth, name)
		return 0
	}

	u, terr := i.template.unit(i.ctx, name)
	if terr != nil {
		if terr.Line > 0 {
			L.RaiseError("included template: '%s' line %d: %s", name, terr.Line, terr.Message)
		} else {
			L.RaiseError("%s", terr.Message)
		}
		return 0
	}
	i.units[name] = u

	i.depth++
	out, err := i.template.exec(i.ctx, i.state, u)
	i.depth--
	if err != nil {
		// Nested includes arrive already pinned to the innermost template
		terr := i.template.reportError(err, u, i.units)
		L.RaiseError("included template: '%s' line %d: %s", terr.Name, terr.Line, terr.Message)
		return 0
	}

	L.Push(lua.LString(out))
	return 1
}

// scriptOf returns the generated script of a template seen during the
// render, for logging
func (i *includer) scriptOf(name string, fallback *unit) string {
	if u, ok := i.units[name]; ok {
		return u.script
	}
	return fallback.script
}
