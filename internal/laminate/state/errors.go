package state

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// ScriptError is raised by the interpreter while loading or running a
// script. Timeouts and sandbox violations are script errors too.
type ScriptError struct {
	// Message is the interpreter message without the stack trace
	Message string
	// Line is the line in the generated chunk, 0 when unknown
	Line    int
	Syntax  bool
	Timeout bool
	Cause   error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// HostCallError is an error returned (or panic raised) by a bound helper
type HostCallError struct {
	Func string
	Err  error
}

func (e *HostCallError) Error() string {
	return fmt.Sprintf("helper %s failed: %v", e.Func, e.Err)
}

func (e *HostCallError) Unwrap() error {
	return e.Err
}

var (
	runtimeLine = regexp.MustCompile(`^[^\s:]+:(\d+):`)
	syntaxLine  = regexp.MustCompile(`line:(\d+)\(column:\d+\)`)
)

// RawMessage strips the traceback gopher-lua appends to API errors
func RawMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

func newScriptError(err error) *ScriptError {
	se := &ScriptError{Message: RawMessage(err), Cause: err}

	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		se.Syntax = apiErr.Type == lua.ApiErrorSyntax
	}

	re := runtimeLine
	if se.Syntax {
		re = syntaxLine
	}
	if m := re.FindStringSubmatch(se.Message); m != nil {
		se.Line, _ = strconv.Atoi(m[1])
	}
	return se
}
