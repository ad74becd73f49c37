package helpers

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// PostProcessor lets a reflected helper route method results through a Lua
// function. It receives the snake_case method name and returns the Lua
// global to call, or "" for none.
type PostProcessor interface {
	PostProcess(method string) string
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Reflect exposes every exported method of v as a helper func. Method names
// are converted to snake_case (VodspotColors becomes vodspot_colors). A
// variadic method gets Arity -1 and is rejected when bound.
func Reflect(v any, namespaces ...string) *Set {
	rv := reflect.ValueOf(v)
	rt := rv.Type()

	set := &Set{Name: reflect.Indirect(rv).Type().Name()}
	if set.Name == "" {
		set.Name = rt.String()
	}
	if ns, ok := v.(Namespaced); ok {
		set.Spaces = append(set.Spaces, ns.Namespaces()...)
	}
	set.Spaces = append(set.Spaces, namespaces...)
	post, _ := v.(PostProcessor)

	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if m.Name == "Namespaces" || m.Name == "PostProcess" || m.Name == "Label" {
			continue
		}
		method := rv.Method(i)
		name := SnakeCase(m.Name)

		f := Func{
			Name:  name,
			Arity: method.Type().NumIn(),
			Call:  reflectCall(name, method),
		}
		if method.Type().IsVariadic() {
			f.Arity = -1
		}
		if post != nil {
			f.PostProcess = post.PostProcess(name)
		}
		set.Items = append(set.Items, f)
	}
	return set
}

func reflectCall(name string, method reflect.Value) func(args []any) (any, error) {
	mt := method.Type()
	return func(args []any) (any, error) {
		in := make([]reflect.Value, mt.NumIn())
		for i := range in {
			var arg any
			if i < len(args) {
				arg = args[i]
			}
			v, err := convertArg(arg, mt.In(i))
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", name, i+1, err)
			}
			in[i] = v
		}

		out := method.Call(in)
		if n := len(out); n > 0 && mt.Out(n-1) == errorType {
			if errV := out[n-1]; !errV.IsNil() {
				return nil, errV.Interface().(error)
			}
			out = out[:n-1]
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out[0].Interface(), nil
	}
}

func convertArg(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if isNumber(v.Kind()) && isNumber(t.Kind()) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, t)
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// SnakeCase converts a Go identifier to snake_case
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
