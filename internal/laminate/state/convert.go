package state

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Normalize returns a deep copy of v with every map key turned into a
// string and time.Time turned into Unix seconds. The input is never
// modified.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, lua.LValue:
		return x, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return x, nil
	case time.Time:
		return x.Unix(), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.Unix(), nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := Normalize(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i+1, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			n, err := Normalize(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return Normalize(items)
	case reflect.Map:
		entries := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
		}
		return Normalize(entries)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("unsupported value of type %T: use strings, numbers, booleans, lists and maps", v)
}

// ToLua converts a Go value into a Lua value, normalizing it first
func ToLua(L *lua.LState, v any) (lua.LValue, error) {
	n, err := Normalize(v)
	if err != nil {
		return lua.LNil, err
	}
	return toLua(L, n), nil
}

// toLua expects a value already passed through Normalize
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int8:
		return lua.LNumber(x)
	case int16:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint:
		return lua.LNumber(x)
	case uint8:
		return lua.LNumber(x)
	case uint16:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []any:
		t := L.CreateTable(len(x), 0)
		for i, item := range x {
			t.RawSetInt(i+1, toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, x[k]))
		}
		return t
	}
	return lua.LNil
}

// FromLua converts a Lua value to plain Go data. Tables whose keys are
// exactly 1..n become []any, other tables map[string]any. Functions and
// userdata become nil.
func FromLua(v lua.LValue) any {
	return fromLua(v, map[*lua.LTable]bool{})
}

func fromLua(v lua.LValue, seen map[*lua.LTable]bool) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if seen[x] {
			return nil
		}
		seen[x] = true
		defer delete(seen, x)

		n := x.MaxN()
		count := 0
		x.ForEach(func(lua.LValue, lua.LValue) { count++ })
		if n > 0 && n == count {
			list := make([]any, n)
			for i := 1; i <= n; i++ {
				list[i-1] = fromLua(x.RawGetInt(i), seen)
			}
			return list
		}
		m := make(map[string]any, count)
		x.ForEach(func(key, value lua.LValue) {
			m[key.String()] = fromLua(value, seen)
		})
		return m
	}
	return nil
}
