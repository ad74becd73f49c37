// Package helpers describes host functions that templates can call.
//
// A helper is a Func with an explicit, fixed arity. Providers group funcs
// and may declare namespaces: a func whose name starts with a namespace
// (underscores standing in for dots) is bound under that namespace table,
// so "vodspot_collections_first" with namespace "vodspot.collections"
// becomes vodspot.collections.first inside a template.
package helpers

import (
	"fmt"
	"strings"
)

// MaxArguments is the largest arity a helper may declare
const MaxArguments = 7

// Func is one callable exposed to template code
type Func struct {
	// Name is the host name, e.g. "vodspot_colors"
	Name string
	// Arity is the fixed number of arguments. A negative value marks a
	// variadic func, which binding rejects.
	Arity int
	// PostProcess names a Lua global that receives the result before the
	// template sees it
	PostProcess string
	// Call receives exactly Arity arguments; missing ones are nil
	Call func(args []any) (any, error)
}

// Provider supplies a set of helper funcs
type Provider interface {
	Funcs() []Func
}

// Namespaced is implemented by providers that group their funcs under
// dotted namespace tables
type Namespaced interface {
	Namespaces() []string
}

// Labeled is implemented by providers with a human readable name used in
// debug listings
type Labeled interface {
	Label() string
}

// Set is a Provider built from explicit descriptors
type Set struct {
	Name   string
	Spaces []string
	Items  []Func
}

// NewSet creates a named set of funcs
func NewSet(name string, funcs ...Func) *Set {
	return &Set{Name: name, Items: funcs}
}

// InNamespaces declares the namespaces of the set and returns it
func (s *Set) InNamespaces(namespaces ...string) *Set {
	s.Spaces = append(s.Spaces, namespaces...)
	return s
}

// Add appends a func to the set
func (s *Set) Add(f Func) *Set {
	s.Items = append(s.Items, f)
	return s
}

func (s *Set) Funcs() []Func        { return s.Items }
func (s *Set) Namespaces() []string { return s.Spaces }
func (s *Set) Label() string        { return s.Name }

// NamespacesOf returns the namespaces a provider declares
func NamespacesOf(p Provider) []string {
	if ns, ok := p.(Namespaced); ok {
		return ns.Namespaces()
	}
	return nil
}

// LabelOf returns the debug name of a provider
func LabelOf(p Provider) string {
	if l, ok := p.(Labeled); ok && l.Label() != "" {
		return l.Label()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", p), "*")
}

// Validate reports whether f can be bound
func Validate(f Func) error {
	switch {
	case f.Name == "":
		return fmt.Errorf("helper function has no name")
	case f.Call == nil:
		return fmt.Errorf("helper function %q has no implementation", f.Name)
	case f.Arity < 0:
		return fmt.Errorf("helper function %q takes a variable number of arguments; only fixed arity is supported", f.Name)
	case f.Arity > MaxArguments:
		return fmt.Errorf("too many arguments to helper function %q (%d > %d): try using an options table", f.Name, f.Arity, MaxArguments)
	}
	return nil
}

// Fixed builds a Func from a plain Go function of known arity
func Fixed(name string, arity int, call func(args []any) (any, error)) Func {
	return Func{Name: name, Arity: arity, Call: call}
}
