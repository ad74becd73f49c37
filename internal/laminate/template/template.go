// Package template renders laminate templates.
//
// A render loads the template source, parses and compiles it (compiled
// scripts are memoized per template and optionally shared through a
// loader.CompiledCache), then evaluates the script in a fresh sandboxed
// state. Failures come back as *TemplateError, pinned to a template line.
package template

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"laminate/internal/common/logging"
	"laminate/internal/laminate/compiler"
	"laminate/internal/laminate/helpers"
	"laminate/internal/laminate/loader"
	"laminate/internal/laminate/parser"
	"laminate/internal/laminate/state"
)

// InlineName is the name of templates built from text
const InlineName = "inline"

// RenderOptions configure one render
type RenderOptions struct {
	Locals  map[string]any
	Helpers []helpers.Provider
	// RaiseErrors makes RenderE return the *TemplateError instead of the
	// HTML error fragment
	RaiseErrors bool
	// WrapExceptions defaults to true; see state.Options
	WrapExceptions *bool
	// Timeout defaults to state.DefaultTimeout
	Timeout        time.Duration
	DisableTimeout bool
	VendorSource   string
}

// Option configures a Template
type Option func(*Template)

// WithLogger sets the logger; the default is the global "template" logger
func WithLogger(logger logging.Logger) Option {
	return func(t *Template) { t.logger = logger }
}

// WithDialect selects the delimiter dialect
func WithDialect(d parser.Dialect) Option {
	return func(t *Template) { t.dialect = d }
}

// WithCache shares compiled scripts with other templates and instances
func WithCache(c loader.CompiledCache) Option {
	return func(t *Template) { t.cache = c }
}

// Template is a named template and its loader. It is safe for concurrent
// renders; each render gets its own interpreter.
type Template struct {
	name    string
	loader  loader.Loader
	dialect parser.Dialect
	cache   loader.CompiledCache
	logger  logging.Logger

	mu       sync.RWMutex
	units    map[string]*unit
	errors   []*TemplateError
	methods  []string
	localSet []string
}

// unit is one compiled template
type unit struct {
	name     string
	key      string
	source   string
	segments []parser.Segment
	script   string
}

// New creates a template from text
func New(text string, opts ...Option) *Template {
	return NewNamed(InlineName, loader.InlineLoader{Text: text}, opts...)
}

// NewNamed creates a template that l resolves by name. Includes are
// resolved through the same loader.
func NewNamed(name string, l loader.Loader, opts ...Option) *Template {
	t := &Template{
		name:    name,
		loader:  l,
		dialect: parser.ERB,
		units:   map[string]*unit{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.ForComponent("template")
	}
	return t
}

// NewFile creates a template from a file. Includes are resolved relative
// to the file's directory, using the file's extension (lam by default).
func NewFile(path string, opts ...Option) *Template {
	l := loader.NewFileLoader(filepath.Dir(path))
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		l.Ext = strings.TrimPrefix(ext, ".")
		base = strings.TrimSuffix(base, ext)
	}
	return NewNamed(base, l, opts...)
}

// Name returns the template name
func (t *Template) Name() string {
	return t.name
}

// Render renders the template. It never fails: errors are logged, kept in
// Errors and rendered as an HTML fragment.
func (t *Template) Render(ctx context.Context, opts RenderOptions) string {
	opts.RaiseErrors = false
	out, _ := t.RenderE(ctx, opts)
	return out
}

// RenderStrict renders the template and returns any failure as a
// *TemplateError
func (t *Template) RenderStrict(ctx context.Context, opts RenderOptions) (string, error) {
	opts.RaiseErrors = true
	return t.RenderE(ctx, opts)
}

// RenderE renders the template. On failure it returns the HTML fragment,
// or the *TemplateError when opts.RaiseErrors is set.
func (t *Template) RenderE(ctx context.Context, opts RenderOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	logger := t.logger.WithContext(ctx).WithFields(logging.Field{Key: "template", Value: t.name})

	out, terr := t.render(ctx, opts, logger)

	t.mu.Lock()
	t.errors = nil
	if terr != nil {
		t.errors = []*TemplateError{terr}
	}
	t.mu.Unlock()

	if terr != nil {
		if opts.RaiseErrors {
			return "", terr
		}
		return terr.HTML(), nil
	}

	logger.Debug("Template rendered",
		logging.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
		logging.Field{Key: "bytes", Value: len(out)},
	)
	return out, nil
}

func (t *Template) render(ctx context.Context, opts RenderOptions, logger logging.Logger) (string, *TemplateError) {
	u, terr := t.unit(ctx, t.name)
	if terr != nil {
		logger.Error("Template failed to compile", terr)
		return "", terr
	}

	st := state.New(state.Options{
		Locals:         opts.Locals,
		Helpers:        opts.Helpers,
		Timeout:        opts.Timeout,
		WrapExceptions: opts.WrapExceptions,
		VendorSource:   opts.VendorSource,
		DisableTimeout: opts.DisableTimeout,
		Logger:         logger.WithFields(logging.Field{Key: "component", Value: "lua"}),
	})
	inc := &includer{template: t, ctx: ctx, state: st, units: map[string]*unit{u.name: u}}

	out, err := st.Run(ctx, func(s *state.State) (string, error) {
		if err := s.Register("include", inc.include); err != nil {
			return "", err
		}
		return t.exec(ctx, s, u)
	})

	t.mu.Lock()
	t.methods = st.HelperMethods()
	t.localSet = st.LocalNames()
	t.mu.Unlock()

	if err == nil {
		return out, nil
	}

	terr = t.reportError(err, u, inc.units)
	logger.Error("Template render failed", terr,
		logging.Field{Key: "line", Value: terr.Line},
		logging.Field{Key: "script", Value: logging.NumberedSource(inc.scriptOf(terr.Name, u))},
	)
	return "", terr
}

// exec defines the template function in s and calls it
func (t *Template) exec(ctx context.Context, s *state.State, u *unit) (string, error) {
	fn := compiler.FunctionName(u.name)
	if _, err := s.EvalChunk(ctx, fn, u.script); err != nil {
		return "", err
	}
	v, err := s.Call(ctx, fn)
	if err != nil {
		return "", err
	}
	return lua.LVAsString(v), nil
}

// reportError converts a failure of state.Run into a TemplateError
func (t *Template) reportError(err error, u *unit, units map[string]*unit) *TemplateError {
	var se *state.ScriptError
	if !stderrors.As(err, &se) {
		// locals or helpers that could not be bound
		return plainError(u.name, err)
	}

	terr := BuildError(se.Message, u.name, u.segments, t.dialect)
	terr.Cause = err
	if terr.Included {
		if inc, ok := units[terr.Name]; ok {
			terr.setSource(inc.segments, t.dialect)
		}
	}
	return terr
}

// unit loads, parses and compiles a template, reusing the memoized script
// while the source is unchanged
func (t *Template) unit(ctx context.Context, name string) (*unit, *TemplateError) {
	source, err := t.loader.Load(ctx, name)
	if err != nil {
		return nil, plainError(name, err)
	}
	key := loader.CacheKey(name, t.dialect.Name, source)

	t.mu.RLock()
	u, ok := t.units[name]
	t.mu.RUnlock()
	if ok && u.key == key {
		return u, nil
	}

	segments, err := parser.ParseDialect(t.dialect, source)
	if err != nil {
		var syn *parser.SyntaxError
		if stderrors.As(err, &syn) {
			return nil, syntaxError(name, source, syn)
		}
		return nil, plainError(name, err)
	}

	script, cached := "", false
	if t.cache != nil {
		script, cached = t.cache.Get(ctx, key)
	}
	if !cached {
		script, err = compiler.Compile(name, segments)
		if err != nil {
			return nil, plainError(name, err)
		}
		if t.cache != nil {
			_ = t.cache.Put(ctx, key, script)
		}
	}

	u = &unit{name: name, key: key, source: source, segments: segments, script: script}
	t.mu.Lock()
	t.units[name] = u
	t.mu.Unlock()
	return u, nil
}

// Compile checks that the template parses and that its script loads,
// without running it
func (t *Template) Compile(ctx context.Context) error {
	u, terr := t.unit(ctx, t.name)
	if terr != nil {
		return terr
	}

	st := state.New(state.Options{DisableTimeout: true, Logger: t.logger})
	defer st.Close()

	// Evaluating the chunk only defines the template function
	if _, err := st.EvalChunk(ctx, compiler.FunctionName(u.name), u.script); err != nil {
		return t.reportError(err, u, nil)
	}
	return nil
}

// Source returns the generated Lua for the template
func (t *Template) Source(ctx context.Context) (string, error) {
	u, terr := t.unit(ctx, t.name)
	if terr != nil {
		return "", terr
	}
	return u.script, nil
}

// ClearCompiled forgets every compiled script, including the shared cache
// entries of the templates this Template has compiled
func (t *Template) ClearCompiled(ctx context.Context) error {
	t.mu.Lock()
	names := make([]string, 0, len(t.units))
	for name := range t.units {
		names = append(names, name)
	}
	t.units = map[string]*unit{}
	t.mu.Unlock()

	if t.cache == nil {
		return nil
	}
	for _, name := range names {
		if err := t.cache.Invalidate(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Errors returns the errors of the last render
func (t *Template) Errors() []*TemplateError {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*TemplateError(nil), t.errors...)
}

// HelperMethods lists the helper functions bound by the last render
func (t *Template) HelperMethods() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.methods...)
}

// LocalNames lists the locals bound by the last render
func (t *Template) LocalNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.localSet...)
}
