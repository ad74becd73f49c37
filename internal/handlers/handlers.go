package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"laminate/internal/common/errors"
	"laminate/internal/common/logging"
	"laminate/internal/common/validation"
	"laminate/internal/config"
	"laminate/internal/laminate/helpers"
	"laminate/internal/laminate/loader"
	"laminate/internal/laminate/parser"
	"laminate/internal/laminate/state"
	"laminate/internal/laminate/template"
)

// maxBodyBytes bounds request bodies; templates themselves are capped at 1 MiB
const maxBodyBytes = 2 << 20

// TemplateStore is a writable template source
type TemplateStore interface {
	loader.Loader
	Save(ctx context.Context, name, source string) (*loader.Record, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]loader.Record, error)
}

// Publisher tells other instances that a template changed
type Publisher interface {
	PublishInvalidation(ctx context.Context, name string) error
}

// Deps are the collaborators of the render API
type Deps struct {
	Config *config.Config
	Loader loader.Loader
	// Store is set when templates live in SQL; without it the API is read-only
	Store     TemplateStore
	Cache     loader.CompiledCache
	Publisher Publisher
	Helpers   []helpers.Provider
	// VendorSource is evaluated in every State before the template runs
	VendorSource string
	// Checks are reported by /health, keyed by dependency name
	Checks map[string]func() error
	Logger logging.Logger
}

type Handlers struct {
	deps      Deps
	dialect   parser.Dialect
	validator *validation.Validator
	logger    logging.Logger
	started   time.Time

	mu        sync.Mutex
	templates map[string]*template.Template
}

func New(deps Deps) (*Handlers, error) {
	if deps.Config == nil {
		return nil, errors.ConfigError("handlers need a config")
	}
	if deps.Loader == nil {
		if deps.Store == nil {
			return nil, errors.ConfigError("handlers need a template loader")
		}
		deps.Loader = deps.Store
	}
	dialect, err := parser.DialectByName(deps.Config.Dialect)
	if err != nil {
		return nil, errors.ConfigError(err.Error())
	}
	if deps.Logger == nil {
		deps.Logger = logging.ForComponent("handlers")
	}

	return &Handlers{
		deps:      deps,
		dialect:   dialect,
		validator: validation.New(),
		logger:    deps.Logger,
		started:   time.Now(),
		templates: map[string]*template.Template{},
	}, nil
}

// template returns the shared Template for name. Templates keep their
// compiled scripts between requests.
func (h *Handlers) template(name string) *template.Template {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.templates[name]
	if !ok {
		t = template.NewNamed(name, h.deps.Loader, h.templateOptions()...)
		h.templates[name] = t
	}
	return t
}

// forget drops t when it is still the memo for its name, so names that
// were never found do not accumulate
func (h *Handlers) forget(t *template.Template) {
	h.mu.Lock()
	if h.templates[t.Name()] == t {
		delete(h.templates, t.Name())
	}
	h.mu.Unlock()
}

func (h *Handlers) templateOptions() []template.Option {
	opts := []template.Option{
		template.WithDialect(h.dialect),
		template.WithLogger(h.logger),
	}
	if h.deps.Cache != nil {
		opts = append(opts, template.WithCache(h.deps.Cache))
	}
	return opts
}

// Invalidate drops everything compiled from name. It is called when a
// template changes on disk, through the API or on another instance.
func (h *Handlers) Invalidate(ctx context.Context, name string) {
	h.mu.Lock()
	t, ok := h.templates[name]
	delete(h.templates, name)
	h.mu.Unlock()

	if ok {
		if err := t.ClearCompiled(ctx); err != nil {
			h.logger.Warn("Failed to clear compiled template",
				logging.Field{Key: "template", Value: name}, logging.Field{Key: "error", Value: err.Error()})
		}
	}
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Invalidate(ctx, name); err != nil {
			h.logger.Warn("Failed to invalidate compiled cache",
				logging.Field{Key: "template", Value: name}, logging.Field{Key: "error", Value: err.Error()})
		}
	}
}

// Reset drops every memoized template
func (h *Handlers) Reset() {
	h.mu.Lock()
	h.templates = map[string]*template.Template{}
	h.mu.Unlock()
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.ValidationError("invalid JSON body: " + err.Error())
	}
	return h.validator.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an AppError type to its HTTP status
func statusOf(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeConfig:
		return http.StatusNotImplemented
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrTypeTemplate, errors.ErrTypeSyntax:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		msg = appErr.Message
	}
	writeJSON(w, statusOf(err), map[string]string{"error": msg})
}

// templateFailure classifies a TemplateError for the service layer
func templateFailure(terr *template.TemplateError) *errors.AppError {
	var se *state.ScriptError
	if stderrors.As(terr, &se) && se.Timeout {
		return errors.TimeoutError("render").WithContext("template", terr.Name)
	}
	var pe *parser.SyntaxError
	if stderrors.As(terr, &pe) {
		return errors.SyntaxError(terr.Name, terr)
	}
	return errors.TemplateError(terr.Name, terr)
}
