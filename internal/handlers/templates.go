package handlers

import (
	"context"
	"net/http"
	"sort"

	"github.com/samber/lo"

	"laminate/internal/common/errors"
	"laminate/internal/common/logging"
	"laminate/internal/common/pagination"
	"laminate/internal/laminate/loader"
	"laminate/internal/laminate/template"
)

// SaveRequest stores template source under a name
type SaveRequest struct {
	Source string `json:"source" validate:"required,max=1048576"`
}

type nameLister interface {
	List(ctx context.Context) ([]string, error)
}

// ListTemplates returns a page of template names, sorted
// @Summary List templates
// @Tags templates
// @Produce json
// @Param page query int false "Page number"
// @Param per_page query int false "Names per page"
// @Success 200 {object} pagination.Response[string]
// @Router /templates [get]
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var names []string

	switch l := h.deps.Loader.(type) {
	case TemplateStore:
		records, err := l.List(r.Context())
		if err != nil {
			writeError(w, errors.InternalError("failed to list templates", err))
			return
		}
		names = lo.Map(records, func(rec loader.Record, _ int) string { return rec.Name })
	case nameLister:
		var err error
		if names, err = l.List(r.Context()); err != nil {
			writeError(w, errors.InternalError("failed to list templates", err))
			return
		}
	case *loader.MapLoader:
		names = l.Names()
	default:
		writeError(w, errors.ConfigError("the template source cannot be listed"))
		return
	}

	sort.Strings(names)
	writeJSON(w, http.StatusOK, pagination.Paginate(names, pagination.ParseParams(r)))
}

// SaveTemplate creates or replaces a template. The source is parsed and
// compiled before it is stored.
// @Summary Store a template
// @Tags templates
// @Accept json
// @Produce json
// @Param name path string true "Template name"
// @Param request body SaveRequest true "Template source"
// @Success 200 {object} loader.Record
// @Failure 422 {object} map[string]interface{} "Template does not compile"
// @Router /templates/{name} [put]
func (h *Handlers) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	name, ok := h.templateName(w, r)
	if !ok {
		return
	}
	if h.deps.Store == nil {
		writeError(w, errors.ConfigError("templates are read-only with this TEMPLATE_SOURCE"))
		return
	}

	var req SaveRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if terr := h.check(r.Context(), name, req.Source); terr != nil {
		writeTemplateError(w, terr)
		return
	}

	record, err := h.deps.Store.Save(r.Context(), name, req.Source)
	if err != nil {
		writeError(w, errors.InternalError("failed to save template", err))
		return
	}
	h.changed(r.Context(), name)

	writeJSON(w, http.StatusOK, record)
}

// DeleteTemplate removes a template
// @Summary Delete a template
// @Tags templates
// @Param name path string true "Template name"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /templates/{name} [delete]
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	name, ok := h.templateName(w, r)
	if !ok {
		return
	}
	if h.deps.Store == nil {
		writeError(w, errors.ConfigError("templates are read-only with this TEMPLATE_SOURCE"))
		return
	}

	if err := h.deps.Store.Delete(r.Context(), name); err != nil {
		if loader.IsMissing(err) {
			writeError(w, errors.NotFoundError("template "+name))
			return
		}
		writeError(w, errors.InternalError("failed to delete template", err))
		return
	}
	h.changed(r.Context(), name)

	w.WriteHeader(http.StatusNoContent)
}

// check compiles source as name without storing it
func (h *Handlers) check(ctx context.Context, name, source string) *template.TemplateError {
	l := loader.Overlay{Base: h.deps.Loader, Name: name, Text: source}
	err := template.NewNamed(name, l, template.WithDialect(h.dialect), template.WithLogger(h.logger)).Compile(ctx)
	if err == nil {
		return nil
	}
	if terr, ok := err.(*template.TemplateError); ok {
		return terr
	}
	return &template.TemplateError{Name: name, Message: err.Error()}
}

// changed invalidates name here and on every other instance
func (h *Handlers) changed(ctx context.Context, name string) {
	h.Invalidate(ctx, name)
	if h.deps.Publisher == nil {
		return
	}
	if err := h.deps.Publisher.PublishInvalidation(ctx, name); err != nil {
		h.logger.WithContext(ctx).Warn("Failed to publish template invalidation",
			logging.Field{Key: "template", Value: name},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}
