package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"laminate/internal/common/errors"
	"laminate/internal/common/logging"
	"laminate/internal/laminate/loader"
	"laminate/internal/laminate/template"
)

// RenderRequest renders inline template text
type RenderRequest struct {
	Template string         `json:"template" validate:"required,max=1048576"`
	Locals   map[string]any `json:"locals"`
	// Timeout in seconds; the server default applies when zero
	Timeout     int  `json:"timeout" validate:"omitempty,min=1,max=300"`
	RaiseErrors bool `json:"raise_errors"`
}

// NamedRenderRequest renders a stored template
type NamedRenderRequest struct {
	Locals      map[string]any `json:"locals"`
	Timeout     int            `json:"timeout" validate:"omitempty,min=1,max=300"`
	RaiseErrors bool           `json:"raise_errors"`
}

// RenderResponse carries the output of a render. When the template failed
// and errors were not raised, Output is the HTML error fragment and Error
// describes the failure.
type RenderResponse struct {
	Template   string     `json:"template"`
	Output     string     `json:"output"`
	Error      *ErrorBody `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// ErrorBody is a TemplateError as JSON
type ErrorBody struct {
	Template string `json:"template"`
	Line     int    `json:"line"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Extract  string `json:"extract,omitempty"`
}

func errorBody(terr *template.TemplateError) *ErrorBody {
	return &ErrorBody{
		Template: terr.Name,
		Line:     terr.Line,
		Column:   terr.Column,
		Message:  terr.Message,
		Extract:  terr.Extract(),
	}
}

// writeTemplateError answers with the status of terr's classification and
// the error body
func writeTemplateError(w http.ResponseWriter, terr *template.TemplateError) {
	failure := templateFailure(terr)
	writeJSON(w, statusOf(failure), map[string]interface{}{
		"error": errorBody(terr),
		"type":  failure.Type,
	})
}

// Render renders inline template text
// @Summary Render a template
// @Tags render
// @Accept json
// @Produce json
// @Param request body RenderRequest true "Template and locals"
// @Success 200 {object} RenderResponse
// @Failure 422 {object} RenderResponse "Template error with raise_errors set"
// @Failure 504 {object} RenderResponse "Render timed out"
// @Router /render [post]
func (h *Handlers) Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	// Inline text may include stored templates by name
	l := loader.Overlay{Base: h.deps.Loader, Name: template.InlineName, Text: req.Template}
	t := template.NewNamed(template.InlineName, l, h.templateOptions()...)

	h.render(w, r, t, req.Locals, req.Timeout, req.RaiseErrors)
}

// RenderNamed renders a template from the configured source
// @Summary Render a stored template
// @Tags render
// @Accept json
// @Produce json
// @Param name path string true "Template name"
// @Param request body NamedRenderRequest false "Locals"
// @Success 200 {object} RenderResponse
// @Failure 404 {object} map[string]string
// @Router /templates/{name}/render [post]
func (h *Handlers) RenderNamed(w http.ResponseWriter, r *http.Request) {
	name, ok := h.templateName(w, r)
	if !ok {
		return
	}

	var req NamedRenderRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	h.render(w, r, h.template(name), req.Locals, req.Timeout, req.RaiseErrors)
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, t *template.Template, locals map[string]any, timeout int, raise bool) {
	ctx := logging.ContextWithTemplate(r.Context(), t.Name())
	opts := template.RenderOptions{
		Locals:         locals,
		Helpers:        h.deps.Helpers,
		Timeout:        h.deps.Config.RenderTimeout(),
		WrapExceptions: &h.deps.Config.WrapExceptions,
		VendorSource:   h.deps.VendorSource,
		RaiseErrors:    true,
	}
	if timeout > 0 {
		opts.Timeout = time.Duration(timeout) * time.Second
	}

	start := time.Now()
	out, err := t.RenderE(ctx, opts)
	resp := RenderResponse{Template: t.Name(), Output: out, DurationMS: time.Since(start).Milliseconds()}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var terr *template.TemplateError
	if !stderrors.As(err, &terr) {
		writeError(w, errors.InternalError("render failed", err))
		return
	}
	if terr.Line == 0 && loader.IsMissing(terr.Cause) && terr.Name == t.Name() {
		h.forget(t)
		writeError(w, errors.NotFoundError("template "+terr.Name))
		return
	}

	// timeouts answer 504 whether or not errors are raised
	resp.Error = errorBody(terr)
	status := statusOf(templateFailure(terr))
	if !raise {
		resp.Output = terr.HTML()
		if status != http.StatusGatewayTimeout {
			status = http.StatusOK
		}
	}
	writeJSON(w, status, resp)
}

// Source returns the Lua generated for a template
// @Summary Show generated Lua
// @Tags templates
// @Produce json
// @Param name path string true "Template name"
// @Success 200 {object} map[string]string
// @Router /templates/{name}/source [get]
func (h *Handlers) Source(w http.ResponseWriter, r *http.Request) {
	name, ok := h.templateName(w, r)
	if !ok {
		return
	}

	t := h.template(name)
	script, err := t.Source(r.Context())
	if err != nil {
		var terr *template.TemplateError
		if stderrors.As(err, &terr) && loader.IsMissing(terr.Cause) {
			h.forget(t)
			writeError(w, errors.NotFoundError("template "+name))
			return
		}
		if terr != nil {
			writeTemplateError(w, terr)
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"template": name, "source": script})
}

func (h *Handlers) templateName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := mux.Vars(r)["name"]
	if err := h.validator.Var(name, "required,template_name"); err != nil {
		writeError(w, errors.ValidationError("invalid template name "+name))
		return "", false
	}
	return name, true
}
