package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laminate/internal/config"
	"laminate/internal/laminate/loader"
	"laminate/internal/testutil"
)

func memoized(h *Handlers) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.templates)
}

func TestMissingTemplatesAreNotMemoized(t *testing.T) {
	h, err := New(Deps{
		Config: &config.Config{Dialect: "erb", Timeout: "5", WrapExceptions: true},
		Loader: loader.NewMapLoader(map[string]string{"home": "hi"}),
		Logger: testutil.NewRecordingLogger(),
	})
	require.NoError(t, err)

	call := func(handler http.HandlerFunc, method, name string) int {
		req := mux.SetURLVars(httptest.NewRequest(method, "/", nil), map[string]string{"name": name})
		rr := httptest.NewRecorder()
		handler(rr, req)
		return rr.Code
	}

	for _, name := range []string{"nope-1", "nope-2", "nope-3"} {
		assert.Equal(t, http.StatusNotFound, call(h.RenderNamed, http.MethodPost, name))
		assert.Equal(t, http.StatusNotFound, call(h.Source, http.MethodGet, name))
	}
	assert.Equal(t, 0, memoized(h))

	assert.Equal(t, http.StatusOK, call(h.RenderNamed, http.MethodPost, "home"))
	assert.Equal(t, 1, memoized(h))
}
