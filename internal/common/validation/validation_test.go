package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laminate/internal/common/errors"
)

type renderRequest struct {
	Name    string `json:"name" validate:"required,template_name"`
	Dialect string `json:"dialect" validate:"omitempty,dialect"`
	Timeout int    `json:"timeout" validate:"omitempty,min=1,max=300"`
	TTL     string `json:"ttl" validate:"omitempty,duration"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     renderRequest
		wantErr string
	}{
		{"valid", renderRequest{Name: "pages/index", Dialect: "mustache", Timeout: 5, TTL: "1m"}, ""},
		{"missing name", renderRequest{}, "field 'name' is required"},
		{"climbing name", renderRequest{Name: "../etc/passwd"}, "must be a template name"},
		{"absolute name", renderRequest{Name: "/etc/passwd"}, "must be a template name"},
		{"unknown dialect", renderRequest{Name: "a", Dialect: "jinja"}, "must be a template dialect"},
		{"timeout too large", renderRequest{Name: "a", Timeout: 301}, "field 'timeout' must be at most 300"},
		{"bad ttl", renderRequest{Name: "a", TTL: "soon"}, "field 'ttl' must be a valid duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.ErrTypeValidation, errors.GetType(err))
		})
	}
}

func TestStructCombinesMessages(t *testing.T) {
	err := Struct(renderRequest{Dialect: "jinja"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed:")
	assert.Contains(t, err.Error(), "'name'")
	assert.Contains(t, err.Error(), "'dialect'")
}

func TestFields(t *testing.T) {
	v := New()
	assert.Nil(t, v.Fields(renderRequest{Name: "ok"}))

	fields := v.Fields(renderRequest{Name: "ok", Timeout: 1000})
	require.Len(t, fields, 1)
	assert.Equal(t, "timeout", fields[0].Field)
	assert.Equal(t, "max", fields[0].Tag)
	assert.Equal(t, "300", fields[0].Param)
	assert.Equal(t, "1000", fields[0].Value)
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("layout", "template_name"))
	assert.Error(t, Var("a/../b", "template_name"))
	assert.Error(t, Var("", "required"))
}
