// Package loader finds template source by name.
//
// Loaders are consulted for the template being rendered and again for every
// include() it performs, so a name is always resolved the same way within
// one render.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Loader resolves a template name to its source
type Loader interface {
	Load(ctx context.Context, name string) (string, error)
}

// MissingTemplateError is returned when no template exists under a name
type MissingTemplateError struct {
	Name string
	// Path is the file that was looked for, if any
	Path string
}

func (e *MissingTemplateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("template %q not found (looked for %s)", e.Name, e.Path)
	}
	return fmt.Sprintf("template %q not found", e.Name)
}

// IsMissing reports whether err means the template does not exist
func IsMissing(err error) bool {
	var missing *MissingTemplateError
	return errors.As(err, &missing)
}

// InlineLoader returns the same text for any name
type InlineLoader struct {
	Text string
}

func (l InlineLoader) Load(_ context.Context, _ string) (string, error) {
	return l.Text, nil
}

// Overlay serves text under name and defers every other name to base
type Overlay struct {
	Base Loader
	Name string
	Text string
}

func (o Overlay) Load(ctx context.Context, name string) (string, error) {
	if name == o.Name {
		return o.Text, nil
	}
	if o.Base == nil {
		return "", &MissingTemplateError{Name: name}
	}
	return o.Base.Load(ctx, name)
}

// MapLoader serves templates from memory. It is safe for concurrent use.
type MapLoader struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapLoader creates a MapLoader holding a copy of templates
func NewMapLoader(templates map[string]string) *MapLoader {
	m := &MapLoader{templates: make(map[string]string, len(templates))}
	for name, text := range templates {
		m.templates[name] = text
	}
	return m
}

func (m *MapLoader) Load(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	text, ok := m.templates[name]
	if !ok {
		return "", &MissingTemplateError{Name: name}
	}
	return text, nil
}

// Set adds or replaces a template
func (m *MapLoader) Set(name, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[name] = text
}

// Delete removes a template
func (m *MapLoader) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.templates, name)
}

// Names lists the stored templates in sorted order
func (m *MapLoader) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
