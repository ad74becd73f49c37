package loader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laminate/internal/common/cache"
)

func TestInlineLoaderIgnoresName(t *testing.T) {
	l := InlineLoader{Text: "Hello <%= name %>"}
	for _, name := range []string{"", "inline", "anything/else"} {
		text, err := l.Load(context.Background(), name)
		require.NoError(t, err)
		assert.Equal(t, "Hello <%= name %>", text)
	}
}

func TestOverlay(t *testing.T) {
	ctx := context.Background()
	o := Overlay{Base: NewMapLoader(map[string]string{"footer": "bye"}), Name: "inline", Text: "hi"}

	text, err := o.Load(ctx, "inline")
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	text, err = o.Load(ctx, "footer")
	require.NoError(t, err)
	assert.Equal(t, "bye", text)

	_, err = o.Load(ctx, "missing")
	assert.True(t, IsMissing(err))

	_, err = Overlay{Name: "inline"}.Load(ctx, "other")
	assert.True(t, IsMissing(err))
}

func TestMapLoader(t *testing.T) {
	ctx := context.Background()
	seed := map[string]string{"a": "A"}
	m := NewMapLoader(seed)
	seed["a"] = "changed"

	text, err := m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", text)

	m.Set("b", "B")
	assert.Equal(t, []string{"a", "b"}, m.Names())

	m.Delete("a")
	_, err = m.Load(ctx, "a")
	require.Error(t, err)
	assert.True(t, IsMissing(err))
	assert.EqualError(t, err, `template "a" not found`)
}

func writeTemplate(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	abs := writeTemplate(t, dir, "welcome.lam", "Welcome")
	writeTemplate(t, dir, "partials/header.lam", "Header")
	writeTemplate(t, dir, "notes.txt", "ignored")

	l := NewFileLoader(dir)

	tests := []struct {
		name string
		want string
	}{
		{"welcome", "Welcome"},
		{"welcome.lam", "Welcome"},
		{"partials/header", "Header"},
		{abs, "Welcome"},
		{filepath.Join(dir, "welcome"), "Welcome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := l.Load(ctx, tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}

	_, err := l.Load(ctx, "missing")
	var missing *MissingTemplateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "missing", missing.Name)
	assert.Equal(t, filepath.Join(dir, "missing.lam"), missing.Path)

	names, err := l.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"welcome", "partials/header"}, names)
}

func TestFileLoaderCustomExtension(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "page.html", "<p>page</p>")

	l := &FileLoader{Dir: dir, Ext: ".html"}
	text, err := l.Load(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, "<p>page</p>", text)
}

func TestFileLoaderConfined(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "inner/ok.lam", "ok")

	l := &FileLoader{Dir: filepath.Join(dir, "inner"), Confined: true}

	_, err := l.Load(context.Background(), "ok")
	require.NoError(t, err)

	for _, name := range []string{"../secret", "/etc/passwd", "a/../../b"} {
		_, err := l.Path(name)
		assert.Error(t, err, name)
	}
}

func TestFileLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "welcome.lam", "v1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		changed []string
	)
	l := NewFileLoader(dir)
	require.NoError(t, l.Watch(ctx, func(name string) {
		mu.Lock()
		changed = append(changed, name)
		mu.Unlock()
	}))

	writeTemplate(t, dir, "welcome.lam", "v2")
	writeTemplate(t, dir, "other.txt", "not a template")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, name := range changed {
		assert.Equal(t, "welcome", name)
	}
}

func TestSQLStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "templates.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.Load(ctx, "welcome")
	assert.True(t, IsMissing(err))

	first, err := store.Save(ctx, "welcome", "Hello <%= name %>")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "Hello <%= name %>", first.Source)

	second, err := store.Save(ctx, "welcome", "Hi <%= name %>")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "updating keeps the id")

	text, err := store.Load(ctx, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Hi <%= name %>", text)

	_, err = store.Save(ctx, "footer", "bye")
	require.NoError(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "footer", records[0].Name)
	assert.Empty(t, records[0].Source)

	require.NoError(t, store.Delete(ctx, "footer"))
	assert.True(t, IsMissing(store.Delete(ctx, "footer")))
	assert.NoError(t, store.Health())

	_, err = store.Save(ctx, "", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpenErrors(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)

	_, err = OpenPostgres("::not a dsn::")
	assert.Error(t, err)
}

func TestScriptCache(t *testing.T) {
	ctx := context.Background()
	c := NewScriptCache(cache.NewLocalCache(time.Minute, time.Minute), time.Minute)

	k1 := CacheKey("welcome", "erb", "v1")
	k2 := CacheKey("welcome", "erb", "v2")
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, CacheKey("welcome", "erb", "v1"))
	assert.Regexp(t, `^welcome:erb:[0-9a-f]{32}$`, k1)
	assert.NotEqual(t, k1, CacheKey("welcome", "mustache", "v1"), "dialects compile the same text differently")

	require.NoError(t, c.Put(ctx, k1, "script1"))
	require.NoError(t, c.Put(ctx, k2, "script2"))
	require.NoError(t, c.Put(ctx, CacheKey("footer", "erb", "f"), "script3"))

	script, ok := c.Get(ctx, k1)
	assert.True(t, ok)
	assert.Equal(t, "script1", script)

	require.NoError(t, c.Invalidate(ctx, "welcome"))
	_, ok = c.Get(ctx, k1)
	assert.False(t, ok)
	_, ok = c.Get(ctx, k2)
	assert.False(t, ok)
	_, ok = c.Get(ctx, CacheKey("footer", "erb", "f"))
	assert.True(t, ok)

	require.NoError(t, c.Flush(ctx))
	_, ok = c.Get(ctx, CacheKey("footer", "erb", "f"))
	assert.False(t, ok)
}
