package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"laminate/internal/common/logging"
)

// DefaultExtension is appended to template names that have no extension
const DefaultExtension = "lam"

// FileLoader reads templates from a directory. "welcome" and "welcome.lam"
// name the same file; absolute names are used as they are.
type FileLoader struct {
	Dir string
	Ext string
	// Confined rejects names that resolve outside Dir, including absolute
	// ones. The render service sets it because names come from requests.
	Confined bool
}

// NewFileLoader creates a loader rooted at dir using DefaultExtension
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir, Ext: DefaultExtension}
}

func (l *FileLoader) ext() string {
	if l.Ext == "" {
		return "." + DefaultExtension
	}
	return "." + strings.TrimPrefix(l.Ext, ".")
}

// Path returns the file a template name resolves to
func (l *FileLoader) Path(name string) (string, error) {
	file := name
	if !strings.HasSuffix(file, l.ext()) {
		file += l.ext()
	}

	if filepath.IsAbs(file) {
		if l.Confined {
			return "", fmt.Errorf("template %q: absolute names are not allowed", name)
		}
		return file, nil
	}

	path := filepath.Join(l.Dir, file)
	if l.Confined {
		rel, err := filepath.Rel(filepath.Clean(l.Dir), path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("template %q resolves outside the template directory", name)
		}
	}
	return path, nil
}

func (l *FileLoader) Load(_ context.Context, name string) (string, error) {
	path, err := l.Path(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", &MissingTemplateError{Name: name, Path: path}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read template %q: %w", name, err)
	}
	return string(data), nil
}

// Name turns a path below Dir back into a template name
func (l *FileLoader) Name(path string) (string, bool) {
	if !strings.HasSuffix(path, l.ext()) {
		return "", false
	}
	rel, err := filepath.Rel(l.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, l.ext())), true
}

// List returns the names of every template below Dir
func (l *FileLoader) List(_ context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(l.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if name, ok := l.Name(path); ok {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates in %s: %w", l.Dir, err)
	}
	return names, nil
}

// Watch calls onChange with the template name whenever a template file
// below Dir is written, created, removed or renamed. It returns once the
// watcher is running and stops when ctx is cancelled.
func (l *FileLoader) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	err = filepath.WalkDir(l.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.Dir, err)
	}

	logger := logging.ForComponent("loader").WithFields(logging.Field{Key: "dir", Value: l.Dir})
	logger.Info("Watching template directory")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
						continue
					}
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if name, ok := l.Name(event.Name); ok {
					logger.Debug("Template changed",
						logging.Field{Key: "template", Value: name},
						logging.Field{Key: "op", Value: event.Op.String()},
					)
					onChange(name)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Template watcher error", err)
			}
		}
	}()
	return nil
}
