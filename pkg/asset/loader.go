// Package asset attaches a vehicle model to a running session. Models are
// resolved off the simulation goroutine; the placeholder box stays in place
// until a load succeeds.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound means the model file does not exist.
	ErrNotFound = errors.New("asset not found")
	// ErrUnsupportedFormat means the file extension is not a known model format.
	ErrUnsupportedFormat = errors.New("unsupported asset format")
	// ErrEmpty means the model file has no content.
	ErrEmpty = errors.New("asset is empty")
)

// DefaultFormats are the model extensions FileLoader accepts.
var DefaultFormats = []string{".obj", ".gltf", ".glb", ".fbx"}

// Model describes a resolved model file. Parsing it is left to the renderer
// that draws it.
type Model struct {
	Path    string
	Format  string
	Size    int64
	ModTime time.Time
}

// Loader resolves a model path.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (Model, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, path string) (Model, error) { return f(ctx, path) }

// FileLoader resolves models on the local filesystem.
type FileLoader struct {
	// Root prefixes relative paths.
	Root string
	// Formats overrides DefaultFormats.
	Formats []string
}

// Load checks that path names a non-empty file in a supported format.
func (l FileLoader) Load(ctx context.Context, path string) (Model, error) {
	if err := ctx.Err(); err != nil {
		return Model{}, err
	}
	if path == "" {
		return Model{}, fmt.Errorf("%w: empty path", ErrNotFound)
	}

	format := strings.ToLower(filepath.Ext(path))
	if !l.supports(format) {
		return Model{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	full := path
	if l.Root != "" && !filepath.IsAbs(path) {
		full = filepath.Join(l.Root, path)
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Model{}, fmt.Errorf("%w: %s", ErrNotFound, full)
	}
	if err != nil {
		return Model{}, fmt.Errorf("failed to stat %s: %w", full, err)
	}
	if info.IsDir() {
		return Model{}, fmt.Errorf("%w: %s is a directory", ErrNotFound, full)
	}
	if info.Size() == 0 {
		return Model{}, fmt.Errorf("%w: %s", ErrEmpty, full)
	}

	return Model{
		Path:    full,
		Format:  strings.TrimPrefix(format, "."),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (l FileLoader) supports(ext string) bool {
	formats := l.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	for _, f := range formats {
		if strings.EqualFold(f, ext) {
			return true
		}
	}
	return false
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrEmpty)
}
