// Package extract turns files on disk into text documents.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"bhoomi/internal/apperr"
	"bhoomi/internal/text"
)

type Extractor interface {
	Extract(ctx context.Context, path string) ([]text.Document, error)
}

// Registry dispatches on the lower-cased file extension.
type Registry struct {
	byExt map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Default returns a registry for the given extensions using the built-in
// extractors. Unknown extensions are rejected.
func Default(exts []string) (*Registry, error) {
	r := NewRegistry()
	for _, ext := range exts {
		ext = normalize(ext)
		switch ext {
		case ".pdf":
			r.Register(ext, PDF{})
		case ".txt", ".md", ".markdown":
			r.Register(ext, Plain{})
		default:
			return nil, apperr.Configuration("extract.Default", fmt.Errorf("no extractor for %q", ext))
		}
	}
	return r, nil
}

func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[normalize(ext)] = e
}

func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[normalize(filepath.Ext(path))]
	return ok
}

func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract returns the documents of path. Every failure, including an
// unsupported extension, is an ExtractionFailure.
func (r *Registry) Extract(ctx context.Context, path string) ([]text.Document, error) {
	e, ok := r.byExt[normalize(filepath.Ext(path))]
	if !ok {
		return nil, apperr.Extraction(path, fmt.Errorf("unsupported extension %q", filepath.Ext(path)))
	}
	docs, err := e.Extract(ctx, path)
	if err != nil {
		return nil, apperr.Extraction(path, err)
	}
	return docs, nil
}

func normalize(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
