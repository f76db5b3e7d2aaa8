// Package extract turns source documents into plain text.
package extract

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Extractor reads the text content of one file format.
type Extractor interface {
	Extract(path string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(path string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(path string) (string, error) { return f(path) }

// Registry dispatches by lowercase file extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with the built-in formats:
// .txt, .md, .pdf, .docx, .xlsx.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(ExtractorFunc(Text), ".txt", ".md")
	r.Register(ExtractorFunc(PDF), ".pdf")
	r.Register(ExtractorFunc(DOCX), ".docx")
	r.Register(ExtractorFunc(XLSX), ".xlsx")
	return r
}

// Register binds e to the given extensions, replacing earlier bindings.
func (r *Registry) Register(e Extractor, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = e
	}
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[Ext(path)]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Extract returns the text of path. An unknown extension yields
// *domain.UnsupportedFormatError; a read or parse failure wraps
// domain.ErrExtraction.
func (r *Registry) Extract(path string) (string, error) {
	ext := Ext(path)
	e, ok := r.byExt[ext]
	if !ok {
		return "", domain.NewUnsupportedFormat(ext)
	}
	text, err := e.Extract(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w: %w", filepath.Base(path), domain.ErrExtraction, err)
	}
	return text, nil
}

// Ext returns the lowercase extension of path including the dot.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
