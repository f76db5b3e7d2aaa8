package ingest

import "context"

// Store is the write side of the vector store adapter.
type Store interface {
	Upsert(ctx context.Context, chunks []string, source string) (int, error)
	DeleteBySource(ctx context.Context, source string) error
	ClearAll(ctx context.Context) error
	ListSources(ctx context.Context) ([]string, error)
	CountChunks(ctx context.Context) (int, error)
}

// Extractor reads the text of a document, dispatching on its extension.
type Extractor interface {
	Extract(path string) (string, error)
	Supports(path string) bool
}

// Splitter chunks extracted text.
type Splitter interface {
	Split(text string) []string
}
