package domain

// DefaultKeyPrefix namespaces every key the service writes.
const DefaultKeyPrefix = "ragchat:"

// Chunk is a bounded substring of a source document, the unit of retrieval.
type Chunk struct {
	ID     string
	Text   string
	Source string
}

// EmbeddedChunk is a Chunk with its vector. Every persisted chunk has exactly one.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}

// RetrievedResult is a single similarity hit. Distance is cosine distance in [0, 2],
// lower is more similar.
type RetrievedResult struct {
	Text     string
	Source   string
	Distance float64
}

// IngestResult reports the outcome of one document ingestion.
type IngestResult struct {
	Source      string
	ChunksAdded int
}
