// Package vector defines the vector-store boundary used by data projects.
//
// Embedding semantics live outside docbro; the data handler only submits
// chunks and runs searches through the Store interface. Two backends exist:
// a local sqlite-backed store (the default) and a Qdrant client that
// requires an externally supplied Embedder.
package vector

import (
	"context"
	"fmt"
	"strings"
)

// Chunk is one unit of text submitted to the store.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Metadata   map[string]string
}

// SearchResult is one ranked hit from a search.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Store is the opaque vector-store contract the data handler programs
// against.
type Store interface {
	AddChunks(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Close() error
}

// Embedder turns text into a vector. Qdrant requires one; the local store
// does not use embeddings at all.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Config selects and parameterizes a backend.
type Config struct {
	// Type is "sqlite_vec" or "qdrant".
	Type string

	// Path is the database file for the sqlite_vec backend.
	Path string

	// QdrantURL, Collection and Embedder configure the qdrant backend.
	// Collection follows the docbro_<project> convention.
	QdrantURL  string
	Collection string
	Embedder   Embedder
}

// Open constructs the configured backend.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "sqlite_vec":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite_vec store requires a path")
		}
		return OpenLocal(cfg.Path)
	case "qdrant":
		return OpenQdrant(cfg)
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.Type)
	}
}
