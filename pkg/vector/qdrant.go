package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// QdrantStore talks to a Qdrant instance over its REST API. It needs an
// Embedder to produce vectors; without one the backend fails closed at Open
// rather than silently degrading.
type QdrantStore struct {
	baseURL    string
	collection string
	embedder   Embedder
	client     *http.Client
}

// OpenQdrant validates the configuration and ensures the collection exists
// with cosine distance and the embedder's dimensionality.
func OpenQdrant(cfg Config) (*QdrantStore, error) {
	if cfg.QdrantURL == "" {
		return nil, fmt.Errorf("qdrant store requires a URL")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant store requires a collection name")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("qdrant store requires an embedding service")
	}

	s := &QdrantStore{
		baseURL:    strings.TrimRight(cfg.QdrantURL, "/"),
		collection: cfg.Collection,
		embedder:   cfg.Embedder,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.embedder.Dimensions(),
			"distance": "Cosine",
		},
	}
	// PUT is idempotent; an existing collection with the same parameters
	// returns a conflict we can ignore.
	resp, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("qdrant collection setup failed: %s", resp.Status)
	}
	return nil
}

// AddChunks embeds and upserts chunks as points.
func (s *QdrantStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	points := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Text)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", c.Index, err)
		}
		points = append(points, map[string]any{
			"id":     c.ID,
			"vector": vec,
			"payload": map[string]any{
				"document_id": c.DocumentID,
				"chunk_index": c.Index,
				"text":        c.Text,
				"metadata":    c.Metadata,
			},
		})
	}

	resp, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true",
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant upsert failed: %s", resp.Status)
	}
	return nil
}

// Search embeds the query and runs a vector search.
func (s *QdrantStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search",
		map[string]any{"vector": vec, "limit": limit, "with_payload": true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant search failed: %s", resp.Status)
	}

	var decoded struct {
		Result []struct {
			ID      string  `json:"id"`
			Score   float64 `json:"score"`
			Payload struct {
				DocumentID string `json:"document_id"`
				Text       string `json:"text"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(decoded.Result))
	for _, hit := range decoded.Result {
		results = append(results, SearchResult{
			ChunkID:    hit.ID,
			DocumentID: hit.Payload.DocumentID,
			Text:       hit.Payload.Text,
			Score:      hit.Score,
		})
	}
	return results, nil
}

// DeleteDocument removes all points belonging to a document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	resp, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true",
		map[string]any{
			"filter": map[string]any{
				"must": []map[string]any{
					{"key": "document_id", "match": map[string]any{"value": documentID}},
				},
			},
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant delete failed: %s", resp.Status)
	}
	return nil
}

// Close is a no-op; the HTTP client holds no persistent connections worth
// tearing down explicitly.
func (s *QdrantStore) Close() error { return nil }

func (s *QdrantStore) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}
