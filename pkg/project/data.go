package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docbro/docbro/internal/bytesize"
	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/store"
	"github.com/docbro/docbro/pkg/vector"
)

// dataSubdirs are created under the project root at initialize time.
var dataSubdirs = []string{"documents", "processed", "vectors", "temp", "logs"}

// DataHandler implements the data project type: document processing into
// chunks plus vector-store indexing and search.
type DataHandler struct {
	deps Deps

	mu     sync.Mutex
	stores map[string]vector.Store // keyed by project ID
}

// NewDataHandler creates the data handler.
func NewDataHandler(deps Deps) *DataHandler {
	return &DataHandler{deps: deps, stores: make(map[string]vector.Store)}
}

func (h *DataHandler) Type() config.ProjectType { return config.TypeData }

// DefaultSettings returns the data type defaults.
func (h *DataHandler) DefaultSettings() map[string]any {
	return config.TypeDefaults(config.TypeData)
}

// ValidateSettings validates a merged settings map for data projects.
func (h *DataHandler) ValidateSettings(settings map[string]any) config.ValidationResult {
	return config.ValidateSettings(settings, config.TypeData)
}

// Initialize creates the data directory tree, the per-project document
// database and the vector store collection.
func (h *DataHandler) Initialize(ctx context.Context, p *Project) error {
	for _, sub := range dataSubdirs {
		if err := os.MkdirAll(filepath.Join(p.Dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	if _, err := h.deps.DB(ctx, p); err != nil {
		return err
	}
	if _, err := h.vectorStore(p); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "data project initialized", logger.KeyProject, p.Name)
	return nil
}

// Cleanup closes the vector store and removes temp contents.
func (h *DataHandler) Cleanup(ctx context.Context, p *Project, force bool) error {
	h.mu.Lock()
	if vs, ok := h.stores[p.ID]; ok {
		delete(h.stores, p.ID)
		if err := vs.Close(); err != nil && !force {
			h.mu.Unlock()
			return fmt.Errorf("failed to close vector store: %w", err)
		}
	}
	h.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(p.Dir, "temp")); err != nil {
		if !force {
			return fmt.Errorf("failed to remove temp directory: %w", err)
		}
		logger.WarnCtx(ctx, "ignoring cleanup failure", logger.KeyProject, p.Name, logger.KeyError, err.Error())
	}
	return nil
}

// vectorStore returns the project's vector store, opening it on first use.
// The collection name follows the docbro_<project> convention.
func (h *DataHandler) vectorStore(p *Project) (vector.Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if vs, ok := h.stores[p.ID]; ok {
		return vs, nil
	}

	cfg, err := h.deps.Resolver.GetProject(p.Name)
	if err != nil {
		return nil, err
	}
	vs, err := vector.Open(vector.Config{
		Type:       cfg.VectorStoreType,
		Path:       filepath.Join(p.Dir, "vectors", "vectors.db"),
		QdrantURL:  h.deps.QdrantURL,
		Collection: "docbro_" + p.Name,
		Embedder:   h.deps.Embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store for %s: %w", p.Name, err)
	}
	h.stores[p.ID] = vs
	return vs, nil
}

// IngestFile satisfies Ingestor: an uploaded file becomes a processed
// document.
func (h *DataHandler) IngestFile(ctx context.Context, p *Project, localPath string, req IngestRequest) (*IngestResult, error) {
	doc, warnings, err := h.ProcessDocument(ctx, p, localPath, req)
	if err != nil {
		return nil, err
	}
	return &IngestResult{
		DocumentID: doc.ID,
		StoredAs:   doc.Title,
		Bytes:      int64(doc.CharacterCount),
		Warnings:   warnings,
	}, nil
}

// ProcessDocument runs the full pipeline for one file: validate, extract,
// chunk, persist, index. Extraction warnings degrade the quality score but
// do not fail the document.
func (h *DataHandler) ProcessDocument(ctx context.Context, p *Project, localPath string, req IngestRequest) (*store.DataDocument, []string, error) {
	cfg, err := h.deps.Resolver.GetProject(p.Name)
	if err != nil {
		return nil, nil, err
	}

	originalName := req.OriginalName
	if originalName == "" {
		originalName = filepath.Base(localPath)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot stat %s: %w", localPath, err)
	}
	if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
		return nil, nil, fmt.Errorf("file %s exceeds max_file_size (%s > %s)",
			originalName, bytesize.ByteSize(info.Size()), bytesize.ByteSize(cfg.MaxFileSize))
	}
	if !config.FormatAllowed(cfg.AllowedFormats, ext) {
		return nil, nil, fmt.Errorf("format %q is not allowed for project %s", ext, p.Name)
	}

	extraction, err := ExtractText(localPath, originalName)
	if err != nil {
		return nil, nil, err
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	overlap := config.DefaultChunkOverlap
	if cfg.ChunkOverlap != nil {
		overlap = *cfg.ChunkOverlap
	}
	chunks := SplitText(extraction.Text, chunkSize, overlap)

	doc := &store.DataDocument{
		ID:                uuid.NewString(),
		ProjectID:         p.ID,
		Title:             extraction.Title,
		Content:           extraction.Text,
		SourcePath:        localPath,
		UploadSourceJSON:  fmt.Sprintf(`{"type":%q,"location":%q}`, req.SourceType, req.SourceLocation),
		ProcessedDate:     time.Now().UTC(),
		ChunkCount:        len(chunks),
		WordCount:         len(strings.Fields(extraction.Text)),
		CharacterCount:    len(extraction.Text),
		Language:          "en",
		EmbeddingModel:    cfg.EmbeddingModel,
		ChunkSize:         chunkSize,
		ChunkOverlap:      overlap,
		ProcessingSuccess: len(extraction.Warnings) == 0,
	}
	if err := doc.SetProcessingErrors(extraction.Warnings); err != nil {
		return nil, nil, err
	}
	doc.QualityScore = QualityScore(doc.CharacterCount, len(extraction.Warnings), doc.ChunkCount)

	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if err := db.SaveDocument(ctx, doc); err != nil {
		return nil, nil, err
	}

	rows := make([]*store.DocumentChunk, len(chunks))
	vchunks := make([]vector.Chunk, len(chunks))
	for i, c := range chunks {
		id := uuid.NewString()
		rows[i] = &store.DocumentChunk{
			ID:         id,
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			StartChar:  c.Start,
			EndChar:    c.End,
			VectorID:   id,
		}
		vchunks[i] = vector.Chunk{
			ID:         id,
			DocumentID: doc.ID,
			Index:      c.Index,
			Text:       c.Text,
			Metadata:   map[string]string{"title": doc.Title},
		}
	}
	if err := db.SaveChunks(ctx, doc.ID, rows); err != nil {
		return nil, nil, err
	}

	vs, err := h.vectorStore(p)
	if err != nil {
		return nil, nil, err
	}
	if err := vs.AddChunks(ctx, vchunks); err != nil {
		return nil, nil, fmt.Errorf("vector indexing failed for %s: %w", doc.Title, err)
	}

	logger.InfoCtx(ctx, "processed document",
		logger.KeyProject, p.Name,
		logger.KeyDocument, doc.Title,
		"chunks", doc.ChunkCount,
		"quality", doc.QualityScore)
	return doc, extraction.Warnings, nil
}

// SearchDocuments runs a vector search over the project's chunks.
func (h *DataHandler) SearchDocuments(ctx context.Context, p *Project, query string, limit int) ([]vector.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	vs, err := h.vectorStore(p)
	if err != nil {
		return nil, err
	}
	return vs.Search(ctx, query, limit)
}

// DeleteDocument removes a document, its chunks and its vectors.
func (h *DataHandler) DeleteDocument(ctx context.Context, p *Project, documentID string) error {
	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return err
	}
	if err := db.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	vs, err := h.vectorStore(p)
	if err != nil {
		return err
	}
	return vs.DeleteDocument(ctx, documentID)
}

// Stats reports document and chunk counts plus the average quality score.
func (h *DataHandler) Stats(ctx context.Context, p *Project) (map[string]any, error) {
	db, err := h.deps.DB(ctx, p)
	if err != nil {
		return nil, err
	}
	docs, err := db.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	var chunkTotal int
	var qualitySum float64
	for _, d := range docs {
		chunkTotal += d.ChunkCount
		qualitySum += d.QualityScore
	}
	avgQuality := 0.0
	if len(docs) > 0 {
		avgQuality = qualitySum / float64(len(docs))
	}
	return map[string]any{
		"document_count": len(docs),
		"chunk_count":    chunkTotal,
		"avg_quality":    avgQuality,
	}, nil
}
