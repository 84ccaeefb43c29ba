package project

import (
	"context"
	"errors"

	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/crawler"
	"github.com/docbro/docbro/pkg/store"
	"github.com/docbro/docbro/pkg/vector"
)

// Sentinel errors shared by handlers and the manager.
var (
	ErrNotFound      = errors.New("project not found")
	ErrDuplicate     = errors.New("project already exists")
	ErrNoUploads     = errors.New("project type does not support uploads")
	ErrIntegrity     = errors.New("integrity check failed")
	ErrFileConflict  = errors.New("file already exists")
	ErrInvalidCrawl  = errors.New("invalid crawl request")
	ErrHandlerFailed = errors.New("handler operation failed")
)

// Handler is the common capability set every project type implements.
type Handler interface {
	// Type identifies the project type this handler serves.
	Type() config.ProjectType

	// Initialize prepares a freshly created project: subdirectories,
	// per-project database, type-specific resources.
	Initialize(ctx context.Context, p *Project) error

	// Cleanup tears down type-specific resources before removal. With
	// force set, errors are logged and swallowed; otherwise they are
	// returned.
	Cleanup(ctx context.Context, p *Project, force bool) error

	// ValidateSettings validates a merged settings map for this type.
	ValidateSettings(settings map[string]any) config.ValidationResult

	// DefaultSettings returns the type defaults layer.
	DefaultSettings() map[string]any

	// Stats returns type-specific statistics for the project.
	Stats(ctx context.Context, p *Project) (map[string]any, error)
}

// IngestRequest carries per-file context into a type-specific sink.
type IngestRequest struct {
	// OriginalName is the file's name at the source.
	OriginalName string
	// SourceType and SourceLocation snapshot where the file came from.
	// SourceLocation must already be credential-redacted.
	SourceType     string
	SourceLocation string
	// Metadata is free-form caller metadata attached to the file.
	Metadata map[string]string
	// Conflict selects the collision policy for storage sinks.
	Conflict ConflictPolicy
}

// IngestResult reports the outcome of one sink ingestion.
type IngestResult struct {
	FileID     string   `json:"file_id,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
	StoredAs   string   `json:"stored_as,omitempty"`
	Bytes      int64    `json:"bytes"`
	Skipped    bool     `json:"skipped,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Ingestor is implemented by handlers whose projects accept uploads
// (storage and data). The upload manager dispatches downloaded files here.
type Ingestor interface {
	IngestFile(ctx context.Context, p *Project, localPath string, req IngestRequest) (*IngestResult, error)
}

// AskFunc answers an "ask" conflict interactively. Returning a non-ask
// policy resolves the collision; the CLI wires a promptui prompt here.
// When nil, ask degrades to skip.
type AskFunc func(p *Project, filename string) ConflictPolicy

// Deps carries the collaborators handlers are constructed with. Everything
// is injected; handlers hold no process-wide state.
type Deps struct {
	// Resolver provides effective configuration.
	Resolver *config.Resolver

	// DB opens (or returns a cached) per-project database. Wired by the
	// manager.
	DB func(ctx context.Context, p *Project) (*store.ProjectDB, error)

	// CrawlerFactory builds crawler drivers; nil disables start-crawl.
	CrawlerFactory crawler.Factory

	// Embedder backs the qdrant vector store; nil restricts data projects
	// to the local sqlite_vec backend.
	Embedder vector.Embedder

	// QdrantURL locates the qdrant instance when vector_store_type=qdrant.
	QdrantURL string

	// Ask answers interactive conflict prompts; nil degrades ask to skip.
	Ask AskFunc
}
