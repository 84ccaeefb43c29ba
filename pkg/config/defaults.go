package config

import "github.com/docbro/docbro/internal/bytesize"

// Documented seed values. These appear both in the per-type defaults layer
// and in the global settings.yaml written on first use.
const (
	DefaultMaxFileSize       = int64(10 * bytesize.MiB)
	DefaultConcurrentUploads = 3
	DefaultRetryAttempts     = 3
	DefaultTimeoutSeconds    = 30

	DefaultCrawlDepth = 3
	DefaultRateLimit  = 2.0
	DefaultUserAgent  = "docbro/1.0"

	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 100
	DefaultEmbeddingModel = "mxbai-embed-large"

	// MaxFileSizeLimit is the hard ceiling for max_file_size.
	MaxFileSizeLimit = int64(bytesize.GiB)
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// TypeDefaults returns the defaults layer for a project type. The returned
// map is freshly allocated; callers may mutate it.
func TypeDefaults(t ProjectType) map[string]any {
	base := map[string]any{
		"max_file_size":      DefaultMaxFileSize,
		"concurrent_uploads": DefaultConcurrentUploads,
		"retry_attempts":     DefaultRetryAttempts,
		"timeout_seconds":    DefaultTimeoutSeconds,
	}

	switch t {
	case TypeCrawling:
		base["allowed_formats"] = []string{"html", "htm", "css", "js", "json", "xml"}
		base["crawl_depth"] = DefaultCrawlDepth
		base["rate_limit"] = DefaultRateLimit
		base["user_agent"] = DefaultUserAgent
		base["follow_redirects"] = true
		base["respect_robots_txt"] = true
	case TypeData:
		base["allowed_formats"] = []string{"txt", "md", "markdown", "html", "htm", "json", "csv", "pdf"}
		base["chunk_size"] = DefaultChunkSize
		base["chunk_overlap"] = DefaultChunkOverlap
		base["embedding_model"] = DefaultEmbeddingModel
		base["vector_store_type"] = VectorStoreSQLiteVec
		base["concurrent_uploads"] = 2
	case TypeStorage:
		base["allowed_formats"] = []string{"*"}
		base["enable_compression"] = true
		base["auto_tagging"] = true
		base["full_text_indexing"] = true
		base["storage_encryption"] = false
		base["concurrent_uploads"] = 4
	}
	return base
}

// GlobalSeed returns the content written to <config>/settings.yaml the first
// time it is read. Top-level keys apply to every project; the per-type
// sections override them for projects of that type.
func GlobalSeed() map[string]any {
	return map[string]any{
		"max_file_size":      DefaultMaxFileSize,
		"concurrent_uploads": DefaultConcurrentUploads,
		"retry_attempts":     DefaultRetryAttempts,
		"timeout_seconds":    DefaultTimeoutSeconds,
		"crawling": map[string]any{
			"crawl_depth": DefaultCrawlDepth,
			"rate_limit":  DefaultRateLimit,
		},
		"data": map[string]any{
			"chunk_size":      DefaultChunkSize,
			"chunk_overlap":   DefaultChunkOverlap,
			"embedding_model": DefaultEmbeddingModel,
		},
		"storage": map[string]any{
			"enable_compression": true,
			"auto_tagging":       true,
		},
	}
}
