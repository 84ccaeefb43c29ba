// Package config implements the layered configuration resolver for docbro
// projects.
//
// Effective settings are produced by a deterministic merge of four layers,
// lowest precedence first:
//
//  1. Type defaults for the project's type
//  2. Global defaults (<config>/settings.yaml, seeded on first use)
//  3. Project overrides (<data>/projects/<name>/settings.yaml)
//  4. Environment overrides (DOCBRO_PROJECT_<NAME>_<KEY> and
//     DOCBRO_DEFAULT_<TYPE>_<KEY>)
//
// The merged result is validated against the project's type before use.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ProjectType identifies one of the three project variants.
type ProjectType string

const (
	TypeCrawling ProjectType = "crawling"
	TypeData     ProjectType = "data"
	TypeStorage  ProjectType = "storage"
)

// AllProjectTypes lists the valid project types.
func AllProjectTypes() []ProjectType {
	return []ProjectType{TypeCrawling, TypeData, TypeStorage}
}

// ParseProjectType validates and normalizes a project type string.
func ParseProjectType(s string) (ProjectType, error) {
	t := ProjectType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeCrawling, TypeData, TypeStorage:
		return t, nil
	}
	return "", fmt.Errorf("invalid project type %q (valid: crawling, data, storage)", s)
}

// Valid reports whether t is a known project type.
func (t ProjectType) Valid() bool {
	switch t {
	case TypeCrawling, TypeData, TypeStorage:
		return true
	}
	return false
}

// VectorStoreType selects the vector store backend for data projects.
const (
	VectorStoreSQLiteVec = "sqlite_vec"
	VectorStoreQdrant    = "qdrant"
)

// ProjectConfig is the typed view of a project's effective settings.
//
// Pointer fields distinguish "unset" from zero values. Keys that do not
// belong to the project's type are still carried in Extra so that exports
// round-trip, but they do not participate in validation beyond the
// incompatibility warning.
type ProjectConfig struct {
	// Base settings (all types)
	MaxFileSize    int64    `mapstructure:"max_file_size" yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
	AllowedFormats []string `mapstructure:"allowed_formats" yaml:"allowed_formats,omitempty" json:"allowed_formats,omitempty"`

	// Crawling-only
	CrawlDepth       int     `mapstructure:"crawl_depth" yaml:"crawl_depth,omitempty" json:"crawl_depth,omitempty"`
	RateLimit        float64 `mapstructure:"rate_limit" yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	UserAgent        string  `mapstructure:"user_agent" yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	FollowRedirects  *bool   `mapstructure:"follow_redirects" yaml:"follow_redirects,omitempty" json:"follow_redirects,omitempty"`
	RespectRobotsTxt *bool   `mapstructure:"respect_robots_txt" yaml:"respect_robots_txt,omitempty" json:"respect_robots_txt,omitempty"`

	// Data-only
	ChunkSize       int    `mapstructure:"chunk_size" yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	ChunkOverlap    *int   `mapstructure:"chunk_overlap" yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty"`
	EmbeddingModel  string `mapstructure:"embedding_model" yaml:"embedding_model,omitempty" json:"embedding_model,omitempty"`
	VectorStoreType string `mapstructure:"vector_store_type" yaml:"vector_store_type,omitempty" json:"vector_store_type,omitempty"`

	// Storage-only
	EnableCompression *bool `mapstructure:"enable_compression" yaml:"enable_compression,omitempty" json:"enable_compression,omitempty"`
	AutoTagging       *bool `mapstructure:"auto_tagging" yaml:"auto_tagging,omitempty" json:"auto_tagging,omitempty"`
	FullTextIndexing  *bool `mapstructure:"full_text_indexing" yaml:"full_text_indexing,omitempty" json:"full_text_indexing,omitempty"`
	StorageEncryption *bool `mapstructure:"storage_encryption" yaml:"storage_encryption,omitempty" json:"storage_encryption,omitempty"`

	// Shared optional
	ConcurrentUploads int  `mapstructure:"concurrent_uploads" yaml:"concurrent_uploads,omitempty" json:"concurrent_uploads,omitempty"`
	RetryAttempts     *int `mapstructure:"retry_attempts" yaml:"retry_attempts,omitempty" json:"retry_attempts,omitempty"`
	TimeoutSeconds    int  `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// Extra carries keys unknown to any type for round-trip fidelity.
	Extra map[string]any `mapstructure:",remain" yaml:"-" json:"-"`
}

// knownKeys maps setting keys to the set of project types they belong to.
// A nil set means the key is shared by all types.
var knownKeys = map[string][]ProjectType{
	"max_file_size":      nil,
	"allowed_formats":    nil,
	"concurrent_uploads": nil,
	"retry_attempts":     nil,
	"timeout_seconds":    nil,

	"crawl_depth":        {TypeCrawling},
	"rate_limit":         {TypeCrawling},
	"user_agent":         {TypeCrawling},
	"follow_redirects":   {TypeCrawling},
	"respect_robots_txt": {TypeCrawling},

	"chunk_size":        {TypeData},
	"chunk_overlap":     {TypeData},
	"embedding_model":   {TypeData},
	"vector_store_type": {TypeData},

	"enable_compression": {TypeStorage},
	"auto_tagging":       {TypeStorage},
	"full_text_indexing": {TypeStorage},
	"storage_encryption": {TypeStorage},
}

// keyBelongsTo reports whether a known setting key applies to the given type.
// Unknown keys belong to no type and are never reported as incompatible.
func keyBelongsTo(key string, t ProjectType) (known, belongs bool) {
	types, ok := knownKeys[key]
	if !ok {
		return false, false
	}
	if types == nil {
		return true, true
	}
	for _, kt := range types {
		if kt == t {
			return true, true
		}
	}
	return true, false
}

// Decode converts a settings map into a typed ProjectConfig.
func Decode(settings map[string]any) (*ProjectConfig, error) {
	var cfg ProjectConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &cfg, nil
}

// NormalizeFormats lowercases and dedupes an extension list. A single "*"
// entry means all formats are allowed.
func NormalizeFormats(formats []string) []string {
	seen := make(map[string]struct{}, len(formats))
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FormatAllowed reports whether ext (without dot, any case) passes the
// allowed_formats list. An empty list or a "*" entry allows everything.
func FormatAllowed(formats []string, ext string) bool {
	if len(formats) == 0 {
		return true
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, f := range formats {
		if f == "*" || f == ext {
			return true
		}
	}
	return false
}
