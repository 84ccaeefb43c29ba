package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/docbro/docbro/internal/bytesize"
)

// ValidationResult carries the outcome of validating settings against a
// project type. Errors make the settings unusable; warnings and
// incompatibilities are advisory.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	Incompatible []string `json:"incompatible,omitempty"`
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var validate = validator.New()

// checkRange validates a value against a validator tag expression and
// records an error with the setting name on failure.
func checkRange(r *ValidationResult, key string, value any, tag, human string) {
	if err := validate.Var(value, tag); err != nil {
		r.errorf("%s must be %s", key, human)
	}
}

// documentFormats are extensions the data handler can extract text from.
var documentFormats = map[string]struct{}{
	"txt": {}, "md": {}, "markdown": {}, "html": {}, "htm": {},
	"json": {}, "csv": {}, "rst": {}, "pdf": {},
}

// ValidateSettings validates a merged settings map for the given project
// type. Settings belonging to a different type are reported as incompatible
// warnings, not errors.
func ValidateSettings(settings map[string]any, t ProjectType) ValidationResult {
	result := ValidationResult{}

	cfg, err := Decode(settings)
	if err != nil {
		result.errorf("%v", err)
		return result
	}

	validateBase(&result, cfg, t)
	switch t {
	case TypeCrawling:
		validateCrawling(&result, cfg)
	case TypeData:
		validateData(&result, cfg)
	case TypeStorage:
		validateStorage(&result, cfg, settings)
	}
	validateShared(&result, cfg)

	for key := range settings {
		if known, belongs := keyBelongsTo(key, t); known && !belongs {
			result.Incompatible = append(result.Incompatible, key)
			result.warnf("setting %q does not apply to %s projects", key, t)
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateBase(r *ValidationResult, cfg *ProjectConfig, t ProjectType) {
	if cfg.MaxFileSize <= 0 {
		r.errorf("max_file_size must be positive")
	} else if cfg.MaxFileSize > MaxFileSizeLimit {
		r.errorf("max_file_size must not exceed %s", bytesize.ByteSize(MaxFileSizeLimit))
	} else if t == TypeStorage && cfg.MaxFileSize < int64(bytesize.MiB) {
		r.warnf("max_file_size below 1Mi is unusually small for a storage project")
	}
}

func validateCrawling(r *ValidationResult, cfg *ProjectConfig) {
	if cfg.CrawlDepth == 0 {
		r.errorf("crawl_depth is required for crawling projects")
	} else {
		checkRange(r, "crawl_depth", cfg.CrawlDepth, "min=1,max=10", "between 1 and 10")
	}

	if cfg.RateLimit == 0 {
		r.errorf("rate_limit is required for crawling projects")
	} else {
		checkRange(r, "rate_limit", cfg.RateLimit, "gt=0,lte=100", "greater than 0 and at most 100 requests per second")
	}

	if len(cfg.UserAgent) > 200 {
		r.errorf("user_agent must be at most 200 characters")
	}

	if len(cfg.AllowedFormats) > 0 && !FormatAllowed(cfg.AllowedFormats, "html") {
		r.warnf("allowed_formats does not include html; crawled pages will be rejected")
	}
}

func validateData(r *ValidationResult, cfg *ProjectConfig) {
	if cfg.ChunkSize == 0 {
		r.errorf("chunk_size is required for data projects")
	} else {
		checkRange(r, "chunk_size", cfg.ChunkSize, "min=100,max=2000", "between 100 and 2000")
	}

	if cfg.ChunkOverlap != nil {
		if *cfg.ChunkOverlap < 0 {
			r.errorf("chunk_overlap must not be negative")
		} else if cfg.ChunkSize > 0 && *cfg.ChunkOverlap >= cfg.ChunkSize {
			r.errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", *cfg.ChunkOverlap, cfg.ChunkSize)
		}
	}

	if strings.TrimSpace(cfg.EmbeddingModel) == "" {
		r.errorf("embedding_model is required for data projects")
	}

	switch cfg.VectorStoreType {
	case "", VectorStoreSQLiteVec, VectorStoreQdrant:
	default:
		r.errorf("vector_store_type must be %s or %s", VectorStoreSQLiteVec, VectorStoreQdrant)
	}

	if len(cfg.AllowedFormats) > 0 && !hasDocumentFormat(cfg.AllowedFormats) {
		r.errorf("allowed_formats must include at least one document format (e.g. txt, md, html, json)")
	}
}

func hasDocumentFormat(formats []string) bool {
	for _, f := range formats {
		if f == "*" {
			return true
		}
		if _, ok := documentFormats[f]; ok {
			return true
		}
	}
	return false
}

func validateStorage(r *ValidationResult, cfg *ProjectConfig, raw map[string]any) {
	if len(cfg.AllowedFormats) == 0 {
		r.errorf("allowed_formats must not be empty for storage projects")
	}

	// The flag values arrive through weakly-typed decoding; reject raw
	// values that were not actual booleans.
	for _, key := range []string{"enable_compression", "auto_tagging", "full_text_indexing", "storage_encryption"} {
		if v, ok := raw[key]; ok {
			if _, isBool := v.(bool); !isBool {
				r.errorf("%s must be a boolean", key)
			}
		}
	}
}

func validateShared(r *ValidationResult, cfg *ProjectConfig) {
	if cfg.ConcurrentUploads != 0 {
		checkRange(r, "concurrent_uploads", cfg.ConcurrentUploads, "min=1,max=10", "between 1 and 10")
	}
	if cfg.RetryAttempts != nil {
		checkRange(r, "retry_attempts", *cfg.RetryAttempts, "min=0,max=10", "between 0 and 10")
	}
	if cfg.TimeoutSeconds != 0 {
		checkRange(r, "timeout_seconds", cfg.TimeoutSeconds, "min=1,max=3600", "between 1 and 3600")
	}
}
