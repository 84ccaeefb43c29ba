package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docbro/docbro/internal/bytesize"
	"github.com/docbro/docbro/internal/logger"
)

// envKind drives typed parsing of environment override values.
type envKind int

const (
	envInt envKind = iota
	envSize
	envFloat
	envBool
	envList
	envString
)

// envKeys lists the setting keys that can be overridden through the
// environment, with their value kinds.
var envKeys = map[string]envKind{
	"max_file_size":      envSize,
	"allowed_formats":    envList,
	"concurrent_uploads": envInt,
	"retry_attempts":     envInt,
	"timeout_seconds":    envInt,
	"crawl_depth":        envInt,
	"rate_limit":         envFloat,
	"user_agent":         envString,
	"follow_redirects":   envBool,
	"respect_robots_txt": envBool,
	"chunk_size":         envInt,
	"chunk_overlap":      envInt,
	"embedding_model":    envString,
	"vector_store_type":  envString,
	"enable_compression": envBool,
	"auto_tagging":       envBool,
	"full_text_indexing": envBool,
	"storage_encryption": envBool,
}

// deprecatedEnv maps retired variable names to their scoped replacements.
// Values set through a deprecated name are still honored, with a warning.
var deprecatedEnv = map[string]string{
	"DOCBRO_EMBEDDING_MODEL": "DOCBRO_DEFAULT_DATA_EMBEDDING_MODEL",
	"DOCBRO_CHUNK_SIZE":      "DOCBRO_DEFAULT_DATA_CHUNK_SIZE",
	"DOCBRO_MAX_FILE_SIZE":   "DOCBRO_DEFAULT_STORAGE_MAX_FILE_SIZE",
}

// EnvProjectScope returns the sanitized project scope used in
// DOCBRO_PROJECT_<NAME>_<KEY> variable names: uppercased, with every
// non-alphanumeric run collapsed to a single underscore.
func EnvProjectScope(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// parseEnvValue parses a raw environment string according to the key's kind.
func parseEnvValue(key, raw string) (any, error) {
	kind, ok := envKeys[key]
	if !ok {
		return nil, fmt.Errorf("setting %q cannot be overridden via environment", key)
	}
	switch kind {
	case envInt:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid integer for %s: %q", key, raw)
		}
		return n, nil
	case envSize:
		size, err := bytesize.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid size for %s: %w", key, err)
		}
		return int64(size), nil
	case envFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number for %s: %q", key, raw)
		}
		return f, nil
	case envBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean for %s: %q", key, raw)
	case envList:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

// lookupEnv is swapped out in tests.
type lookupEnvFunc func(string) (string, bool)

// envOverrides collects typed overrides for one variable prefix, e.g.
// "DOCBRO_PROJECT_DOCS_" or "DOCBRO_DEFAULT_STORAGE_". Unparseable values
// are logged and skipped rather than failing resolution.
func envOverrides(lookup lookupEnvFunc, prefix string) map[string]any {
	out := make(map[string]any)
	for key := range envKeys {
		raw, ok := lookup(prefix + strings.ToUpper(key))
		if !ok {
			continue
		}
		val, err := parseEnvValue(key, raw)
		if err != nil {
			logger.Warn("ignoring invalid environment override",
				"variable", prefix+strings.ToUpper(key), logger.KeyError, err.Error())
			continue
		}
		out[key] = val
	}
	return out
}

// warnDeprecatedEnv logs a warning for each deprecated variable that is set
// and returns their values keyed by setting name so they still take effect
// (at global-default precedence, below their scoped replacements).
func warnDeprecatedEnv(lookup lookupEnvFunc) map[string]any {
	out := make(map[string]any)
	for old, replacement := range deprecatedEnv {
		raw, ok := lookup(old)
		if !ok {
			continue
		}
		logger.Warn("deprecated environment variable", "variable", old, "use", replacement)
		key := strings.ToLower(strings.TrimPrefix(old, "DOCBRO_"))
		if val, err := parseEnvValue(key, raw); err == nil {
			out[key] = val
		}
	}
	return out
}

func osLookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
