package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ExportFormat selects the serialization format for Export and Import.
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// ParseExportFormat normalizes a format string.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unsupported format %q (yaml or json)", ErrInvalidInput, s)
}

// Export serializes a project's effective configuration.
func (r *Resolver) Export(name string, format ExportFormat) (string, error) {
	effective, _, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	switch format {
	case FormatJSON:
		raw, err := json.MarshalIndent(effective, "", "  ")
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case FormatYAML:
		raw, err := yaml.Marshal(effective)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, format)
}

// Import parses text in the given format and applies it as project
// overrides. With merge=true the parsed settings are merged into the
// existing overrides; otherwise they replace them. The merged effective
// configuration is validated before anything is persisted.
func (r *Resolver) Import(name, text string, format ExportFormat, merge bool) error {
	t, ok := r.types(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}

	var incoming map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal([]byte(text), &incoming); err != nil {
			return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidInput, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(text), &incoming); err != nil {
			return fmt.Errorf("%w: malformed YAML: %v", ErrInvalidInput, err)
		}
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalidInput, format)
	}
	if incoming == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidInput)
	}

	if merge {
		return r.UpdateProject(name, incoming)
	}

	if err := r.validateCandidate(name, t, incoming); err != nil {
		return err
	}
	return writeYAMLFile(r.ProjectSettingsPath(name), incoming)
}
