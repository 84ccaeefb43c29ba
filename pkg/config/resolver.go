package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/docbro/docbro/internal/logger"
)

// Sentinel errors returned by the resolver.
var (
	ErrUnknownProject  = errors.New("project not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidSettings = errors.New("invalid settings")
)

// Source labels for per-key provenance in Summary.
const (
	SourceTypeDefault = "type_default"
	SourceGlobal      = "global"
	SourceProject     = "project"
	SourceEnvironment = "environment"
)

// TypeLookup resolves a project name to its type. The project manager wires
// this to the registry store; tests supply a literal map.
type TypeLookup func(name string) (ProjectType, bool)

// Resolver computes effective project configuration from the four layers.
// The global layer is cached after first read and invalidated on update or
// file change.
type Resolver struct {
	dataDir   string
	configDir string
	types     TypeLookup
	lookup    lookupEnvFunc

	mu          sync.RWMutex
	globalCache map[string]any
	watcher     *viper.Viper
}

// NewResolver creates a resolver rooted at the given data and config
// directories.
func NewResolver(dataDir, configDir string, types TypeLookup) *Resolver {
	return &Resolver{
		dataDir:   dataDir,
		configDir: configDir,
		types:     types,
		lookup:    osLookupEnv,
	}
}

// DefaultDataDir returns DOCBRO_DATA_DIR or the XDG data directory.
func DefaultDataDir() string {
	if dir := os.Getenv("DOCBRO_DATA_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "docbro")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "docbro")
}

// DefaultConfigDir returns DOCBRO_CONFIG_DIR or the XDG config directory.
func DefaultConfigDir() string {
	if dir := os.Getenv("DOCBRO_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "docbro")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "docbro")
}

// GlobalPath returns the path of the global defaults file.
func (r *Resolver) GlobalPath() string {
	return filepath.Join(r.configDir, "settings.yaml")
}

// ProjectDir returns the per-project root directory.
func (r *Resolver) ProjectDir(name string) string {
	return filepath.Join(r.dataDir, "projects", name)
}

// ProjectSettingsPath returns the per-project overrides file.
func (r *Resolver) ProjectSettingsPath(name string) string {
	return filepath.Join(r.ProjectDir(name), "settings.yaml")
}

// GetGlobal returns the global defaults layer, seeding the file on first
// use. The result is cached; callers must not mutate it.
func (r *Resolver) GetGlobal() (map[string]any, error) {
	r.mu.RLock()
	cached := r.globalCache
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.globalCache != nil {
		return r.globalCache, nil
	}

	path := r.GlobalPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		seed := GlobalSeed()
		if err := writeYAMLFile(path, seed); err != nil {
			return nil, fmt.Errorf("failed to seed global settings: %w", err)
		}
		logger.Info("seeded global settings", logger.KeyPath, path)
		r.globalCache = seed
		return seed, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read global settings %s: %w", path, err)
	}
	r.globalCache = v.AllSettings()
	return r.globalCache, nil
}

// InvalidateGlobal drops the cached global layer; the next read reloads it.
func (r *Resolver) InvalidateGlobal() {
	r.mu.Lock()
	r.globalCache = nil
	r.mu.Unlock()
}

// Watch invalidates the global cache whenever the settings file changes on
// disk. Safe to call once after startup.
func (r *Resolver) Watch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		return
	}
	v := viper.New()
	v.SetConfigFile(r.GlobalPath())
	if err := v.ReadInConfig(); err != nil {
		return
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		logger.Debug("global settings changed, invalidating cache")
		r.InvalidateGlobal()
	})
	v.WatchConfig()
	r.watcher = v
}

// readProjectLayer reads the per-project overrides file. A missing file is
// an empty layer, not an error.
func (r *Resolver) readProjectLayer(name string) (map[string]any, error) {
	data, err := os.ReadFile(r.ProjectSettingsPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed project settings: %v", ErrInvalidInput, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// globalLayerFor extracts the settings applying to one type from the global
// map: flat keys first, then the per-type section.
func globalLayerFor(global map[string]any, t ProjectType) map[string]any {
	out := make(map[string]any)
	for k, v := range global {
		switch ProjectType(k) {
		case TypeCrawling, TypeData, TypeStorage:
			continue
		}
		out[k] = v
	}
	if section, ok := global[string(t)].(map[string]any); ok {
		applyLayer(out, section, nil)
	}
	return out
}

// Resolve merges the four layers for a project and returns the effective
// settings plus per-key provenance.
func (r *Resolver) Resolve(name string) (map[string]any, map[string]string, error) {
	t, ok := r.types(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}
	return r.resolveTyped(name, t)
}

// ResolveForType merges layers for a project assuming the given type. Used
// during project creation, before the registry row exists.
func (r *Resolver) ResolveForType(name string, t ProjectType) (map[string]any, map[string]string, error) {
	return r.resolveTyped(name, t)
}

func (r *Resolver) resolveTyped(name string, t ProjectType) (map[string]any, map[string]string, error) {
	effective := TypeDefaults(t)
	sources := make(map[string]string, len(effective))
	for k := range effective {
		sources[k] = SourceTypeDefault
	}

	global, err := r.GetGlobal()
	if err != nil {
		return nil, nil, err
	}
	applyLayer(effective, globalLayerFor(global, t), func(k string) { sources[k] = SourceGlobal })

	projectLayer, err := r.readProjectLayer(name)
	if err != nil {
		return nil, nil, err
	}
	applyLayer(effective, projectLayer, func(k string) { sources[k] = SourceProject })

	// Environment layer: deprecated names first, then type-scoped, then
	// project-scoped, so the most specific variable wins.
	markEnv := func(k string) { sources[k] = SourceEnvironment }
	applyLayer(effective, warnDeprecatedEnv(r.lookup), markEnv)
	applyLayer(effective, envOverrides(r.lookup, "DOCBRO_DEFAULT_"+strings.ToUpper(string(t))+"_"), markEnv)
	applyLayer(effective, envOverrides(r.lookup, "DOCBRO_PROJECT_"+EnvProjectScope(name)+"_"), markEnv)

	if formats, ok := effective["allowed_formats"]; ok {
		effective["allowed_formats"] = NormalizeFormats(toStringSlice(formats))
	}
	return effective, sources, nil
}

// GetProject returns the typed effective configuration for a project.
func (r *Resolver) GetProject(name string) (*ProjectConfig, error) {
	effective, _, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return Decode(effective)
}

// UpdateProject merges partial settings into the project overrides file.
// The merged effective configuration is validated first; on validation
// failure nothing is persisted.
func (r *Resolver) UpdateProject(name string, partial map[string]any) error {
	t, ok := r.types(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}

	current, err := r.readProjectLayer(name)
	if err != nil {
		return err
	}
	merged := deepCopyMap(current)
	applyLayer(merged, partial, nil)

	if err := r.validateCandidate(name, t, merged); err != nil {
		return err
	}
	return writeYAMLFile(r.ProjectSettingsPath(name), merged)
}

// WriteProjectLayer replaces the project overrides file without consulting
// the registry. Used at creation time, before the project row exists; the
// caller is responsible for prior validation.
func (r *Resolver) WriteProjectLayer(name string, settings map[string]any) error {
	return writeYAMLFile(r.ProjectSettingsPath(name), settings)
}

// BackupDir returns the directory removal backups are written to.
func (r *Resolver) BackupDir() string {
	return filepath.Join(r.dataDir, "backups")
}

// ResetProject removes the project overrides file, reverting the project to
// global and type defaults.
func (r *Resolver) ResetProject(name string) error {
	if _, ok := r.types(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}
	err := os.Remove(r.ProjectSettingsPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// validateCandidate resolves the effective configuration with the candidate
// project layer substituted in, and validates it for the type.
func (r *Resolver) validateCandidate(name string, t ProjectType, candidate map[string]any) error {
	effective := TypeDefaults(t)
	global, err := r.GetGlobal()
	if err != nil {
		return err
	}
	applyLayer(effective, globalLayerFor(global, t), nil)
	applyLayer(effective, candidate, nil)

	result := ValidateSettings(effective, t)
	if !result.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(result.Errors, "; "))
	}
	for _, w := range result.Warnings {
		logger.Warn("settings warning", logger.KeyProject, name, "warning", w)
	}
	return nil
}

// Summary describes a project's effective configuration and where each key
// came from.
type Summary struct {
	Name           string            `json:"name" yaml:"name"`
	Type           ProjectType       `json:"type" yaml:"type"`
	Effective      map[string]any    `json:"effective_settings" yaml:"effective_settings"`
	SettingSources map[string]string `json:"setting_sources" yaml:"setting_sources"`
}

// GetSummary returns the effective settings with per-key provenance.
func (r *Resolver) GetSummary(name string) (*Summary, error) {
	t, ok := r.types(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, name)
	}
	effective, sources, err := r.resolveTyped(name, t)
	if err != nil {
		return nil, err
	}
	return &Summary{Name: name, Type: t, Effective: effective, SettingSources: sources}, nil
}

// applyLayer merges src into dst in place. Nested maps merge recursively
// (override semantics); scalars and slices replace. onSet is called for each
// top-level key taken from src.
func applyLayer(dst, src map[string]any, onSet func(key string)) {
	for k, v := range src {
		if dstMap, ok := dst[k].(map[string]any); ok {
			if srcMap, ok := v.(map[string]any); ok {
				merged := deepCopyMap(dstMap)
				if err := mergo.Merge(&merged, srcMap, mergo.WithOverride); err == nil {
					dst[k] = merged
					if onSet != nil {
						onSet(k)
					}
					continue
				}
			}
		}
		dst[k] = deepCopyValue(v)
		if onSet != nil {
			onSet(k)
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []string:
		return append([]string(nil), tv...)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

func toStringSlice(v any) []string {
	switch tv := v.(type) {
	case []string:
		return tv
	case []any:
		out := make([]string, 0, len(tv))
		for _, e := range tv {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		return []string{tv}
	default:
		return nil
	}
}

// writeYAMLFile writes data atomically via a temp file and rename.
func writeYAMLFile(path string, data map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
