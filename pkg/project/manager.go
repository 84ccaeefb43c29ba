package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/store"
)

// Manager owns the project lifecycle: creation with rollback, removal with
// optional backup, settings updates and statistics. It wires the registry,
// the config resolver and the handler factory together and caches open
// per-project databases.
type Manager struct {
	registry *store.Registry
	resolver *config.Resolver
	factory  *Factory

	mu  sync.Mutex
	dbs map[string]*store.ProjectDB // keyed by project ID
}

// ManagerOptions configures NewManager.
type ManagerOptions struct {
	Registry *store.Registry
	Resolver *config.Resolver
	Factory  *Factory
}

// NewManager creates a manager over an opened registry.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Registry == nil || opts.Resolver == nil || opts.Factory == nil {
		return nil, fmt.Errorf("manager requires registry, resolver and factory")
	}
	return &Manager{
		registry: opts.Registry,
		resolver: opts.Resolver,
		factory:  opts.Factory,
		dbs:      make(map[string]*store.ProjectDB),
	}, nil
}

// TypeLookup returns a config.TypeLookup backed by the registry, for wiring
// into the resolver.
func TypeLookup(registry *store.Registry) config.TypeLookup {
	return func(name string) (config.ProjectType, bool) {
		row, err := registry.GetProject(context.Background(), name)
		if err != nil {
			return "", false
		}
		t, err := config.ParseProjectType(row.Type)
		if err != nil {
			return "", false
		}
		return t, true
	}
}

// OpenDB returns the cached per-project database, opening it on first use.
// Intended to be wired into Deps.DB.
func (m *Manager) OpenDB(ctx context.Context, p *Project) (*store.ProjectDB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.dbs[p.ID]; ok {
		return db, nil
	}
	db, err := store.OpenProjectDB(p.DatabasePath(), string(p.Type))
	if err != nil {
		return nil, err
	}
	m.dbs[p.ID] = db
	return db, nil
}

func (m *Manager) closeDB(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.dbs[id]; ok {
		delete(m.dbs, id)
		if err := db.Close(); err != nil {
			logger.Warn("failed to close project database", logger.KeyError, err.Error())
		}
	}
}

// Close closes every cached project database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, db := range m.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.dbs, id)
	}
	return firstErr
}

// CreateRequest carries the inputs for Create.
type CreateRequest struct {
	Name     string
	Type     config.ProjectType
	Settings map[string]any // initial project-layer overrides, may be nil
	Metadata map[string]any
	// Force replaces an existing project with the same name instead of
	// failing with ErrDuplicate.
	Force bool
}

// Create builds a new project: name validation, settings validation against
// the effective merge, directory tree, registry row and handler
// initialization. A duplicate name fails with ErrDuplicate unless Force is
// set, which removes the existing project first. Any failure after the first
// persisted artifact rolls the whole creation back.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Project, error) {
	name := strings.TrimSpace(req.Name)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("invalid project type %q", req.Type)
	}
	if _, err := m.registry.GetProject(ctx, name); err == nil {
		if !req.Force {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		if _, err := m.Remove(ctx, name, RemoveOptions{Force: true}); err != nil {
			return nil, fmt.Errorf("failed to replace existing project: %w", err)
		}
	} else if !errors.Is(err, store.ErrProjectNotFound) {
		return nil, err
	}

	handler, err := m.factory.Get(req.Type)
	if err != nil {
		return nil, err
	}

	// Validate the would-be effective settings before touching disk.
	effective, _, err := m.resolver.ResolveForType(name, req.Type)
	if err != nil {
		return nil, err
	}
	candidate := map[string]any{}
	for k, v := range effective {
		candidate[k] = v
	}
	for k, v := range req.Settings {
		candidate[k] = v
	}
	if result := handler.ValidateSettings(candidate); !result.Valid {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidSettings, strings.Join(result.Errors, "; "))
	}

	p := &Project{
		ID:       uuid.NewString(),
		Name:     name,
		Type:     req.Type,
		Status:   StatusActive,
		Settings: req.Settings,
		Metadata: req.Metadata,
		Dir:      m.resolver.ProjectDir(name),
	}

	// Rollback tracks persisted artifacts in reverse order.
	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}
	undo = append(undo, func() { _ = os.RemoveAll(p.Dir) })

	if len(req.Settings) > 0 {
		if err := m.writeInitialSettings(name, req.Settings); err != nil {
			rollback()
			return nil, err
		}
	}

	row, err := p.toRow()
	if err != nil {
		rollback()
		return nil, err
	}
	if err := m.registry.SaveProject(ctx, row); err != nil {
		rollback()
		if errors.Is(err, store.ErrDuplicateProject) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, name)
		}
		return nil, err
	}
	undo = append(undo, func() { _ = m.registry.DeleteProject(ctx, name) })
	p.CreatedAt = row.CreatedAt
	p.UpdatedAt = row.UpdatedAt

	if err := handler.Initialize(ctx, p); err != nil {
		m.closeDB(p.ID)
		rollback()
		return nil, fmt.Errorf("failed to initialize %s project: %w", req.Type, err)
	}

	m.mirrorSettings(ctx, p)
	logger.InfoCtx(ctx, "project created",
		logger.KeyProject, name, logger.KeyProjectType, string(req.Type))
	return p, nil
}

// writeInitialSettings persists the creation-time overrides as the project
// settings layer.
func (m *Manager) writeInitialSettings(name string, settings map[string]any) error {
	// The registry row does not exist yet, so bypass the resolver's
	// project lookup and write the layer directly through UpdateProject
	// semantics once the row lands. Here a plain write suffices because
	// the candidate was validated above.
	return m.resolver.WriteProjectLayer(name, settings)
}

// mirrorSettings best-effort copies the effective settings into the registry
// mirror table for external inspection.
func (m *Manager) mirrorSettings(ctx context.Context, p *Project) {
	effective, _, err := m.resolver.Resolve(p.Name)
	if err != nil {
		return
	}
	flat := make(map[string]string, len(effective))
	for k, v := range effective {
		flat[k] = fmt.Sprint(v)
	}
	if err := m.registry.MirrorSettings(ctx, p.ID, flat); err != nil {
		logger.WarnCtx(ctx, "failed to mirror settings", logger.KeyProject, p.Name, logger.KeyError, err.Error())
	}
}

// Get returns a project by name.
func (m *Manager) Get(ctx context.Context, name string) (*Project, error) {
	row, err := m.registry.GetProject(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrProjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return fromRow(row, m.resolver.ProjectDir(row.Name)), nil
}

// List returns projects newest-updated first, optionally filtered.
func (m *Manager) List(ctx context.Context, filter store.ProjectFilter) ([]*Project, error) {
	rows, err := m.registry.ListProjects(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Project, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row, m.resolver.ProjectDir(row.Name))
	}
	return out, nil
}

// RemoveOptions configures Remove.
type RemoveOptions struct {
	// Backup writes a timestamped backup of the project tree before
	// removal and returns its path.
	Backup bool
	// Force swallows cleanup errors so removal always completes.
	Force bool
}

// Remove deletes a project: optional backup, handler cleanup, directory tree
// and registry row. The backup is taken before cleanup so it snapshots the
// project as it was. Returns the backup path when one was taken.
func (m *Manager) Remove(ctx context.Context, name string, opts RemoveOptions) (string, error) {
	p, err := m.Get(ctx, name)
	if err != nil {
		return "", err
	}
	handler, err := m.factory.Get(p.Type)
	if err != nil {
		return "", err
	}
	m.closeDB(p.ID)

	var backupPath string
	if opts.Backup {
		backupPath, err = BackupProject(p, m.resolver.BackupDir())
		if err != nil {
			if !opts.Force {
				return "", fmt.Errorf("backup failed: %w", err)
			}
			logger.WarnCtx(ctx, "ignoring backup failure", logger.KeyProject, name, logger.KeyError, err.Error())
		}
	}

	if err := handler.Cleanup(ctx, p, opts.Force); err != nil {
		return backupPath, fmt.Errorf("cleanup failed (use force to override): %w", err)
	}

	if err := os.RemoveAll(p.Dir); err != nil && !opts.Force {
		return backupPath, fmt.Errorf("failed to remove project directory: %w", err)
	}
	if err := m.registry.DeleteProject(ctx, name); err != nil {
		return backupPath, err
	}

	logger.InfoCtx(ctx, "project removed", logger.KeyProject, name, "backup", backupPath)
	return backupPath, nil
}

// UpdateSettings merges partial settings into the project layer after
// validation, then refreshes the mirror.
func (m *Manager) UpdateSettings(ctx context.Context, name string, partial map[string]any) (*config.Summary, error) {
	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := m.resolver.UpdateProject(name, partial); err != nil {
		return nil, err
	}
	m.mirrorSettings(ctx, p)
	if err := m.registry.UpdateProjectStatus(ctx, name, string(p.Status)); err != nil {
		logger.WarnCtx(ctx, "failed to bump project timestamp", logger.KeyProject, name, logger.KeyError, err.Error())
	}
	return m.resolver.GetSummary(name)
}

// SetStatus transitions a project's lifecycle state.
func (m *Manager) SetStatus(ctx context.Context, name string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}
	return m.registry.UpdateProjectStatus(ctx, name, string(status))
}

// Stats combines registry-level facts with the handler's type-specific
// statistics.
func (m *Manager) Stats(ctx context.Context, name string) (map[string]any, error) {
	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	handler, err := m.factory.Get(p.Type)
	if err != nil {
		return nil, err
	}
	stats, err := handler.Stats(ctx, p)
	if err != nil {
		return nil, err
	}
	stats["name"] = p.Name
	stats["type"] = string(p.Type)
	stats["status"] = string(p.Status)
	stats["created_at"] = p.CreatedAt
	stats["updated_at"] = p.UpdatedAt
	return stats, nil
}
