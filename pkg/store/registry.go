package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RegistryFileName is the registry database's filename under the data
// directory.
const RegistryFileName = "project_registry.db"

// sqliteDSN appends the pragmas every docbro database runs with: WAL
// journaling, enforced foreign keys and a busy timeout for concurrent
// readers.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func openSQLite(path string, models []any) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database %s: %w", path, err)
	}
	return db, nil
}

// Registry is the project registry database. It owns the projects table,
// the upload-operation audit rows and the settings mirror.
type Registry struct {
	db   *gorm.DB
	path string
}

// OpenRegistry opens (creating if needed) the registry database at path.
// Pass ":memory:" for tests.
func OpenRegistry(path string) (*Registry, error) {
	db, err := openSQLite(path, RegistryModels())
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, path: path}, nil
}

// Close releases the underlying connection.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func convertNotFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// ============================================
// PROJECT OPERATIONS
// ============================================

// SaveProject inserts or updates a project row. Inserting a duplicate name
// returns ErrDuplicateProject.
func (r *Registry) SaveProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var existing Project
	err := r.db.WithContext(ctx).Where("id = ?", p.ID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		var dup Project
		if err := r.db.WithContext(ctx).Where("name = ?", p.Name).First(&dup).Error; err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateProject, p.Name)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return r.db.WithContext(ctx).Create(p).Error
	case err != nil:
		return err
	default:
		return r.db.WithContext(ctx).Save(p).Error
	}
}

// GetProject fetches a project by name.
func (r *Registry) GetProject(ctx context.Context, name string) (*Project, error) {
	var p Project
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, convertNotFound(err, fmt.Errorf("%w: %s", ErrProjectNotFound, name))
	}
	return &p, nil
}

// GetProjectByID fetches a project by UUID.
func (r *Registry) GetProjectByID(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, convertNotFound(err, ErrProjectNotFound)
	}
	return &p, nil
}

// ProjectFilter narrows ListProjects. Zero values mean "no filter".
type ProjectFilter struct {
	Status string
	Type   string
	Limit  int
}

// ListProjects returns projects ordered by updated_at descending.
func (r *Registry) ListProjects(ctx context.Context, filter ProjectFilter) ([]*Project, error) {
	q := r.db.WithContext(ctx).Order("updated_at desc")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var projects []*Project
	if err := q.Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

// DeleteProject removes a project row plus its upload operations and
// settings mirror in one transaction.
func (r *Registry) DeleteProject(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.Where("name = ?", name).First(&p).Error; err != nil {
			return convertNotFound(err, fmt.Errorf("%w: %s", ErrProjectNotFound, name))
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&UploadOperation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&ProjectSetting{}).Error; err != nil {
			return err
		}
		return tx.Delete(&p).Error
	})
}

// UpdateProjectStatus sets a project's status and bumps updated_at.
func (r *Registry) UpdateProjectStatus(ctx context.Context, name, status string) error {
	result := r.db.WithContext(ctx).
		Model(&Project{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, name)
	}
	return nil
}

// MirrorSettings replaces the settings mirror rows for a project.
func (r *Registry) MirrorSettings(ctx context.Context, projectID string, settings map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&ProjectSetting{}).Error; err != nil {
			return err
		}
		for key, value := range settings {
			row := ProjectSetting{ProjectID: projectID, Key: key, Value: value}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================
// UPLOAD OPERATION OPERATIONS
// ============================================

// SaveOperation inserts an upload-operation row.
func (r *Registry) SaveOperation(ctx context.Context, op *UploadOperation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

// UpdateOperation applies a partial update to an upload-operation row.
func (r *Registry) UpdateOperation(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&UploadOperation{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return nil
}

// GetOperation fetches an upload-operation row by id.
func (r *Registry) GetOperation(ctx context.Context, id string) (*UploadOperation, error) {
	var op UploadOperation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&op).Error; err != nil {
		return nil, convertNotFound(err, fmt.Errorf("%w: %s", ErrOperationNotFound, id))
	}
	return &op, nil
}

// OperationFilter narrows ListOperations.
type OperationFilter struct {
	ProjectID string
	Status    string
	Limit     int
}

// ListOperations returns upload operations, newest first.
func (r *Registry) ListOperations(ctx context.Context, filter OperationFilter) ([]*UploadOperation, error) {
	q := r.db.WithContext(ctx).Order("started_at desc")
	if filter.ProjectID != "" {
		q = q.Where("project_id = ?", filter.ProjectID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var ops []*UploadOperation
	if err := q.Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

// ============================================
// UPLOAD SOURCE RELIABILITY
// ============================================

// RecordSourceOutcome bumps the reliability counters for one source,
// creating the record on first use. Callers invoke this exactly once per
// terminal operation.
func (r *Registry) RecordSourceOutcome(ctx context.Context, sourceType, location string, success bool, at time.Time) (*UploadSource, error) {
	var src UploadSource
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("source_type = ? AND location = ?", sourceType, location).First(&src).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			src = UploadSource{ID: uuid.NewString(), SourceType: sourceType, Location: location}
		} else if err != nil {
			return err
		}
		if success {
			src.SuccessCount++
		} else {
			src.FailureCount++
		}
		src.LastAccessed = &at
		return tx.Save(&src).Error
	})
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetSource fetches the reliability record for one source.
func (r *Registry) GetSource(ctx context.Context, sourceType, location string) (*UploadSource, error) {
	var src UploadSource
	err := r.db.WithContext(ctx).
		Where("source_type = ? AND location = ?", sourceType, location).
		First(&src).Error
	if err != nil {
		return nil, convertNotFound(err, ErrSourceNotFound)
	}
	return &src, nil
}
