package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectDB is the per-project database. Its schema depends on the project
// type: storage projects carry storage_files + file_inventories, data
// projects carry data_documents + document_chunks. Crawling projects have no
// per-project schema beyond the registry row.
type ProjectDB struct {
	db   *gorm.DB
	path string
}

// OpenProjectDB opens (creating if needed) a per-project database with the
// schema for the given project type.
func OpenProjectDB(path, projectType string) (*ProjectDB, error) {
	var models []any
	switch projectType {
	case "storage":
		models = StorageModels()
	case "data":
		models = DataModels()
	case "crawling":
		models = nil
	default:
		return nil, fmt.Errorf("unknown project type %q", projectType)
	}

	db, err := openSQLite(path, models)
	if err != nil {
		return nil, err
	}
	return &ProjectDB{db: db, path: path}, nil
}

// Path returns the database file path.
func (p *ProjectDB) Path() string { return p.path }

// Close releases the underlying connection.
func (p *ProjectDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RemoveDatabaseFile deletes a project database file and its WAL sidecars.
// Callers must Close first.
func RemoveDatabaseFile(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ============================================
// STORAGE FILE OPERATIONS
// ============================================

// SaveStorageFile inserts or updates a storage file row.
func (p *ProjectDB) SaveStorageFile(ctx context.Context, f *StorageFile) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(f).Error
}

// GetStorageFile fetches a storage file row by filename.
func (p *ProjectDB) GetStorageFile(ctx context.Context, filename string) (*StorageFile, error) {
	var f StorageFile
	if err := p.db.WithContext(ctx).Where("filename = ?", filename).First(&f).Error; err != nil {
		return nil, convertNotFound(err, fmt.Errorf("%w: %s", ErrFileNotFound, filename))
	}
	return &f, nil
}

// GetStorageFileByID fetches a storage file row by UUID.
func (p *ProjectDB) GetStorageFileByID(ctx context.Context, id string) (*StorageFile, error) {
	var f StorageFile
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, convertNotFound(err, fmt.Errorf("%w: %s", ErrFileNotFound, id))
	}
	return &f, nil
}

// ListStorageFiles returns all storage files sorted by upload date
// descending.
func (p *ProjectDB) ListStorageFiles(ctx context.Context) ([]*StorageFile, error) {
	var files []*StorageFile
	if err := p.db.WithContext(ctx).Order("upload_date desc").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// StorageFilenameExists reports whether a filename is already present.
func (p *ProjectDB) StorageFilenameExists(ctx context.Context, filename string) (bool, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&StorageFile{}).
		Where("filename = ?", filename).Count(&count).Error
	return count > 0, err
}

// TouchStorageFile bumps access bookkeeping for a retrieval.
func (p *ProjectDB) TouchStorageFile(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return p.db.WithContext(ctx).Model(&StorageFile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_accessed": now,
			"access_count":  gorm.Expr("access_count + 1"),
		}).Error
}

// DeleteStorageFile removes a storage file row and its inventory record.
func (p *ProjectDB) DeleteStorageFile(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", id).Delete(&FileInventory{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&StorageFile{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		return nil
	})
}

// SaveInventory upserts the full-text inventory record for a file.
func (p *ProjectDB) SaveInventory(ctx context.Context, inv *FileInventory) error {
	inv.UpdatedAt = time.Now().UTC()
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}},
		UpdateAll: true,
	}).Create(inv).Error
}

// GetInventory fetches the inventory record for a file, or nil when absent.
func (p *ProjectDB) GetInventory(ctx context.Context, fileID string) (*FileInventory, error) {
	var inv FileInventory
	err := p.db.WithContext(ctx).Where("file_id = ?", fileID).First(&inv).Error
	if err != nil {
		if convertNotFound(err, nil) == nil {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

// ============================================
// DATA DOCUMENT OPERATIONS
// ============================================

// SaveDocument inserts or updates a data document row.
func (p *ProjectDB) SaveDocument(ctx context.Context, d *DataDocument) error {
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(d).Error
}

// GetDocument fetches a document row by UUID.
func (p *ProjectDB) GetDocument(ctx context.Context, id string) (*DataDocument, error) {
	var d DataDocument
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, convertNotFound(err, fmt.Errorf("%w: %s", ErrDocumentNotFound, id))
	}
	return &d, nil
}

// ListDocuments returns all documents sorted by processed date descending.
func (p *ProjectDB) ListDocuments(ctx context.Context) ([]*DataDocument, error) {
	var docs []*DataDocument
	if err := p.db.WithContext(ctx).Order("processed_date desc").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// SaveChunks replaces the chunk rows for a document in one transaction.
func (p *ProjectDB) SaveChunks(ctx context.Context, documentID string, chunks []*DocumentChunk) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&DocumentChunk{}).Error; err != nil {
			return err
		}
		for _, c := range chunks {
			c.DocumentID = documentID
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListChunks returns a document's chunks ordered by chunk index.
func (p *ProjectDB) ListChunks(ctx context.Context, documentID string) ([]*DocumentChunk, error) {
	var chunks []*DocumentChunk
	err := p.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index asc").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteDocument removes a document and its chunks.
func (p *ProjectDB) DeleteDocument(ctx context.Context, id string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&DocumentChunk{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&DataDocument{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return nil
	})
}
