// Package store implements docbro's persistence layer: a single registry
// database holding the project table and upload-operation audit rows, plus
// one database per project carrying that project's type-specific schema.
//
// The store is the only component that writes to these databases; handlers
// and managers go through it.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors returned by store operations.
var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrDuplicateProject  = errors.New("project already exists")
	ErrOperationNotFound = errors.New("upload operation not found")
	ErrFileNotFound      = errors.New("storage file not found")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrSourceNotFound    = errors.New("upload source not found")
)

// Project is a registry row describing one typed project.
type Project struct {
	ID           string    `gorm:"primaryKey;size:36"`
	Name         string    `gorm:"uniqueIndex;size:100;not null"`
	Type         string    `gorm:"index;size:16;not null"`
	Status       string    `gorm:"index;size:16;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
	SettingsJSON string    `gorm:"column:settings_json"`
	MetadataJSON string    `gorm:"column:metadata_json"`
}

// Settings decodes the stored settings map. A missing or malformed payload
// yields an empty map.
func (p *Project) Settings() map[string]any {
	out := map[string]any{}
	if p.SettingsJSON != "" {
		_ = json.Unmarshal([]byte(p.SettingsJSON), &out)
	}
	return out
}

// SetSettings encodes the settings map into the row.
func (p *Project) SetSettings(settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	p.SettingsJSON = string(raw)
	return nil
}

// Metadata decodes the stored metadata map.
func (p *Project) Metadata() map[string]any {
	out := map[string]any{}
	if p.MetadataJSON != "" {
		_ = json.Unmarshal([]byte(p.MetadataJSON), &out)
	}
	return out
}

// SetMetadata encodes the metadata map into the row.
func (p *Project) SetMetadata(metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	p.MetadataJSON = string(raw)
	return nil
}

// UploadOperation is a registry audit row for one upload operation.
type UploadOperation struct {
	ID             string  `gorm:"primaryKey;size:36"`
	ProjectID      string  `gorm:"index;size:36;not null"`
	Project        Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Status         string  `gorm:"index;size:16;not null"`
	SourceType     string  `gorm:"size:8;not null"`
	SourceLocation string  // credentials already redacted by the caller
	FilesProcessed int64
	FilesTotal     int64
	FilesSucceeded int64
	FilesFailed    int64
	FilesSkipped   int64
	BytesProcessed int64
	BytesTotal     int64
	StartedAt      *time.Time
	CompletedAt    *time.Time
	ErrorMessage   string
	MetadataJSON   string `gorm:"column:metadata_json"`
}

// UploadSource is the reliability record for one (type, location) source.
// Counters are bumped exactly once per terminal upload operation.
type UploadSource struct {
	ID           string `gorm:"primaryKey;size:36"`
	SourceType   string `gorm:"size:8;not null;uniqueIndex:idx_upload_source"`
	Location     string `gorm:"size:1024;not null;uniqueIndex:idx_upload_source"` // credentials already redacted
	SuccessCount int64
	FailureCount int64
	LastAccessed *time.Time
}

// Reliability is the source's success ratio. A source with no history scores
// 1.0.
func (s *UploadSource) Reliability() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(s.SuccessCount) / float64(total)
}

// ProjectSetting mirrors one effective project setting for registry-level
// introspection without opening per-project files.
type ProjectSetting struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID string `gorm:"size:36;not null;uniqueIndex:idx_project_setting"`
	Key       string `gorm:"size:64;not null;uniqueIndex:idx_project_setting"`
	Value     string
}

// RegistryModels returns the registry models for auto-migration.
func RegistryModels() []any {
	return []any{&Project{}, &UploadOperation{}, &UploadSource{}, &ProjectSetting{}}
}
