package store

import (
	"encoding/json"
	"time"
)

// StorageFile is a per-project row describing one stored file in a
// storage-type project.
type StorageFile struct {
	ID               string `gorm:"primaryKey;size:36"`
	ProjectID        string `gorm:"size:36;not null;uniqueIndex:idx_project_filename"`
	Filename         string `gorm:"not null;uniqueIndex:idx_project_filename"`
	FilePath         string `gorm:"not null"`
	FileSize         int64
	MimeType         string
	Checksum         string `gorm:"size:64;index"` // lowercase sha-256 hex
	TagsJSON         string `gorm:"column:tags_json"`
	MetadataJSON     string `gorm:"column:metadata_json"`
	UploadSourceJSON string `gorm:"column:upload_source_json"`
	UploadDate       time.Time
	LastAccessed     *time.Time
	AccessCount      int64
	IsCompressed     bool
	CompressionRatio float64
	FileExtension    string `gorm:"size:32;index"`
}

// Tags decodes the stored tag list.
func (f *StorageFile) Tags() []string {
	var out []string
	if f.TagsJSON != "" {
		_ = json.Unmarshal([]byte(f.TagsJSON), &out)
	}
	return out
}

// SetTags encodes the tag list into the row.
func (f *StorageFile) SetTags(tags []string) error {
	raw, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	f.TagsJSON = string(raw)
	return nil
}

// Metadata decodes the stored metadata map.
func (f *StorageFile) Metadata() map[string]string {
	out := map[string]string{}
	if f.MetadataJSON != "" {
		_ = json.Unmarshal([]byte(f.MetadataJSON), &out)
	}
	return out
}

// SetMetadata encodes the metadata map into the row.
func (f *StorageFile) SetMetadata(metadata map[string]string) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	f.MetadataJSON = string(raw)
	return nil
}

// FileInventory is the denormalized full-text record for one storage file.
// It concatenates the searchable fields and carries a content hash for
// change detection.
type FileInventory struct {
	FileID        string `gorm:"primaryKey;size:36"`
	Filename      string `gorm:"index"`
	Tags          string // space-joined lowercased tags
	MetadataText  string // "key:value" pairs, space-joined
	ExtractedText string
	ContentHash   string `gorm:"size:64"`
	UpdatedAt     time.Time
}

// DataDocument is a per-project row for one processed document in a
// data-type project.
type DataDocument struct {
	ID                   string `gorm:"primaryKey;size:36"`
	ProjectID            string `gorm:"size:36;not null;index"`
	Title                string
	Content              string
	SourcePath           string
	UploadSourceJSON     string `gorm:"column:upload_source_json"`
	ProcessedDate        time.Time
	ChunkCount           int
	WordCount            int
	CharacterCount       int
	Language             string
	EmbeddingModel       string
	ChunkSize            int
	ChunkOverlap         int
	ProcessingSuccess    bool
	ProcessingErrorsJSON string `gorm:"column:processing_errors_json"`
	QualityScore         float64
}

// ProcessingErrors decodes the stored error list.
func (d *DataDocument) ProcessingErrors() []string {
	var out []string
	if d.ProcessingErrorsJSON != "" {
		_ = json.Unmarshal([]byte(d.ProcessingErrorsJSON), &out)
	}
	return out
}

// SetProcessingErrors encodes the error list into the row.
func (d *DataDocument) SetProcessingErrors(errs []string) error {
	raw, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	d.ProcessingErrorsJSON = string(raw)
	return nil
}

// DocumentChunk is one chunk of a processed document. chunk_index is unique
// per document.
type DocumentChunk struct {
	ID           string       `gorm:"primaryKey;size:36"`
	DocumentID   string       `gorm:"size:36;not null;uniqueIndex:idx_doc_chunk"`
	Document     DataDocument `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	ChunkIndex   int          `gorm:"not null;uniqueIndex:idx_doc_chunk"`
	Text         string
	StartChar    int
	EndChar      int
	VectorID     string `gorm:"size:64"`
	MetadataJSON string `gorm:"column:metadata_json"`
}

// StorageModels returns the per-project models for storage projects.
func StorageModels() []any {
	return []any{&StorageFile{}, &FileInventory{}}
}

// DataModels returns the per-project models for data projects.
func DataModels() []any {
	return []any{&DataDocument{}, &DocumentChunk{}}
}
