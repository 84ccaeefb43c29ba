// Package project implements docbro's typed projects: the domain model, the
// per-type handlers (crawling, data, storage), the handler factory and the
// lifecycle manager.
package project

import (
	"time"

	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/store"
)

// Status is a project lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusProcessing Status = "processing"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusProcessing, StatusError:
		return true
	}
	return false
}

// Project is the domain view of one registry row plus its on-disk location.
type Project struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Type      config.ProjectType `json:"type"`
	Status    Status             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Settings  map[string]any     `json:"settings,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`

	// Dir is the per-project root under <data>/projects/<name>.
	Dir string `json:"-"`
}

// ConflictPolicy decides what happens when an incoming storage file collides
// with an existing filename.
type ConflictPolicy string

const (
	ConflictAsk       ConflictPolicy = "ask"
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictRename    ConflictPolicy = "rename"
	ConflictBackup    ConflictPolicy = "backup"
)

// Valid reports whether p is a known policy.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictAsk, ConflictSkip, ConflictOverwrite, ConflictRename, ConflictBackup:
		return true
	}
	return false
}

func fromRow(row *store.Project, dir string) *Project {
	return &Project{
		ID:        row.ID,
		Name:      row.Name,
		Type:      config.ProjectType(row.Type),
		Status:    Status(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Settings:  row.Settings(),
		Metadata:  row.Metadata(),
		Dir:       dir,
	}
}

func (p *Project) toRow() (*store.Project, error) {
	row := &store.Project{
		ID:        p.ID,
		Name:      p.Name,
		Type:      string(p.Type),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if err := row.SetSettings(p.Settings); err != nil {
		return nil, err
	}
	if err := row.SetMetadata(p.Metadata); err != nil {
		return nil, err
	}
	return row, nil
}

// DatabasePath returns the per-project database file path.
func (p *Project) DatabasePath() string {
	return p.Dir + "/" + p.Name + ".db"
}
