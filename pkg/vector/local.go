package vector

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// localChunk is the sqlite row backing the local store.
type localChunk struct {
	ID           string `gorm:"primaryKey;size:36"`
	DocumentID   string `gorm:"size:36;index"`
	ChunkIndex   int
	Text         string
	MetadataJSON string `gorm:"column:metadata_json"`
}

func (localChunk) TableName() string { return "vector_chunks" }

// LocalStore is the sqlite_vec backend. Ranking is lexical term overlap;
// good enough for the local single-file deployment the default config
// targets, and deliberately free of any embedding model dependency.
type LocalStore struct {
	db *gorm.DB
}

// OpenLocal opens (creating if needed) a local store at path.
// Pass ":memory:" for tests.
func OpenLocal(path string) (*LocalStore, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:"
	} else {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&localChunk{}); err != nil {
		return nil, err
	}
	return &LocalStore{db: db}, nil
}

// AddChunks stores chunks, replacing rows with the same id.
func (s *LocalStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range chunks {
			raw, err := json.Marshal(c.Metadata)
			if err != nil {
				return err
			}
			row := localChunk{
				ID:           c.ID,
				DocumentID:   c.DocumentID,
				ChunkIndex:   c.Index,
				Text:         c.Text,
				MetadataJSON: string(raw),
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Search ranks chunks by the fraction of query terms they contain.
func (s *LocalStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var rows []localChunk
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		text := strings.ToLower(row.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    row.ID,
			DocumentID: row.DocumentID,
			Text:       row.Text,
			Score:      float64(matched) / float64(len(terms)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteDocument removes all chunks of a document.
func (s *LocalStore) DeleteDocument(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&localChunk{}).Error
}

// Close releases the underlying connection.
func (s *LocalStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
