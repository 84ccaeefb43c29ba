package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorageDB(t *testing.T) *ProjectDB {
	t.Helper()
	db, err := OpenProjectDB(":memory:", "storage")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newDataDB(t *testing.T) *ProjectDB {
	t.Helper()
	db, err := OpenProjectDB(":memory:", "data")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenProjectDB(t *testing.T) {
	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := OpenProjectDB(":memory:", "archive")
		assert.Error(t, err)
	})

	t.Run("creates database file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "docs.db")
		db, err := OpenProjectDB(path, "storage")
		require.NoError(t, err)
		require.NoError(t, db.Close())
		require.NoError(t, RemoveDatabaseFile(path))
	})
}

func TestStorageFileRows(t *testing.T) {
	db := newStorageDB(t)
	ctx := context.Background()
	projectID := uuid.NewString()

	file := &StorageFile{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Filename:   "report.pdf",
		FilePath:   "/data/projects/docs/files/abc.pdf",
		FileSize:   2048,
		MimeType:   "application/pdf",
		Checksum:   "deadbeef",
		UploadDate: time.Now().UTC(),
	}
	require.NoError(t, file.SetTags([]string{"type:pdf", "application"}))
	require.NoError(t, db.SaveStorageFile(ctx, file))

	t.Run("get by name and id", func(t *testing.T) {
		got, err := db.GetStorageFile(ctx, "report.pdf")
		require.NoError(t, err)
		assert.Equal(t, file.ID, got.ID)
		assert.Equal(t, []string{"type:pdf", "application"}, got.Tags())

		got, err = db.GetStorageFileByID(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", got.Filename)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := db.GetStorageFile(ctx, "nope.txt")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("filename existence", func(t *testing.T) {
		exists, err := db.StorageFilenameExists(ctx, "report.pdf")
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = db.StorageFilenameExists(ctx, "other.pdf")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("touch bumps access counters", func(t *testing.T) {
		require.NoError(t, db.TouchStorageFile(ctx, file.ID))
		require.NoError(t, db.TouchStorageFile(ctx, file.ID))

		got, err := db.GetStorageFileByID(ctx, file.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.AccessCount)
		assert.NotNil(t, got.LastAccessed)
	})

	t.Run("list sorted by upload date desc", func(t *testing.T) {
		newer := &StorageFile{
			ID:         uuid.NewString(),
			ProjectID:  projectID,
			Filename:   "newer.txt",
			FilePath:   "/tmp/newer.txt",
			UploadDate: time.Now().UTC().Add(time.Hour),
		}
		require.NoError(t, db.SaveStorageFile(ctx, newer))

		files, err := db.ListStorageFiles(ctx)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "newer.txt", files[0].Filename)
	})

	t.Run("inventory upsert", func(t *testing.T) {
		inv := &FileInventory{
			FileID:       file.ID,
			Filename:     "report.pdf",
			Tags:         "type:pdf application",
			MetadataText: "author:me",
			ContentHash:  "deadbeef",
		}
		require.NoError(t, db.SaveInventory(ctx, inv))

		inv.Tags = "type:pdf application reviewed"
		require.NoError(t, db.SaveInventory(ctx, inv))

		got, err := db.GetInventory(ctx, file.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Contains(t, got.Tags, "reviewed")
	})

	t.Run("delete removes row and inventory", func(t *testing.T) {
		require.NoError(t, db.DeleteStorageFile(ctx, file.ID))

		_, err := db.GetStorageFileByID(ctx, file.ID)
		assert.ErrorIs(t, err, ErrFileNotFound)

		inv, err := db.GetInventory(ctx, file.ID)
		require.NoError(t, err)
		assert.Nil(t, inv)
	})
}

func TestDataDocumentRows(t *testing.T) {
	db := newDataDB(t)
	ctx := context.Background()

	doc := &DataDocument{
		ID:                uuid.NewString(),
		ProjectID:         uuid.NewString(),
		Title:             "guide.md",
		Content:           "hello world",
		ProcessedDate:     time.Now().UTC(),
		ChunkCount:        2,
		WordCount:         2,
		CharacterCount:    11,
		EmbeddingModel:    "m",
		ChunkSize:         100,
		ChunkOverlap:      20,
		ProcessingSuccess: true,
		QualityScore:      0.5,
	}
	require.NoError(t, db.SaveDocument(ctx, doc))

	chunks := []*DocumentChunk{
		{ID: uuid.NewString(), ChunkIndex: 0, Text: "hello", StartChar: 0, EndChar: 5},
		{ID: uuid.NewString(), ChunkIndex: 1, Text: "world", StartChar: 6, EndChar: 11},
	}
	require.NoError(t, db.SaveChunks(ctx, doc.ID, chunks))

	t.Run("chunks ordered by index", func(t *testing.T) {
		got, err := db.ListChunks(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].ChunkIndex)
		assert.Equal(t, "world", got[1].Text)
	})

	t.Run("save chunks replaces previous set", func(t *testing.T) {
		require.NoError(t, db.SaveChunks(ctx, doc.ID, []*DocumentChunk{
			{ID: uuid.NewString(), ChunkIndex: 0, Text: "replaced", StartChar: 0, EndChar: 8},
		}))
		got, err := db.ListChunks(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "replaced", got[0].Text)
	})

	t.Run("delete document removes chunks", func(t *testing.T) {
		require.NoError(t, db.DeleteDocument(ctx, doc.ID))

		_, err := db.GetDocument(ctx, doc.ID)
		assert.ErrorIs(t, err, ErrDocumentNotFound)

		got, err := db.ListChunks(ctx, doc.ID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
