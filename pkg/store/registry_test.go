package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := OpenRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testProject(name, projectType string) *Project {
	p := &Project{
		ID:     uuid.NewString(),
		Name:   name,
		Type:   projectType,
		Status: "active",
	}
	_ = p.SetSettings(map[string]any{"max_file_size": 1024})
	return p
}

func TestProjectCRUD(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		p := testProject("docs", "storage")
		require.NoError(t, r.SaveProject(ctx, p))

		got, err := r.GetProject(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, "storage", got.Type)
		assert.EqualValues(t, 1024, got.Settings()["max_file_size"])
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := r.SaveProject(ctx, testProject("docs", "data"))
		assert.ErrorIs(t, err, ErrDuplicateProject)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := r.GetProject(ctx, "ghost")
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})

	t.Run("update existing row", func(t *testing.T) {
		p, err := r.GetProject(ctx, "docs")
		require.NoError(t, err)
		prevUpdated := p.UpdatedAt

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, p.SetSettings(map[string]any{"max_file_size": 2048}))
		require.NoError(t, r.SaveProject(ctx, p))

		got, err := r.GetProject(ctx, "docs")
		require.NoError(t, err)
		assert.EqualValues(t, 2048, got.Settings()["max_file_size"])
		assert.True(t, got.UpdatedAt.After(prevUpdated))
	})

	t.Run("status change bumps updated_at", func(t *testing.T) {
		before, err := r.GetProject(ctx, "docs")
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		require.NoError(t, r.UpdateProjectStatus(ctx, "docs", "processing"))

		after, err := r.GetProject(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, "processing", after.Status)
		assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	})

	t.Run("list ordered by updated_at desc", func(t *testing.T) {
		require.NoError(t, r.SaveProject(ctx, testProject("kb", "data")))

		projects, err := r.ListProjects(ctx, ProjectFilter{})
		require.NoError(t, err)
		require.Len(t, projects, 2)
		assert.Equal(t, "kb", projects[0].Name)
	})

	t.Run("list filters by type and status", func(t *testing.T) {
		projects, err := r.ListProjects(ctx, ProjectFilter{Type: "data"})
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "kb", projects[0].Name)

		projects, err = r.ListProjects(ctx, ProjectFilter{Status: "processing"})
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "docs", projects[0].Name)
	})
}

func TestDeleteProjectCascades(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p := testProject("docs", "storage")
	require.NoError(t, r.SaveProject(ctx, p))

	started := time.Now().UTC()
	op := &UploadOperation{
		ID:         uuid.NewString(),
		ProjectID:  p.ID,
		Status:     "complete",
		SourceType: "local",
		StartedAt:  &started,
	}
	require.NoError(t, r.SaveOperation(ctx, op))
	require.NoError(t, r.MirrorSettings(ctx, p.ID, map[string]string{"max_file_size": "1024"}))

	require.NoError(t, r.DeleteProject(ctx, "docs"))

	_, err := r.GetProject(ctx, "docs")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = r.GetOperation(ctx, op.ID)
	assert.ErrorIs(t, err, ErrOperationNotFound)

	ops, err := r.ListOperations(ctx, OperationFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestUploadOperationRows(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p := testProject("docs", "storage")
	require.NoError(t, r.SaveProject(ctx, p))

	started := time.Now().UTC()
	op := &UploadOperation{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		Status:         "downloading",
		SourceType:     "http",
		SourceLocation: "https://example.com/files",
		FilesTotal:     3,
		StartedAt:      &started,
	}
	require.NoError(t, r.SaveOperation(ctx, op))

	t.Run("partial update", func(t *testing.T) {
		completed := time.Now().UTC()
		require.NoError(t, r.UpdateOperation(ctx, op.ID, map[string]any{
			"status":          "complete",
			"files_processed": 3,
			"files_succeeded": 3,
			"completed_at":    completed,
		}))

		got, err := r.GetOperation(ctx, op.ID)
		require.NoError(t, err)
		assert.Equal(t, "complete", got.Status)
		assert.EqualValues(t, 3, got.FilesProcessed)
		assert.NotNil(t, got.CompletedAt)
		assert.EqualValues(t, 3, got.FilesTotal, "untouched fields survive partial update")
	})

	t.Run("update missing operation", func(t *testing.T) {
		err := r.UpdateOperation(ctx, uuid.NewString(), map[string]any{"status": "failed"})
		assert.ErrorIs(t, err, ErrOperationNotFound)
	})

	t.Run("list by status", func(t *testing.T) {
		ops, err := r.ListOperations(ctx, OperationFilter{Status: "complete"})
		require.NoError(t, err)
		assert.Len(t, ops, 1)
	})
}

func TestSourceReliability(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	t.Run("first outcome creates the record", func(t *testing.T) {
		at := time.Now().UTC()
		src, err := r.RecordSourceOutcome(ctx, "ftp", "ftp://example.com/pub", true, at)
		require.NoError(t, err)
		assert.EqualValues(t, 1, src.SuccessCount)
		assert.EqualValues(t, 0, src.FailureCount)
		assert.InDelta(t, 1.0, src.Reliability(), 1e-9)
		require.NotNil(t, src.LastAccessed)
		assert.WithinDuration(t, at, *src.LastAccessed, time.Second)
	})

	t.Run("failure bumps the same record", func(t *testing.T) {
		at := time.Now().UTC()
		src, err := r.RecordSourceOutcome(ctx, "ftp", "ftp://example.com/pub", false, at)
		require.NoError(t, err)
		assert.EqualValues(t, 1, src.SuccessCount)
		assert.EqualValues(t, 1, src.FailureCount)
		assert.InDelta(t, 0.5, src.Reliability(), 1e-9)
	})

	t.Run("locations are independent", func(t *testing.T) {
		_, err := r.RecordSourceOutcome(ctx, "ftp", "ftp://other.example.com", false, time.Now().UTC())
		require.NoError(t, err)

		src, err := r.GetSource(ctx, "ftp", "ftp://example.com/pub")
		require.NoError(t, err)
		assert.EqualValues(t, 1, src.SuccessCount)
		assert.EqualValues(t, 1, src.FailureCount)
	})

	t.Run("unknown source errors", func(t *testing.T) {
		_, err := r.GetSource(ctx, "http", "https://nowhere.example.com")
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("no history scores one", func(t *testing.T) {
		src := &UploadSource{}
		assert.InDelta(t, 1.0, src.Reliability(), 1e-9)
	})
}

func TestRegistryFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegistryFileName)
	r, err := OpenRegistry(path)
	require.NoError(t, err)
	defer r.Close()

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
	assert.Equal(t, "project_registry.db", RegistryFileName)
}
