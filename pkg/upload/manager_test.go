package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/project"
	"github.com/docbro/docbro/pkg/store"
	"github.com/docbro/docbro/pkg/upload/source"
)

type testEnv struct {
	uploads  *Manager
	projects *project.Manager
	factory  *project.Factory
	registry *store.Registry
	resolver *config.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry, err := store.OpenRegistry(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	resolver := config.NewResolver(t.TempDir(), t.TempDir(), project.TypeLookup(registry))

	var pm *project.Manager
	deps := project.Deps{
		Resolver: resolver,
		DB: func(ctx context.Context, p *project.Project) (*store.ProjectDB, error) {
			return pm.OpenDB(ctx, p)
		},
	}
	factory, err := project.DefaultFactory(deps)
	require.NoError(t, err)
	pm, err = project.NewManager(project.ManagerOptions{Registry: registry, Resolver: resolver, Factory: factory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	um, err := NewManager(ManagerOptions{
		Projects: pm,
		Factory:  factory,
		Registry: registry,
		Resolver: resolver,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = um.CloseSources() })

	return &testEnv{uploads: um, projects: pm, factory: factory, registry: registry, resolver: resolver}
}

func (e *testEnv) createProject(t *testing.T, name string, typ config.ProjectType, settings map[string]any) *project.Project {
	t.Helper()
	p, err := e.projects.Create(context.Background(), project.CreateRequest{Name: name, Type: typ, Settings: settings})
	require.NoError(t, err)
	return p
}

func sha256Hex(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func TestUploadStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "docs", config.TypeStorage, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.bin"), make([]byte, 1024*1024), 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project: "docs",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
	})
	require.NoError(t, err)

	snap := op.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.EqualValues(t, 2, snap.FilesTotal)
	assert.EqualValues(t, 2, snap.FilesSucceeded)
	assert.EqualValues(t, 0, snap.FilesFailed)
	assert.EqualValues(t, 1048581, snap.BytesProcessed)

	// Retrieval is byte for byte and the stored checksum matches the
	// original.
	h, err := env.factory.Get(config.TypeStorage)
	require.NoError(t, err)
	p, err := env.projects.Get(ctx, "docs")
	require.NoError(t, err)
	rc, row, err := h.(*project.StorageHandler).RetrieveFile(ctx, p, "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assert.Equal(t, sha256Hex(t, filepath.Join(srcDir, "a.txt")), row.Checksum)
	assert.Contains(t, row.Tags(), "type:txt")
	assert.Contains(t, row.Tags(), "text")
	assert.Contains(t, row.Tags(), "size:tiny")

	// Audit row persisted with final counters.
	audit, err := env.registry.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusComplete), audit.Status)
	assert.EqualValues(t, 2, audit.FilesSucceeded)
	assert.EqualValues(t, 1048581, audit.BytesProcessed)
}

func TestUploadDataChunking(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.createProject(t, "kb", config.TypeData, map[string]any{
		"chunk_size":    100,
		"chunk_overlap": 20,
	})

	srcDir := t.TempDir()
	content := make([]byte, 250)
	for i := range content {
		content[i] = 'x'
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "note.md"), content, 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project: "kb",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
	})
	require.NoError(t, err)
	require.Equal(t, StatusComplete, op.Status())

	db, err := env.projects.OpenDB(ctx, p)
	require.NoError(t, err)
	docs, err := db.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 3, docs[0].ChunkCount)
	assert.Greater(t, docs[0].QualityScore, 0.0)

	chunks, err := db.ListChunks(ctx, docs[0].ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 80, chunks[1].StartChar)
	assert.Equal(t, 160, chunks[2].StartChar)
	assert.Equal(t, 250, chunks[2].EndChar)
}

func TestUploadRejectedForCrawling(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.createProject(t, "crawler", config.TypeCrawling, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "page.html"), []byte("<html/>"), 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project: "crawler",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
	})
	require.NoError(t, err)

	snap := op.Snapshot()
	assert.Equal(t, StatusRejected, snap.Status)
	require.NotEmpty(t, snap.Errors)
	assert.Contains(t, snap.Errors[0], "does not support uploads")

	// No temp files remain.
	entries, err := os.ReadDir(filepath.Join(p.Dir, "temp"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestUploadConflictRename(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "vault", config.TypeStorage, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "doc.pdf"), []byte("v1"), 0o644))

	for i := 0; i < 2; i++ {
		op, err := env.uploads.Run(ctx, Request{
			Project:  "vault",
			Source:   source.Spec{Type: source.TypeLocal, Location: srcDir},
			Conflict: project.ConflictRename,
		})
		require.NoError(t, err)
		require.Equal(t, StatusComplete, op.Status())
	}

	h, err := env.factory.Get(config.TypeStorage)
	require.NoError(t, err)
	p, err := env.projects.Get(ctx, "vault")
	require.NoError(t, err)
	files, err := h.(*project.StorageHandler).Inventory(ctx, p)
	require.NoError(t, err)

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	assert.ElementsMatch(t, []string{"doc.pdf", "doc_1.pdf"}, names)
}

func TestUploadSizeLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "tiny", config.TypeStorage, map[string]any{"max_file_size": 10})

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "big.bin"), make([]byte, 100), 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project: "tiny",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
	})
	require.NoError(t, err)

	snap := op.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.EqualValues(t, 1, snap.FilesFailed)
	require.NotEmpty(t, snap.Errors)
	assert.Contains(t, snap.Errors[0], "SIZE_LIMIT_EXCEEDED")
}

func TestUploadDryRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "preview", config.TypeStorage, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project: "preview",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
		DryRun:  true,
	})
	require.NoError(t, err)

	snap := op.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.EqualValues(t, 1, snap.FilesSucceeded)

	// Nothing was actually stored.
	h, _ := env.factory.Get(config.TypeStorage)
	p, _ := env.projects.Get(ctx, "preview")
	files, err := h.(*project.StorageHandler).Inventory(ctx, p)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUploadExcludePatterns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "filtered", config.TypeStorage, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "keep.txt"), []byte("k"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "drop.log"), []byte("d"), 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project:         "filtered",
		Source:          source.Spec{Type: source.TypeLocal, Location: srcDir},
		ExcludePatterns: []string{"*.log"},
	})
	require.NoError(t, err)

	snap := op.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.EqualValues(t, 1, snap.FilesTotal)
	assert.EqualValues(t, 1, snap.FilesSucceeded)
}

func TestUploadCounterInvariant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "mixed", config.TypeStorage, map[string]any{"max_file_size": 50})

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "ok.txt"), []byte("fine"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "big.bin"), make([]byte, 100), 0o644))

	op, err := env.uploads.Run(ctx, Request{
		Project: "mixed",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
	})
	require.NoError(t, err)

	snap := op.Snapshot()
	assert.Equal(t, snap.FilesProcessed, snap.FilesSucceeded+snap.FilesFailed+snap.FilesSkipped)
	assert.LessOrEqual(t, snap.FilesProcessed, snap.FilesTotal)
	assert.LessOrEqual(t, snap.BytesProcessed, snap.BytesTotal)
}

func TestUploadSourceReliability(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createProject(t, "docs", config.TypeStorage, nil)
	env.createProject(t, "crawler", config.TypeCrawling, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))

	t.Run("completed upload counts as success", func(t *testing.T) {
		op, err := env.uploads.Run(ctx, Request{
			Project: "docs",
			Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
		})
		require.NoError(t, err)
		require.Equal(t, StatusComplete, op.Status())

		src, err := env.registry.GetSource(ctx, "local", srcDir)
		require.NoError(t, err)
		assert.EqualValues(t, 1, src.SuccessCount)
		assert.EqualValues(t, 0, src.FailureCount)
		assert.InDelta(t, 1.0, src.Reliability(), 1e-9)
		assert.NotNil(t, src.LastAccessed)
	})

	t.Run("rejected upload counts as failure", func(t *testing.T) {
		op, err := env.uploads.Run(ctx, Request{
			Project: "crawler",
			Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
		})
		require.NoError(t, err)
		require.Equal(t, StatusRejected, op.Status())

		src, err := env.registry.GetSource(ctx, "local", srcDir)
		require.NoError(t, err)
		assert.EqualValues(t, 1, src.SuccessCount)
		assert.EqualValues(t, 1, src.FailureCount)
		assert.InDelta(t, 0.5, src.Reliability(), 1e-9)
	})
}

func TestUploadUnknownProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.uploads.Run(context.Background(), Request{
		Project: "ghost",
		Source:  source.Spec{Type: source.TypeLocal, Location: t.TempDir()},
	})
	assert.ErrorIs(t, err, project.ErrNotFound)
}

func TestUploadCancelBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	env.createProject(t, "cancellable", config.TypeStorage, nil)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0o644))

	op, err := env.uploads.Start(context.Background(), Request{
		Project: "cancellable",
		Source:  source.Spec{Type: source.TypeLocal, Location: srcDir},
	})
	require.NoError(t, err)

	// Cancel may race completion; either terminal outcome is legal.
	_ = env.uploads.Cancel(op.ID)
	require.Eventually(t, func() bool {
		return op.Status().Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, []Status{StatusComplete, StatusCancelled}, op.Status())
}
