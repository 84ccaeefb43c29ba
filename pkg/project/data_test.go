package project

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbro/docbro/pkg/config"
)

func dataFixture(t *testing.T) (*testEnv, *DataHandler, *Project) {
	t.Helper()
	env := newTestEnv(t)
	p, err := env.manager.Create(context.Background(), CreateRequest{
		Name: "library",
		Type: config.TypeData,
		Settings: map[string]any{
			"chunk_size":    100,
			"chunk_overlap": 20,
		},
	})
	require.NoError(t, err)
	h, err := env.factory.Get(config.TypeData)
	require.NoError(t, err)
	return env, h.(*DataHandler), p
}

func TestProcessDocument(t *testing.T) {
	ctx := context.Background()
	env, h, p := dataFixture(t)

	src := writeTestFile(t, "long.txt", strings.Repeat("a", 250))
	doc, warnings, err := h.ProcessDocument(ctx, p, src, IngestRequest{OriginalName: "long.txt", SourceType: "local"})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, 250, doc.CharacterCount)
	assert.Equal(t, 100, doc.ChunkSize)
	assert.Equal(t, 20, doc.ChunkOverlap)
	assert.True(t, doc.ProcessingSuccess)
	assert.InDelta(t, 0.8, doc.QualityScore, 1e-9)

	db, err := env.manager.OpenDB(ctx, p)
	require.NoError(t, err)
	chunks, err := db.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, 80, chunks[1].StartChar)
	assert.Equal(t, 160, chunks[2].StartChar)
	for _, c := range chunks {
		assert.NotEmpty(t, c.VectorID)
	}
}

func TestProcessDocumentValidation(t *testing.T) {
	ctx := context.Background()
	_, h, p := dataFixture(t)

	t.Run("disallowed format", func(t *testing.T) {
		src := writeTestFile(t, "binary.exe", "MZ")
		_, _, err := h.ProcessDocument(ctx, p, src, IngestRequest{OriginalName: "binary.exe"})
		assert.ErrorContains(t, err, "not allowed")
	})

	t.Run("extraction warnings degrade quality but succeed", func(t *testing.T) {
		src := writeTestFile(t, "odd.txt", "text\xffmore "+strings.Repeat("w ", 300))
		doc, warnings, err := h.ProcessDocument(ctx, p, src, IngestRequest{OriginalName: "odd.txt"})
		require.NoError(t, err)
		require.NotEmpty(t, warnings)
		assert.False(t, doc.ProcessingSuccess)
		assert.Less(t, doc.QualityScore, 1.0)
	})
}

func TestSearchDocuments(t *testing.T) {
	ctx := context.Background()
	_, h, p := dataFixture(t)

	src := writeTestFile(t, "gophers.txt",
		"The gopher digs tunnels underground. "+strings.Repeat("Filler sentence about tunnels and burrows. ", 10))
	doc, _, err := h.ProcessDocument(ctx, p, src, IngestRequest{OriginalName: "gophers.txt"})
	require.NoError(t, err)

	t.Run("matching query returns ranked hits", func(t *testing.T) {
		hits, err := h.SearchDocuments(ctx, p, "gopher tunnels", 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, doc.ID, hits[0].DocumentID)
		assert.Greater(t, hits[0].Score, 0.0)
	})

	t.Run("empty query rejected", func(t *testing.T) {
		_, err := h.SearchDocuments(ctx, p, "   ", 5)
		assert.Error(t, err)
	})

	t.Run("deleting a document clears its vectors", func(t *testing.T) {
		require.NoError(t, h.DeleteDocument(ctx, p, doc.ID))
		hits, err := h.SearchDocuments(ctx, p, "gopher tunnels", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestDataStats(t *testing.T) {
	ctx := context.Background()
	env, h, p := dataFixture(t)
	_ = env

	src := writeTestFile(t, "one.txt", strings.Repeat("z", 600))
	_, _, err := h.ProcessDocument(ctx, p, src, IngestRequest{OriginalName: "one.txt"})
	require.NoError(t, err)

	stats, err := h.Stats(ctx, p)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats["document_count"])
	assert.Greater(t, stats["chunk_count"].(int), 0)
}
