package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/crawler"
)

type stubDriver struct {
	stopped bool
}

func (d *stubDriver) Start(context.Context, crawler.Config) error { return nil }
func (d *stubDriver) Stats() crawler.Stats                        { return crawler.Stats{} }
func (d *stubDriver) Stop(context.Context) error {
	d.stopped = true
	return nil
}

// crawlingEnv wires a crawling handler with a stub engine on top of the
// shared test env.
func crawlingEnv(t *testing.T) (*testEnv, *CrawlingHandler, []*stubDriver) {
	t.Helper()
	env := newTestEnv(t)
	var drivers []*stubDriver
	h := NewCrawlingHandler(Deps{
		Resolver: env.resolver,
		CrawlerFactory: func(crawler.Config) (crawler.Driver, error) {
			d := &stubDriver{}
			drivers = append(drivers, d)
			return d, nil
		},
	})
	return env, h, drivers
}

func TestCrawlingStartValidation(t *testing.T) {
	ctx := context.Background()
	env, h, _ := crawlingEnv(t)
	p, err := env.manager.Create(ctx, CreateRequest{Name: "site", Type: config.TypeCrawling})
	require.NoError(t, err)

	cases := []struct {
		name  string
		url   string
		depth int
	}{
		{"malformed url", "://nope", 2},
		{"missing host", "https://", 2},
		{"unsupported scheme", "ftp://example.com", 2},
		{"depth above range", "https://example.com", 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.StartCrawl(ctx, p, tc.url, tc.depth)
			assert.ErrorIs(t, err, ErrInvalidCrawl)
		})
	}

	t.Run("zero depth falls back to configured depth", func(t *testing.T) {
		s, err := h.StartCrawl(ctx, p, "https://example.com", 0)
		require.NoError(t, err)
		cfg, err := env.resolver.GetProject("site")
		require.NoError(t, err)
		assert.Equal(t, cfg.CrawlDepth, s.Depth)
	})
}

func TestCrawlingSessionsPerProject(t *testing.T) {
	ctx := context.Background()
	env, h, _ := crawlingEnv(t)

	a, err := env.manager.Create(ctx, CreateRequest{Name: "site-a", Type: config.TypeCrawling})
	require.NoError(t, err)
	b, err := env.manager.Create(ctx, CreateRequest{Name: "site-b", Type: config.TypeCrawling})
	require.NoError(t, err)

	sa, err := h.StartCrawl(ctx, a, "https://a.example.com", 2)
	require.NoError(t, err)
	sb, err := h.StartCrawl(ctx, b, "https://b.example.com", 2)
	require.NoError(t, err)
	assert.Equal(t, a.ID, sa.ProjectID)
	assert.Equal(t, b.ID, sb.ProjectID)

	t.Run("stats count own sessions only", func(t *testing.T) {
		stats, err := h.Stats(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, 1, stats["active_sessions"])
	})

	t.Run("cleanup leaves the other project's crawl running", func(t *testing.T) {
		require.NoError(t, h.Cleanup(ctx, a, false))

		stopped, _, err := h.CrawlStatus(sa.ID)
		require.NoError(t, err)
		assert.Equal(t, crawler.SessionStopped, stopped.State)

		still, _, err := h.CrawlStatus(sb.ID)
		require.NoError(t, err)
		assert.Equal(t, crawler.SessionRunning, still.State)
		assert.Len(t, h.ActiveSessions(b), 1)
		assert.Empty(t, h.ActiveSessions(a))
	})
}

func TestCrawlingCleanupArchives(t *testing.T) {
	ctx := context.Background()
	env, h, _ := crawlingEnv(t)
	p, err := env.manager.Create(ctx, CreateRequest{Name: "dump", Type: config.TypeCrawling})
	require.NoError(t, err)

	page := filepath.Join(p.Dir, "crawl_data", "index.html")
	require.NoError(t, os.WriteFile(page, []byte("<html/>"), 0o644))

	require.NoError(t, h.Cleanup(ctx, p, false))
	_, statErr := os.Stat(filepath.Join(p.Dir, "crawl_archive.tar.gz"))
	assert.NoError(t, statErr)
}
