package project

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/crawler"
)

// crawlingSubdirs are created under the project root at initialize time.
var crawlingSubdirs = []string{"crawl_data", "pages", "assets", "logs"}

// CrawlingHandler implements the crawling project type. The crawl engine is
// external; this handler validates requests, launches drivers through the
// injected factory and tracks sessions.
type CrawlingHandler struct {
	deps     Deps
	sessions *crawler.Registry
}

// NewCrawlingHandler creates the crawling handler.
func NewCrawlingHandler(deps Deps) *CrawlingHandler {
	return &CrawlingHandler{deps: deps, sessions: crawler.NewRegistry()}
}

func (h *CrawlingHandler) Type() config.ProjectType { return config.TypeCrawling }

// DefaultSettings returns the crawling type defaults.
func (h *CrawlingHandler) DefaultSettings() map[string]any {
	return config.TypeDefaults(config.TypeCrawling)
}

// ValidateSettings validates a merged settings map for crawling projects.
func (h *CrawlingHandler) ValidateSettings(settings map[string]any) config.ValidationResult {
	return config.ValidateSettings(settings, config.TypeCrawling)
}

// Initialize creates the crawl directory tree. Crawling projects have no
// per-project database schema beyond the registry row.
func (h *CrawlingHandler) Initialize(ctx context.Context, p *Project) error {
	for _, sub := range crawlingSubdirs {
		if err := os.MkdirAll(filepath.Join(p.Dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	logger.InfoCtx(ctx, "crawling project initialized", logger.KeyProject, p.Name)
	return nil
}

// Cleanup stops running sessions and, when crawl data exists, archives it to
// <project>/crawl_archive.tar.gz before removal. With force, failures
// degrade to warnings.
func (h *CrawlingHandler) Cleanup(ctx context.Context, p *Project, force bool) error {
	if err := h.sessions.StopProject(ctx, p.ID); err != nil {
		if !force {
			return fmt.Errorf("failed to stop crawl sessions: %w", err)
		}
		logger.WarnCtx(ctx, "ignoring session stop failure", logger.KeyProject, p.Name, logger.KeyError, err.Error())
	}

	dataDir := filepath.Join(p.Dir, "crawl_data")
	if hasEntries(dataDir) {
		archive := filepath.Join(p.Dir, "crawl_archive.tar.gz")
		if err := archiveDir(dataDir, archive); err != nil {
			if !force {
				return fmt.Errorf("failed to archive crawl data: %w", err)
			}
			logger.WarnCtx(ctx, "ignoring archive failure", logger.KeyProject, p.Name, logger.KeyError, err.Error())
		}
	}
	return nil
}

// StartCrawl validates the request and launches a crawl session. It is
// fire-and-forget: the session id returns immediately and progress is
// observed through CrawlStatus.
func (h *CrawlingHandler) StartCrawl(ctx context.Context, p *Project, rawURL string, depth int) (*crawler.Session, error) {
	if h.deps.CrawlerFactory == nil {
		return nil, fmt.Errorf("%w: no crawler engine configured", ErrInvalidCrawl)
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: malformed url %q", ErrInvalidCrawl, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q (http or https required)", ErrInvalidCrawl, u.Scheme)
	}

	cfg, err := h.deps.Resolver.GetProject(p.Name)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = cfg.CrawlDepth
	}
	if depth < 1 || depth > 10 {
		return nil, fmt.Errorf("%w: depth %d out of range [1,10]", ErrInvalidCrawl, depth)
	}

	driverCfg := crawler.Config{
		URL:             u.String(),
		MaxDepth:        depth,
		RateLimit:       cfg.RateLimit,
		UserAgent:       cfg.UserAgent,
		OutputDirectory: filepath.Join(p.Dir, "crawl_data"),
	}
	if cfg.FollowRedirects != nil {
		driverCfg.FollowRedirects = *cfg.FollowRedirects
	}
	if cfg.RespectRobotsTxt != nil {
		driverCfg.RespectRobotsTxt = *cfg.RespectRobotsTxt
	}

	driver, err := h.deps.CrawlerFactory(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build crawler: %w", err)
	}
	if err := driver.Start(ctx, driverCfg); err != nil {
		return nil, fmt.Errorf("failed to start crawl: %w", err)
	}

	session := h.sessions.Track(p.ID, u.String(), depth, driver)
	logger.InfoCtx(ctx, "crawl started",
		logger.KeyProject, p.Name, "url", u.String(), "depth", depth, "session", session.ID)
	return session, nil
}

// CrawlStatus returns the live session plus driver statistics.
func (h *CrawlingHandler) CrawlStatus(sessionID string) (*crawler.Session, crawler.Stats, error) {
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		return nil, crawler.Stats{}, err
	}
	return s, s.Stats(), nil
}

// StopCrawl stops a running session.
func (h *CrawlingHandler) StopCrawl(ctx context.Context, sessionID string) error {
	return h.sessions.Stop(ctx, sessionID)
}

// ActiveSessions returns one project's running sessions.
func (h *CrawlingHandler) ActiveSessions(p *Project) []*crawler.Session {
	return h.sessions.ActiveFor(p.ID)
}

// Stats reports crawl data footprint and session counts.
func (h *CrawlingHandler) Stats(ctx context.Context, p *Project) (map[string]any, error) {
	var pageCount int
	var totalBytes int64
	dataDir := filepath.Join(p.Dir, "crawl_data")
	_ = filepath.WalkDir(dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		pageCount++
		if info, err := d.Info(); err == nil {
			totalBytes += info.Size()
		}
		return nil
	})

	return map[string]any{
		"crawled_files":   pageCount,
		"crawl_bytes":     totalBytes,
		"active_sessions": len(h.sessions.ActiveFor(p.ID)),
	}, nil
}

func hasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// archiveDir writes a gzipped tarball of dir's contents, paths relative to
// dir.
func archiveDir(dir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.ModTime = info.ModTime().Truncate(time.Second)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
