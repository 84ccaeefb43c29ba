package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docbro/docbro/internal/bytesize"
	"github.com/docbro/docbro/internal/logger"
	"github.com/docbro/docbro/pkg/config"
	"github.com/docbro/docbro/pkg/project"
	"github.com/docbro/docbro/pkg/store"
	"github.com/docbro/docbro/pkg/upload/source"
)

// ErrOperationNotFound is returned when an operation id is unknown to the
// in-memory history.
var ErrOperationNotFound = errors.New("upload operation not found")

// defaultHistoryMaxAge bounds how long completed operations stay in memory
// before the janitor drops them. Registry rows are permanent.
const defaultHistoryMaxAge = 24 * time.Hour

// Request describes one upload.
type Request struct {
	Project         string
	Source          source.Spec
	Recursive       bool
	ExcludePatterns []string
	Conflict        project.ConflictPolicy
	DryRun          bool
}

// Manager orchestrates upload operations end to end: pre-flight validation,
// enumeration, bounded-concurrency download and ingestion, progress and
// history.
type Manager struct {
	projects *project.Manager
	factory  *project.Factory
	registry *store.Registry
	resolver *config.Resolver
	sources  *source.Registry
	reporter *Reporter

	mu  sync.Mutex
	ops map[string]*Operation

	historyMaxAge time.Duration
	janitorStop   chan struct{}
}

// ManagerOptions configures NewManager.
type ManagerOptions struct {
	Projects *project.Manager
	Factory  *project.Factory
	Registry *store.Registry
	Resolver *config.Resolver
	Sources  *source.Registry
	Reporter *Reporter
	// HistoryMaxAge bounds in-memory operation retention; zero means the
	// default of 24 hours.
	HistoryMaxAge time.Duration
}

// NewManager creates an upload manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Projects == nil || opts.Factory == nil || opts.Registry == nil || opts.Resolver == nil {
		return nil, fmt.Errorf("upload manager requires projects, factory, registry and resolver")
	}
	if opts.Sources == nil {
		opts.Sources = source.NewRegistry()
	}
	if opts.Reporter == nil {
		opts.Reporter = NewReporter()
	}
	maxAge := opts.HistoryMaxAge
	if maxAge <= 0 {
		maxAge = defaultHistoryMaxAge
	}
	return &Manager{
		projects:      opts.Projects,
		factory:       opts.Factory,
		registry:      opts.Registry,
		resolver:      opts.Resolver,
		sources:       opts.Sources,
		reporter:      opts.Reporter,
		ops:           make(map[string]*Operation),
		historyMaxAge: maxAge,
	}, nil
}

// Reporter exposes the progress reporter for subscribers.
func (m *Manager) Reporter() *Reporter { return m.reporter }

// Get returns a tracked operation.
func (m *Manager) Get(id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return op, nil
}

// Cancel requests cancellation of a running operation.
func (m *Manager) Cancel(id string) error {
	op, err := m.Get(id)
	if err != nil {
		return err
	}
	return op.Cancel()
}

// Active returns snapshots of non-terminal operations.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Snapshot
	for _, op := range m.ops {
		if !op.Status().Terminal() {
			out = append(out, op.Snapshot())
		}
	}
	return out
}

// preparedUpload carries the state Run and Start share.
type preparedUpload struct {
	op     *Operation
	proj   *project.Project
	cfg    *config.ProjectConfig
	cfgErr error
	ctx    context.Context
	cancel context.CancelFunc
}

// prepare resolves the project, creates and registers the operation and
// persists the initial audit row.
func (m *Manager) prepare(ctx context.Context, req Request) (*preparedUpload, error) {
	p, err := m.projects.Get(ctx, req.Project)
	if err != nil {
		return nil, err
	}

	cfg, cfgErr := m.resolver.GetProject(p.Name)
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if cfgErr == nil && cfg.TimeoutSeconds > 0 {
		opCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx),
			time.Duration(cfg.TimeoutSeconds)*time.Second)
	}

	op := newOperation(p.Name, p.ID, req.Source, req.DryRun, cancel)
	m.mu.Lock()
	m.ops[op.ID] = op
	m.mu.Unlock()
	m.persistNew(ctx, op)
	m.reporter.Start(op.ID, fmt.Sprintf("upload %s -> %s", op.Location, p.Name))

	return &preparedUpload{op: op, proj: p, cfg: cfg, cfgErr: cfgErr, ctx: opCtx, cancel: cancel}, nil
}

func (m *Manager) runPrepared(pu *preparedUpload, req Request) {
	defer pu.cancel()
	m.execute(pu.ctx, pu.op, pu.proj, pu.cfg, pu.cfgErr, req)

	snap := pu.op.Snapshot()
	m.persistFinal(context.Background(), pu.op, snap)
	m.recordSourceOutcome(context.Background(), pu.op, snap)
	m.reporter.Complete(pu.op.ID, snap.Status == StatusComplete, string(snap.Status))
}

// Run executes an upload synchronously and returns the finished operation.
// Pre-flight failures yield a rejected operation, not an error; errors are
// reserved for unknown projects and infrastructure faults.
func (m *Manager) Run(ctx context.Context, req Request) (*Operation, error) {
	pu, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	m.runPrepared(pu, req)
	return pu.op, nil
}

// Start launches an upload in the background and returns the tracked
// operation immediately. Progress is observed through Get and the reporter.
func (m *Manager) Start(ctx context.Context, req Request) (*Operation, error) {
	pu, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	go m.runPrepared(pu, req)
	return pu.op, nil
}

// execute drives the operation state machine. All failures are recorded on
// the operation; execute itself never returns an error.
func (m *Manager) execute(ctx context.Context, op *Operation, p *project.Project, cfg *config.ProjectConfig, cfgErr error, req Request) {
	_ = op.transition(StatusValidating)

	adapter, ingestor, ok := m.preflight(ctx, op, p, cfg, cfgErr, req)
	if !ok {
		_ = op.transition(StatusRejected)
		return
	}

	_ = op.transition(StatusDownloading)
	files, err := adapter.List(ctx, req.Source, req.Recursive, req.ExcludePatterns)
	if err != nil {
		op.addError(fmt.Sprintf("enumeration failed: %v", err))
		_ = op.transition(StatusFailed)
		return
	}

	var bytesTotal int64
	for _, f := range files {
		if f.Size > 0 {
			bytesTotal += f.Size
		}
	}
	op.setTotals(int64(len(files)), bytesTotal)

	tempDir := filepath.Join(p.Dir, "temp")
	if !req.DryRun {
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			op.addError(fmt.Sprintf("cannot create temp directory: %v", err))
			_ = op.transition(StatusFailed)
			return
		}
	}

	workers := config.DefaultConcurrentUploads
	if cfg != nil && cfg.ConcurrentUploads > 0 {
		workers = cfg.ConcurrentUploads
	}
	retries := config.DefaultRetryAttempts
	if cfg != nil && cfg.RetryAttempts != nil {
		retries = *cfg.RetryAttempts
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		if op.Cancelled() || groupCtx.Err() != nil {
			break
		}
		file := f
		g.Go(func() error {
			if op.Cancelled() {
				return nil
			}
			m.processFile(groupCtx, op, p, cfg, ingestor, adapter, req, file, tempDir, retries)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case op.Cancelled():
		m.finalizeCancelled(op)
	default:
		_ = op.transition(StatusProcessing)
		snap := op.Snapshot()
		if snap.FilesFailed > 0 {
			_ = op.transition(StatusFailed)
		} else {
			_ = op.transition(StatusComplete)
		}
	}
}

func (m *Manager) finalizeCancelled(op *Operation) {
	op.mu.Lock()
	op.status = StatusCancelled
	now := time.Now().UTC()
	op.completedAt = &now
	op.mu.Unlock()
}

// preflight validates the request. Failures land on the operation's error
// list and return ok=false.
func (m *Manager) preflight(ctx context.Context, op *Operation, p *project.Project, cfg *config.ProjectConfig, cfgErr error, req Request) (source.Adapter, project.Ingestor, bool) {
	adapter, err := m.sources.Get(req.Source.Type)
	if err != nil {
		op.addError(err.Error())
		return nil, nil, false
	}

	ingestor, err := m.factory.Ingestor(p.Type)
	if err != nil {
		if errors.Is(err, project.ErrNoUploads) {
			op.addError(fmt.Sprintf("project type %q does not support uploads", p.Type))
		} else {
			op.addError(err.Error())
		}
		return nil, nil, false
	}

	if req.Conflict != "" && !req.Conflict.Valid() {
		op.addError(fmt.Sprintf("unknown conflict policy %q", req.Conflict))
		return nil, nil, false
	}
	if err := source.ValidatePatterns(req.ExcludePatterns); err != nil {
		op.addError(err.Error())
		return nil, nil, false
	}

	if cfgErr != nil {
		op.addError(fmt.Sprintf("cannot resolve project configuration: %v", cfgErr))
		return nil, nil, false
	}
	effective, _, err := m.resolver.Resolve(p.Name)
	if err == nil {
		if result := config.ValidateSettings(effective, config.ProjectType(p.Type)); !result.Valid {
			op.addError(fmt.Sprintf("project configuration invalid: %s", strings.Join(result.Errors, "; ")))
			return nil, nil, false
		}
	}

	result := adapter.Validate(ctx, req.Source)
	for _, w := range result.Warnings {
		op.addWarning(w)
		m.reporter.Warn(op.ID, w)
	}
	if !result.OK {
		for _, e := range result.Errors {
			op.addError(e)
		}
		return nil, nil, false
	}
	return adapter, ingestor, true
}

// processFile downloads and ingests one file. Failures are recorded on the
// operation; nothing propagates.
func (m *Manager) processFile(ctx context.Context, op *Operation, p *project.Project, cfg *config.ProjectConfig, ingestor project.Ingestor, adapter source.Adapter, req Request, file source.FileInfo, tempDir string, retries int) {
	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		op.recordResult(FileResult{Path: file.Path, Error: msg})
		m.reporter.Error(op.ID, fmt.Sprintf("%s: %s", file.Path, msg))
		m.reportFile(op, file.Name)
	}

	if cfg.MaxFileSize > 0 && file.Size > cfg.MaxFileSize {
		fail("SIZE_LIMIT_EXCEEDED: %s exceeds %s",
			bytesize.ByteSize(file.Size), bytesize.ByteSize(cfg.MaxFileSize))
		return
	}

	if req.DryRun {
		op.recordResult(FileResult{Path: file.Path, StoredAs: file.Name, Bytes: file.Size, Success: true})
		m.reportFile(op, file.Name)
		return
	}

	tempPath := filepath.Join(tempDir, "upload_"+uuid.NewString())
	defer os.Remove(tempPath)

	var lastDone int64
	progress := func(done, total int64) {
		op.addBytes(done - lastDone)
		lastDone = done
		snap := op.Snapshot()
		m.reporter.Update(Update{
			OperationID:    op.ID,
			Stage:          string(StatusDownloading),
			CurrentFile:    file.Name,
			FilesProcessed: snap.FilesProcessed,
			FilesTotal:     snap.FilesTotal,
			BytesProcessed: snap.BytesProcessed,
			BytesTotal:     snap.BytesTotal,
		})
	}

	err := fetchWithRetry(ctx, adapter, req.Source, file.Path, tempPath, retries, progress,
		func() { _ = op.transition(StatusRetrying); _ = op.transition(StatusDownloading) })
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fail("download failed: %v", err)
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(file.Name), ".")
	if !config.FormatAllowed(cfg.AllowedFormats, ext) {
		fail("format %q is not allowed", ext)
		return
	}

	res, err := ingestor.IngestFile(ctx, p, tempPath, project.IngestRequest{
		OriginalName:   file.Name,
		SourceType:     string(op.SourceType),
		SourceLocation: op.Location,
		Conflict:       req.Conflict,
	})
	if err != nil {
		fail("ingestion failed: %v", err)
		return
	}

	for _, w := range res.Warnings {
		op.addWarning(w)
		m.reporter.Warn(op.ID, w)
	}
	op.recordResult(FileResult{
		Path:     file.Path,
		StoredAs: res.StoredAs,
		Bytes:    res.Bytes,
		Success:  !res.Skipped,
		Skipped:  res.Skipped,
	})
	m.reportFile(op, file.Name)
}

// reportFile emits a file-completion update. These are never coalesced.
func (m *Manager) reportFile(op *Operation, name string) {
	snap := op.Snapshot()
	m.reporter.Update(Update{
		OperationID:    op.ID,
		Stage:          string(StatusProcessing),
		CurrentFile:    name,
		FilesProcessed: snap.FilesProcessed,
		FilesTotal:     snap.FilesTotal,
		BytesProcessed: snap.BytesProcessed,
		BytesTotal:     snap.BytesTotal,
		Message:        "file finished",
	})
}

// persistNew writes the initial registry audit row.
func (m *Manager) persistNew(ctx context.Context, op *Operation) {
	now := op.startedAt
	row := &store.UploadOperation{
		ID:             op.ID,
		ProjectID:      op.ProjectID,
		Status:         string(StatusInitiated),
		SourceType:     string(op.SourceType),
		SourceLocation: op.Location,
		StartedAt:      &now,
	}
	if err := m.registry.SaveOperation(ctx, row); err != nil {
		logger.WarnCtx(ctx, "failed to persist upload operation",
			logger.KeyOperationID, op.ID, logger.KeyError, err.Error())
	}
}

// persistFinal updates the audit row with terminal counters.
func (m *Manager) persistFinal(ctx context.Context, op *Operation, snap Snapshot) {
	updates := map[string]any{
		"status":          string(snap.Status),
		"files_processed": snap.FilesProcessed,
		"files_total":     snap.FilesTotal,
		"files_succeeded": snap.FilesSucceeded,
		"files_failed":    snap.FilesFailed,
		"files_skipped":   snap.FilesSkipped,
		"bytes_processed": snap.BytesProcessed,
		"bytes_total":     snap.BytesTotal,
		"completed_at":    snap.CompletedAt,
	}
	if len(snap.Errors) > 0 {
		updates["error_message"] = strings.Join(snap.Errors, "; ")
	}
	if err := m.registry.UpdateOperation(ctx, op.ID, updates); err != nil {
		logger.WarnCtx(ctx, "failed to finalize upload operation",
			logger.KeyOperationID, op.ID, logger.KeyError, err.Error())
	}
}

// recordSourceOutcome bumps the source reliability counters, once per
// terminal operation. Complete counts as success; every other terminal
// status counts as failure.
func (m *Manager) recordSourceOutcome(ctx context.Context, op *Operation, snap Snapshot) {
	at := time.Now().UTC()
	if snap.CompletedAt != nil {
		at = *snap.CompletedAt
	}
	_, err := m.registry.RecordSourceOutcome(ctx,
		string(op.SourceType), op.Location, snap.Status == StatusComplete, at)
	if err != nil {
		logger.WarnCtx(ctx, "failed to record source outcome",
			logger.KeyOperationID, op.ID, logger.KeyError, err.Error())
	}
}

// StartJanitor launches the history janitor, which drops in-memory records
// for operations completed longer than the history max age. Stop with
// StopJanitor.
func (m *Manager) StartJanitor(interval time.Duration) {
	m.mu.Lock()
	if m.janitorStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.janitorStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sweep(time.Now().UTC())
			}
		}
	}()
}

// StopJanitor halts the janitor goroutine.
func (m *Manager) StopJanitor() {
	m.mu.Lock()
	if m.janitorStop != nil {
		close(m.janitorStop)
		m.janitorStop = nil
	}
	m.mu.Unlock()
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, op := range m.ops {
		snap := op.Snapshot()
		if snap.Status.Terminal() && snap.CompletedAt != nil &&
			now.Sub(*snap.CompletedAt) > m.historyMaxAge {
			delete(m.ops, id)
			m.reporter.Forget(id)
		}
	}
}

// CloseSources releases every adapter's pooled connections.
func (m *Manager) CloseSources() error {
	return m.sources.CloseAll()
}
