// Package upload implements the upload orchestrator: operation lifecycle,
// bounded-concurrency file processing, retry with resume, progress
// aggregation and the handoff to per-type ingestion sinks.
package upload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docbro/docbro/pkg/upload/source"
)

// Status is an upload operation lifecycle state.
type Status string

const (
	StatusInitiated   Status = "initiated"
	StatusValidating  Status = "validating"
	StatusRejected    Status = "rejected"
	StatusDownloading Status = "downloading"
	StatusProcessing  Status = "processing"
	StatusRetrying    Status = "retrying"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// cancellable states accept an explicit cancel.
var cancellable = map[Status]struct{}{
	StatusInitiated:   {},
	StatusDownloading: {},
	StatusProcessing:  {},
	StatusRetrying:    {},
}

// transitions is the legal state machine.
var transitions = map[Status][]Status{
	StatusInitiated:   {StatusValidating, StatusCancelled},
	StatusValidating:  {StatusRejected, StatusDownloading},
	StatusDownloading: {StatusProcessing, StatusRetrying, StatusFailed, StatusCancelled},
	StatusRetrying:    {StatusDownloading, StatusFailed, StatusCancelled},
	StatusProcessing:  {StatusComplete, StatusFailed, StatusCancelled},
}

// FileResult records the outcome for one file within an operation.
type FileResult struct {
	Path     string `json:"path"`
	StoredAs string `json:"stored_as,omitempty"`
	Bytes    int64  `json:"bytes"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Operation is the in-memory state of one upload. Counter mutations go
// through the methods so the invariant
// succeeded + failed + skipped == processed <= total always holds.
type Operation struct {
	ID          string
	ProjectName string
	ProjectID   string
	SourceType  source.Type
	// Location is always credential-redacted.
	Location string
	DryRun   bool

	mu             sync.Mutex
	status         Status
	filesTotal     int64
	filesProcessed int64
	filesSucceeded int64
	filesFailed    int64
	filesSkipped   int64
	bytesTotal     int64
	bytesProcessed int64
	errors         []string
	warnings       []string
	results        []FileResult
	startedAt      time.Time
	completedAt    *time.Time

	cancel    context.CancelFunc
	cancelled bool
}

func newOperation(projectName, projectID string, spec source.Spec, dryRun bool, cancel context.CancelFunc) *Operation {
	return &Operation{
		ID:          uuid.NewString(),
		ProjectName: projectName,
		ProjectID:   projectID,
		SourceType:  spec.Type,
		Location:    RedactLocation(spec.Location),
		DryRun:      dryRun,
		status:      StatusInitiated,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
	}
}

// Status returns the current state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// transition moves the operation to next, enforcing the state machine.
func (o *Operation) transition(next Status) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(next)
}

func (o *Operation) transitionLocked(next Status) error {
	if o.status == next {
		return nil
	}
	for _, allowed := range transitions[o.status] {
		if allowed == next {
			o.status = next
			if next.Terminal() {
				now := time.Now().UTC()
				o.completedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("illegal status transition %s -> %s", o.status, next)
}

// Cancel flips the cancel flag when the current state allows it. The
// operation reaches StatusCancelled once the worker observes the flag.
func (o *Operation) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := cancellable[o.status]; !ok {
		return fmt.Errorf("operation %s cannot be cancelled in status %s", o.ID, o.status)
	}
	if !o.cancelled {
		o.cancelled = true
		if o.cancel != nil {
			o.cancel()
		}
	}
	return nil
}

// Cancelled reports whether cancel was requested.
func (o *Operation) Cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

func (o *Operation) setTotals(files, bytes int64) {
	o.mu.Lock()
	o.filesTotal = files
	o.bytesTotal = bytes
	o.mu.Unlock()
}

// addBytes advances bytesProcessed to the per-file done value. Bytes are
// tracked per file as (last seen, new) deltas so the aggregate stays
// monotonically non-decreasing.
func (o *Operation) addBytes(delta int64) {
	if delta <= 0 {
		return
	}
	o.mu.Lock()
	o.bytesProcessed += delta
	o.mu.Unlock()
}

func (o *Operation) recordResult(r FileResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.filesProcessed++
	switch {
	case r.Skipped:
		o.filesSkipped++
	case r.Success:
		o.filesSucceeded++
	default:
		o.filesFailed++
		if r.Error != "" {
			o.errors = append(o.errors, fmt.Sprintf("%s: %s", r.Path, r.Error))
		}
	}
	o.results = append(o.results, r)
}

func (o *Operation) addWarning(w string) {
	o.mu.Lock()
	o.warnings = append(o.warnings, w)
	o.mu.Unlock()
}

func (o *Operation) addError(e string) {
	o.mu.Lock()
	o.errors = append(o.errors, e)
	o.mu.Unlock()
}

// Snapshot is a read-only copy of an operation's state.
type Snapshot struct {
	ID             string       `json:"id"`
	ProjectName    string       `json:"project"`
	SourceType     source.Type  `json:"source_type"`
	Location       string       `json:"location"`
	Status         Status       `json:"status"`
	DryRun         bool         `json:"dry_run,omitempty"`
	FilesTotal     int64        `json:"files_total"`
	FilesProcessed int64        `json:"files_processed"`
	FilesSucceeded int64        `json:"files_succeeded"`
	FilesFailed    int64        `json:"files_failed"`
	FilesSkipped   int64        `json:"files_skipped"`
	BytesTotal     int64        `json:"bytes_total"`
	BytesProcessed int64        `json:"bytes_processed"`
	Errors         []string     `json:"errors,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
	Results        []FileResult `json:"results,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}

// Snapshot copies the operation state under the lock.
func (o *Operation) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		ID:             o.ID,
		ProjectName:    o.ProjectName,
		SourceType:     o.SourceType,
		Location:       o.Location,
		Status:         o.status,
		DryRun:         o.DryRun,
		FilesTotal:     o.filesTotal,
		FilesProcessed: o.filesProcessed,
		FilesSucceeded: o.filesSucceeded,
		FilesFailed:    o.filesFailed,
		FilesSkipped:   o.filesSkipped,
		BytesTotal:     o.bytesTotal,
		BytesProcessed: o.bytesProcessed,
		Errors:         append([]string(nil), o.errors...),
		Warnings:       append([]string(nil), o.warnings...),
		Results:        append([]FileResult(nil), o.results...),
		StartedAt:      o.startedAt,
		CompletedAt:    o.completedAt,
	}
}
