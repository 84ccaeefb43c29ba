package upload

import (
	"sync"
	"time"

	"github.com/docbro/docbro/internal/bytesize"
)

// progressGranularity is the minimum bytes-progress delta that produces a
// new event for the same file. File-completion and stage changes always
// emit.
const progressGranularity = int64(bytesize.MiB)

// EventType distinguishes reporter events.
type EventType string

const (
	EventStarted   EventType = "started"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
)

// Update is one progress report from a worker.
type Update struct {
	OperationID    string `json:"operation_id"`
	Stage          string `json:"stage,omitempty"`
	CurrentFile    string `json:"current_file,omitempty"`
	FilesProcessed int64  `json:"files_processed"`
	FilesTotal     int64  `json:"files_total"`
	BytesProcessed int64  `json:"bytes_processed"`
	BytesTotal     int64  `json:"bytes_total"`
	Message        string `json:"message,omitempty"`
}

// Event is what listeners receive.
type Event struct {
	Type    EventType `json:"type"`
	Update  Update    `json:"update"`
	Summary *Summary  `json:"summary,omitempty"`
}

// Listener receives events synchronously on the reporting worker.
type Listener func(Event)

// Summary describes a finished operation.
type Summary struct {
	OperationID string        `json:"operation_id"`
	Description string        `json:"description"`
	Success     bool          `json:"success"`
	Message     string        `json:"message,omitempty"`
	Duration    time.Duration `json:"duration"`
	// SuccessRate is files_processed over files_total, 1.0 when no files
	// were expected.
	SuccessRate float64  `json:"success_rate"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

type trackedOperation struct {
	description   string
	startTime     time.Time
	last          Update
	lastFileBytes int64
	lastFile      string
	errors        []string
	warnings      []string
	active        bool
}

// Reporter aggregates per-operation progress and fans events out to
// listeners. It is transport-neutral; renderers subscribe via Listen.
type Reporter struct {
	mu        sync.Mutex
	ops       map[string]*trackedOperation
	listeners []Listener
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{ops: make(map[string]*trackedOperation)}
}

// Listen subscribes a listener. Listeners run synchronously; keep them
// cheap.
func (r *Reporter) Listen(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *Reporter) emit(e Event) {
	for _, l := range r.listeners {
		l(e)
	}
}

// Start registers a new operation.
func (r *Reporter) Start(operationID, description string) {
	r.mu.Lock()
	r.ops[operationID] = &trackedOperation{
		description: description,
		startTime:   time.Now().UTC(),
		active:      true,
	}
	listeners := r.listeners
	r.mu.Unlock()

	e := Event{Type: EventStarted, Update: Update{OperationID: operationID, Message: description}}
	for _, l := range listeners {
		l(e)
	}
}

// Update records progress. Bytes-only updates for the same file are
// coalesced to at most one event per MiB; anything else always emits.
func (r *Reporter) Update(u Update) {
	r.mu.Lock()
	t, ok := r.ops[u.OperationID]
	if !ok || !t.active {
		r.mu.Unlock()
		return
	}

	emit := true
	sameFile := u.CurrentFile == t.lastFile
	bytesOnly := sameFile &&
		u.Stage == t.last.Stage &&
		u.FilesProcessed == t.last.FilesProcessed &&
		u.Message == ""
	if bytesOnly && u.BytesProcessed-t.lastFileBytes < progressGranularity {
		emit = false
	}
	if emit {
		t.lastFileBytes = u.BytesProcessed
	}
	if !sameFile {
		t.lastFileBytes = u.BytesProcessed
	}
	t.lastFile = u.CurrentFile
	t.last = u
	listeners := r.listeners
	r.mu.Unlock()

	if emit {
		e := Event{Type: EventUpdated, Update: u}
		for _, l := range listeners {
			l(e)
		}
	}
}

// Error attaches an error line to an operation.
func (r *Reporter) Error(operationID, message string) {
	r.mu.Lock()
	if t, ok := r.ops[operationID]; ok {
		t.errors = append(t.errors, message)
	}
	r.mu.Unlock()
}

// Warn attaches a warning line to an operation.
func (r *Reporter) Warn(operationID, message string) {
	r.mu.Lock()
	if t, ok := r.ops[operationID]; ok {
		t.warnings = append(t.warnings, message)
	}
	r.mu.Unlock()
}

// Complete finalizes an operation and returns its summary. Further updates
// for the id are dropped.
func (r *Reporter) Complete(operationID string, success bool, message string) *Summary {
	r.mu.Lock()
	t, ok := r.ops[operationID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	t.active = false

	rate := 1.0
	if t.last.FilesTotal > 0 {
		rate = float64(t.last.FilesProcessed) / float64(t.last.FilesTotal)
	}
	summary := &Summary{
		OperationID: operationID,
		Description: t.description,
		Success:     success,
		Message:     message,
		Duration:    time.Since(t.startTime),
		SuccessRate: rate,
		Errors:      append([]string(nil), t.errors...),
		Warnings:    append([]string(nil), t.warnings...),
	}
	listeners := r.listeners
	last := t.last
	r.mu.Unlock()

	last.OperationID = operationID
	last.Message = message
	e := Event{Type: EventCompleted, Update: last, Summary: summary}
	for _, l := range listeners {
		l(e)
	}
	return summary
}

// Snapshot returns the last update seen for an operation.
func (r *Reporter) Snapshot(operationID string) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.ops[operationID]
	if !ok {
		return Update{}, false
	}
	return t.last, true
}

// ActiveOperations lists ids of operations that have started but not
// completed.
func (r *Reporter) ActiveOperations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, t := range r.ops {
		if t.active {
			out = append(out, id)
		}
	}
	return out
}

// Forget drops a completed operation's tracking state. Used by the history
// janitor.
func (r *Reporter) Forget(operationID string) {
	r.mu.Lock()
	delete(r.ops, operationID)
	r.mu.Unlock()
}
