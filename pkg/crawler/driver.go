// Package crawler defines the crawler-driver boundary for crawling
// projects. The HTML crawler engine itself lives outside docbro; the
// crawling handler constructs a driver through an injected factory and
// polls session state through the registry in this package.
package crawler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("crawl session not found")

// Config parameterizes one crawl run.
type Config struct {
	URL              string
	MaxDepth         int
	RateLimit        float64 // requests per second
	UserAgent        string
	FollowRedirects  bool
	RespectRobotsTxt bool
	OutputDirectory  string
}

// Stats is the driver's view of a running crawl.
type Stats struct {
	PagesCrawled int64
	PagesFailed  int64
	BytesFetched int64
	QueueDepth   int64
}

// Driver is the opaque crawler-engine contract. Start is fire-and-forget:
// it returns once the crawl has been scheduled; progress is observed through
// Stats polling.
type Driver interface {
	Start(ctx context.Context, cfg Config) error
	Stats() Stats
	Stop(ctx context.Context) error
}

// Factory builds a driver for one crawl session.
type Factory func(cfg Config) (Driver, error)

// SessionState describes the lifecycle of a crawl session.
type SessionState string

const (
	SessionRunning  SessionState = "running"
	SessionStopped  SessionState = "stopped"
	SessionFinished SessionState = "finished"
	SessionFailed   SessionState = "failed"
)

// Session is one tracked crawl.
type Session struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	URL       string       `json:"url"`
	Depth     int          `json:"depth"`
	State     SessionState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	StoppedAt *time.Time   `json:"stopped_at,omitempty"`
	Error     string       `json:"error,omitempty"`

	driver Driver
}

// Stats returns the driver's live statistics for this session.
func (s *Session) Stats() Stats {
	if s.driver == nil {
		return Stats{}
	}
	return s.driver.Stats()
}

// Registry tracks crawl sessions per project. Sessions are ephemeral and
// kept in memory only; one registry serves every crawling project, so all
// lookups carry the owning project's id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Track registers a new session for a started driver and returns its id.
func (r *Registry) Track(projectID, url string, depth int, driver Driver) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		URL:       url,
		Depth:     depth,
		State:     SessionRunning,
		StartedAt: time.Now().UTC(),
		driver:    driver,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Active returns all sessions currently in the running state.
func (r *Registry) Active() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.State == SessionRunning {
			out = append(out, s)
		}
	}
	return out
}

// ActiveFor returns one project's running sessions.
func (r *Registry) ActiveFor(projectID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.ProjectID == projectID && s.State == SessionRunning {
			out = append(out, s)
		}
	}
	return out
}

// Stop stops a running session's driver and marks it stopped.
func (r *Registry) Stop(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.State != SessionRunning {
		return nil
	}
	if s.driver != nil {
		if err := s.driver.Stop(ctx); err != nil {
			s.State = SessionFailed
			s.Error = err.Error()
			return err
		}
	}
	now := time.Now().UTC()
	s.State = SessionStopped
	s.StoppedAt = &now
	return nil
}

// StopProject stops one project's running sessions, returning the first
// error. Other projects' sessions are untouched.
func (r *Registry) StopProject(ctx context.Context, projectID string) error {
	var firstErr error
	for _, s := range r.ActiveFor(projectID) {
		if err := r.Stop(ctx, s.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAll stops every running session, returning the first error.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	for _, s := range r.Active() {
		if err := r.Stop(ctx, s.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
