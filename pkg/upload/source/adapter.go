// Package source implements the per-scheme upload source adapters: local
// filesystem, FTP, SFTP, SMB and HTTP(S). Adapters share one contract
// (validate, list, stat, fetch, optional resume, close) and own their
// connection pools; the upload manager treats them uniformly.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Type identifies a source scheme.
type Type string

const (
	TypeLocal Type = "local"
	TypeFTP   Type = "ftp"
	TypeSFTP  Type = "sftp"
	TypeSMB   Type = "smb"
	TypeHTTP  Type = "http"
	TypeHTTPS Type = "https"
)

// ParseType validates and normalizes a source type string.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeLocal, TypeFTP, TypeSFTP, TypeSMB, TypeHTTP, TypeHTTPS:
		return t, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// Sentinel errors shared across adapters.
var (
	// ErrResumeUnsupported is returned by adapters that cannot continue a
	// partial download.
	ErrResumeUnsupported = errors.New("resume not supported by this source type")

	// ErrAlreadyComplete signals that the requested resume offset covers
	// the whole resource; the local file needs no more bytes.
	ErrAlreadyComplete = errors.New("download already complete")

	// ErrAuth marks authentication failures. Never retried.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound marks a missing remote resource. Never retried.
	ErrNotFound = errors.New("remote resource not found")
)

// DefaultTimeout applies when a spec carries no per-connection timeout.
const DefaultTimeout = 30 * time.Second

// fetchChunkSize is the streaming unit for every adapter.
const fetchChunkSize = 64 * 1024

// Credentials authenticates a source. Which fields apply depends on the
// scheme; unused fields are ignored.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	// Token is a bearer token for HTTP sources.
	Token string `json:"-"`
	// Key is an inline SSH private key; KeyPath points at one on disk.
	// For SFTP the precedence is password, then Key, then KeyPath.
	Key     string `json:"-"`
	KeyPath string `json:"key_path,omitempty"`
	// Header and HeaderValue supply a custom HTTP auth header.
	Header      string `json:"header,omitempty"`
	HeaderValue string `json:"-"`
}

// Empty reports whether no credential material is present.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == "" && c.Token == "" &&
		c.Key == "" && c.KeyPath == "" && c.Header == ""
}

// Identity is a stable, non-secret key for pooling connections per
// credential. Secrets participate via presence, not value.
func (c Credentials) Identity() string {
	parts := []string{c.Username, c.KeyPath, c.Header}
	if c.Password != "" {
		parts = append(parts, "pw")
	}
	if c.Token != "" {
		parts = append(parts, "tok")
	}
	if c.Key != "" {
		parts = append(parts, "key")
	}
	return strings.Join(parts, "|")
}

// Spec describes one upload source.
type Spec struct {
	Type        Type
	Location    string
	Credentials Credentials

	// FollowSymlinks applies to local listings.
	FollowSymlinks bool
	// InsecureTLS disables certificate verification for HTTPS sources.
	InsecureTLS bool
	// Timeout is the per-connection timeout; zero means DefaultTimeout.
	Timeout time.Duration
}

func (s Spec) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// FileInfo describes one remote file.
type FileInfo struct {
	// Path is the adapter-relative path used for Fetch.
	Path string
	// Name is the base filename the file should be stored under.
	Name     string
	Size     int64 // -1 when unknown
	MimeType string
	IsDir    bool
	ModTime  *time.Time
}

// ProgressFunc receives bytes-read progress. total is 0 when unknown.
type ProgressFunc func(done, total int64)

// ValidationResult is the adapter's pre-flight verdict on a spec.
type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{Errors: []string{fmt.Sprintf(format, args...)}}
}

// Adapter is the per-scheme source contract. Implementations own their
// connection pools; Close releases everything.
type Adapter interface {
	// Scheme identifies the source type this adapter serves.
	Scheme() Type

	// Validate checks the spec without transferring data. Network
	// adapters may connect to verify reachability and credentials.
	Validate(ctx context.Context, spec Spec) ValidationResult

	// List enumerates remote files under the spec's location. Exclude
	// patterns are shell globs matched against base names.
	List(ctx context.Context, spec Spec, recursive bool, exclude []string) ([]FileInfo, error)

	// Stat describes one remote path.
	Stat(ctx context.Context, spec Spec, path string) (*FileInfo, error)

	// Fetch streams a remote file to localPath in 64 KiB chunks,
	// reporting progress per chunk and honoring ctx between chunks.
	Fetch(ctx context.Context, spec Spec, remotePath, localPath string, progress ProgressFunc) error

	// Resume continues a partial download from offset, appending to
	// localPath. Adapters without resume return ErrResumeUnsupported.
	Resume(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error

	// Close releases pooled connections.
	Close() error
}

// Registry maps source types to adapters.
type Registry struct {
	adapters map[Type]Adapter
}

// NewRegistry creates a registry with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[Type]Adapter)}
	httpAdapter := NewHTTPAdapter()
	for _, a := range []Adapter{
		NewLocalAdapter(),
		NewFTPAdapter(),
		NewSFTPAdapter(),
		NewSMBAdapter(),
		httpAdapter,
	} {
		r.adapters[a.Scheme()] = a
	}
	// http and https share one pooled adapter.
	r.adapters[TypeHTTPS] = httpAdapter
	return r
}

// Get returns the adapter for a source type.
func (r *Registry) Get(t Type) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no adapter for source type %q", t)
	}
	return a, nil
}

// CloseAll releases every adapter's pooled connections.
func (r *Registry) CloseAll() error {
	var firstErr error
	seen := map[Adapter]struct{}{}
	for _, a := range r.adapters {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// copyChunks streams src to dst in 64 KiB chunks, checking ctx and invoking
// progress between chunks. startOffset seeds the done counter for resumes.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, startOffset, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, fetchChunkSize)
	done := startOffset
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return done, err
			}
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if readErr == io.EOF {
			return done, nil
		}
		if readErr != nil {
			return done, readErr
		}
	}
}

// fetchToFile runs copyChunks into a freshly created (or appended) local
// file, syncing before close.
func fetchToFile(ctx context.Context, localPath string, src io.Reader, offset, total int64, progress ProgressFunc) error {
	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(localPath, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := copyChunks(ctx, f, src, offset, total, progress); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
