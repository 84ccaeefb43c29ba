package source

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/docbro/docbro/internal/logger"
)

// anonymous login applies when the spec carries no credentials.
const (
	ftpAnonymousUser = "anonymous"
	ftpAnonymousPass = "anonymous@"
	ftpDefaultPort   = "21"
)

// FTPAdapter fetches files over FTP in passive mode. A control connection
// serializes its commands, so each caller checks one out for exclusive use
// and returns it when done; idle connections are pooled per dial address and
// credential identity.
type FTPAdapter struct {
	mu   sync.Mutex
	idle map[string][]*ftp.ServerConn
}

// NewFTPAdapter creates the FTP adapter.
func NewFTPAdapter() *FTPAdapter {
	return &FTPAdapter{idle: make(map[string][]*ftp.ServerConn)}
}

func (a *FTPAdapter) Scheme() Type { return TypeFTP }

// ftpTarget splits an ftp:// location into dial address and remote path.
func ftpTarget(location string) (addr, remotePath string, err error) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("malformed ftp location %q", location)
	}
	if u.Scheme != "ftp" {
		return "", "", fmt.Errorf("location %q is not an ftp url", location)
	}
	host := u.Host
	if u.Port() == "" {
		host += ":" + ftpDefaultPort
	}
	return host, strings.TrimPrefix(u.Path, "/"), nil
}

// ftpPoolKey identifies pooled connections by dial address and credential
// identity, so different logins never share a control connection.
func ftpPoolKey(addr string, creds Credentials) string {
	return addr + "|" + creds.Identity()
}

// popIdle takes an idle connection for the key, if any.
func (a *FTPAdapter) popIdle(key string) *ftp.ServerConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	conns := a.idle[key]
	if len(conns) == 0 {
		return nil
	}
	c := conns[len(conns)-1]
	a.idle[key] = conns[:len(conns)-1]
	return c
}

// checkin returns a healthy connection to the idle pool. Broken connections
// are quit and dropped.
func (a *FTPAdapter) checkin(key string, c *ftp.ServerConn, broken bool) {
	if c == nil {
		return
	}
	if broken {
		_ = c.Quit()
		return
	}
	a.mu.Lock()
	a.idle[key] = append(a.idle[key], c)
	a.mu.Unlock()
}

// checkout returns a logged-in connection for exclusive use, dialing when no
// idle one exists. The caller must checkin when done.
func (a *FTPAdapter) checkout(ctx context.Context, spec Spec) (conn *ftp.ServerConn, remotePath, key string, err error) {
	addr, remotePath, err := ftpTarget(spec.Location)
	if err != nil {
		return nil, "", "", err
	}
	key = ftpPoolKey(addr, spec.Credentials)

	if c := a.popIdle(key); c != nil {
		return c, remotePath, key, nil
	}

	c, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(spec.timeout()),
	)
	if err != nil {
		return nil, "", "", fmt.Errorf("ftp dial %s: %w", addr, err)
	}

	user, pass := spec.Credentials.Username, spec.Credentials.Password
	if user == "" {
		user, pass = ftpAnonymousUser, ftpAnonymousPass
	}
	if err := c.Login(user, pass); err != nil {
		_ = c.Quit()
		return nil, "", "", fmt.Errorf("%w: ftp login to %s: %v", ErrAuth, addr, err)
	}
	return c, remotePath, key, nil
}

func (a *FTPAdapter) Validate(ctx context.Context, spec Spec) ValidationResult {
	c, remotePath, key, err := a.checkout(ctx, spec)
	if err != nil {
		return invalid("%v", err)
	}
	defer a.checkin(key, c, false)

	if remotePath != "" {
		if _, err := c.List(remotePath); err != nil {
			if _, sizeErr := c.FileSize(remotePath); sizeErr != nil {
				return invalid("remote path %q is not accessible: %v", remotePath, err)
			}
		}
	}
	return ValidationResult{OK: true}
}

func (a *FTPAdapter) List(ctx context.Context, spec Spec, recursive bool, exclude []string) ([]FileInfo, error) {
	c, remotePath, key, err := a.checkout(ctx, spec)
	if err != nil {
		return nil, err
	}
	out, err := a.listDir(ctx, c, remotePath, recursive, exclude)
	a.checkin(key, c, err != nil)
	return out, err
}

func (a *FTPAdapter) listDir(ctx context.Context, c *ftp.ServerConn, dir string, recursive bool, exclude []string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := c.List(dir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %q: %w", dir, err)
	}

	var out []FileInfo
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		full := path.Join(dir, e.Name)
		switch e.Type {
		case ftp.EntryTypeFolder:
			if !recursive {
				continue
			}
			sub, err := a.listDir(ctx, c, full, recursive, exclude)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case ftp.EntryTypeFile:
			if Excluded(full, exclude) {
				continue
			}
			mod := e.Time
			out = append(out, FileInfo{
				Path:    full,
				Name:    e.Name,
				Size:    int64(e.Size),
				ModTime: &mod,
			})
		}
	}
	return out, nil
}

func (a *FTPAdapter) Stat(ctx context.Context, spec Spec, remotePath string) (*FileInfo, error) {
	c, _, key, err := a.checkout(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer a.checkin(key, c, false)

	fi := &FileInfo{Path: remotePath, Name: path.Base(remotePath), Size: -1}
	if entry, err := c.GetEntry(remotePath); err == nil {
		fi.Size = int64(entry.Size)
		mod := entry.Time
		fi.ModTime = &mod
		fi.IsDir = entry.Type == ftp.EntryTypeFolder
		return fi, nil
	}
	// MLST unsupported; fall back to SIZE and MDTM.
	size, err := c.FileSize(remotePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	fi.Size = size
	if mod, err := c.GetTime(remotePath); err == nil {
		fi.ModTime = &mod
	}
	return fi, nil
}

func (a *FTPAdapter) Fetch(ctx context.Context, spec Spec, remotePath, localPath string, progress ProgressFunc) error {
	return a.fetchFrom(ctx, spec, remotePath, localPath, 0, progress)
}

func (a *FTPAdapter) Resume(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	return a.fetchFrom(ctx, spec, remotePath, localPath, offset, progress)
}

func (a *FTPAdapter) fetchFrom(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	c, _, key, err := a.checkout(ctx, spec)
	if err != nil {
		return err
	}

	total := int64(0)
	if size, err := c.FileSize(remotePath); err == nil {
		total = size
		if offset > 0 && offset >= size {
			a.checkin(key, c, false)
			return ErrAlreadyComplete
		}
	}

	resp, err := c.RetrFrom(remotePath, uint64(offset))
	if err != nil {
		a.checkin(key, c, true)
		return fmt.Errorf("ftp retr %q: %w", remotePath, err)
	}

	err = func() error {
		defer resp.Close()
		return fetchToFile(ctx, localPath, resp, offset, total, progress)
	}()
	// An aborted transfer leaves the control connection mid-RETR.
	a.checkin(key, c, err != nil)
	return err
}

func (a *FTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for key, conns := range a.idle {
		for _, c := range conns {
			if err := c.Quit(); err != nil {
				logger.Warn("ftp quit failed", logger.KeyLocation, key, logger.KeyError, err.Error())
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		delete(a.idle, key)
	}
	return firstErr
}
