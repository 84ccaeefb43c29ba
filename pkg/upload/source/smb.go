package source

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/hirochachacha/go-smb2"
)

const smbDefaultPort = "445"

type smbMount struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

func (m *smbMount) close() {
	if m.share != nil {
		_ = m.share.Umount()
	}
	if m.session != nil {
		_ = m.session.Logoff()
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
}

// SMBAdapter fetches files from SMB shares. Mounts are pooled per
// host/share/credential identity.
type SMBAdapter struct {
	mu   sync.Mutex
	pool map[string]*smbMount
}

// NewSMBAdapter creates the SMB adapter.
func NewSMBAdapter() *SMBAdapter {
	return &SMBAdapter{pool: make(map[string]*smbMount)}
}

func (a *SMBAdapter) Scheme() Type { return TypeSMB }

// NormalizeSMB canonicalizes an SMB location to smb://host/share/path. UNC
// syntax (\\host\share\path) is accepted and rewritten.
func NormalizeSMB(location string) (string, error) {
	location = strings.TrimSpace(location)
	if strings.HasPrefix(location, `\\`) {
		parts := strings.Split(strings.TrimPrefix(location, `\\`), `\`)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("malformed UNC path %q (need \\\\host\\share)", location)
		}
		return "smb://" + strings.Join(parts, "/"), nil
	}
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "smb" || u.Host == "" {
		return "", fmt.Errorf("malformed smb location %q", location)
	}
	if strings.Trim(u.Path, "/") == "" {
		return "", fmt.Errorf("smb location %q names no share", location)
	}
	return "smb://" + u.Host + "/" + strings.Trim(u.Path, "/"), nil
}

// smbTarget splits a canonical location into host, share and path-in-share.
func smbTarget(location string) (host, share, remotePath string, err error) {
	canonical, err := NormalizeSMB(location)
	if err != nil {
		return "", "", "", err
	}
	rest := strings.TrimPrefix(canonical, "smb://")
	parts := strings.SplitN(rest, "/", 3)
	host = parts[0]
	share = parts[1]
	if len(parts) == 3 {
		remotePath = parts[2]
	}
	if !strings.Contains(host, ":") {
		host += ":" + smbDefaultPort
	}
	return host, share, remotePath, nil
}

func (a *SMBAdapter) mount(ctx context.Context, spec Spec) (*smb2.Share, string, error) {
	if spec.Credentials.Username == "" || spec.Credentials.Password == "" {
		return nil, "", fmt.Errorf("%w: smb requires username and password", ErrAuth)
	}
	host, share, remotePath, err := smbTarget(spec.Location)
	if err != nil {
		return nil, "", err
	}

	key := host + "/" + share + "|" + spec.Credentials.Identity()
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.pool[key]; ok {
		return m.share, remotePath, nil
	}

	conn, err := net.DialTimeout("tcp", host, spec.timeout())
	if err != nil {
		return nil, "", fmt.Errorf("smb dial %s: %w", host, err)
	}
	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     spec.Credentials.Username,
			Password: spec.Credentials.Password,
		},
	}
	session, err := dialer.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, "", fmt.Errorf("%w: smb session on %s: %v", ErrAuth, host, err)
	}
	mounted, err := session.Mount(share)
	if err != nil {
		_ = session.Logoff()
		_ = conn.Close()
		return nil, "", fmt.Errorf("smb mount %s on %s: %w", share, host, err)
	}

	a.pool[key] = &smbMount{conn: conn, session: session, share: mounted}
	return mounted, remotePath, nil
}

func (a *SMBAdapter) Validate(ctx context.Context, spec Spec) ValidationResult {
	share, remotePath, err := a.mount(ctx, spec)
	if err != nil {
		return invalid("%v", err)
	}
	if remotePath != "" {
		if _, err := share.Stat(remotePath); err != nil {
			return invalid("remote path %q is not accessible: %v", remotePath, err)
		}
	}
	return ValidationResult{OK: true}
}

func (a *SMBAdapter) List(ctx context.Context, spec Spec, recursive bool, exclude []string) ([]FileInfo, error) {
	share, remotePath, err := a.mount(ctx, spec)
	if err != nil {
		return nil, err
	}

	if remotePath != "" {
		root, err := share.Stat(remotePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, remotePath)
		}
		if !root.IsDir() {
			if Excluded(remotePath, exclude) {
				return nil, nil
			}
			return []FileInfo{smbFileInfo(remotePath, root)}, nil
		}
	}
	return a.listDir(ctx, share, remotePath, recursive, exclude)
}

func (a *SMBAdapter) listDir(ctx context.Context, share *smb2.Share, dir string, recursive bool, exclude []string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := share.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("smb readdir %q: %w", dir, err)
	}

	var out []FileInfo
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		full := name
		if dir != "" {
			full = path.Join(dir, name)
		}
		if e.IsDir() {
			if !recursive {
				continue
			}
			sub, err := a.listDir(ctx, share, full, recursive, exclude)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if Excluded(full, exclude) {
			continue
		}
		out = append(out, smbFileInfo(full, e))
	}
	return out, nil
}

func (a *SMBAdapter) Stat(ctx context.Context, spec Spec, remotePath string) (*FileInfo, error) {
	share, _, err := a.mount(ctx, spec)
	if err != nil {
		return nil, err
	}
	info, err := share.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	fi := smbFileInfo(remotePath, info)
	return &fi, nil
}

func (a *SMBAdapter) Fetch(ctx context.Context, spec Spec, remotePath, localPath string, progress ProgressFunc) error {
	return a.fetchFrom(ctx, spec, remotePath, localPath, 0, progress)
}

func (a *SMBAdapter) Resume(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	return a.fetchFrom(ctx, spec, remotePath, localPath, offset, progress)
}

func (a *SMBAdapter) fetchFrom(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	share, _, err := a.mount(ctx, spec)
	if err != nil {
		return err
	}
	f, err := share.Open(remotePath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	defer f.Close()

	total := int64(0)
	if info, err := f.Stat(); err == nil {
		total = info.Size()
		if offset > 0 && offset >= total {
			return ErrAlreadyComplete
		}
	}
	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			return err
		}
	}
	return fetchToFile(ctx, localPath, f, offset, total, progress)
}

func (a *SMBAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, m := range a.pool {
		m.close()
		delete(a.pool, key)
	}
	return nil
}

func smbFileInfo(path string, info os.FileInfo) FileInfo {
	mod := info.ModTime()
	return FileInfo{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: &mod,
	}
}
