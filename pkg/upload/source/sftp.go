package source

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/docbro/docbro/internal/logger"
)

const sftpDefaultPort = "22"

type sftpConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpConn) close() {
	if c.sftp != nil {
		_ = c.sftp.Close()
	}
	if c.ssh != nil {
		_ = c.ssh.Close()
	}
}

// SFTPAdapter fetches files over SFTP. Sessions are pooled per host and
// credential identity.
type SFTPAdapter struct {
	mu   sync.Mutex
	pool map[string]*sftpConn
}

// NewSFTPAdapter creates the SFTP adapter.
func NewSFTPAdapter() *SFTPAdapter {
	return &SFTPAdapter{pool: make(map[string]*sftpConn)}
}

func (a *SFTPAdapter) Scheme() Type { return TypeSFTP }

func sftpTarget(location string) (addr, user, remotePath string, err error) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", "", "", fmt.Errorf("malformed sftp location %q", location)
	}
	if u.Scheme != "sftp" {
		return "", "", "", fmt.Errorf("location %q is not an sftp url", location)
	}
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":" + sftpDefaultPort
	}
	return host, u.User.Username(), strings.TrimPrefix(u.Path, "/"), nil
}

// authMethods builds the SSH auth chain: password first, then inline key,
// then key file.
func authMethods(creds Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if creds.Key != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.Key))
		if err != nil {
			return nil, fmt.Errorf("invalid inline ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.KeyPath != "" {
		raw, err := os.ReadFile(creds.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read ssh key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ssh key file %s: %w", creds.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("sftp requires a password or ssh key")
	}
	return methods, nil
}

func (a *SFTPAdapter) conn(_ context.Context, spec Spec) (*sftp.Client, string, error) {
	addr, urlUser, remotePath, err := sftpTarget(spec.Location)
	if err != nil {
		return nil, "", err
	}
	user := spec.Credentials.Username
	if user == "" {
		user = urlUser
	}
	if user == "" {
		return nil, "", fmt.Errorf("sftp requires a username")
	}

	key := addr + "|" + user + "|" + spec.Credentials.Identity()
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.pool[key]; ok {
		return c.sftp, remotePath, nil
	}

	methods, err := authMethods(spec.Credentials)
	if err != nil {
		return nil, "", err
	}
	sshClient, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: user,
		Auth: methods,
		// Auto-add policy: unknown host keys are accepted.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         spec.timeout(),
	})
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, "", fmt.Errorf("%w: sftp login to %s: %v", ErrAuth, addr, err)
		}
		return nil, "", fmt.Errorf("sftp dial %s: %w", addr, err)
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, "", fmt.Errorf("sftp session on %s: %w", addr, err)
	}

	a.pool[key] = &sftpConn{ssh: sshClient, sftp: client}
	return client, remotePath, nil
}

func (a *SFTPAdapter) Validate(ctx context.Context, spec Spec) ValidationResult {
	client, remotePath, err := a.conn(ctx, spec)
	if err != nil {
		return invalid("%v", err)
	}
	if remotePath != "" {
		if _, err := client.Stat(remotePath); err != nil {
			return invalid("remote path %q is not accessible: %v", remotePath, err)
		}
	}
	return ValidationResult{OK: true}
}

func (a *SFTPAdapter) List(ctx context.Context, spec Spec, recursive bool, exclude []string) ([]FileInfo, error) {
	client, remotePath, err := a.conn(ctx, spec)
	if err != nil {
		return nil, err
	}

	root, err := client.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	if !root.IsDir() {
		if Excluded(remotePath, exclude) {
			return nil, nil
		}
		return []FileInfo{sftpFileInfo(remotePath, root)}, nil
	}
	return a.listDir(ctx, client, remotePath, recursive, exclude)
}

func (a *SFTPAdapter) listDir(ctx context.Context, client *sftp.Client, dir string, recursive bool, exclude []string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sftp readdir %q: %w", dir, err)
	}

	var out []FileInfo
	for _, e := range entries {
		full := path.Join(dir, e.Name())
		if e.IsDir() {
			if !recursive {
				continue
			}
			sub, err := a.listDir(ctx, client, full, recursive, exclude)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if Excluded(full, exclude) {
			continue
		}
		out = append(out, sftpFileInfo(full, e))
	}
	return out, nil
}

func (a *SFTPAdapter) Stat(ctx context.Context, spec Spec, remotePath string) (*FileInfo, error) {
	client, _, err := a.conn(ctx, spec)
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	fi := sftpFileInfo(remotePath, info)
	return &fi, nil
}

func (a *SFTPAdapter) Fetch(ctx context.Context, spec Spec, remotePath, localPath string, progress ProgressFunc) error {
	return a.fetchFrom(ctx, spec, remotePath, localPath, 0, progress)
}

// Resume seeks the remote file to offset and appends locally.
func (a *SFTPAdapter) Resume(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	return a.fetchFrom(ctx, spec, remotePath, localPath, offset, progress)
}

func (a *SFTPAdapter) fetchFrom(ctx context.Context, spec Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	client, _, err := a.conn(ctx, spec)
	if err != nil {
		return err
	}

	f, err := client.Open(remotePath)
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

func (a *SFTPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, c := range a.pool {
		c.close()
		delete(a.pool, key)
	}
	logger.Debug("sftp pool closed")
	return nil
}

func sftpFileInfo(path string, info os.FileInfo) FileInfo {
	mod := info.ModTime()
	return FileInfo{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: &mod,
	}
}
