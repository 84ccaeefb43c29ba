package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docbro/docbro/internal/logger"
)

// LocalAdapter reads files from the local filesystem. It is stateless; Close
// is a no-op.
type LocalAdapter struct{}

// NewLocalAdapter creates the local filesystem adapter.
func NewLocalAdapter() *LocalAdapter { return &LocalAdapter{} }

func (a *LocalAdapter) Scheme() Type { return TypeLocal }

func (a *LocalAdapter) Validate(_ context.Context, spec Spec) ValidationResult {
	if !spec.Credentials.Empty() {
		return invalid("local sources do not accept credentials")
	}
	info, err := os.Stat(spec.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return invalid("path does not exist: %s", spec.Location)
		}
		return invalid("path is not accessible: %v", err)
	}
	if info.IsDir() {
		if _, err := os.ReadDir(spec.Location); err != nil {
			return invalid("directory is not readable: %v", err)
		}
	} else {
		f, err := os.Open(spec.Location)
		if err != nil {
			return invalid("file is not readable: %v", err)
		}
		f.Close()
	}
	return ValidationResult{OK: true}
}

func (a *LocalAdapter) List(ctx context.Context, spec Spec, recursive bool, exclude []string) ([]FileInfo, error) {
	root, err := os.Stat(spec.Location)
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", spec.Location, err)
	}

	if !root.IsDir() {
		if Excluded(spec.Location, exclude) {
			return nil, nil
		}
		return []FileInfo{localFileInfo(spec.Location, root)}, nil
	}

	var out []FileInfo
	walk := func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != spec.Location {
				return filepath.SkipDir
			}
			return nil
		}

		resolved := path
		if d.Type()&os.ModeSymlink != 0 {
			if !spec.FollowSymlinks {
				return nil
			}
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				logger.Warn("skipping broken symlink", logger.KeyPath, path, logger.KeyError, err.Error())
				return nil
			}
			resolved = target
		}

		if Excluded(path, exclude) {
			return nil
		}
		info, err := os.Stat(resolved)
		if err != nil || info.IsDir() {
			return nil
		}
		fi := localFileInfo(resolved, info)
		fi.Path = path
		out = append(out, fi)
		return nil
	}
	if err := filepath.WalkDir(spec.Location, walk); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *LocalAdapter) Stat(_ context.Context, _ Spec, path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	fi := localFileInfo(path, info)
	return &fi, nil
}

func (a *LocalAdapter) Fetch(ctx context.Context, _ Spec, remotePath, localPath string, progress ProgressFunc) error {
	return a.fetchFrom(ctx, remotePath, localPath, 0, progress)
}

func (a *LocalAdapter) Resume(ctx context.Context, _ Spec, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	return a.fetchFrom(ctx, remotePath, localPath, offset, progress)
}

func (a *LocalAdapter) fetchFrom(ctx context.Context, remotePath, localPath string, offset int64, progress ProgressFunc) error {
	src, err := os.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, remotePath)
		}
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	if offset > 0 {
		if offset >= info.Size() {
			return ErrAlreadyComplete
		}
		if _, err := src.Seek(offset, 0); err != nil {
			return err
		}
	}
	return fetchToFile(ctx, localPath, src, offset, info.Size(), progress)
}

func (a *LocalAdapter) Close() error { return nil }

func localFileInfo(path string, info os.FileInfo) FileInfo {
	mod := info.ModTime()
	return FileInfo{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		IsDir:   info.IsDir(),
		ModTime: &mod,
	}
}
