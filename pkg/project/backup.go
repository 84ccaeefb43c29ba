package project

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BackupProject copies a project's directory tree into a timestamped folder
// under backupRoot and writes a project.json manifest describing the backed
// up project. It returns the backup directory path.
func BackupProject(p *Project, backupRoot string) (string, error) {
	stamp := time.Now().UTC().Format("20060102_150405")
	dest := filepath.Join(backupRoot, fmt.Sprintf("%s_%s", p.Name, stamp))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	manifest, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dest, "project.json"), manifest, 0o644); err != nil {
		return "", err
	}

	if err := copyTree(p.Dir, filepath.Join(dest, "data")); err != nil {
		return "", fmt.Errorf("failed to copy project tree: %w", err)
	}
	return dest, nil
}

// copyTree recursively copies src into dst, preserving file modes. Symlinks
// are skipped.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFileMode(path, target, info.Mode())
	})
}

func copyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
