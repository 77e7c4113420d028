package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirArchiver keeps artifacts on the local filesystem, one directory per job.
type DirArchiver struct {
	baseDir string
}

// NewDirArchiver creates baseDir if needed.
func NewDirArchiver(baseDir string) (*DirArchiver, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("archive directory is empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &DirArchiver{baseDir: baseDir}, nil
}

func (a *DirArchiver) Enabled() bool { return true }

// BaseDir returns the archive root.
func (a *DirArchiver) BaseDir() string {
	return a.baseDir
}

// JobDir returns the directory holding a job's artifacts.
func (a *DirArchiver) JobDir(jobID string) string {
	return filepath.Join(a.baseDir, safeSegment(jobID))
}

// Save writes data to <base>/<jobID>/<name>. An existing file is left in
// place, matching the create-only semantics of the bucket archiver.
func (a *DirArchiver) Save(ctx context.Context, jobID, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := a.JobDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	target := filepath.Join(dir, safeSegment(name))
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("archive %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("archive %s: %w", target, err)
	}
	return nil
}

// List returns the artifact names stored for a job.
func (a *DirArchiver) List(jobID string) ([]string, error) {
	entries, err := os.ReadDir(a.JobDir(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
