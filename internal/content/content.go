// Package content manages the on-disk release content hierarchy. All paths
// live under one state directory on a single filesystem so that rename and
// hard-link operations are atomic.
package content

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// Subdirectories ensured under the state directory at startup.
var layout = []string{"downloads", "finished", "unfinished", "tmp", "audit", "runtime"}

// DirMode is the normalized mode for every directory in the hierarchy.
const DirMode = 0o755

// staleStagingAge is how long an abandoned staging directory survives before
// startup cleanup removes it.
const staleStagingAge = 24 * time.Hour

// Store exposes the content-store primitives rooted at a state directory.
type Store struct {
	base string
}

// NewStore creates a Store rooted at base. The base must be an absolute path.
func NewStore(base string) (*Store, error) {
	const op = "content.NewStore"

	if !filepath.IsAbs(base) {
		return nil, atrerrors.Fatal(op, fmt.Sprintf("state directory %q must be absolute", base))
	}
	return &Store{base: base}, nil
}

// Base returns the state directory root.
func (s *Store) Base() string { return s.base }

// UnfinishedDir is the mutable-until-sealed revision directory.
func (s *Store) UnfinishedDir(project, version, revision string) string {
	return filepath.Join(s.base, "unfinished", project, version, revision)
}

// ReleaseDir is the per-release parent of all revision directories.
func (s *Store) ReleaseDir(project, version string) string {
	return filepath.Join(s.base, "unfinished", project, version)
}

// FinishedDir is the hard-linked public mirror for an announced release.
func (s *Store) FinishedDir(committee, pathSuffix string) string {
	return filepath.Join(s.base, "finished", committee, filepath.FromSlash(pathSuffix))
}

// DownloadsDir is the public download mirror, hard-linked to finished.
func (s *Store) DownloadsDir(committee, pathSuffix string) string {
	return filepath.Join(s.base, "downloads", committee, filepath.FromSlash(pathSuffix))
}

// AuditDir holds append-only audit logs.
func (s *Store) AuditDir() string { return filepath.Join(s.base, "audit") }

// RuntimeDir holds lock files and other process-local runtime state.
func (s *Store) RuntimeDir() string { return filepath.Join(s.base, "runtime") }

// EnsureLayout creates the standard subdirectories and removes staging
// directories abandoned by crashed workers.
func (s *Store) EnsureLayout(ctx context.Context) error {
	const op = "content.EnsureLayout"

	for _, dir := range layout {
		if err := os.MkdirAll(filepath.Join(s.base, dir), DirMode); err != nil {
			return atrerrors.IOWrap(err, op, "failed to create state subdirectory")
		}
	}
	return s.cleanStaleStaging(ctx)
}

func (s *Store) cleanStaleStaging(ctx context.Context) error {
	const op = "content.cleanStaleStaging"

	entries, err := os.ReadDir(filepath.Join(s.base, "tmp"))
	if err != nil {
		return atrerrors.IOWrap(err, op, "failed to read staging directory")
	}
	cutoff := time.Now().Add(-staleStagingAge)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.base, "tmp", entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return atrerrors.IOWrap(err, op, "failed to remove stale staging directory")
		}
	}
	return nil
}

// NewStagingDir allocates a fresh staging directory under tmp/ with a unique
// token prefix. The caller owns cleanup.
func (s *Store) NewStagingDir() (string, error) {
	const op = "content.NewStagingDir"

	path := filepath.Join(s.base, "tmp", uuid.NewString()+"-staging")
	if err := os.MkdirAll(path, DirMode); err != nil {
		return "", atrerrors.IOWrap(err, op, "failed to create staging directory")
	}
	return path, nil
}

// CloneByHardlink mirrors the tree at src into dst using hard links, so the
// clone shares storage with the source. With existOK, files already present
// in dst are left alone instead of failing. With dryRun, nothing is created;
// the walk only reports the collisions that a real run would hit.
func (s *Store) CloneByHardlink(src, dst string, existOK, dryRun bool) error {
	const op = "content.CloneByHardlink"

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return atrerrors.IOWrap(err, op, "failed to walk source tree")
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return atrerrors.IOWrap(err, op, "failed to relativize path")
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if dryRun {
				return nil
			}
			if err := os.MkdirAll(target, DirMode); err != nil {
				return atrerrors.IOWrap(err, op, "failed to create directory")
			}
			return nil
		}

		if _, err := os.Lstat(target); err == nil {
			if existOK {
				return nil
			}
			return atrerrors.Newf(atrerrors.KindConflict, "file %s already exists", rel)
		} else if !os.IsNotExist(err) {
			return atrerrors.IOWrap(err, op, "failed to stat target")
		}
		if dryRun {
			return nil
		}
		if err := os.Link(path, target); err != nil {
			return atrerrors.IOWrap(err, op, "failed to hard-link file")
		}
		return nil
	})
}

// AtomicRename moves a staged directory into place. The destination's parent
// is created first; src and dst must share a filesystem.
func (s *Store) AtomicRename(src, dst string) error {
	const op = "content.AtomicRename"

	if err := os.MkdirAll(filepath.Dir(dst), DirMode); err != nil {
		return atrerrors.IOWrap(err, op, "failed to create destination parent")
	}
	if err := os.Rename(src, dst); err != nil {
		return atrerrors.IOWrap(err, op, "failed to rename staging directory")
	}
	return nil
}

// RecursiveDelete removes a revision or release tree. Missing paths are not
// an error.
func (s *Store) RecursiveDelete(path string) error {
	const op = "content.RecursiveDelete"

	if err := os.RemoveAll(path); err != nil {
		return atrerrors.IOWrap(err, op, "failed to delete tree")
	}
	return nil
}

// ChmodDirectories normalizes every directory under path to DirMode.
func (s *Store) ChmodDirectories(path string) error {
	const op = "content.ChmodDirectories"

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return atrerrors.IOWrap(err, op, "failed to walk tree")
		}
		if !d.IsDir() {
			return nil
		}
		if err := os.Chmod(p, DirMode); err != nil {
			return atrerrors.IOWrap(err, op, "failed to chmod directory")
		}
		return nil
	})
}

// ListFiles returns the slash-separated relative paths of every regular file
// under dir, sorted by the walk order (lexical).
func (s *Store) ListFiles(dir string) ([]string, error) {
	const op = "content.ListFiles"

	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return atrerrors.IOWrap(err, op, "failed to walk tree")
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return atrerrors.IOWrap(err, op, "failed to relativize path")
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

// HasFiles reports whether dir contains at least one regular file.
func (s *Store) HasFiles(dir string) (bool, error) {
	files, err := s.ListFiles(dir)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// ReadFileLimited reads a file up to maxSize bytes, failing if the file is
// larger. Guards archive and metadata reads against oversized inputs.
func ReadFileLimited(path string, maxSize int64) ([]byte, error) {
	const op = "content.ReadFileLimited"

	f, err := os.Open(path)
	if err != nil {
		return nil, atrerrors.IOWrap(err, op, "failed to open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, atrerrors.IOWrap(err, op, "failed to stat file")
	}
	if info.Size() > maxSize {
		return nil, atrerrors.Newf(atrerrors.KindValidation, "file size %d exceeds limit %d", info.Size(), maxSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return nil, atrerrors.IOWrap(err, op, "failed to read file")
	}
	if int64(len(data)) > maxSize {
		return nil, atrerrors.Newf(atrerrors.KindValidation, "file size exceeds limit %d", maxSize)
	}
	return data, nil
}

// AtomicWriteFile writes data to path by writing a temp file in the same
// directory and renaming it into place.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	const op = "content.AtomicWriteFile"

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return atrerrors.IOWrap(err, op, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return atrerrors.IOWrap(err, op, "failed to set permissions")
	}
	if _, err := tmp.Write(data); err != nil {
		return atrerrors.IOWrap(err, op, "failed to write data")
	}
	if err := tmp.Sync(); err != nil {
		return atrerrors.IOWrap(err, op, "failed to sync file")
	}
	if err := tmp.Close(); err != nil {
		return atrerrors.IOWrap(err, op, "failed to close file")
	}
	tmp = nil

	if err := os.Rename(tmpPath, path); err != nil {
		return atrerrors.IOWrap(err, op, "failed to rename temp file")
	}
	return nil
}

// ValidatePathSuffix rejects path suffixes that escape the committee root.
func ValidatePathSuffix(suffix string) error {
	const op = "content.ValidatePathSuffix"

	if suffix == "" {
		return atrerrors.Validation(op, "path suffix must not be empty")
	}
	if strings.HasPrefix(suffix, "/") {
		return atrerrors.Validation(op, "path suffix must be relative")
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(suffix)))
	if clean != suffix || strings.HasPrefix(clean, "..") {
		return atrerrors.Newf(atrerrors.KindValidation, "path suffix %q is not normalized", suffix)
	}
	return nil
}
