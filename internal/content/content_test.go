package content

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureLayout(context.Background()))
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewStoreRequiresAbsolutePath(t *testing.T) {
	_, err := NewStore("relative/state")
	require.Error(t, err)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindFatal))
}

func TestEnsureLayoutCreatesHierarchy(t *testing.T) {
	s := newTestStore(t)

	for _, dir := range []string{"downloads", "finished", "unfinished", "tmp", "audit", "runtime"} {
		info, err := os.Stat(filepath.Join(s.Base(), dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestEnsureLayoutRemovesStaleStaging(t *testing.T) {
	s := newTestStore(t)

	stale := filepath.Join(s.Base(), "tmp", "dead-staging")
	require.NoError(t, os.MkdirAll(stale, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh, err := s.NewStagingDir()
	require.NoError(t, err)

	require.NoError(t, s.EnsureLayout(context.Background()))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestCloneByHardlinkSharesInodes(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(s.Base(), "tmp", "src")
	writeFile(t, filepath.Join(src, "example.txt"), "hello")
	writeFile(t, filepath.Join(src, "sub", "nested.txt"), "world")

	dst := filepath.Join(s.Base(), "tmp", "dst")
	require.NoError(t, s.CloneByHardlink(src, dst, false, false))

	for _, rel := range []string{"example.txt", "sub/nested.txt"} {
		a, err := os.Stat(filepath.Join(src, filepath.FromSlash(rel)))
		require.NoError(t, err)
		b, err := os.Stat(filepath.Join(dst, filepath.FromSlash(rel)))
		require.NoError(t, err)
		sa := a.Sys().(*syscall.Stat_t)
		sb := b.Sys().(*syscall.Stat_t)
		assert.Equal(t, sa.Ino, sb.Ino, "clone of %s must share the inode", rel)
	}
}

func TestCloneByHardlinkCollisions(t *testing.T) {
	s := newTestStore(t)

	src := filepath.Join(s.Base(), "tmp", "src")
	writeFile(t, filepath.Join(src, "example.txt"), "new")
	dst := filepath.Join(s.Base(), "tmp", "dst")
	writeFile(t, filepath.Join(dst, "example.txt"), "pre-existing")

	// Dry run reports the collision without touching anything.
	err := s.CloneByHardlink(src, dst, false, true)
	require.Error(t, err)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindConflict))

	// existOK keeps the pre-existing file.
	require.NoError(t, s.CloneByHardlink(src, dst, true, false))
	data, err := os.ReadFile(filepath.Join(dst, "example.txt"))
	require.NoError(t, err)
	assert.Equal(t, "pre-existing", string(data))
}

func TestAtomicRenameCreatesParent(t *testing.T) {
	s := newTestStore(t)

	staging, err := s.NewStagingDir()
	require.NoError(t, err)
	writeFile(t, filepath.Join(staging, "example.txt"), "hello")

	final := s.UnfinishedDir("test", "0.1", "00001")
	require.NoError(t, s.AtomicRename(staging, final))

	_, err = os.Stat(filepath.Join(final, "example.txt"))
	require.NoError(t, err)
	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err))
}

func TestChmodDirectories(t *testing.T) {
	s := newTestStore(t)

	root := filepath.Join(s.Base(), "tmp", "perms")
	writeFile(t, filepath.Join(root, "sub", "file.txt"), "x")
	require.NoError(t, os.Chmod(filepath.Join(root, "sub"), 0o700))

	require.NoError(t, s.ChmodDirectories(root))

	info, err := os.Stat(filepath.Join(root, "sub"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirMode), info.Mode().Perm())
}

func TestListFiles(t *testing.T) {
	s := newTestStore(t)

	root := filepath.Join(s.Base(), "tmp", "list")
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "b")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	files, err := s.ListFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, files)

	has, err := s.HasFiles(root)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasFiles(filepath.Join(root, "empty"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestReadFileLimited(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	data, err := ReadFileLimited(path, 10)
	require.NoError(t, err)
	assert.Len(t, data, 10)

	_, err = ReadFileLimited(path, 9)
	require.Error(t, err)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindValidation))
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("v1"), 0o644))
	require.NoError(t, AtomicWriteFile(path, []byte("v2"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// No temp file residue.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestValidatePathSuffix(t *testing.T) {
	tests := []struct {
		suffix string
		ok     bool
	}{
		{"test/0.1", true},
		{"tooling", true},
		{"", false},
		{"/abs", false},
		{"../escape", false},
		{"a/../../b", false},
		{"a/./b", false},
	}
	for _, tt := range tests {
		err := ValidatePathSuffix(tt.suffix)
		if tt.ok {
			assert.NoError(t, err, tt.suffix)
		} else {
			assert.Error(t, err, tt.suffix)
		}
	}
}
