package revision

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebbASF/tooling-trusted-releases/internal/checks"
	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

type fixture struct {
	store   *storage.Store
	content *content.Store
	mgr     *Manager
	release *storage.Release
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	s, err := storage.Open(ctx, filepath.Join(t.TempDir(), "atr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	cs, err := content.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cs.EnsureLayout(ctx))

	q := s.Queries()
	require.NoError(t, q.UpsertCommittee(ctx, &storage.Committee{Name: "tooling", Members: []string{"alice"}}))
	require.NoError(t, q.CreateProject(ctx, &storage.Project{
		Name: "test", Committee: "tooling", Status: storage.ProjectActive, CreatedAt: time.Now(),
	}))
	rel := &storage.Release{
		Name: storage.ReleaseName("test", "0.1"), Project: "test", Version: "0.1",
		Phase: storage.PhaseCandidateDraft, CreatedAt: time.Now(),
	}
	require.NoError(t, q.CreateRelease(ctx, rel))

	logger := slog.New(slog.DiscardHandler)
	orch := checks.NewOrchestrator(s, cs, checks.Config{}, logger)
	return &fixture{
		store:   s,
		content: cs,
		mgr:     NewManager(s, cs, orch, logger),
		release: rel,
	}
}

func TestCreateFirstRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "initial import", func(c *Creating) error {
		assert.Nil(t, c.Old)
		return os.WriteFile(filepath.Join(c.InterimPath, "example.txt"), []byte("hello"), 0o644)
	})
	require.NoError(t, err)
	require.NotNil(t, c.New)
	assert.Equal(t, "00001", c.New.Number)
	assert.Equal(t, "alice", c.New.Author)
	assert.Empty(t, c.Failed)

	final := f.content.UnfinishedDir("test", "0.1", "00001")
	_, err = os.Stat(filepath.Join(final, "example.txt"))
	require.NoError(t, err)

	// No staging residue.
	entries, err := os.ReadDir(filepath.Join(f.content.Base(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSecondRevisionClonesPrior(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "", func(c *Creating) error {
		return os.WriteFile(filepath.Join(c.InterimPath, "keep.txt"), []byte("v1"), 0o644)
	})
	require.NoError(t, err)

	c, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "", func(c *Creating) error {
		require.NotNil(t, c.Old)
		assert.Equal(t, "00001", c.Old.Number)
		// The clone carries the prior file.
		_, err := os.Stat(filepath.Join(c.InterimPath, "keep.txt"))
		require.NoError(t, err)
		return os.WriteFile(filepath.Join(c.InterimPath, "added.txt"), []byte("v2"), 0o644)
	})
	require.NoError(t, err)
	assert.Equal(t, "00002", c.New.Number)
	assert.Equal(t, "00001", c.New.Parent)

	// Both revision directories exist.
	for _, rev := range []string{"00001", "00002"} {
		_, err := os.Stat(f.content.UnfinishedDir("test", "0.1", rev))
		require.NoError(t, err, rev)
	}
	// The prior revision did not gain the new file.
	_, err = os.Stat(filepath.Join(f.content.UnfinishedDir("test", "0.1", "00001"), "added.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestAbortDiscardsStaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "", func(c *Creating) error {
		if err := os.WriteFile(filepath.Join(c.InterimPath, "bad.txt"), []byte("x"), 0o644); err != nil {
			return err
		}
		return Abort("upload rejected: wrong checksum")
	})
	require.NoError(t, err)
	require.Nil(t, c.New)
	assert.Equal(t, "upload rejected: wrong checksum", c.Failed)

	// No revision row, no directory, no staging residue.
	_, err = f.store.Queries().GetLatestRevision(ctx, f.release.Name)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindNotFound))
	entries, err := os.ReadDir(filepath.Join(f.content.Base(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMutateErrorPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "", func(c *Creating) error {
		return atrerrors.Validation("upload.Validate", "file name not allowed")
	})
	require.Error(t, err)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindValidation))

	entries, err := os.ReadDir(filepath.Join(f.content.Base(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefusesImmutablePhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Queries().UpdateReleasePhase(ctx, f.release.Name, storage.PhaseCandidate))

	_, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "", func(c *Creating) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindConflict))
}

func TestDraftRevisionEnqueuesChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateAndManage(ctx, f.release.Name, "alice", "", func(c *Creating) error {
		return os.WriteFile(filepath.Join(c.InterimPath, "apache-test-0.1.tar.gz.sha512"), []byte("digest"), 0o644)
	})
	require.NoError(t, err)

	tasks, err := f.store.Queries().ListTasks(ctx, storage.TaskFilter{Revision: "00001"})
	require.NoError(t, err)
	// hashing-check for the file plus the release-level paths check.
	require.Len(t, tasks, 2)
	types := []string{tasks[0].Type, tasks[1].Type}
	assert.Contains(t, types, "hashing-check")
	assert.Contains(t, types, "paths-check")
}
