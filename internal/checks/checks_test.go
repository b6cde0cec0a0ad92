package checks

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

type fixture struct {
	store   *storage.Store
	content *content.Store
	orch    *Orchestrator
	release *storage.Release
}

func newFixture(t *testing.T, cfg Config) *fixture {
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
	require.NoError(t, q.UpsertCommittee(ctx, &storage.Committee{
		Name: "tooling", Members: []string{"alice"},
	}))
	require.NoError(t, q.CreateProject(ctx, &storage.Project{
		Name: "test", Committee: "tooling", Status: storage.ProjectActive, CreatedAt: time.Now(),
	}))
	rel := &storage.Release{
		Name: storage.ReleaseName("test", "0.1"), Project: "test", Version: "0.1",
		Phase: storage.PhaseCandidateDraft, CreatedAt: time.Now(),
	}
	require.NoError(t, q.CreateRelease(ctx, rel))

	logger := slog.New(slog.DiscardHandler)
	return &fixture{
		store:   s,
		content: cs,
		orch:    NewOrchestrator(s, cs, cfg, logger),
		release: rel,
	}
}

func (f *fixture) writeRevisionFile(t *testing.T, revision, rel, data string) {
	t.Helper()

	path := filepath.Join(f.content.UnfinishedDir("test", "0.1", revision), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func TestCheckersForFile(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"apache-test-0.1.tar.gz.asc", []string{"signature-check"}},
		{"apache-test-0.1.tar.gz.sha512", []string{"hashing-check"}},
		{"apache-test-0.1.tar.gz", []string{"license-files", "license-headers", "rat-check", "targz-integrity", "targz-structure"}},
		{"apache-test-0.1.tgz", []string{"license-files", "license-headers", "rat-check", "targz-integrity", "targz-structure"}},
		{"apache-test-0.1.zip", []string{"license-files", "license-headers", "rat-check", "zipformat-integrity", "zipformat-structure"}},
		{"apache-test-0.1.cdx.json", []string{"sbom-tool-score"}},
		{"README.md", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckersForFile(tt.name), tt.name)
	}
}

func TestHashFileIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("release artifact contents"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	require.NoError(t, os.WriteFile(path, []byte("different contents"), 0o644))
	h3, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestEnqueueForRevision(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.writeRevisionFile(t, "00001", "apache-test-0.1.tar.gz", "artifact")
	f.writeRevisionFile(t, "00001", "apache-test-0.1.tar.gz.asc", "sig")
	f.writeRevisionFile(t, "00001", "README.md", "readme")

	require.NoError(t, f.store.WithWriteTx(ctx, func(q *storage.Queries) error {
		return f.orch.EnqueueForRevision(ctx, q, f.release, "00001", "tooling", false)
	}))

	all, err := f.store.Queries().ListTasks(ctx, storage.TaskFilter{Revision: "00001"})
	require.NoError(t, err)
	// 5 archive checkers + 1 signature + 1 release-level paths check.
	require.Len(t, all, 7)

	byType := map[string]int{}
	for _, task := range all {
		byType[task.Type]++
		assert.Equal(t, storage.TaskQueued, task.State)
		assert.Equal(t, "test", task.Project)
	}
	assert.Equal(t, 1, byType["signature-check"])
	assert.Equal(t, 1, byType["paths-check"])
	assert.Equal(t, 1, byType["rat-check"])

	sig, err := f.store.Queries().ListTasks(ctx, storage.TaskFilter{Type: "signature-check"})
	require.NoError(t, err)
	require.Len(t, sig, 1)
	assert.JSONEq(t, `{"committee_name":"tooling"}`, string(sig[0].Args))
	assert.Equal(t, "apache-test-0.1.tar.gz.asc", sig[0].PrimaryRelPath)
}

func TestPrepareCachesIdenticalArtifacts(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.writeRevisionFile(t, "00001", "example.txt.sha512", "same bytes")
	f.writeRevisionFile(t, "00002", "example.txt.sha512", "same bytes")

	// First run records a finding.
	task1 := &storage.Task{
		Type: "hashing-check", Project: "test", Version: "0.1",
		Revision: "00001", PrimaryRelPath: "example.txt.sha512",
	}
	args, cached, err := f.orch.Prepare(ctx, task1)
	require.NoError(t, err)
	require.False(t, cached)
	require.NoError(t, args.NewRecorder().Success(ctx, "hash matches", nil, ""))

	// Second revision with identical content: results copy forward.
	task2 := &storage.Task{
		Type: "hashing-check", Project: "test", Version: "0.1",
		Revision: "00002", PrimaryRelPath: "example.txt.sha512",
	}
	_, cached, err = f.orch.Prepare(ctx, task2)
	require.NoError(t, err)
	assert.True(t, cached)

	results, err := f.store.Queries().ListCheckResults(ctx, storage.CheckResultFilter{
		Release: f.release.Name, Revision: "00002",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, storage.CheckSuccess, results[0].Status)
	assert.Equal(t, "hash matches", results[0].Message)
}

func TestPrepareSkipsCacheOnMarkerAndConfig(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cfg    Config
		marker bool
	}{
		{"marker file", Config{}, true},
		{"disabled globally", Config{DisableCache: true}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.cfg)
			ctx := context.Background()

			f.writeRevisionFile(t, "00001", "example.txt.sha512", "same bytes")
			f.writeRevisionFile(t, "00002", "example.txt.sha512", "same bytes")
			if tc.marker {
				f.writeRevisionFile(t, "00002", NoCacheMarker, "")
			}

			task1 := &storage.Task{
				Type: "hashing-check", Project: "test", Version: "0.1",
				Revision: "00001", PrimaryRelPath: "example.txt.sha512",
			}
			args, cached, err := f.orch.Prepare(ctx, task1)
			require.NoError(t, err)
			require.False(t, cached)
			if args.NewRecorder != nil {
				require.NoError(t, args.NewRecorder().Success(ctx, "hash matches", nil, ""))
			}

			task2 := &storage.Task{
				Type: "hashing-check", Project: "test", Version: "0.1",
				Revision: "00002", PrimaryRelPath: "example.txt.sha512",
			}
			_, cached, err = f.orch.Prepare(ctx, task2)
			require.NoError(t, err)
			assert.False(t, cached)
		})
	}
}

func TestHandlerForRunsCheckerOnMiss(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.writeRevisionFile(t, "00001", "example.txt.sha512", "bytes")

	ran := false
	handler := f.orch.HandlerFor(CheckerFunc(func(ctx context.Context, args *FunctionArguments) (any, error) {
		ran = true
		assert.Equal(t, "example.txt.sha512", args.PrimaryRelPath)
		assert.NotEmpty(t, args.InputHash)
		if err := args.NewRecorder().Success(ctx, "ok", nil, ""); err != nil {
			return nil, err
		}
		return nil, nil
	}))

	result, err := handler(ctx, &storage.Task{
		Type: "hashing-check", Project: "test", Version: "0.1",
		Revision: "00001", PrimaryRelPath: "example.txt.sha512",
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Nil(t, result)
}

func TestApplyIgnores(t *testing.T) {
	results := []*storage.CheckResult{
		{Release: "test-0.1", Checker: "rat-check", PrimaryPath: "a.tar.gz", Status: storage.CheckWarning, Message: "unapproved license in vendor/x"},
		{Release: "test-0.1", Checker: "rat-check", PrimaryPath: "a.tar.gz", Status: storage.CheckFailure, Message: "missing license header"},
		{Release: "test-0.1", Checker: "paths-check", Status: storage.CheckSuccess, Message: "all paths ok"},
	}
	rules := []*storage.CheckResultIgnore{
		{Committee: "tooling", CheckerGlob: "rat-check", StatusGlob: "WARNING"},
	}

	filtered := ApplyIgnores(results, rules)
	require.Len(t, filtered, 2)
	assert.Equal(t, storage.CheckFailure, filtered[0].Status)
	assert.Equal(t, "paths-check", filtered[1].Checker)

	// No rules: untouched.
	assert.Len(t, ApplyIgnores(results, nil), 3)

	// Message glob.
	rules = []*storage.CheckResultIgnore{{MessageGlob: "unapproved license*"}}
	assert.Len(t, ApplyIgnores(results, rules), 2)
}
