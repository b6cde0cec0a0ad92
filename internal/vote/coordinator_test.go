package vote

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
	"github.com/sebbASF/tooling-trusted-releases/internal/lifecycle"
	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
	"github.com/sebbASF/tooling-trusted-releases/internal/revision"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
	"github.com/sebbASF/tooling-trusted-releases/internal/template"
)

type stubArchive struct {
	messages []ports.Message
}

func (a *stubArchive) ThreadMessages(ctx context.Context, threadID string) ([]ports.Message, error) {
	return a.messages, nil
}

func (a *stubArchive) ArchiveURL(ctx context.Context, messageID, recipient string) (string, error) {
	return "https://lists.example.org/thread/" + messageID, nil
}

type stubDirectory map[string]string

func (d stubDirectory) EmailToUID(ctx context.Context) (map[string]string, error) {
	return d, nil
}

type voteFixture struct {
	store   *storage.Store
	coord   *Coordinator
	mgr     *revision.Manager
	archive *stubArchive
}

func newVoteFixture(t *testing.T, podling bool) *voteFixture {
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
		Name: "tooling", Podling: podling,
		Members: []string{"alice", "bob", "carol"},
	}))
	require.NoError(t, q.CreateProject(ctx, &storage.Project{
		Name: "test", Committee: "tooling", Status: storage.ProjectActive, CreatedAt: time.Now(),
	}))

	logger := slog.New(slog.DiscardHandler)
	orch := checks.NewOrchestrator(s, cs, checks.Config{}, logger)
	mgr := revision.NewManager(s, cs, orch, logger)
	lc := lifecycle.NewService(s, cs, mgr, logger)
	ts, err := template.NewService()
	require.NoError(t, err)
	archive := &stubArchive{}
	coord := NewCoordinator(s, lc, ts, archive, stubDirectory{}, logger)
	return &voteFixture{store: s, coord: coord, mgr: mgr, archive: archive}
}

// startRelease creates a draft with one file and all checks drained, ready
// for a vote.
func (f *voteFixture) startRelease(t *testing.T) *storage.Revision {
	t.Helper()

	ctx := context.Background()
	rel := &storage.Release{
		Name: "test-0.1", Project: "test", Version: "0.1",
		Phase: storage.PhaseCandidateDraft, CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.Queries().CreateRelease(ctx, rel))

	c, err := f.mgr.CreateAndManage(ctx, rel.Name, "alice", "upload", func(c *revision.Creating) error {
		return os.WriteFile(filepath.Join(c.InterimPath, "example.txt"), []byte("hello"), 0o644)
	})
	require.NoError(t, err)
	require.NotNil(t, c.New)

	for {
		var task *storage.Task
		err := f.store.WithWriteTx(ctx, func(q *storage.Queries) error {
			var err error
			task, err = q.ClaimTask(ctx, 1, time.Now())
			return err
		})
		if atrerrors.IsKind(err, atrerrors.KindNotFound) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, f.store.Queries().CompleteTask(ctx, task.ID, nil, time.Now()))
	}
	return c.New
}

func (f *voteFixture) queuedTasks(t *testing.T, taskType string) []*storage.Task {
	t.Helper()
	out, err := f.store.Queries().ListTasks(context.Background(), storage.TaskFilter{Type: taskType})
	require.NoError(t, err)
	return out
}

func TestStartVotePromotesDraft(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	rel, err := f.coord.Start(ctx, StartRequest{
		ReleaseName:       "test-0.1",
		RevisionNumber:    rev.Number,
		EmailTo:           "dev@tooling.apache.org",
		InitiatorID:       "alice",
		InitiatorFullName: "Alice Example",
	})
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseCandidate, rel.Phase)
	assert.Equal(t, DefaultDurationHours, rel.VoteDurationHours)
	require.NotNil(t, rel.VoteEndsAt)

	got, err := f.store.Queries().GetRelease(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseCandidate, got.Phase)

	queued := f.queuedTasks(t, tasks.TypeVoteInitiate)
	require.Len(t, queued, 1)
	var args tasks.VoteInitiateArgs
	require.NoError(t, tasks.DecodeArgs(queued[0], &args))
	assert.Equal(t, "dev@tooling.apache.org", args.EmailTo)
	assert.Contains(t, args.Subject, "test 0.1")
	assert.Contains(t, args.Body, rev.Number)
}

func TestStartVoteValidation(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	_, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "announce@apache.org", InitiatorID: "alice",
	})
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindValidation))

	_, err = f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", DurationHours: 12, InitiatorID: "alice",
	})
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindValidation))
}

func TestStartVoteHonorsPolicyMinimum(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	require.NoError(t, f.store.Queries().UpsertReleasePolicy(ctx, &storage.ReleasePolicy{
		Project: "test", MinVoteDurationHours: 120,
	}))

	_, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", DurationHours: 96, InitiatorID: "alice",
	})
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindValidation))

	rel, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", InitiatorID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, 120, rel.VoteDurationHours)
}

func TestTabulateUsesStoredThread(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	rel, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", InitiatorID: "alice",
	})
	require.NoError(t, err)

	// No thread recorded yet: the initiate task has not run.
	_, err = f.coord.Tabulate(ctx, "test-0.1")
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindNotFound))

	rel.VoteThreadID = "thread-1"
	require.NoError(t, f.store.Queries().UpdateReleaseVote(ctx, rel))
	f.archive.messages = []ports.Message{
		{From: "Alice <alice@apache.org>", Body: "+1"},
		{From: "Bob <bob@apache.org>", Body: "+1"},
		{From: "Carol <carol@apache.org>", Body: "+1"},
	}

	summary, err := f.coord.Tabulate(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.BindingYes)
	assert.True(t, summary.Passed)
	assert.False(t, summary.Closed)
	assert.Equal(t, "The vote would pass if closed now.", summary.Outcome)
}

func TestResolvePassedMovesToPreview(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	_, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", InitiatorID: "alice",
	})
	require.NoError(t, err)

	res, err := f.coord.Resolve(ctx, "test-0.1", true, "alice", "Alice Example")
	require.NoError(t, err)
	assert.Equal(t, storage.PhasePreview, res.Phase)
	assert.False(t, res.SecondRoundStarted)

	got, err := f.store.Queries().GetRelease(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, storage.PhasePreview, got.Phase)
	assert.Equal(t, "passed", got.VoteResolution)

	sends := f.queuedTasks(t, tasks.TypeMessageSend)
	require.Len(t, sends, 1)
	var args tasks.MessageSendArgs
	require.NoError(t, tasks.DecodeArgs(sends[0], &args))
	assert.Equal(t, "dev@tooling.apache.org", args.EmailRecipient)
	assert.Contains(t, args.Subject, "[RESULT]")
}

func TestResolveFailedReturnsToDraft(t *testing.T) {
	f := newVoteFixture(t, false)
	ctx := context.Background()
	rev := f.startRelease(t)

	_, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", InitiatorID: "alice",
	})
	require.NoError(t, err)

	res, err := f.coord.Resolve(ctx, "test-0.1", false, "alice", "Alice Example")
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseCandidateDraft, res.Phase)

	got, err := f.store.Queries().GetRelease(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.VoteResolution)

	// The candidate revision is kept for the next attempt.
	latest, err := f.store.Queries().GetLatestRevision(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, rev.Number, latest.Number)
}

func TestResolvePodlingRunsTwoRounds(t *testing.T) {
	f := newVoteFixture(t, true)
	ctx := context.Background()
	rev := f.startRelease(t)

	rel, err := f.coord.Start(ctx, StartRequest{
		ReleaseName: "test-0.1", RevisionNumber: rev.Number,
		EmailTo: "dev@tooling.apache.org", InitiatorID: "alice",
	})
	require.NoError(t, err)
	rel.VoteThreadID = "round-one"
	require.NoError(t, f.store.Queries().UpdateReleaseVote(ctx, rel))

	// First-round pass opens the incubator round, phase unchanged.
	res, err := f.coord.Resolve(ctx, "test-0.1", true, "alice", "Alice Example")
	require.NoError(t, err)
	assert.True(t, res.SecondRoundStarted)
	assert.Equal(t, storage.PhaseCandidate, res.Phase)

	got, err := f.store.Queries().GetRelease(ctx, "test-0.1")
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseCandidate, got.Phase)
	assert.Equal(t, "round-one", got.PodlingThreadID)
	assert.Empty(t, got.VoteThreadID)

	initiates := f.queuedTasks(t, tasks.TypeVoteInitiate)
	require.Len(t, initiates, 2)
	var args tasks.VoteInitiateArgs
	require.NoError(t, tasks.DecodeArgs(initiates[1], &args))
	assert.Equal(t, "general@incubator.apache.org", args.EmailTo)

	// Second-round pass moves the release forward and replies in the
	// first-round thread.
	res, err = f.coord.Resolve(ctx, "test-0.1", true, "alice", "Alice Example")
	require.NoError(t, err)
	assert.False(t, res.SecondRoundStarted)
	assert.Equal(t, storage.PhasePreview, res.Phase)

	sends := f.queuedTasks(t, tasks.TypeMessageSend)
	require.Len(t, sends, 2)
	var reply tasks.MessageSendArgs
	require.NoError(t, tasks.DecodeArgs(sends[1], &reply))
	assert.Equal(t, "general@incubator.apache.org", reply.EmailRecipient)
	assert.Equal(t, "round-one", reply.InReplyTo)
}
