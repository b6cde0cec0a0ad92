package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebbASF/tooling-trusted-releases/internal/audit"
	"github.com/sebbASF/tooling-trusted-releases/internal/checks"
	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/lifecycle"
	"github.com/sebbASF/tooling-trusted-releases/internal/revision"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/template"
	"github.com/sebbASF/tooling-trusted-releases/internal/vote"
)

type fixture struct {
	facade    *Facade
	store     *storage.Store
	auth      *SessionAuthorisation
	auditPath string
	auditLog  *audit.Log
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
	require.NoError(t, q.UpsertCommittee(ctx, &storage.Committee{
		Name:       "tooling",
		Members:    []string{"alice"},
		Committers: []string{"bob"},
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
	votes := vote.NewCoordinator(s, lc, ts, nil, nil, logger)

	auditPath := filepath.Join(t.TempDir(), "audit.log")
	auditLog := audit.New(audit.Options{Path: auditPath}, logger)
	t.Cleanup(func() { auditLog.Close() })

	auth := &SessionAuthorisation{Users: map[string]*Membership{
		"alice": {Member: []string{"tooling"}, Committer: []string{"tooling"}},
		"bob":   {Committer: []string{"tooling"}},
		"carol": {},
		"root":  {Member: []string{"tooling"}},
	}}

	return &fixture{
		facade:    New(s, cs, lc, mgr, votes, auditLog, []string{"root"}, logger),
		store:     s,
		auth:      auth,
		auditPath: auditPath,
		auditLog:  auditLog,
	}
}

func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	require.NoError(t, f.auditLog.Close())

	data, err := os.ReadFile(f.auditPath)
	require.NoError(t, err)
	var actions []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &obj))
		actions = append(actions, obj["action"].(string))
	}
	return actions
}

func TestTierConstruction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Anonymous callers get the public tier only.
	anon := f.facade.Write(f.auth, "")
	assert.NotNil(t, anon.Public())
	_, err := anon.AsFoundationCommitter()
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied))

	// A committer is a participant but not a member.
	bob := f.facade.Write(f.auth, "bob")
	_, err = bob.AsCommitteeParticipant(ctx, "tooling")
	require.NoError(t, err)
	_, err = bob.AsCommitteeMember(ctx, "tooling")
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied))

	// A member qualifies for both committee tiers but not admin.
	alice := f.facade.Write(f.auth, "alice")
	_, err = alice.AsCommitteeMember(ctx, "tooling")
	require.NoError(t, err)
	_, err = alice.AsFoundationAdmin(ctx, "tooling")
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied))

	// Outsiders are refused at the participant gate.
	carol := f.facade.Write(f.auth, "carol")
	_, err = carol.AsCommitteeParticipant(ctx, "tooling")
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied))

	// The admin set is configuration, not committee data.
	root := f.facade.Write(f.auth, "root")
	_, err = root.AsFoundationAdmin(ctx, "tooling")
	require.NoError(t, err)

	// Project constructors resolve the owning committee.
	_, err = bob.AsProjectCommitteeParticipant(ctx, "test")
	require.NoError(t, err)
	_, err = bob.AsProjectCommitteeMember(ctx, "test")
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied))
}

func TestCapabilityPromotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.facade.Write(f.auth, "alice").AsCommitteeMember(ctx, "tooling")
	require.NoError(t, err)

	// The member tier keeps the participant's release operations.
	rel, err := alice.Release.Start(ctx, "test", "0.1")
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseCandidateDraft, rel.Phase)

	// And the committer tier's credential operations.
	require.NoError(t, alice.SSH.Add(ctx, "SHA256:abcdef", "ssh-ed25519 AAAA alice"))
	keys, err := alice.SSH.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	// And the public read surface.
	releases, err := alice.Release.List(ctx, storage.ReleaseFilter{Project: "test"})
	require.NoError(t, err)
	assert.Len(t, releases, 1)
}

func TestMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.facade.Write(f.auth, "alice").AsCommitteeMember(ctx, "tooling")
	require.NoError(t, err)

	_, err = alice.Release.Start(ctx, "test", "0.1")
	require.NoError(t, err)
	require.NoError(t, alice.Policy.Set(ctx, &storage.ReleasePolicy{
		Project: "test", MinVoteDurationHours: 96,
	}))
	require.NoError(t, alice.Tokens.Create(ctx, "hash-1", "ci token"))

	actions := f.auditActions(t)
	assert.Contains(t, actions, "release.start")
	assert.Contains(t, actions, "policy.set")
	assert.Contains(t, actions, "tokens.create")
}

func TestProjectOwnershipGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Queries().UpsertCommittee(ctx, &storage.Committee{
		Name: "other", Members: []string{"alice"},
	}))
	f.auth.Users["alice"].Member = append(f.auth.Users["alice"].Member, "other")

	// A capability scoped to "other" cannot start releases for a project
	// owned by "tooling".
	alice, err := f.facade.Write(f.auth, "alice").AsCommitteeMember(ctx, "other")
	require.NoError(t, err)
	_, err = alice.Release.Start(ctx, "test", "0.1")
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied))
}

func TestCommitteeScopedMutationsRequireOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.store.Queries()
	require.NoError(t, q.UpsertCommittee(ctx, &storage.Committee{
		Name: "other", Members: []string{"eve"}, Committers: []string{"eve"},
	}))
	f.auth.Users["eve"] = &Membership{Member: []string{"other"}, Committer: []string{"other"}}

	alice, err := f.facade.Write(f.auth, "alice").AsCommitteeMember(ctx, "tooling")
	require.NoError(t, err)
	rel, err := alice.Release.Start(ctx, "test", "0.1")
	require.NoError(t, err)

	eve, err := f.facade.Write(f.auth, "eve").AsCommitteeMember(ctx, "other")
	require.NoError(t, err)

	denied := func(err error) {
		t.Helper()
		assert.True(t, atrerrors.IsKind(err, atrerrors.KindAccessDenied), "expected AccessDenied, got %v", err)
	}

	// Every committee-scoped mutation refuses targets owned by tooling.
	_, err = eve.Revision.Create(ctx, rel.Name, "smuggled", func(*revision.Creating) error { return nil })
	denied(err)
	_, err = eve.Vote.Start(ctx, vote.StartRequest{ReleaseName: rel.Name, EmailTo: "dev@other.apache.org"})
	denied(err)
	_, err = eve.Vote.Resolve(ctx, rel.Name, true, "Eve Example")
	denied(err)
	_, err = eve.Announce.Announce(ctx, lifecycle.AnnounceRequest{ReleaseName: rel.Name})
	denied(err)
	denied(eve.Release.Delete(ctx, rel.Name))
	denied(eve.Distributions.Record(ctx, &storage.Distribution{
		Release: rel.Name, Platform: "pypi", Package: "test", Version: "0.1",
	}))
	denied(eve.Policy.Set(ctx, &storage.ReleasePolicy{Project: "test"}))
	denied(eve.Project.UpdateStatus(ctx, "test", storage.ProjectRetired))
	denied(eve.Project.Create(ctx, &storage.Project{Name: "intruder", Committee: "tooling"}))
	_, err = eve.SBOM.Generate(ctx, "test", "0.1", "00001", "a.tar.gz")
	denied(err)

	// Ignore rules delete only within the owning committee.
	require.NoError(t, alice.Checks.AddIgnore(ctx, &storage.CheckResultIgnore{CheckerGlob: "paths-check"}))
	rules, err := alice.Checks.ListIgnores(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	err = eve.Checks.DeleteIgnore(ctx, rules[0].ID)
	assert.True(t, atrerrors.IsKind(err, atrerrors.KindNotFound))
	rules, err = alice.Checks.ListIgnores(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	// The release is untouched throughout.
	got, err := q.GetRelease(ctx, rel.Name)
	require.NoError(t, err)
	assert.Equal(t, storage.PhaseCandidateDraft, got.Phase)
}

func TestCheckIgnoresFilterReadsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.facade.Write(f.auth, "alice").AsCommitteeMember(ctx, "tooling")
	require.NoError(t, err)

	rel, err := alice.Release.Start(ctx, "test", "0.1")
	require.NoError(t, err)
	q := f.store.Queries()
	require.NoError(t, q.AppendCheckResult(ctx, &storage.CheckResult{
		Checker: "hashing-check", Release: rel.Name, Revision: "00001",
		PrimaryPath: "a.tar.gz.sha512", Status: storage.CheckWarning,
		Message: "hash file has no newline", CreatedAt: time.Now(),
	}))

	require.NoError(t, alice.Checks.AddIgnore(ctx, &storage.CheckResultIgnore{
		CheckerGlob: "hashing-check", MessageGlob: "*no newline*",
	}))

	filtered, err := alice.Checks.Results(ctx, "tooling", storage.CheckResultFilter{Release: rel.Name})
	require.NoError(t, err)
	assert.Empty(t, filtered)

	// The underlying rows are untouched.
	raw, err := alice.Checks.RawResults(ctx, storage.CheckResultFilter{Release: rel.Name})
	require.NoError(t, err)
	assert.Len(t, raw, 1)
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) Memberships(ctx context.Context, uid string) ([]string, []string, error) {
	p.calls++
	return []string{"tooling"}, nil, nil
}

func TestProviderAuthorisationCaches(t *testing.T) {
	provider := &countingProvider{}
	auth := NewProviderAuthorisation(provider)

	now := time.Now()
	auth.now = func() time.Time { return now }

	ctx := context.Background()
	for range 3 {
		m, err := auth.Memberships(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, m.MemberOf("tooling"))
	}
	assert.Equal(t, 1, provider.calls)

	// Another user misses the cache.
	_, err := auth.Memberships(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)

	// Past the TTL the entry refreshes.
	now = now.Add(membershipTTL + time.Second)
	_, err = auth.Memberships(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, provider.calls)
}
