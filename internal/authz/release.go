package authz

import (
	"context"

	"github.com/sebbASF/tooling-trusted-releases/internal/lifecycle"
	"github.com/sebbASF/tooling-trusted-releases/internal/revision"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// PublicRelease is the read-only release view.
type PublicRelease struct {
	f *Facade
}

func (r PublicRelease) List(ctx context.Context, filter storage.ReleaseFilter) ([]*storage.Release, error) {
	return r.f.store.Queries().ListReleases(ctx, filter)
}

func (r PublicRelease) Get(ctx context.Context, name string) (*storage.Release, error) {
	return r.f.store.Queries().GetRelease(ctx, name)
}

// ParticipantRelease adds composing and promoting drafts.
type ParticipantRelease struct {
	PublicRelease
	f         *Facade
	uid       string
	committee *storage.Committee
}

// Start creates a draft release for a project owned by this committee.
func (r ParticipantRelease) Start(ctx context.Context, project, version string) (*storage.Release, error) {
	if err := r.ownedProject(ctx, project); err != nil {
		return nil, err
	}
	rel, err := r.f.releases.Start(ctx, project, version, r.uid)
	if err != nil {
		return nil, err
	}
	r.f.record("release.start", r.uid, map[string]any{
		"project": project, "version": version,
	})
	return rel, nil
}

// Promote moves a draft into CANDIDATE for voting.
func (r ParticipantRelease) Promote(ctx context.Context, releaseName, revisionNumber string, manualVote bool) error {
	if err := r.ownedRelease(ctx, releaseName); err != nil {
		return err
	}
	if err := r.f.releases.PromoteToCandidate(ctx, releaseName, revisionNumber, manualVote); err != nil {
		return err
	}
	r.f.record("release.promote", r.uid, map[string]any{
		"release": releaseName, "revision": revisionNumber, "manual_vote": manualVote,
	})
	return nil
}

func (r ParticipantRelease) ownedProject(ctx context.Context, project string) error {
	return r.f.requireOwnedProject(ctx, r.committee, project)
}

func (r ParticipantRelease) ownedRelease(ctx context.Context, releaseName string) error {
	return r.f.requireOwnedRelease(ctx, r.committee, releaseName)
}

// ParticipantRevision adds creating revisions on draft releases of the
// committee's projects.
type ParticipantRevision struct {
	f         *Facade
	uid       string
	committee *storage.Committee
}

// Create snapshots a new immutable revision; mutate runs against the
// interim staging directory.
func (r ParticipantRevision) Create(ctx context.Context, releaseName, description string, mutate func(*revision.Creating) error) (*revision.Creating, error) {
	if err := r.f.requireOwnedRelease(ctx, r.committee, releaseName); err != nil {
		return nil, err
	}
	c, err := r.f.revisions.CreateAndManage(ctx, releaseName, r.uid, description, mutate)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"release": releaseName, "description": description}
	if c.New != nil {
		fields["revision"] = c.New.Number
	}
	r.f.record("revision.create", r.uid, fields)
	return c, nil
}

func (r ParticipantRevision) List(ctx context.Context, releaseName string) ([]*storage.Revision, error) {
	return r.f.store.Queries().ListRevisions(ctx, releaseName)
}

// MemberRelease adds deleting unfinished releases.
type MemberRelease struct {
	ParticipantRelease
}

func (r MemberRelease) Delete(ctx context.Context, releaseName string) error {
	if err := r.ownedRelease(ctx, releaseName); err != nil {
		return err
	}
	if err := r.f.releases.Delete(ctx, releaseName, false); err != nil {
		return err
	}
	r.f.record("release.delete", r.uid, map[string]any{"release": releaseName})
	return nil
}

// AdminRelease may also delete finished releases.
type AdminRelease struct {
	MemberRelease
}

func (r AdminRelease) Delete(ctx context.Context, releaseName string) error {
	if err := r.f.releases.Delete(ctx, releaseName, true); err != nil {
		return err
	}
	r.f.record("release.delete", r.uid, map[string]any{
		"release": releaseName, "admin": true,
	})
	return nil
}

// MemberAnnounce performs the final announce transition.
type MemberAnnounce struct {
	f         *Facade
	uid       string
	committee *storage.Committee
}

func (a MemberAnnounce) Announce(ctx context.Context, req lifecycle.AnnounceRequest) (*lifecycle.AnnounceResult, error) {
	if err := a.f.requireOwnedRelease(ctx, a.committee, req.ReleaseName); err != nil {
		return nil, err
	}
	result, err := a.f.releases.Announce(ctx, req)
	if err != nil {
		return nil, err
	}
	a.f.record("release.announce", a.uid, map[string]any{
		"release": req.ReleaseName, "revision": req.RevisionNumber,
		"recipient": req.Recipient, "path_suffix": req.PathSuffix,
	})
	return result, nil
}
