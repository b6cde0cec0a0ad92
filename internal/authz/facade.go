package authz

import (
	"context"
	"log/slog"

	"github.com/sebbASF/tooling-trusted-releases/internal/audit"
	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/lifecycle"
	"github.com/sebbASF/tooling-trusted-releases/internal/revision"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/vote"
)

// Facade bundles the services the capability objects dispatch to.
type Facade struct {
	store     *storage.Store
	content   *content.Store
	releases  *lifecycle.Service
	revisions *revision.Manager
	votes     *vote.Coordinator
	audit     *audit.Log
	admins    map[string]struct{}
	logger    *slog.Logger
}

func New(store *storage.Store, cs *content.Store, releases *lifecycle.Service,
	revisions *revision.Manager, votes *vote.Coordinator, auditLog *audit.Log,
	adminUIDs []string, logger *slog.Logger) *Facade {

	admins := make(map[string]struct{}, len(adminUIDs))
	for _, uid := range adminUIDs {
		admins[uid] = struct{}{}
	}
	return &Facade{
		store:     store,
		content:   cs,
		releases:  releases,
		revisions: revisions,
		votes:     votes,
		audit:     auditLog,
		admins:    admins,
		logger:    logger,
	}
}

// requireOwnedProject verifies the project belongs to the capability's
// committee. Every committee-scoped mutation calls this (or
// requireOwnedRelease) before touching its target.
func (f *Facade) requireOwnedProject(ctx context.Context, committee *storage.Committee, project string) error {
	p, err := f.store.Queries().GetProject(ctx, project)
	if err != nil {
		return err
	}
	if p.Committee != committee.Name {
		return atrerrors.Newf(atrerrors.KindAccessDenied,
			"project %s belongs to committee %s", project, p.Committee)
	}
	return nil
}

// requireOwnedRelease verifies the release's project belongs to the
// capability's committee.
func (f *Facade) requireOwnedRelease(ctx context.Context, committee *storage.Committee, releaseName string) error {
	rel, err := f.store.Queries().GetRelease(ctx, releaseName)
	if err != nil {
		return err
	}
	return f.requireOwnedProject(ctx, committee, rel.Project)
}

// record appends one audit entry tagged with the acting user.
func (f *Facade) record(action, uid string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["asf_uid"] = uid
	f.audit.Append(action, fields)
}

// Write binds an identity to the facade. The returned gate hands out
// capability objects after verifying the tier's membership requirement.
func (f *Facade) Write(auth Authorisation, uid string) *Gate {
	return &Gate{f: f, auth: auth, uid: uid}
}

// Gate constructs capability objects for one user.
type Gate struct {
	f    *Facade
	auth Authorisation
	uid  string
}

// Public needs no identity at all.
func (g *Gate) Public() *GeneralPublic {
	return newGeneralPublic(g.f)
}

// AsFoundationCommitter requires a signed-in user.
func (g *Gate) AsFoundationCommitter() (*FoundationCommitter, error) {
	const op = "authz.AsFoundationCommitter"

	if g.uid == "" {
		return nil, atrerrors.AccessDenied(op, "a signed-in user is required")
	}
	return newFoundationCommitter(g.f, g.uid), nil
}

// AsCommitteeParticipant requires the user in the committee's committer or
// member set.
func (g *Gate) AsCommitteeParticipant(ctx context.Context, committee string) (*CommitteeParticipant, error) {
	c, m, err := g.resolve(ctx, committee)
	if err != nil {
		return nil, err
	}
	if !m.ParticipantOf(committee) {
		return nil, atrerrors.Newf(atrerrors.KindAccessDenied,
			"%s is not a participant of %s", g.uid, committee)
	}
	return newCommitteeParticipant(g.f, g.uid, c), nil
}

// AsCommitteeMember requires the user in the committee's member set.
func (g *Gate) AsCommitteeMember(ctx context.Context, committee string) (*CommitteeMember, error) {
	c, m, err := g.resolve(ctx, committee)
	if err != nil {
		return nil, err
	}
	if !m.MemberOf(committee) {
		return nil, atrerrors.Newf(atrerrors.KindAccessDenied,
			"%s is not a member of %s", g.uid, committee)
	}
	return newCommitteeMember(g.f, g.uid, c), nil
}

// AsFoundationAdmin requires the user in the configured admin set.
func (g *Gate) AsFoundationAdmin(ctx context.Context, committee string) (*FoundationAdmin, error) {
	if _, ok := g.f.admins[g.uid]; !ok {
		return nil, atrerrors.Newf(atrerrors.KindAccessDenied, "%s is not an administrator", g.uid)
	}
	c, err := g.f.store.Queries().GetCommittee(ctx, committee)
	if err != nil {
		return nil, err
	}
	return newFoundationAdmin(g.f, g.uid, c), nil
}

// AsProjectCommitteeParticipant resolves the project's owning committee and
// delegates.
func (g *Gate) AsProjectCommitteeParticipant(ctx context.Context, project string) (*CommitteeParticipant, error) {
	committee, err := g.owningCommittee(ctx, project)
	if err != nil {
		return nil, err
	}
	return g.AsCommitteeParticipant(ctx, committee)
}

// AsProjectCommitteeMember resolves the project's owning committee and
// delegates.
func (g *Gate) AsProjectCommitteeMember(ctx context.Context, project string) (*CommitteeMember, error) {
	committee, err := g.owningCommittee(ctx, project)
	if err != nil {
		return nil, err
	}
	return g.AsCommitteeMember(ctx, committee)
}

func (g *Gate) resolve(ctx context.Context, committee string) (*storage.Committee, *Membership, error) {
	const op = "authz.resolve"

	if g.uid == "" {
		return nil, nil, atrerrors.AccessDenied(op, "a signed-in user is required")
	}
	c, err := g.f.store.Queries().GetCommittee(ctx, committee)
	if err != nil {
		return nil, nil, err
	}
	m, err := g.auth.Memberships(ctx, g.uid)
	if err != nil {
		return nil, nil, err
	}
	return c, m, nil
}

func (g *Gate) owningCommittee(ctx context.Context, project string) (string, error) {
	p, err := g.f.store.Queries().GetProject(ctx, project)
	if err != nil {
		return "", err
	}
	return p.Committee, nil
}
