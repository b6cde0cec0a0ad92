package authz

import (
	"context"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// PublicProject is the read-only project view.
type PublicProject struct {
	f *Facade
}

func (p PublicProject) List(ctx context.Context, filter storage.ProjectFilter) ([]*storage.Project, error) {
	return p.f.store.Queries().ListProjects(ctx, filter)
}

func (p PublicProject) Get(ctx context.Context, name string) (*storage.Project, error) {
	return p.f.store.Queries().GetProject(ctx, name)
}

// MemberProject adds project lifecycle management within the committee.
type MemberProject struct {
	PublicProject
	f         *Facade
	uid       string
	committee *storage.Committee
}

func (p MemberProject) Create(ctx context.Context, proj *storage.Project) error {
	if proj.Committee != p.committee.Name {
		return atrerrors.Newf(atrerrors.KindAccessDenied,
			"cannot create project %s under committee %s", proj.Name, proj.Committee)
	}
	proj.CreatedBy = p.uid
	if err := p.f.store.Queries().CreateProject(ctx, proj); err != nil {
		return err
	}
	p.f.record("project.create", p.uid, map[string]any{
		"project": proj.Name, "committee": proj.Committee,
	})
	return nil
}

func (p MemberProject) UpdateStatus(ctx context.Context, name string, status storage.ProjectStatus) error {
	if err := p.f.requireOwnedProject(ctx, p.committee, name); err != nil {
		return err
	}
	if err := p.f.store.Queries().UpdateProjectStatus(ctx, name, status); err != nil {
		return err
	}
	p.f.record("project.update_status", p.uid, map[string]any{
		"project": name, "status": string(status),
	})
	return nil
}

// AdminProject adds deleting projects outright.
type AdminProject struct {
	MemberProject
}

func (p AdminProject) Delete(ctx context.Context, name string) error {
	if err := p.f.store.Queries().DeleteProject(ctx, name); err != nil {
		return err
	}
	p.f.record("project.delete", p.uid, map[string]any{"project": name})
	return nil
}

// MemberPolicy manages release policy for the committee's projects.
type MemberPolicy struct {
	f         *Facade
	uid       string
	committee *storage.Committee
}

// Get resolves the effective policy, walking the super-project chain.
func (p MemberPolicy) Get(ctx context.Context, project string) (*storage.ReleasePolicy, error) {
	return p.f.store.Queries().ResolveReleasePolicy(ctx, project)
}

func (p MemberPolicy) Set(ctx context.Context, policy *storage.ReleasePolicy) error {
	if err := p.f.requireOwnedProject(ctx, p.committee, policy.Project); err != nil {
		return err
	}
	if err := p.f.store.Queries().UpsertReleasePolicy(ctx, policy); err != nil {
		return err
	}
	p.f.record("policy.set", p.uid, map[string]any{
		"project":            policy.Project,
		"min_vote_duration":  policy.MinVoteDurationHours,
		"license_check_mode": string(policy.LicenseCheckMode),
		"strict_checking":    policy.StrictChecking,
	})
	return nil
}
