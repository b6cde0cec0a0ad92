package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// CreateProject inserts a new project row.
func (q *Queries) CreateProject(ctx context.Context, p *Project) error {
	const op = "storage.CreateProject"

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO projects (name, display_name, committee, status, super_project, categories, languages, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Name, p.DisplayName, p.Committee, string(p.Status), p.SuperProject,
		marshalStrings(p.Categories), marshalStrings(p.Languages),
		p.CreatedBy, p.CreatedAt.UTC())
	if IsUniqueConstraint(err) {
		return atrerrors.Newf(atrerrors.KindConflict, "project %q already exists", p.Name)
	}
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert project")
	}
	return nil
}

// GetProject returns the project with the given name.
func (q *Queries) GetProject(ctx context.Context, name string) (*Project, error) {
	const op = "storage.GetProject"

	row := q.db.QueryRowContext(ctx, `
		SELECT name, display_name, committee, status, super_project, categories, languages, created_by, created_at
		FROM projects WHERE name = ?
	`, name)

	p, err := scanProject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "project %q does not exist", name)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan project")
	}
	return p, nil
}

// ProjectFilter selects projects by optional predicates.
type ProjectFilter struct {
	Committee string
	Status    ProjectStatus
}

// ListProjects returns projects matching the filter, ordered by name.
func (q *Queries) ListProjects(ctx context.Context, f ProjectFilter) ([]*Project, error) {
	const op = "storage.ListProjects"

	query := `
		SELECT name, display_name, committee, status, super_project, categories, languages, created_by, created_at
		FROM projects WHERE 1=1`
	var args []any
	if f.Committee != "" {
		query += ` AND committee = ?`
		args = append(args, f.Committee)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY name`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query projects")
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan project")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectStatus sets the project status.
func (q *Queries) UpdateProjectStatus(ctx context.Context, name string, status ProjectStatus) error {
	const op = "storage.UpdateProjectStatus"

	res, err := q.db.ExecContext(ctx,
		`UPDATE projects SET status = ? WHERE name = ?`, string(status), name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to update project")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "project %q does not exist", name)
	}
	return nil
}

// DeleteProject removes a project. The caller is responsible for ensuring
// the project has no releases; a foreign-key failure otherwise surfaces as
// a conflict.
func (q *Queries) DeleteProject(ctx context.Context, name string) error {
	const op = "storage.DeleteProject"

	var n int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM releases WHERE project = ?`, name).Scan(&n); err != nil {
		return atrerrors.InternalWrap(err, op, "failed to count releases")
	}
	if n > 0 {
		return atrerrors.Newf(atrerrors.KindConflict, "project %q still has %d releases", name, n)
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete project")
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "project %q does not exist", name)
	}
	return nil
}

func scanProject(scan func(dest ...any) error) (*Project, error) {
	var p Project
	var status string
	var categories, languages string
	var created time.Time
	err := scan(&p.Name, &p.DisplayName, &p.Committee, &status, &p.SuperProject,
		&categories, &languages, &p.CreatedBy, &created)
	if err != nil {
		return nil, err
	}
	p.Status = ProjectStatus(status)
	p.Categories = unmarshalStrings(categories)
	p.Languages = unmarshalStrings(languages)
	p.CreatedAt = created
	return &p, nil
}

// UpsertReleasePolicy inserts or replaces the policy for a project.
func (q *Queries) UpsertReleasePolicy(ctx context.Context, p *ReleasePolicy) error {
	const op = "storage.UpsertReleasePolicy"

	strict, preserve := 0, 0
	if p.StrictChecking {
		strict = 1
	}
	if p.PreserveDownloadFiles {
		preserve = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO release_policies (project, source_artifact_globs, binary_artifact_globs,
			min_vote_duration_hours, license_check_mode, strict_checking, mailto_addresses,
			workflow_hooks, vote_template, announce_template, preserve_download_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET
			source_artifact_globs = excluded.source_artifact_globs,
			binary_artifact_globs = excluded.binary_artifact_globs,
			min_vote_duration_hours = excluded.min_vote_duration_hours,
			license_check_mode = excluded.license_check_mode,
			strict_checking = excluded.strict_checking,
			mailto_addresses = excluded.mailto_addresses,
			workflow_hooks = excluded.workflow_hooks,
			vote_template = excluded.vote_template,
			announce_template = excluded.announce_template,
			preserve_download_files = excluded.preserve_download_files
	`, p.Project, marshalStrings(p.SourceArtifactGlobs), marshalStrings(p.BinaryArtifactGlobs),
		p.MinVoteDurationHours, string(p.LicenseCheckMode), strict,
		marshalStrings(p.MailtoAddresses), marshalStrings(p.WorkflowHooks),
		p.VoteTemplate, p.AnnounceTemplate, preserve)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to upsert release policy")
	}
	return nil
}

// GetReleasePolicy returns the policy for a project, or NotFound if the
// project has none of its own. Callers handle super-project inheritance.
func (q *Queries) GetReleasePolicy(ctx context.Context, project string) (*ReleasePolicy, error) {
	const op = "storage.GetReleasePolicy"

	row := q.db.QueryRowContext(ctx, `
		SELECT project, source_artifact_globs, binary_artifact_globs, min_vote_duration_hours,
			license_check_mode, strict_checking, mailto_addresses, workflow_hooks,
			vote_template, announce_template, preserve_download_files
		FROM release_policies WHERE project = ?
	`, project)

	var p ReleasePolicy
	var mode string
	var source, binary, mailto, hooks string
	var strict, preserve int
	err := row.Scan(&p.Project, &source, &binary, &p.MinVoteDurationHours,
		&mode, &strict, &mailto, &hooks, &p.VoteTemplate, &p.AnnounceTemplate, &preserve)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "project %q has no release policy", project)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan release policy")
	}
	p.SourceArtifactGlobs = unmarshalStrings(source)
	p.BinaryArtifactGlobs = unmarshalStrings(binary)
	p.LicenseCheckMode = LicenseCheckMode(mode)
	p.StrictChecking = strict != 0
	p.MailtoAddresses = unmarshalStrings(mailto)
	p.WorkflowHooks = unmarshalStrings(hooks)
	p.PreserveDownloadFiles = preserve != 0
	return &p, nil
}

// ResolveReleasePolicy returns the effective policy for a project, walking
// the super-project chain when the project has none of its own.
func (q *Queries) ResolveReleasePolicy(ctx context.Context, project string) (*ReleasePolicy, error) {
	seen := make(map[string]struct{})
	name := project
	for name != "" {
		if _, dup := seen[name]; dup {
			break // cycle in super-project chain
		}
		seen[name] = struct{}{}

		policy, err := q.GetReleasePolicy(ctx, name)
		if err == nil {
			return policy, nil
		}
		if !atrerrors.IsKind(err, atrerrors.KindNotFound) {
			return nil, err
		}
		p, err := q.GetProject(ctx, name)
		if err != nil {
			return nil, err
		}
		name = p.SuperProject
	}
	return nil, atrerrors.Newf(atrerrors.KindNotFound, "project %q has no effective release policy", project)
}
