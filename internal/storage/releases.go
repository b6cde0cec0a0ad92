package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// ReleaseName returns the canonical name for a (project, version) pair.
func ReleaseName(project, version string) string {
	return project + "-" + version
}

// CreateRelease inserts a new release row together with its revision
// counter.
func (q *Queries) CreateRelease(ctx context.Context, r *Release) error {
	const op = "storage.CreateRelease"

	manual := 0
	if r.VoteManual {
		manual = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO releases (name, project, version, phase, created_at, vote_manual)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.Name, r.Project, r.Version, string(r.Phase), r.CreatedAt.UTC(), manual)
	if IsUniqueConstraint(err) {
		return atrerrors.Newf(atrerrors.KindConflict, "release %s %s already exists", r.Project, r.Version)
	}
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert release")
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO revision_counters (release, last_allocated_number) VALUES (?, 0)
	`, r.Name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert revision counter")
	}
	return nil
}

// GetRelease returns the release with the given canonical name.
func (q *Queries) GetRelease(ctx context.Context, name string) (*Release, error) {
	const op = "storage.GetRelease"

	row := q.db.QueryRowContext(ctx, releaseColumns+` FROM releases WHERE name = ?`, name)
	r, err := scanRelease(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "release %q does not exist", name)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan release")
	}
	return r, nil
}

// ReleaseFilter selects releases by optional predicates.
type ReleaseFilter struct {
	Project string
	Phase   Phase
}

// ListReleases returns releases matching the filter. Within a project,
// versions that parse as semver sort descending by version; the remainder
// sort lexically after them.
func (q *Queries) ListReleases(ctx context.Context, f ReleaseFilter) ([]*Release, error) {
	const op = "storage.ListReleases"

	query := releaseColumns + ` FROM releases WHERE 1=1`
	var args []any
	if f.Project != "" {
		query += ` AND project = ?`
		args = append(args, f.Project)
	}
	if f.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, string(f.Phase))
	}
	query += ` ORDER BY project, created_at DESC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query releases")
	}
	defer rows.Close()

	var out []*Release
	for rows.Next() {
		r, err := scanRelease(rows.Scan)
		if err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan release")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to iterate releases")
	}

	sortReleasesByVersion(out)
	return out, nil
}

// sortReleasesByVersion orders releases within each project by semver when
// both versions parse, newest first. Non-semver versions keep their
// created-at order after the semver ones.
func sortReleasesByVersion(releases []*Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		a, b := releases[i], releases[j]
		if a.Project != b.Project {
			return a.Project < b.Project
		}
		va, errA := semver.NewVersion(a.Version)
		vb, errB := semver.NewVersion(b.Version)
		switch {
		case errA == nil && errB == nil:
			return va.GreaterThan(vb)
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return false
		}
	})
}

// UpdateReleasePhase unconditionally sets the phase of a release. Guarded
// transitions use PromoteRelease instead.
func (q *Queries) UpdateReleasePhase(ctx context.Context, name string, phase Phase) error {
	const op = "storage.UpdateReleasePhase"

	res, err := q.db.ExecContext(ctx,
		`UPDATE releases SET phase = ? WHERE name = ?`, string(phase), name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to update release phase")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "release %q does not exist", name)
	}
	return nil
}

// PromoteRelease performs the optimistic draft-to-candidate update: the
// phase change is conditioned on the release still being in fromPhase AND
// latestNumber still being the newest revision. Zero rows affected means a
// newer revision appeared or the phase moved concurrently.
func (q *Queries) PromoteRelease(ctx context.Context, name string, fromPhase, toPhase Phase, latestNumber string) error {
	const op = "storage.PromoteRelease"

	res, err := q.db.ExecContext(ctx, `
		UPDATE releases SET phase = ?
		WHERE name = ? AND phase = ?
		AND ? = (SELECT number FROM revisions WHERE release = ? ORDER BY seq DESC LIMIT 1)
	`, string(toPhase), name, string(fromPhase), latestNumber, name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to promote release")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Conflict(op, "a newer revision appeared, please refresh and try again")
	}
	return nil
}

// UpdateReleaseVote records vote metadata on the release row.
func (q *Queries) UpdateReleaseVote(ctx context.Context, r *Release) error {
	const op = "storage.UpdateReleaseVote"

	manual := 0
	if r.VoteManual {
		manual = 1
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE releases SET
			vote_started_at = ?, vote_ends_at = ?, vote_duration_hours = ?,
			vote_thread_id = ?, podling_thread_id = ?, vote_manual = ?, vote_resolution = ?
		WHERE name = ?
	`, r.VoteStartedAt, r.VoteEndsAt, r.VoteDurationHours,
		r.VoteThreadID, r.PodlingThreadID, manual, r.VoteResolution, r.Name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to update vote metadata")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "release %q does not exist", r.Name)
	}
	return nil
}

// FinishRelease marks the release as announced: phase RELEASE, released
// timestamp set, and all revision rows deleted. Runs inside the announce
// transaction.
func (q *Queries) FinishRelease(ctx context.Context, name string, releasedAt time.Time) error {
	const op = "storage.FinishRelease"

	res, err := q.db.ExecContext(ctx, `
		UPDATE releases SET phase = ?, released_at = ? WHERE name = ? AND phase = ?
	`, string(PhaseRelease), releasedAt.UTC(), name, string(PhasePreview))
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to finish release")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Conflict(op, "release is not in preview phase")
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM revisions WHERE release = ?`, name); err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete revisions")
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM revision_counters WHERE release = ?`, name); err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete revision counter")
	}
	return nil
}

// DeleteRelease removes the release and, via cascade, its revisions and
// check results.
func (q *Queries) DeleteRelease(ctx context.Context, name string) error {
	const op = "storage.DeleteRelease"

	res, err := q.db.ExecContext(ctx, `DELETE FROM releases WHERE name = ?`, name)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete release")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "release %q does not exist", name)
	}
	return nil
}

const releaseColumns = `
	SELECT name, project, version, phase, created_at, released_at,
		vote_started_at, vote_ends_at, vote_duration_hours, vote_thread_id,
		podling_thread_id, vote_manual, vote_resolution`

func scanRelease(scan func(dest ...any) error) (*Release, error) {
	var r Release
	var phase string
	var released, voteStarted, voteEnds sql.NullTime
	var manual int
	err := scan(&r.Name, &r.Project, &r.Version, &phase, &r.CreatedAt, &released,
		&voteStarted, &voteEnds, &r.VoteDurationHours, &r.VoteThreadID,
		&r.PodlingThreadID, &manual, &r.VoteResolution)
	if err != nil {
		return nil, err
	}
	r.Phase = Phase(phase)
	if released.Valid {
		t := released.Time
		r.ReleasedAt = &t
	}
	if voteStarted.Valid {
		t := voteStarted.Time
		r.VoteStartedAt = &t
	}
	if voteEnds.Valid {
		t := voteEnds.Time
		r.VoteEndsAt = &t
	}
	r.VoteManual = manual != 0
	return &r, nil
}
