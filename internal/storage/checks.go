package storage

import (
	"context"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// AppendCheckResult inserts one check finding. Results are append-only
// within a revision.
func (q *Queries) AppendCheckResult(ctx context.Context, r *CheckResult) error {
	const op = "storage.AppendCheckResult"

	var data any
	if r.Data != nil {
		data = string(r.Data)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO check_results (checker, release, revision, primary_path, member_path,
			status, message, data, input_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Checker, r.Release, r.Revision, r.PrimaryPath, r.MemberPath,
		string(r.Status), r.Message, data, r.InputHash, r.CreatedAt.UTC())
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert check result")
	}
	id, err := res.LastInsertId()
	if err == nil {
		r.ID = id
	}
	return nil
}

// CheckResultFilter selects check results by optional predicates.
type CheckResultFilter struct {
	Release     string
	Revision    string
	Checker     string
	PrimaryPath string
	Status      CheckStatus
}

// ListCheckResults returns check results matching the filter, in insertion
// order.
func (q *Queries) ListCheckResults(ctx context.Context, f CheckResultFilter) ([]*CheckResult, error) {
	const op = "storage.ListCheckResults"

	query := `
		SELECT id, checker, release, revision, primary_path, member_path,
			status, message, data, input_hash, created_at
		FROM check_results WHERE 1=1`
	var args []any
	if f.Release != "" {
		query += ` AND release = ?`
		args = append(args, f.Release)
	}
	if f.Revision != "" {
		query += ` AND revision = ?`
		args = append(args, f.Revision)
	}
	if f.Checker != "" {
		query += ` AND checker = ?`
		args = append(args, f.Checker)
	}
	if f.PrimaryPath != "" {
		query += ` AND primary_path = ?`
		args = append(args, f.PrimaryPath)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query check results")
	}
	defer rows.Close()

	var out []*CheckResult
	for rows.Next() {
		var r CheckResult
		var status string
		var data *string
		if err := rows.Scan(&r.ID, &r.Checker, &r.Release, &r.Revision, &r.PrimaryPath,
			&r.MemberPath, &status, &r.Message, &data, &r.InputHash, &r.CreatedAt); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan check result")
		}
		r.Status = CheckStatus(status)
		if data != nil {
			r.Data = []byte(*data)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// FindCachedCheckResults returns prior results for the same checker, input
// hash and primary path from any earlier revision of the release. Used to
// copy results forward instead of re-running a check.
func (q *Queries) FindCachedCheckResults(ctx context.Context, release, checker, inputHash, primaryPath, excludeRevision string) ([]*CheckResult, error) {
	const op = "storage.FindCachedCheckResults"

	// Only the most recent prior revision with a matching hash is copied;
	// joining on one revision keeps duplicate member rows out.
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, checker, release, revision, primary_path, member_path,
			status, message, data, input_hash, created_at
		FROM check_results
		WHERE release = ? AND checker = ? AND input_hash = ? AND primary_path = ?
			AND revision != ?
			AND revision = (
				SELECT revision FROM check_results
				WHERE release = ? AND checker = ? AND input_hash = ? AND primary_path = ?
					AND revision != ?
				ORDER BY id DESC LIMIT 1
			)
		ORDER BY id
	`, release, checker, inputHash, primaryPath, excludeRevision,
		release, checker, inputHash, primaryPath, excludeRevision)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query cached results")
	}
	defer rows.Close()

	var out []*CheckResult
	for rows.Next() {
		var r CheckResult
		var status string
		var data *string
		if err := rows.Scan(&r.ID, &r.Checker, &r.Release, &r.Revision, &r.PrimaryPath,
			&r.MemberPath, &status, &r.Message, &data, &r.InputHash, &r.CreatedAt); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan cached result")
		}
		r.Status = CheckStatus(status)
		if data != nil {
			r.Data = []byte(*data)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// AddCheckResultIgnore inserts a committee-scoped ignore rule.
func (q *Queries) AddCheckResultIgnore(ctx context.Context, ig *CheckResultIgnore) error {
	const op = "storage.AddCheckResultIgnore"

	if ig.CreatedAt.IsZero() {
		ig.CreatedAt = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO check_result_ignores (committee, release_glob, checker_glob, primary_glob,
			member_glob, status_glob, message_glob, revision_glob, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ig.Committee, ig.ReleaseGlob, ig.CheckerGlob, ig.PrimaryGlob,
		ig.MemberGlob, ig.StatusGlob, ig.MessageGlob, ig.RevisionGlob,
		ig.CreatedBy, ig.CreatedAt)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert ignore rule")
	}
	id, err := res.LastInsertId()
	if err == nil {
		ig.ID = id
	}
	return nil
}

// ListCheckResultIgnores returns a committee's ignore rules.
func (q *Queries) ListCheckResultIgnores(ctx context.Context, committee string) ([]*CheckResultIgnore, error) {
	const op = "storage.ListCheckResultIgnores"

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, committee, release_glob, checker_glob, primary_glob, member_glob,
			status_glob, message_glob, revision_glob, created_by, created_at
		FROM check_result_ignores WHERE committee = ? ORDER BY id
	`, committee)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query ignore rules")
	}
	defer rows.Close()

	var out []*CheckResultIgnore
	for rows.Next() {
		var ig CheckResultIgnore
		if err := rows.Scan(&ig.ID, &ig.Committee, &ig.ReleaseGlob, &ig.CheckerGlob,
			&ig.PrimaryGlob, &ig.MemberGlob, &ig.StatusGlob, &ig.MessageGlob,
			&ig.RevisionGlob, &ig.CreatedBy, &ig.CreatedAt); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan ignore rule")
		}
		out = append(out, &ig)
	}
	return out, rows.Err()
}

// DeleteCheckResults removes all recorded results for one revision, which
// also evicts them from the copy-forward cache.
func (q *Queries) DeleteCheckResults(ctx context.Context, release, revision string) (int64, error) {
	const op = "storage.DeleteCheckResults"

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM check_results WHERE release = ? AND revision = ?`, release, revision)
	if err != nil {
		return 0, atrerrors.InternalWrap(err, op, "failed to delete check results")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteCheckResultIgnore removes one of the committee's ignore rules by id.
// An id belonging to another committee reads as not found.
func (q *Queries) DeleteCheckResultIgnore(ctx context.Context, id int64, committee string) error {
	const op = "storage.DeleteCheckResultIgnore"

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM check_result_ignores WHERE id = ? AND committee = ?`, id, committee)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete ignore rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "ignore rule %d does not exist for %s", id, committee)
	}
	return nil
}
