package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// FormatRevisionNumber renders a sequence as the zero-padded on-disk form,
// minimum five digits.
func FormatRevisionNumber(seq int) string {
	return fmt.Sprintf("%05d", seq)
}

// AllocateRevisionNumber bumps the per-release counter and returns the new
// sequence. Must be called inside a BEGIN IMMEDIATE transaction so that
// concurrent creators serialize.
func (q *Queries) AllocateRevisionNumber(ctx context.Context, release string) (int, error) {
	const op = "storage.AllocateRevisionNumber"

	row := q.db.QueryRowContext(ctx, `
		UPDATE revision_counters SET last_allocated_number = last_allocated_number + 1
		WHERE release = ?
		RETURNING last_allocated_number
	`, release)

	var seq int
	err := row.Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, atrerrors.Newf(atrerrors.KindNotFound, "release %q has no revision counter", release)
	}
	if err != nil {
		return 0, atrerrors.InternalWrap(err, op, "failed to allocate revision number")
	}
	return seq, nil
}

// InsertRevision inserts a sealed revision row.
func (q *Queries) InsertRevision(ctx context.Context, r *Revision) error {
	const op = "storage.InsertRevision"

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO revisions (release, seq, number, author, created_at, phase, parent, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Release, r.Seq, r.Number, r.Author, r.CreatedAt.UTC(), string(r.Phase), r.Parent, r.Description)
	if IsUniqueConstraint(err) {
		return atrerrors.Newf(atrerrors.KindConflict, "revision %s of %q already exists", r.Number, r.Release)
	}
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert revision")
	}
	return nil
}

// GetLatestRevision returns the highest-sequence revision of a release, or
// NotFound when the release has none yet.
func (q *Queries) GetLatestRevision(ctx context.Context, release string) (*Revision, error) {
	const op = "storage.GetLatestRevision"

	row := q.db.QueryRowContext(ctx, `
		SELECT release, seq, number, author, created_at, phase, parent, description
		FROM revisions WHERE release = ? ORDER BY seq DESC LIMIT 1
	`, release)

	r, err := scanRevision(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "release %q has no revisions", release)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan revision")
	}
	return r, nil
}

// GetRevision returns one revision by its zero-padded number.
func (q *Queries) GetRevision(ctx context.Context, release, number string) (*Revision, error) {
	const op = "storage.GetRevision"

	row := q.db.QueryRowContext(ctx, `
		SELECT release, seq, number, author, created_at, phase, parent, description
		FROM revisions WHERE release = ? AND number = ?
	`, release, number)

	r, err := scanRevision(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "revision %s of %q does not exist", number, release)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan revision")
	}
	return r, nil
}

// ListRevisions returns all revisions of a release in sequence order.
func (q *Queries) ListRevisions(ctx context.Context, release string) ([]*Revision, error) {
	const op = "storage.ListRevisions"

	rows, err := q.db.QueryContext(ctx, `
		SELECT release, seq, number, author, created_at, phase, parent, description
		FROM revisions WHERE release = ? ORDER BY seq
	`, release)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query revisions")
	}
	defer rows.Close()

	var out []*Revision
	for rows.Next() {
		r, err := scanRevision(rows.Scan)
		if err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan revision")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRevision(scan func(dest ...any) error) (*Revision, error) {
	var r Revision
	var phase string
	err := scan(&r.Release, &r.Seq, &r.Number, &r.Author, &r.CreatedAt, &phase, &r.Parent, &r.Description)
	if err != nil {
		return nil, err
	}
	r.Phase = Phase(phase)
	return &r, nil
}
