package storage

import (
	"context"
	"database/sql"
	"errors"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// UpsertCommittee inserts or replaces a committee row. Committees are
// mirrored from the external directory, so the mirror always wins.
func (q *Queries) UpsertCommittee(ctx context.Context, c *Committee) error {
	const op = "storage.UpsertCommittee"

	podling := 0
	if c.Podling {
		podling = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO committees (name, display_name, podling, members, committers, release_managers, parent)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			podling = excluded.podling,
			members = excluded.members,
			committers = excluded.committers,
			release_managers = excluded.release_managers,
			parent = excluded.parent
	`, c.Name, c.DisplayName, podling,
		marshalStrings(c.Members), marshalStrings(c.Committers),
		marshalStrings(c.ReleaseManagers), c.Parent)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to upsert committee")
	}
	return nil
}

// GetCommittee returns the committee with the given name.
func (q *Queries) GetCommittee(ctx context.Context, name string) (*Committee, error) {
	const op = "storage.GetCommittee"

	row := q.db.QueryRowContext(ctx, `
		SELECT name, display_name, podling, members, committers, release_managers, parent
		FROM committees WHERE name = ?
	`, name)

	var c Committee
	var podling int
	var members, committers, managers string
	err := row.Scan(&c.Name, &c.DisplayName, &podling, &members, &committers, &managers, &c.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "committee %q does not exist", name)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan committee")
	}
	c.Podling = podling != 0
	c.Members = unmarshalStrings(members)
	c.Committers = unmarshalStrings(committers)
	c.ReleaseManagers = unmarshalStrings(managers)
	return &c, nil
}

// ListCommittees returns all committees ordered by name.
func (q *Queries) ListCommittees(ctx context.Context) ([]*Committee, error) {
	const op = "storage.ListCommittees"

	rows, err := q.db.QueryContext(ctx, `
		SELECT name, display_name, podling, members, committers, release_managers, parent
		FROM committees ORDER BY name
	`)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query committees")
	}
	defer rows.Close()

	var out []*Committee
	for rows.Next() {
		var c Committee
		var podling int
		var members, committers, managers string
		if err := rows.Scan(&c.Name, &c.DisplayName, &podling, &members, &committers, &managers, &c.Parent); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan committee")
		}
		c.Podling = podling != 0
		c.Members = unmarshalStrings(members)
		c.Committers = unmarshalStrings(committers)
		c.ReleaseManagers = unmarshalStrings(managers)
		out = append(out, &c)
	}
	return out, rows.Err()
}
