package storage

import (
	"context"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// InsertDistribution records an external publication. A conflict on the
// five-tuple primary key where the existing row is a staging record is
// upgraded in place when the new record is non-staging; any other conflict
// surfaces as KindConflict. Staging never overwrites non-staging.
func (q *Queries) InsertDistribution(ctx context.Context, d *Distribution) error {
	const op = "storage.InsertDistribution"

	staging := 0
	if d.Staging {
		staging = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO distributions (release, platform, owner_namespace, package, version,
			staging, upload_date, api_url, web_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.Release, d.Platform, d.OwnerNamespace, d.Package, d.Version,
		staging, d.UploadDate.UTC(), d.APIURL, d.WebURL)
	if err == nil {
		return nil
	}
	if !IsUniqueConstraint(err) {
		return atrerrors.InternalWrap(err, op, "failed to insert distribution")
	}

	if d.Staging {
		return atrerrors.Conflict(op, "distribution already recorded")
	}

	// Retry once as a staging upgrade: only an existing staging row may be
	// replaced by the non-staging record.
	res, err := q.db.ExecContext(ctx, `
		UPDATE distributions SET staging = 0, upload_date = ?, api_url = ?, web_url = ?
		WHERE release = ? AND platform = ? AND owner_namespace = ? AND package = ? AND version = ?
			AND staging = 1
	`, d.UploadDate.UTC(), d.APIURL, d.WebURL,
		d.Release, d.Platform, d.OwnerNamespace, d.Package, d.Version)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to upgrade staging distribution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Conflict(op, "distribution already recorded")
	}
	return nil
}

// ListDistributions returns all distribution records for a release.
func (q *Queries) ListDistributions(ctx context.Context, release string) ([]*Distribution, error) {
	const op = "storage.ListDistributions"

	rows, err := q.db.QueryContext(ctx, `
		SELECT release, platform, owner_namespace, package, version,
			staging, upload_date, api_url, web_url
		FROM distributions WHERE release = ?
		ORDER BY platform, owner_namespace, package, version
	`, release)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query distributions")
	}
	defer rows.Close()

	var out []*Distribution
	for rows.Next() {
		var d Distribution
		var staging int
		if err := rows.Scan(&d.Release, &d.Platform, &d.OwnerNamespace, &d.Package,
			&d.Version, &staging, &d.UploadDate, &d.APIURL, &d.WebURL); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan distribution")
		}
		d.Staging = staging != 0
		out = append(out, &d)
	}
	return out, rows.Err()
}

// DeleteDistribution removes one distribution record by its five-tuple.
func (q *Queries) DeleteDistribution(ctx context.Context, release, platform, ownerNamespace, pkg, version string) error {
	const op = "storage.DeleteDistribution"

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM distributions
		WHERE release = ? AND platform = ? AND owner_namespace = ? AND package = ? AND version = ?
	`, release, platform, ownerNamespace, pkg, version)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete distribution")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.NotFound(op, "distribution does not exist")
	}
	return nil
}

// SetTextValue upserts a (namespace, key) -> value record.
func (q *Queries) SetTextValue(ctx context.Context, namespace, key, value string) error {
	const op = "storage.SetTextValue"

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO text_values (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to set text value")
	}
	return nil
}

// GetTextValue returns the value for (namespace, key), or NotFound.
func (q *Queries) GetTextValue(ctx context.Context, namespace, key string) (string, error) {
	var value string
	err := q.db.QueryRowContext(ctx,
		`SELECT value FROM text_values WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if err != nil {
		return "", atrerrors.Newf(atrerrors.KindNotFound, "text value %s/%s does not exist", namespace, key)
	}
	return value, nil
}

// DeleteTextValue removes a (namespace, key) record.
func (q *Queries) DeleteTextValue(ctx context.Context, namespace, key string) error {
	const op = "storage.DeleteTextValue"

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM text_values WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete text value")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "text value %s/%s does not exist", namespace, key)
	}
	return nil
}
