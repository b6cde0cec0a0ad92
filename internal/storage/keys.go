package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// UpsertPublicSigningKey inserts or updates a signing key by fingerprint.
// Re-adding an existing fingerprint extends its committee bindings rather
// than replacing them.
func (q *Queries) UpsertPublicSigningKey(ctx context.Context, k *PublicSigningKey) error {
	const op = "storage.UpsertPublicSigningKey"

	committees := k.Committees
	existing, err := q.GetPublicSigningKey(ctx, k.Fingerprint)
	if err == nil {
		committees = mergeStrings(existing.Committees, committees)
	} else if !atrerrors.IsKind(err, atrerrors.KindNotFound) {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO public_signing_keys (fingerprint, owner, key_text, committees, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			owner = excluded.owner,
			key_text = excluded.key_text,
			committees = excluded.committees
	`, k.Fingerprint, k.Owner, k.KeyText, marshalStrings(committees), k.CreatedAt.UTC())
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to upsert signing key")
	}
	return nil
}

// mergeStrings unions two lists, keeping first-seen order.
func mergeStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			merged = append(merged, s)
		}
	}
	return merged
}

// GetPublicSigningKey returns a signing key by fingerprint.
func (q *Queries) GetPublicSigningKey(ctx context.Context, fingerprint string) (*PublicSigningKey, error) {
	const op = "storage.GetPublicSigningKey"

	row := q.db.QueryRowContext(ctx, `
		SELECT fingerprint, owner, key_text, committees, created_at
		FROM public_signing_keys WHERE fingerprint = ?
	`, fingerprint)

	var k PublicSigningKey
	var committees string
	err := row.Scan(&k.Fingerprint, &k.Owner, &k.KeyText, &committees, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "signing key %q does not exist", fingerprint)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan signing key")
	}
	k.Committees = unmarshalStrings(committees)
	return &k, nil
}

// ListPublicSigningKeys returns signing keys associated with a committee.
func (q *Queries) ListPublicSigningKeys(ctx context.Context, committee string) ([]*PublicSigningKey, error) {
	const op = "storage.ListPublicSigningKeys"

	// Committee association is a JSON array; filtering happens in Go since
	// the sets are small.
	rows, err := q.db.QueryContext(ctx, `
		SELECT fingerprint, owner, key_text, committees, created_at
		FROM public_signing_keys ORDER BY fingerprint
	`)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query signing keys")
	}
	defer rows.Close()

	var out []*PublicSigningKey
	for rows.Next() {
		var k PublicSigningKey
		var committees string
		if err := rows.Scan(&k.Fingerprint, &k.Owner, &k.KeyText, &committees, &k.CreatedAt); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan signing key")
		}
		k.Committees = unmarshalStrings(committees)
		if committee == "" || containsString(k.Committees, committee) {
			out = append(out, &k)
		}
	}
	return out, rows.Err()
}

// DeletePublicSigningKey removes a signing key.
func (q *Queries) DeletePublicSigningKey(ctx context.Context, fingerprint string) error {
	const op = "storage.DeletePublicSigningKey"

	res, err := q.db.ExecContext(ctx, `DELETE FROM public_signing_keys WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete signing key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "signing key %q does not exist", fingerprint)
	}
	return nil
}

// AddSSHKey inserts a user SSH key.
func (q *Queries) AddSSHKey(ctx context.Context, k *SSHKey) error {
	const op = "storage.AddSSHKey"

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ssh_keys (fingerprint, owner, key_text, created_at)
		VALUES (?, ?, ?, ?)
	`, k.Fingerprint, k.Owner, k.KeyText, k.CreatedAt.UTC())
	if IsUniqueConstraint(err) {
		return atrerrors.Newf(atrerrors.KindConflict, "ssh key %q already exists", k.Fingerprint)
	}
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert ssh key")
	}
	return nil
}

// ListSSHKeys returns a user's SSH keys.
func (q *Queries) ListSSHKeys(ctx context.Context, owner string) ([]*SSHKey, error) {
	const op = "storage.ListSSHKeys"

	rows, err := q.db.QueryContext(ctx, `
		SELECT fingerprint, owner, key_text, created_at
		FROM ssh_keys WHERE owner = ? ORDER BY fingerprint
	`, owner)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query ssh keys")
	}
	defer rows.Close()

	var out []*SSHKey
	for rows.Next() {
		var k SSHKey
		if err := rows.Scan(&k.Fingerprint, &k.Owner, &k.KeyText, &k.CreatedAt); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan ssh key")
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// DeleteSSHKey removes a user SSH key.
func (q *Queries) DeleteSSHKey(ctx context.Context, fingerprint, owner string) error {
	const op = "storage.DeleteSSHKey"

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM ssh_keys WHERE fingerprint = ? AND owner = ?`, fingerprint, owner)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete ssh key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindNotFound, "ssh key %q does not exist", fingerprint)
	}
	return nil
}

// AddWorkflowSSHKey inserts a project-bound expiring automation key.
func (q *Queries) AddWorkflowSSHKey(ctx context.Context, k *WorkflowSSHKey) error {
	const op = "storage.AddWorkflowSSHKey"

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO workflow_ssh_keys (fingerprint, owner, key_text, project, expires, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.Fingerprint, k.Owner, k.KeyText, k.Project, k.Expires, k.CreatedAt.UTC())
	if IsUniqueConstraint(err) {
		return atrerrors.Newf(atrerrors.KindConflict, "workflow ssh key %q already exists", k.Fingerprint)
	}
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert workflow ssh key")
	}
	return nil
}

// DeleteExpiredWorkflowSSHKeys removes automation keys whose expiry has
// passed. Returns the number of keys removed.
func (q *Queries) DeleteExpiredWorkflowSSHKeys(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.DeleteExpiredWorkflowSSHKeys"

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM workflow_ssh_keys WHERE expires > 0 AND expires <= ?`, now.Unix())
	if err != nil {
		return 0, atrerrors.InternalWrap(err, op, "failed to delete expired keys")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AddPersonalAccessToken inserts an API token record.
func (q *Queries) AddPersonalAccessToken(ctx context.Context, t *PersonalAccessToken) error {
	const op = "storage.AddPersonalAccessToken"

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO personal_access_tokens (token_hash, owner, label, created_at)
		VALUES (?, ?, ?, ?)
	`, t.TokenHash, t.Owner, t.Label, t.CreatedAt.UTC())
	if IsUniqueConstraint(err) {
		return atrerrors.Conflict(op, "token already exists")
	}
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to insert token")
	}
	return nil
}

// TouchPersonalAccessToken records token use.
func (q *Queries) TouchPersonalAccessToken(ctx context.Context, tokenHash string, now time.Time) error {
	const op = "storage.TouchPersonalAccessToken"

	_, err := q.db.ExecContext(ctx,
		`UPDATE personal_access_tokens SET last_used = ? WHERE token_hash = ?`, now.UTC(), tokenHash)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to touch token")
	}
	return nil
}

// DeletePersonalAccessToken removes an owner's token.
func (q *Queries) DeletePersonalAccessToken(ctx context.Context, tokenHash, owner string) error {
	const op = "storage.DeletePersonalAccessToken"

	res, err := q.db.ExecContext(ctx,
		`DELETE FROM personal_access_tokens WHERE token_hash = ? AND owner = ?`, tokenHash, owner)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to delete token")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.NotFound(op, "token does not exist")
	}
	return nil
}
