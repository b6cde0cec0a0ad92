package authz

import (
	"context"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// PublicKeys exposes the published signing keys.
type PublicKeys struct {
	f *Facade
}

func (k PublicKeys) List(ctx context.Context, committee string) ([]*storage.PublicSigningKey, error) {
	return k.f.store.Queries().ListPublicSigningKeys(ctx, committee)
}

// ParticipantKeys adds publishing signing keys bound to the committee.
type ParticipantKeys struct {
	PublicKeys
	f         *Facade
	uid       string
	committee *storage.Committee
}

// Add publishes a signing key owned by the caller and bound to this
// committee. Re-adding an existing fingerprint extends its committee
// bindings.
func (k ParticipantKeys) Add(ctx context.Context, fingerprint, keyText string) error {
	err := k.f.store.Queries().UpsertPublicSigningKey(ctx, &storage.PublicSigningKey{
		Fingerprint: fingerprint,
		Owner:       k.uid,
		KeyText:     keyText,
		Committees:  []string{k.committee.Name},
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	k.f.record("keys.add", k.uid, map[string]any{
		"fingerprint": fingerprint, "committee": k.committee.Name,
	})
	return nil
}

// Delete removes a signing key the caller owns.
func (k ParticipantKeys) Delete(ctx context.Context, fingerprint string) error {
	key, err := k.f.store.Queries().GetPublicSigningKey(ctx, fingerprint)
	if err != nil {
		return err
	}
	if key.Owner != k.uid {
		return atrerrors.Newf(atrerrors.KindAccessDenied,
			"signing key %s is owned by %s", fingerprint, key.Owner)
	}
	if err := k.f.store.Queries().DeletePublicSigningKey(ctx, fingerprint); err != nil {
		return err
	}
	k.f.record("keys.delete", k.uid, map[string]any{"fingerprint": fingerprint})
	return nil
}

// CommitterSSH manages the caller's own ingest SSH keys.
type CommitterSSH struct {
	f   *Facade
	uid string
}

func (s CommitterSSH) Add(ctx context.Context, fingerprint, keyText string) error {
	err := s.f.store.Queries().AddSSHKey(ctx, &storage.SSHKey{
		Fingerprint: fingerprint,
		Owner:       s.uid,
		KeyText:     keyText,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.f.record("ssh.add", s.uid, map[string]any{"fingerprint": fingerprint})
	return nil
}

func (s CommitterSSH) List(ctx context.Context) ([]*storage.SSHKey, error) {
	return s.f.store.Queries().ListSSHKeys(ctx, s.uid)
}

func (s CommitterSSH) Delete(ctx context.Context, fingerprint string) error {
	if err := s.f.store.Queries().DeleteSSHKey(ctx, fingerprint, s.uid); err != nil {
		return err
	}
	s.f.record("ssh.delete", s.uid, map[string]any{"fingerprint": fingerprint})
	return nil
}

// CommitterTokens manages the caller's personal access tokens. Only hashes
// are stored; the plaintext never reaches this layer.
type CommitterTokens struct {
	f   *Facade
	uid string
}

func (t CommitterTokens) Create(ctx context.Context, tokenHash, label string) error {
	err := t.f.store.Queries().AddPersonalAccessToken(ctx, &storage.PersonalAccessToken{
		TokenHash: tokenHash,
		Owner:     t.uid,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	t.f.record("tokens.create", t.uid, map[string]any{"label": label})
	return nil
}

func (t CommitterTokens) Delete(ctx context.Context, tokenHash string) error {
	if err := t.f.store.Queries().DeletePersonalAccessToken(ctx, tokenHash, t.uid); err != nil {
		return err
	}
	t.f.record("tokens.delete", t.uid, nil)
	return nil
}
