package authz

import (
	"context"
	"time"

	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// PublicDistributions lists where a release has been published.
type PublicDistributions struct {
	f *Facade
}

func (d PublicDistributions) List(ctx context.Context, release string) ([]*storage.Distribution, error) {
	return d.f.store.Queries().ListDistributions(ctx, release)
}

// MemberDistributions adds recording and removing platform records for the
// committee's own releases.
type MemberDistributions struct {
	PublicDistributions
	f         *Facade
	uid       string
	committee *storage.Committee
}

// Record inserts a distribution record. A staging record may later be
// upgraded in place by a matching non-staging record; any other duplicate
// of the platform tuple is a conflict.
func (d MemberDistributions) Record(ctx context.Context, dist *storage.Distribution) error {
	if err := d.f.requireOwnedRelease(ctx, d.committee, dist.Release); err != nil {
		return err
	}
	if dist.UploadDate.IsZero() {
		dist.UploadDate = time.Now().UTC()
	}
	if err := d.f.store.Queries().InsertDistribution(ctx, dist); err != nil {
		return err
	}
	d.f.record("distributions.record", d.uid, map[string]any{
		"release": dist.Release, "platform": dist.Platform,
		"namespace": dist.OwnerNamespace, "package": dist.Package,
		"version": dist.Version, "staging": dist.Staging,
	})
	return nil
}

func (d MemberDistributions) Delete(ctx context.Context, release, platform, ownerNamespace, pkg, version string) error {
	if err := d.f.requireOwnedRelease(ctx, d.committee, release); err != nil {
		return err
	}
	if err := d.f.store.Queries().DeleteDistribution(ctx, release, platform, ownerNamespace, pkg, version); err != nil {
		return err
	}
	d.f.record("distributions.delete", d.uid, map[string]any{
		"release": release, "platform": platform,
		"namespace": ownerNamespace, "package": pkg, "version": version,
	})
	return nil
}
