package authz

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sebbASF/tooling-trusted-releases/internal/checks"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
)

// PublicChecks exposes recorded check results. Ignore rules filter the view
// here at read time; the rows themselves are never touched.
type PublicChecks struct {
	f *Facade
}

// Results lists check results with the committee's ignore rules applied.
func (c PublicChecks) Results(ctx context.Context, committee string, filter storage.CheckResultFilter) ([]*storage.CheckResult, error) {
	q := c.f.store.Queries()
	results, err := q.ListCheckResults(ctx, filter)
	if err != nil {
		return nil, err
	}
	rules, err := q.ListCheckResultIgnores(ctx, committee)
	if err != nil {
		return nil, err
	}
	return checks.ApplyIgnores(results, rules), nil
}

// RawResults lists check results without ignore filtering.
func (c PublicChecks) RawResults(ctx context.Context, filter storage.CheckResultFilter) ([]*storage.CheckResult, error) {
	return c.f.store.Queries().ListCheckResults(ctx, filter)
}

// MemberChecks adds managing the committee's ignore rules.
type MemberChecks struct {
	PublicChecks
	f         *Facade
	uid       string
	committee *storage.Committee
}

func (c MemberChecks) AddIgnore(ctx context.Context, ig *storage.CheckResultIgnore) error {
	ig.Committee = c.committee.Name
	ig.CreatedBy = c.uid
	ig.CreatedAt = time.Now().UTC()
	if err := c.f.store.Queries().AddCheckResultIgnore(ctx, ig); err != nil {
		return err
	}
	c.f.record("checks.add_ignore", c.uid, map[string]any{
		"committee": ig.Committee, "checker_glob": ig.CheckerGlob,
		"release_glob": ig.ReleaseGlob,
	})
	return nil
}

func (c MemberChecks) ListIgnores(ctx context.Context) ([]*storage.CheckResultIgnore, error) {
	return c.f.store.Queries().ListCheckResultIgnores(ctx, c.committee.Name)
}

func (c MemberChecks) DeleteIgnore(ctx context.Context, id int64) error {
	if err := c.f.store.Queries().DeleteCheckResultIgnore(ctx, id, c.committee.Name); err != nil {
		return err
	}
	c.f.record("checks.delete_ignore", c.uid, map[string]any{
		"id": id, "committee": c.committee.Name,
	})
	return nil
}

// ParticipantSBOM enqueues SBOM generation for an uploaded artifact of the
// committee's projects.
type ParticipantSBOM struct {
	f         *Facade
	uid       string
	committee *storage.Committee
}

func (s ParticipantSBOM) Generate(ctx context.Context, project, version, revisionNumber, artifactRelPath string) (int64, error) {
	if err := s.f.requireOwnedProject(ctx, s.committee, project); err != nil {
		return 0, err
	}
	dir := s.f.content.UnfinishedDir(project, version, revisionNumber)
	args, err := tasks.EncodeArgs(tasks.SBOMGenerateArgs{
		ArtifactPath: filepath.Join(dir, artifactRelPath),
		OutputPath:   filepath.Join(dir, artifactRelPath+".cdx.json"),
	})
	if err != nil {
		return 0, err
	}
	id, err := s.f.store.Queries().EnqueueTask(ctx, &storage.Task{
		Type:           tasks.TypeSBOMGenerate,
		Args:           args,
		UserID:         s.uid,
		Added:          time.Now().UTC(),
		Project:        project,
		Version:        version,
		Revision:       revisionNumber,
		PrimaryRelPath: artifactRelPath,
	})
	if err != nil {
		return 0, err
	}
	s.f.record("sbom.generate", s.uid, map[string]any{
		"project": project, "version": version,
		"revision": revisionNumber, "artifact": artifactRelPath,
	})
	return id, nil
}

// AdminCache evicts recorded check results so the copy-forward cache cannot
// serve them again.
type AdminCache struct {
	f   *Facade
	uid string
}

func (c AdminCache) Evict(ctx context.Context, release, revisionNumber string) (int64, error) {
	n, err := c.f.store.Queries().DeleteCheckResults(ctx, release, revisionNumber)
	if err != nil {
		return 0, err
	}
	c.f.record("cache.evict", c.uid, map[string]any{
		"release": release, "revision": revisionNumber, "deleted": n,
	})
	return n, nil
}
