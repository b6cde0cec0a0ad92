// Package revision creates immutable content revisions. A revision is built
// in a staging directory, sealed by an atomic rename, and recorded in the
// same write transaction that allocates its number, so the row and the
// directory appear together or not at all.
package revision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sebbASF/tooling-trusted-releases/internal/checks"
	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// Creating is the handle yielded to the mutation callback. The callback
// mutates InterimPath freely; after a successful commit New holds the sealed
// revision, and after a clean abort Failed holds the diagnostic.
type Creating struct {
	Old         *storage.Revision
	InterimPath string
	New         *storage.Revision
	Failed      string
}

// Abort returns the error a mutation callback uses to discard its staged
// changes without surfacing an error to the caller.
func Abort(message string) error {
	return atrerrors.Failed("revision.Abort", message)
}

// Manager coordinates the metadata store and the content store for revision
// creation.
type Manager struct {
	store   *storage.Store
	content *content.Store
	checks  *checks.Orchestrator
	logger  *slog.Logger
}

func NewManager(store *storage.Store, cs *content.Store, orch *checks.Orchestrator, logger *slog.Logger) *Manager {
	return &Manager{store: store, content: cs, checks: orch, logger: logger}
}

// CreateAndManage builds the next revision of a release:
//
//  1. Clone the latest revision (if any) into a fresh staging directory.
//  2. Run mutate against the staging directory.
//  3. Normalize permissions, allocate the next dense number under a write
//     lock, insert the row, rename staging into place, commit.
//  4. For CANDIDATE_DRAFT releases, enqueue checks in a follow-on
//     transaction.
//
// A mutate error of kind Failed aborts cleanly: staging is discarded and the
// returned Creating carries the diagnostic. Any other error also discards
// staging and is returned as-is.
func (m *Manager) CreateAndManage(ctx context.Context, releaseName, author, description string, mutate func(c *Creating) error) (*Creating, error) {
	return m.create(ctx, releaseName, author, description, mutate, true)
}

// CloneForPreview creates a new revision that is an untouched hard-link
// clone of the latest one. Used when a passed vote moves the release into
// PREVIEW; the mutability guard does not apply to this system action.
func (m *Manager) CloneForPreview(ctx context.Context, releaseName, author string) (*storage.Revision, error) {
	c, err := m.create(ctx, releaseName, author, "preview clone of the passed candidate", func(c *Creating) error {
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return c.New, nil
}

func (m *Manager) create(ctx context.Context, releaseName, author, description string, mutate func(c *Creating) error, enforceMutable bool) (*Creating, error) {
	const op = "revision.CreateAndManage"

	q := m.store.Queries()
	rel, err := q.GetRelease(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	if enforceMutable && !rel.Phase.Mutable() {
		return nil, atrerrors.Newf(atrerrors.KindConflict, "release %s is in phase %s and cannot be modified", rel.Name, rel.Phase)
	}

	latest, err := q.GetLatestRevision(ctx, rel.Name)
	if err != nil && !atrerrors.IsKind(err, atrerrors.KindNotFound) {
		return nil, err
	}

	staging, err := m.content.NewStagingDir()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if cerr := m.content.RecursiveDelete(staging); cerr != nil {
				m.logger.Error("failed to discard staging directory", "path", staging, "error", cerr)
			}
		}
	}()

	if latest != nil {
		oldDir := m.content.UnfinishedDir(rel.Project, rel.Version, latest.Number)
		if err := m.content.CloneByHardlink(oldDir, staging, false, false); err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to clone prior revision")
		}
	}

	creating := &Creating{Old: latest, InterimPath: staging}
	if err := mutate(creating); err != nil {
		var aerr *atrerrors.Error
		if errors.As(err, &aerr) && aerr.Kind == atrerrors.KindFailed {
			creating.Failed = aerr.Message
			m.logger.Info("revision build aborted", "release", rel.Name, "reason", aerr.Message)
			return creating, nil
		}
		return nil, err
	}

	if err := m.content.ChmodDirectories(staging); err != nil {
		return nil, err
	}

	var sealed *storage.Revision
	err = m.store.WithWriteTx(ctx, func(q *storage.Queries) error {
		// Re-read under the write lock: the phase may have moved while
		// the caller was mutating staging.
		current, err := q.GetRelease(ctx, rel.Name)
		if err != nil {
			return err
		}
		if enforceMutable && !current.Phase.Mutable() {
			return atrerrors.Newf(atrerrors.KindConflict, "release %s is in phase %s and cannot be modified", current.Name, current.Phase)
		}

		seq, err := q.AllocateRevisionNumber(ctx, rel.Name)
		if err != nil {
			return err
		}
		rev := &storage.Revision{
			Release:     rel.Name,
			Seq:         seq,
			Number:      storage.FormatRevisionNumber(seq),
			Author:      author,
			CreatedAt:   time.Now().UTC(),
			Phase:       current.Phase,
			Description: description,
		}
		if latest != nil {
			rev.Parent = latest.Number
		}
		if err := q.InsertRevision(ctx, rev); err != nil {
			return err
		}

		final := m.content.UnfinishedDir(rel.Project, rel.Version, rev.Number)
		if err := m.content.AtomicRename(staging, final); err != nil {
			return err
		}
		committed = true
		sealed = rev
		return nil
	})
	if err != nil {
		if committed {
			// The rename happened but the transaction failed to commit;
			// remove the orphaned directory so row and directory agree.
			committed = false
			staging = m.content.UnfinishedDir(rel.Project, rel.Version, sealed.Number)
		}
		return nil, err
	}

	creating.New = sealed
	m.logger.Info("revision sealed", "release", rel.Name, "revision", sealed.Number, "author", author)

	if rel.Phase == storage.PhaseCandidateDraft && m.checks != nil {
		committee, podling, err := m.lookupCommittee(ctx, rel.Project)
		if err != nil {
			return nil, err
		}
		err = m.store.WithWriteTx(ctx, func(q *storage.Queries) error {
			return m.checks.EnqueueForRevision(ctx, q, rel, sealed.Number, committee, podling)
		})
		if err != nil {
			return nil, err
		}
	}
	return creating, nil
}

func (m *Manager) lookupCommittee(ctx context.Context, project string) (string, bool, error) {
	q := m.store.Queries()
	proj, err := q.GetProject(ctx, project)
	if err != nil {
		return "", false, err
	}
	committee, err := q.GetCommittee(ctx, proj.Committee)
	if err != nil {
		return "", false, err
	}
	return committee.Name, committee.Podling, nil
}
