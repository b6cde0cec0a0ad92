package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/revision"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
)

// versionPattern is the release version grammar: the allowed alphabet is
// [A-Za-z0-9.+-] and the name must begin and end alphanumeric.
var versionPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.+-]*[A-Za-z0-9])?$`)

// ValidateVersionName checks a version string against the release grammar.
func ValidateVersionName(version string) error {
	if !versionPattern.MatchString(version) {
		return atrerrors.Newf(atrerrors.KindValidation,
			"version %q must use [A-Za-z0-9.+-] and begin and end alphanumeric", version)
	}
	return nil
}

// Service drives release phase transitions against the metadata and content
// stores.
type Service struct {
	store     *storage.Store
	content   *content.Store
	revisions *revision.Manager
	logger    *slog.Logger
}

func NewService(store *storage.Store, cs *content.Store, revisions *revision.Manager, logger *slog.Logger) *Service {
	return &Service{store: store, content: cs, revisions: revisions, logger: logger}
}

// Start creates a new release in CANDIDATE_DRAFT with an empty initial
// revision.
func (s *Service) Start(ctx context.Context, project, version, creator string) (*storage.Release, error) {
	if err := ValidateVersionName(version); err != nil {
		return nil, err
	}
	if _, err := s.store.Queries().GetProject(ctx, project); err != nil {
		return nil, err
	}

	rel := &storage.Release{
		Name:      storage.ReleaseName(project, version),
		Project:   project,
		Version:   version,
		Phase:     storage.PhaseCandidateDraft,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Queries().CreateRelease(ctx, rel); err != nil {
		return nil, err
	}

	if _, err := s.revisions.CreateAndManage(ctx, rel.Name, creator, "release started", func(c *revision.Creating) error {
		return nil
	}); err != nil {
		return nil, err
	}

	s.logger.Info("release started", "release", rel.Name, "creator", creator)
	return rel, nil
}

// PromoteToCandidate moves a draft release into CANDIDATE for voting. The
// promotion is optimistic: it is conditioned on the draft phase and on
// revisionNumber still being the latest, so a concurrent revision makes it
// fail with a refresh message.
func (s *Service) PromoteToCandidate(ctx context.Context, releaseName, revisionNumber string, manualVote bool) error {
	const op = "lifecycle.PromoteToCandidate"

	q := s.store.Queries()
	rel, err := q.GetRelease(ctx, releaseName)
	if err != nil {
		return err
	}
	machine, err := NewPhaseMachine(rel.Phase)
	if err != nil {
		return err
	}
	target, err := machine.Fire(EventPromote)
	if err != nil {
		return err
	}

	pending, err := q.CountUnfinishedTasks(ctx, rel.Project, rel.Version, revisionNumber)
	if err != nil {
		return err
	}
	if pending > 0 {
		return atrerrors.Newf(atrerrors.KindConflict,
			"%d checks are still running for revision %s", pending, revisionNumber)
	}

	hasFiles, err := s.content.HasFiles(s.content.UnfinishedDir(rel.Project, rel.Version, revisionNumber))
	if err != nil {
		return err
	}
	if !hasFiles {
		return atrerrors.Validation(op, "a release with no files cannot be promoted")
	}

	if err := q.PromoteRelease(ctx, releaseName, rel.Phase, target, revisionNumber); err != nil {
		return err
	}
	s.logger.Info("release promoted", "release", releaseName,
		"revision", revisionNumber, "phase", target, "manual_vote", manualVote)
	return nil
}

// ResolveVote applies a vote outcome: passed moves the release to PREVIEW
// and clones the candidate into a fresh preview revision; failed returns it
// to CANDIDATE_DRAFT with the candidate revision kept as-is.
func (s *Service) ResolveVote(ctx context.Context, releaseName string, passed bool, resolver string) (storage.Phase, error) {
	q := s.store.Queries()
	rel, err := q.GetRelease(ctx, releaseName)
	if err != nil {
		return "", err
	}
	machine, err := NewPhaseMachine(rel.Phase)
	if err != nil {
		return "", err
	}
	event := EventVoteFailed
	if passed {
		event = EventVotePassed
	}
	target, err := machine.Fire(event)
	if err != nil {
		return "", err
	}

	if err := q.UpdateReleasePhase(ctx, releaseName, target); err != nil {
		return "", err
	}
	if passed {
		if _, err := s.revisions.CloneForPreview(ctx, releaseName, resolver); err != nil {
			return "", err
		}
	}
	s.logger.Info("vote resolved", "release", releaseName, "passed", passed, "phase", target)
	return target, nil
}

// AnnounceRequest is the input to Announce.
type AnnounceRequest struct {
	ReleaseName       string
	RevisionNumber    string
	EmailSender       string
	Recipient         string
	Subject           string
	Body              string
	PathSuffix        string
	PreserveDownloads bool
}

// AnnounceResult reports what the announce transaction did.
type AnnounceResult struct {
	FinishedDir  string
	DownloadsDir string
	// Collisions are downloads files kept from a prior release when
	// PreserveDownloads was set.
	Collisions []string
}

// Announce performs the PREVIEW -> RELEASE transition: move the staged tree
// to finished/, hard-link it into downloads/, set the released timestamp,
// delete the revision rows, and enqueue the announcement email, all in one
// transaction. The downloads hard-link is dry-run before anything moves so
// collisions fail fast.
func (s *Service) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResult, error) {
	q := s.store.Queries()
	rel, err := q.GetRelease(ctx, req.ReleaseName)
	if err != nil {
		return nil, err
	}
	machine, err := NewPhaseMachine(rel.Phase)
	if err != nil {
		return nil, err
	}
	if _, err := machine.Fire(EventAnnounce); err != nil {
		return nil, err
	}

	latest, err := q.GetLatestRevision(ctx, req.ReleaseName)
	if err != nil {
		return nil, err
	}
	if latest.Number != req.RevisionNumber {
		return nil, atrerrors.Newf(atrerrors.KindConflict,
			"revision %s is not the preview revision (latest is %s)", req.RevisionNumber, latest.Number)
	}

	proj, err := q.GetProject(ctx, rel.Project)
	if err != nil {
		return nil, err
	}
	if err := content.ValidatePathSuffix(req.PathSuffix); err != nil {
		return nil, err
	}
	if !recipientPermitted(req.Recipient, permittedAnnounceRecipients(proj.Committee)) {
		return nil, atrerrors.Newf(atrerrors.KindValidation,
			"recipient %q is not a permitted announce list", req.Recipient)
	}

	// The project's release policy can force preservation even when the
	// caller did not request it.
	preserve := req.PreserveDownloads
	if policy, err := q.ResolveReleasePolicy(ctx, rel.Project); err == nil {
		preserve = preserve || policy.PreserveDownloadFiles
	} else if !atrerrors.IsKind(err, atrerrors.KindNotFound) {
		return nil, err
	}

	srcDir := s.content.UnfinishedDir(rel.Project, rel.Version, latest.Number)
	finishedDir := s.content.FinishedDir(proj.Committee, req.PathSuffix)
	downloadsDir := s.content.DownloadsDir(proj.Committee, req.PathSuffix)

	if _, err := os.Stat(finishedDir); err == nil {
		return nil, atrerrors.Newf(atrerrors.KindConflict,
			"finished directory for %s already exists", req.PathSuffix)
	}

	// Fail fast on downloads collisions before the filesystem move.
	collisions, err := s.downloadCollisions(srcDir, downloadsDir)
	if err != nil {
		return nil, err
	}
	if len(collisions) > 0 && !preserve {
		return nil, atrerrors.Newf(atrerrors.KindConflict,
			"%d files already present under downloads/%s", len(collisions), req.PathSuffix)
	}

	result := &AnnounceResult{FinishedDir: finishedDir, DownloadsDir: downloadsDir, Collisions: collisions}
	err = s.store.WithWriteTx(ctx, func(q *storage.Queries) error {
		if err := q.FinishRelease(ctx, req.ReleaseName, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.content.AtomicRename(srcDir, finishedDir); err != nil {
			return err
		}
		// Pre-existing files win on collision when preserving.
		if err := s.content.CloneByHardlink(finishedDir, downloadsDir, preserve, false); err != nil {
			return err
		}
		args, err := tasks.EncodeArgs(tasks.MessageSendArgs{
			EmailSender:    req.EmailSender,
			EmailRecipient: req.Recipient,
			Subject:        req.Subject,
			Body:           req.Body,
		})
		if err != nil {
			return err
		}
		_, err = q.EnqueueTask(ctx, &storage.Task{
			Type:    tasks.TypeMessageSend,
			Args:    args,
			Added:   time.Now().UTC(),
			Project: rel.Project,
			Version: rel.Version,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// The release tree under unfinished/ is gone with the rename; remove
	// the now-empty parent.
	if err := s.content.RecursiveDelete(s.content.ReleaseDir(rel.Project, rel.Version)); err != nil {
		s.logger.Error("failed to remove unfinished release directory", "release", rel.Name, "error", err)
	}

	s.logger.Info("release announced", "release", rel.Name,
		"path_suffix", req.PathSuffix, "collisions", len(collisions))
	return result, nil
}

func (s *Service) downloadCollisions(srcDir, downloadsDir string) ([]string, error) {
	files, err := s.content.ListFiles(srcDir)
	if err != nil {
		return nil, err
	}
	var collisions []string
	for _, rel := range files {
		if _, err := os.Stat(filepath.Join(downloadsDir, filepath.FromSlash(rel))); err == nil {
			collisions = append(collisions, rel)
		}
	}
	return collisions, nil
}

// Delete removes a release: its rows cascade and its content trees go with
// it. A release in RELEASE phase requires admin.
func (s *Service) Delete(ctx context.Context, releaseName string, admin bool) error {
	const op = "lifecycle.Delete"

	q := s.store.Queries()
	rel, err := q.GetRelease(ctx, releaseName)
	if err != nil {
		return err
	}
	if rel.Phase == storage.PhaseRelease && !admin {
		return atrerrors.AccessDenied(op, "deleting an announced release requires foundation admin")
	}
	if err := q.DeleteRelease(ctx, releaseName); err != nil {
		return err
	}
	if err := s.content.RecursiveDelete(s.content.ReleaseDir(rel.Project, rel.Version)); err != nil {
		return err
	}
	s.logger.Info("release deleted", "release", releaseName, "phase", rel.Phase)
	return nil
}

// permittedAnnounceRecipients is the allow-list for announcement email.
func permittedAnnounceRecipients(committee string) []string {
	return []string{
		"announce@apache.org",
		fmt.Sprintf("dev@%s.apache.org", committee),
		fmt.Sprintf("users@%s.apache.org", committee),
	}
}

func recipientPermitted(recipient string, permitted []string) bool {
	for _, p := range permitted {
		if recipient == p {
			return true
		}
	}
	return false
}
