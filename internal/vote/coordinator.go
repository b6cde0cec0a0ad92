package vote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/lifecycle"
	"github.com/sebbASF/tooling-trusted-releases/internal/ports"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/tasks"
	"github.com/sebbASF/tooling-trusted-releases/internal/template"
)

// DefaultDurationHours is the vote duration when no policy overrides it.
const DefaultDurationHours = 72

// incubatorList hosts the second round of podling votes.
const incubatorList = "general@incubator.apache.org"

// Coordinator starts, tabulates and resolves release votes.
type Coordinator struct {
	store     *storage.Store
	lifecycle *lifecycle.Service
	templates *template.Service
	archive   ports.MailArchiveReader
	directory ports.Directory
	logger    *slog.Logger
}

func NewCoordinator(store *storage.Store, lc *lifecycle.Service, ts *template.Service, archive ports.MailArchiveReader, directory ports.Directory, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		lifecycle: lc,
		templates: ts,
		archive:   archive,
		directory: directory,
		logger:    logger,
	}
}

// StartRequest is the input to Start.
type StartRequest struct {
	ReleaseName       string
	RevisionNumber    string
	EmailTo           string
	DurationHours     int
	InitiatorID       string
	InitiatorFullName string
	// SubjectOverride and BodyOverride replace the policy/default
	// templates when non-empty.
	SubjectOverride string
	BodyOverride    string
}

// Start opens a vote: promotes the release to CANDIDATE if still in draft,
// records the vote window, and enqueues the vote-initiate email task.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*storage.Release, error) {
	q := c.store.Queries()
	rel, err := q.GetRelease(ctx, req.ReleaseName)
	if err != nil {
		return nil, err
	}
	proj, err := q.GetProject(ctx, rel.Project)
	if err != nil {
		return nil, err
	}
	committee, err := q.GetCommittee(ctx, proj.Committee)
	if err != nil {
		return nil, err
	}

	if !voteRecipientPermitted(req.EmailTo, committee) {
		return nil, atrerrors.Newf(atrerrors.KindValidation,
			"recipient %q is not a permitted vote list for %s", req.EmailTo, committee.Name)
	}

	duration := req.DurationHours
	minDuration := c.minimumDuration(ctx, rel.Project)
	if duration <= 0 {
		duration = minDuration
	}
	if duration < minDuration {
		return nil, atrerrors.Newf(atrerrors.KindValidation,
			"vote duration %d hours is below the policy minimum of %d", duration, minDuration)
	}

	if rel.Phase == storage.PhaseCandidateDraft {
		if err := c.lifecycle.PromoteToCandidate(ctx, rel.Name, req.RevisionNumber, false); err != nil {
			return nil, err
		}
		rel.Phase = storage.PhaseCandidate
	} else if rel.Phase != storage.PhaseCandidate {
		return nil, atrerrors.Newf(atrerrors.KindConflict,
			"release %s is in phase %s; votes run on candidates", rel.Name, rel.Phase)
	}

	subject, body, err := c.renderVoteEmail(req, rel, committee.Name, duration)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ends := now.Add(time.Duration(duration) * time.Hour)
	rel.VoteStartedAt = &now
	rel.VoteEndsAt = &ends
	rel.VoteDurationHours = duration
	rel.VoteResolution = ""
	if err := q.UpdateReleaseVote(ctx, rel); err != nil {
		return nil, err
	}

	if err := c.enqueueVoteInitiate(ctx, rel, req, subject, body, duration); err != nil {
		return nil, err
	}

	c.logger.Info("vote started", "release", rel.Name,
		"recipient", req.EmailTo, "duration_hours", duration)
	return rel, nil
}

func (c *Coordinator) renderVoteEmail(req StartRequest, rel *storage.Release, committee string, duration int) (string, string, error) {
	data := template.VoteData{
		Project:           rel.Project,
		Version:           rel.Version,
		Committee:         committee,
		RevisionNumber:    req.RevisionNumber,
		DurationHours:     duration,
		InitiatorID:       req.InitiatorID,
		InitiatorFullName: req.InitiatorFullName,
	}
	subject, body := req.SubjectOverride, req.BodyOverride
	var err error
	if subject == "" {
		if subject, err = c.templates.Render(template.VoteSubject, data); err != nil {
			return "", "", err
		}
	} else if subject, err = c.templates.RenderString(subject, data); err != nil {
		return "", "", err
	}
	if body == "" {
		if body, err = c.templates.Render(template.VoteBody, data); err != nil {
			return "", "", err
		}
	} else if body, err = c.templates.RenderString(body, data); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func (c *Coordinator) enqueueVoteInitiate(ctx context.Context, rel *storage.Release, req StartRequest, subject, body string, duration int) error {
	args, err := tasks.EncodeArgs(tasks.VoteInitiateArgs{
		ReleaseName:       rel.Name,
		EmailTo:           req.EmailTo,
		VoteDuration:      duration,
		InitiatorID:       req.InitiatorID,
		InitiatorFullname: req.InitiatorFullName,
		Subject:           subject,
		Body:              body,
	})
	if err != nil {
		return err
	}
	_, err = c.store.Queries().EnqueueTask(ctx, &storage.Task{
		Type:    tasks.TypeVoteInitiate,
		Args:    args,
		UserID:  req.InitiatorID,
		Added:   time.Now().UTC(),
		Project: rel.Project,
		Version: rel.Version,
	})
	return err
}

// Tabulate fetches the vote thread from the archive and tallies it.
func (c *Coordinator) Tabulate(ctx context.Context, releaseName string) (*Summary, error) {
	const op = "vote.Tabulate"

	q := c.store.Queries()
	rel, err := q.GetRelease(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	if rel.VoteThreadID == "" {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "release %s has no vote thread", releaseName)
	}
	proj, err := q.GetProject(ctx, rel.Project)
	if err != nil {
		return nil, err
	}
	committee, err := q.GetCommittee(ctx, proj.Committee)
	if err != nil {
		return nil, err
	}

	messages, err := c.archive.ThreadMessages(ctx, rel.VoteThreadID)
	if err != nil {
		return nil, atrerrors.ExternalWrap(err, op, "failed to fetch vote thread")
	}
	emailToUID, err := c.directory.EmailToUID(ctx)
	if err != nil {
		return nil, atrerrors.ExternalWrap(err, op, "failed to fetch directory map")
	}

	return Tabulate(messages, committee, emailToUID, rel.VoteEndsAt, time.Now().UTC()), nil
}

// Resolution reports what Resolve did.
type Resolution struct {
	Phase storage.Phase
	// SecondRoundStarted is set when a podling's first-round pass opened
	// the foundation-level round instead of moving the release forward.
	SecondRoundStarted bool
}

// Resolve marks the vote passed or failed and applies the phase change.
// Podling releases vote in two rounds: the first pass stores the round-one
// thread and automatically starts the incubator round; only the second pass
// moves the release to PREVIEW.
func (c *Coordinator) Resolve(ctx context.Context, releaseName string, passed bool, resolver, resolverFullName string) (*Resolution, error) {
	q := c.store.Queries()
	rel, err := q.GetRelease(ctx, releaseName)
	if err != nil {
		return nil, err
	}
	if rel.Phase != storage.PhaseCandidate {
		return nil, atrerrors.Newf(atrerrors.KindConflict,
			"release %s is in phase %s; there is no vote to resolve", rel.Name, rel.Phase)
	}
	proj, err := q.GetProject(ctx, rel.Project)
	if err != nil {
		return nil, err
	}
	committee, err := q.GetCommittee(ctx, proj.Committee)
	if err != nil {
		return nil, err
	}

	if passed && committee.Podling && rel.PodlingThreadID == "" {
		return c.startSecondRound(ctx, rel, resolver, resolverFullName)
	}

	resolution := "failed"
	if passed {
		resolution = "passed"
	}
	phase, err := c.lifecycle.ResolveVote(ctx, releaseName, passed, resolver)
	if err != nil {
		return nil, err
	}
	rel.VoteResolution = resolution
	if err := q.UpdateReleaseVote(ctx, rel); err != nil {
		return nil, err
	}

	if err := c.enqueueResolutionEmails(ctx, rel, committee.Name, passed, resolver); err != nil {
		return nil, err
	}

	c.logger.Info("vote resolved", "release", rel.Name, "resolution", resolution, "phase", phase)
	return &Resolution{Phase: phase}, nil
}

// startSecondRound records the first-round thread and opens the incubator
// vote. The release stays in CANDIDATE.
func (c *Coordinator) startSecondRound(ctx context.Context, rel *storage.Release, resolver, resolverFullName string) (*Resolution, error) {
	q := c.store.Queries()

	rel.PodlingThreadID = rel.VoteThreadID
	rel.VoteThreadID = ""
	now := time.Now().UTC()
	ends := now.Add(time.Duration(rel.VoteDurationHours) * time.Hour)
	rel.VoteStartedAt = &now
	rel.VoteEndsAt = &ends
	if err := q.UpdateReleaseVote(ctx, rel); err != nil {
		return nil, err
	}

	latest, err := q.GetLatestRevision(ctx, rel.Name)
	if err != nil {
		return nil, err
	}
	subject, body, err := c.renderVoteEmail(StartRequest{
		RevisionNumber:    latest.Number,
		InitiatorID:       resolver,
		InitiatorFullName: resolverFullName,
	}, rel, "incubator", rel.VoteDurationHours)
	if err != nil {
		return nil, err
	}
	if err := c.enqueueVoteInitiate(ctx, rel, StartRequest{
		EmailTo:           incubatorList,
		InitiatorID:       resolver,
		InitiatorFullName: resolverFullName,
	}, subject, body, rel.VoteDurationHours); err != nil {
		return nil, err
	}

	c.logger.Info("podling second round started", "release", rel.Name,
		"first_round_thread", rel.PodlingThreadID)
	return &Resolution{Phase: rel.Phase, SecondRoundStarted: true}, nil
}

func (c *Coordinator) enqueueResolutionEmails(ctx context.Context, rel *storage.Release, committee string, passed bool, resolver string) error {
	subject, err := c.templates.Render(template.ResolutionSubject, template.ResolutionData{
		Project: rel.Project, Version: rel.Version, Passed: passed,
	})
	if err != nil {
		return err
	}
	body, err := c.templates.Render(template.ResolutionBody, template.ResolutionData{
		Project: rel.Project, Version: rel.Version, Passed: passed,
	})
	if err != nil {
		return err
	}

	sender := fmt.Sprintf("%s@apache.org", resolver)
	recipients := []tasks.MessageSendArgs{{
		EmailSender:    sender,
		EmailRecipient: fmt.Sprintf("dev@%s.apache.org", committee),
		Subject:        subject,
		Body:           body,
	}}
	// A podling's second-round pass also replies in the first-round
	// thread.
	if passed && rel.PodlingThreadID != "" {
		recipients = append(recipients, tasks.MessageSendArgs{
			EmailSender:    sender,
			EmailRecipient: incubatorList,
			Subject:        subject,
			Body:           body,
			InReplyTo:      rel.PodlingThreadID,
		})
	}

	q := c.store.Queries()
	for _, msg := range recipients {
		args, err := tasks.EncodeArgs(msg)
		if err != nil {
			return err
		}
		if _, err := q.EnqueueTask(ctx, &storage.Task{
			Type:    tasks.TypeMessageSend,
			Args:    args,
			UserID:  resolver,
			Added:   time.Now().UTC(),
			Project: rel.Project,
			Version: rel.Version,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) minimumDuration(ctx context.Context, project string) int {
	policy, err := c.store.Queries().ResolveReleasePolicy(ctx, project)
	if err != nil || policy.MinVoteDurationHours <= 0 {
		return DefaultDurationHours
	}
	return policy.MinVoteDurationHours
}

func voteRecipientPermitted(recipient string, committee *storage.Committee) bool {
	permitted := []string{
		fmt.Sprintf("dev@%s.apache.org", committee.Name),
		fmt.Sprintf("private@%s.apache.org", committee.Name),
	}
	if committee.Podling {
		permitted = append(permitted, incubatorList)
	}
	for _, p := range permitted {
		if recipient == p {
			return true
		}
	}
	return false
}
