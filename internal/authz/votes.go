package authz

import (
	"context"

	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
	"github.com/sebbASF/tooling-trusted-releases/internal/vote"
)

// ParticipantVote starts and tallies votes.
type ParticipantVote struct {
	f         *Facade
	uid       string
	committee *storage.Committee
}

func (v ParticipantVote) Start(ctx context.Context, req vote.StartRequest) (*storage.Release, error) {
	if err := v.f.requireOwnedRelease(ctx, v.committee, req.ReleaseName); err != nil {
		return nil, err
	}
	req.InitiatorID = v.uid
	rel, err := v.f.votes.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	v.f.record("vote.start", v.uid, map[string]any{
		"release": req.ReleaseName, "email_to": req.EmailTo,
		"duration_hours": rel.VoteDurationHours,
	})
	return rel, nil
}

func (v ParticipantVote) Tabulate(ctx context.Context, releaseName string) (*vote.Summary, error) {
	return v.f.votes.Tabulate(ctx, releaseName)
}

// MemberVote adds resolving the vote outcome.
type MemberVote struct {
	ParticipantVote
}

func (v MemberVote) Resolve(ctx context.Context, releaseName string, passed bool, fullName string) (*vote.Resolution, error) {
	if err := v.f.requireOwnedRelease(ctx, v.committee, releaseName); err != nil {
		return nil, err
	}
	res, err := v.f.votes.Resolve(ctx, releaseName, passed, v.uid, fullName)
	if err != nil {
		return nil, err
	}
	v.f.record("vote.resolve", v.uid, map[string]any{
		"release": releaseName, "passed": passed,
		"second_round_started": res.SecondRoundStarted, "phase": string(res.Phase),
	})
	return res, nil
}
