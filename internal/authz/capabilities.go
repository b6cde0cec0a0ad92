package authz

import (
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// The capability tiers nest by embedding: everything a lower tier can do
// is promoted into the higher tiers, and a tier's own sub-objects extend
// the promoted ones by embedding them in turn.

// GeneralPublic is the unauthenticated read-only tier.
type GeneralPublic struct {
	Release       PublicRelease
	Checks        PublicChecks
	Project       PublicProject
	Keys          PublicKeys
	Distributions PublicDistributions
}

func newGeneralPublic(f *Facade) *GeneralPublic {
	return &GeneralPublic{
		Release:       PublicRelease{f: f},
		Checks:        PublicChecks{f: f},
		Project:       PublicProject{f: f},
		Keys:          PublicKeys{f: f},
		Distributions: PublicDistributions{f: f},
	}
}

// FoundationCommitter is any signed-in committer of the foundation. It adds
// ownership of personal credentials.
type FoundationCommitter struct {
	GeneralPublic
	UID    string
	SSH    CommitterSSH
	Tokens CommitterTokens
}

func newFoundationCommitter(f *Facade, uid string) *FoundationCommitter {
	return &FoundationCommitter{
		GeneralPublic: *newGeneralPublic(f),
		UID:           uid,
		SSH:           CommitterSSH{f: f, uid: uid},
		Tokens:        CommitterTokens{f: f, uid: uid},
	}
}

// CommitteeParticipant is a committer or member of one committee. It adds
// composing releases and running votes for that committee's projects.
type CommitteeParticipant struct {
	FoundationCommitter
	Committee *storage.Committee

	Release  ParticipantRelease
	Revision ParticipantRevision
	Vote     ParticipantVote
	Keys     ParticipantKeys
	SBOM     ParticipantSBOM
}

func newCommitteeParticipant(f *Facade, uid string, c *storage.Committee) *CommitteeParticipant {
	return &CommitteeParticipant{
		FoundationCommitter: *newFoundationCommitter(f, uid),
		Committee:           c,
		Release:             ParticipantRelease{PublicRelease: PublicRelease{f: f}, f: f, uid: uid, committee: c},
		Revision:            ParticipantRevision{f: f, uid: uid, committee: c},
		Vote:                ParticipantVote{f: f, uid: uid, committee: c},
		Keys:                ParticipantKeys{PublicKeys: PublicKeys{f: f}, f: f, uid: uid, committee: c},
		SBOM:                ParticipantSBOM{f: f, uid: uid, committee: c},
	}
}

// CommitteeMember sits on the committee's governance body. It adds resolving
// votes, announcing, policy, and distribution bookkeeping.
type CommitteeMember struct {
	CommitteeParticipant

	Vote          MemberVote
	Announce      MemberAnnounce
	Policy        MemberPolicy
	Project       MemberProject
	Release       MemberRelease
	Checks        MemberChecks
	Distributions MemberDistributions
}

func newCommitteeMember(f *Facade, uid string, c *storage.Committee) *CommitteeMember {
	p := newCommitteeParticipant(f, uid, c)
	return &CommitteeMember{
		CommitteeParticipant: *p,
		Vote:                 MemberVote{ParticipantVote: p.Vote},
		Announce:             MemberAnnounce{f: f, uid: uid, committee: c},
		Policy:               MemberPolicy{f: f, uid: uid, committee: c},
		Project:              MemberProject{PublicProject: PublicProject{f: f}, f: f, uid: uid, committee: c},
		Release:              MemberRelease{ParticipantRelease: p.Release},
		Checks:               MemberChecks{PublicChecks: PublicChecks{f: f}, f: f, uid: uid, committee: c},
		Distributions:        MemberDistributions{PublicDistributions: PublicDistributions{f: f}, f: f, uid: uid, committee: c},
	}
}

// FoundationAdmin is the operator tier. It adds destructive operations that
// no committee tier may perform.
type FoundationAdmin struct {
	CommitteeMember

	Release AdminRelease
	Project AdminProject
	Cache   AdminCache
}

func newFoundationAdmin(f *Facade, uid string, c *storage.Committee) *FoundationAdmin {
	m := newCommitteeMember(f, uid, c)
	return &FoundationAdmin{
		CommitteeMember: *m,
		Release:         AdminRelease{MemberRelease: m.Release},
		Project:         AdminProject{MemberProject: m.Project},
		Cache:           AdminCache{f: f, uid: uid},
	}
}
