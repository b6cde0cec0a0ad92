// Package storage provides the durable metadata store for the
// trusted-releases engine, backed by SQLite.
package storage

import (
	"time"
)

// Phase is the lifecycle phase of a release.
type Phase string

const (
	// PhaseCandidateDraft is the initial, mutable phase.
	PhaseCandidateDraft Phase = "CANDIDATE_DRAFT"
	// PhaseCandidate means voting is open and content is immutable.
	PhaseCandidate Phase = "CANDIDATE"
	// PhasePreview means the vote passed and the release awaits announcement.
	PhasePreview Phase = "PREVIEW"
	// PhaseRelease means the release is announced and permanent.
	PhaseRelease Phase = "RELEASE"
)

// IsValid returns true if the phase is one of the four lifecycle phases.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseCandidateDraft, PhaseCandidate, PhasePreview, PhaseRelease:
		return true
	default:
		return false
	}
}

// Mutable reports whether release content may change in this phase.
// Only the draft phase is mutable.
func (p Phase) Mutable() bool {
	return p == PhaseCandidateDraft
}

// TaskState is the execution state of a queued task.
type TaskState string

const (
	TaskQueued    TaskState = "QUEUED"
	TaskActive    TaskState = "ACTIVE"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
)

// CheckStatus is the outcome of one checker finding.
type CheckStatus string

const (
	CheckSuccess   CheckStatus = "SUCCESS"
	CheckWarning   CheckStatus = "WARNING"
	CheckFailure   CheckStatus = "FAILURE"
	CheckException CheckStatus = "EXCEPTION"
)

// ProjectStatus is the lifecycle status of a project.
type ProjectStatus string

const (
	ProjectActive  ProjectStatus = "active"
	ProjectRetired ProjectStatus = "retired"
)

// LicenseCheckMode selects how license checks run for a project.
type LicenseCheckMode string

const (
	LicenseCheckLightweight LicenseCheckMode = "LIGHTWEIGHT"
	LicenseCheckRat         LicenseCheckMode = "RAT"
	LicenseCheckOff         LicenseCheckMode = "OFF"
)

// Committee is a governance body mirrored from the external directory.
type Committee struct {
	Name            string
	DisplayName     string
	Podling         bool
	Members         []string
	Committers      []string
	ReleaseManagers []string
	Parent          string // optional parent committee name
}

// IsMember reports whether uid is in the committee's member set.
func (c *Committee) IsMember(uid string) bool {
	return containsString(c.Members, uid)
}

// IsCommitter reports whether uid is in the committee's committer set.
func (c *Committee) IsCommitter(uid string) bool {
	return containsString(c.Committers, uid)
}

// IsParticipant reports whether uid is a member or a committer.
func (c *Committee) IsParticipant(uid string) bool {
	return c.IsMember(uid) || c.IsCommitter(uid)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Project is a named release line under a committee.
type Project struct {
	Name         string
	DisplayName  string
	Committee    string
	Status       ProjectStatus
	SuperProject string // optional, for policy derivation
	Categories   []string
	Languages    []string
	CreatedBy    string
	CreatedAt    time.Time
}

// ReleasePolicy is per-project release configuration.
type ReleasePolicy struct {
	Project               string
	SourceArtifactGlobs   []string
	BinaryArtifactGlobs   []string
	MinVoteDurationHours  int
	LicenseCheckMode      LicenseCheckMode
	StrictChecking        bool
	MailtoAddresses       []string
	WorkflowHooks         []string
	VoteTemplate          string // empty means the built-in default
	AnnounceTemplate      string
	PreserveDownloadFiles bool
}

// Release is one versioned release of a project.
type Release struct {
	Name    string // canonical "<project>-<version>"
	Project string
	Version string
	Phase   Phase

	CreatedAt  time.Time
	ReleasedAt *time.Time

	// Vote metadata.
	VoteStartedAt     *time.Time
	VoteEndsAt        *time.Time
	VoteDurationHours int
	VoteThreadID      string
	// PodlingThreadID records the first-round thread for podling votes.
	PodlingThreadID string
	VoteManual      bool
	VoteResolution  string // "", "passed", "failed"
}

// Revision is one immutable snapshot of a release's content.
type Revision struct {
	Release     string
	Seq         int
	Number      string // zero-padded, e.g. 00005
	Author      string
	CreatedAt   time.Time
	Phase       Phase  // phase at creation
	Parent      string // parent revision number, empty for the first
	Description string
}

// Task is one unit of deferred work in the durable queue.
type Task struct {
	ID     int64
	Type   string
	Args   []byte // opaque JSON arguments
	State  TaskState
	UserID string
	PID    int

	Added       time.Time
	Started     *time.Time
	Completed   *time.Time
	ScheduledAt *time.Time

	// Optional targeting.
	Project        string
	Version        string
	Revision       string
	PrimaryRelPath string

	Result []byte
	Error  string
}

// CheckResult is one finding of a checker on a revision.
type CheckResult struct {
	ID            int64
	Checker       string
	Release       string
	Revision      string
	PrimaryPath   string
	MemberPath    string // optional file inside the artifact
	Status        CheckStatus
	Message       string
	Data          []byte // structured JSON payload
	InputHash     string // content hash of the primary artifact
	CreatedAt     time.Time
}

// CheckResultIgnore is a committee-scoped glob ignore rule applied at
// display time.
type CheckResultIgnore struct {
	ID           int64
	Committee    string
	ReleaseGlob  string
	CheckerGlob  string
	PrimaryGlob  string
	MemberGlob   string
	StatusGlob   string
	MessageGlob  string
	RevisionGlob string
	CreatedBy    string
	CreatedAt    time.Time
}

// PublicSigningKey is an OpenPGP public key associated with committees.
type PublicSigningKey struct {
	Fingerprint string
	Owner       string
	KeyText     string
	Committees  []string
	CreatedAt   time.Time
}

// SSHKey is a user SSH public key for the ingest server.
type SSHKey struct {
	Fingerprint string
	Owner       string
	KeyText     string
	CreatedAt   time.Time
}

// WorkflowSSHKey is a project-bound expiring SSH key for automation.
type WorkflowSSHKey struct {
	Fingerprint string
	Owner       string
	KeyText     string
	Project     string
	Expires     int64 // unix timestamp
	CreatedAt   time.Time
}

// PersonalAccessToken is an API credential record.
type PersonalAccessToken struct {
	TokenHash string
	Owner     string
	Label     string
	CreatedAt time.Time
	LastUsed  *time.Time
}

// Distribution records that a release has been published to an external
// platform. The five-tuple (release, platform, owner namespace, package,
// version) is the primary key.
type Distribution struct {
	Release        string
	Platform       string
	OwnerNamespace string
	Package        string
	Version        string
	Staging        bool
	UploadDate     time.Time
	APIURL         string
	WebURL         string
}

// TextValue is a (namespace, key) -> value configuration record.
type TextValue struct {
	Namespace string
	Key       string
	Value     string
}
