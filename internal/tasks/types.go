// Package tasks implements the durable task queue: typed task records, the
// handler registry, and the worker claim loop. Durability and ordering come
// entirely from the task table; the executor holds no in-memory queue.
package tasks

import (
	"bytes"
	"encoding/json"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// Task type tags. Checker types are routed per file suffix by the check
// orchestrator; the rest are enqueued directly by the domain layer.
const (
	TypeHashingCheck     = "hashing-check"
	TypeLicenseFiles     = "license-files"
	TypeLicenseHeaders   = "license-headers"
	TypePathsCheck       = "paths-check"
	TypeRatCheck         = "rat-check"
	TypeSignatureCheck   = "signature-check"
	TypeTargzIntegrity   = "targz-integrity"
	TypeTargzStructure   = "targz-structure"
	TypeZipIntegrity     = "zipformat-integrity"
	TypeZipStructure     = "zipformat-structure"
	TypeSBOMToolScore    = "sbom-tool-score"
	TypeSBOMGenerate     = "sbom-generate-cyclonedx"
	TypeSBOMOSVScan      = "sbom-osv-scan"
	TypeSBOMAugment      = "sbom-augment"
	TypeSBOMQSScore      = "sbom-qs-score"
	TypeVoteInitiate     = "vote-initiate"
	TypeMessageSend      = "message-send"
	TypeSVNImportFiles   = "svn-import-files"
	TypeMetadataUpdate   = "metadata-update"
	TypeDistWorkflow     = "distribution-workflow"
	TypeKeysImportFile   = "keys-import-file"
)

// Argument records, one per task type with a JSON payload. Decoding is
// strict: unknown fields are rejected so schema drift fails loudly.

type PathsCheckArgs struct {
	IsPodling bool `json:"is_podling"`
}

type LicenseArgs struct {
	IsPodling bool `json:"is_podling,omitempty"`
}

type RatCheckArgs struct {
	RatJarPath     string `json:"rat_jar_path,omitempty"`
	MaxExtractSize int64  `json:"max_extract_size,omitempty"`
	ChunkSize      int64  `json:"chunk_size,omitempty"`
}

type SignatureCheckArgs struct {
	CommitteeName string `json:"committee_name"`
}

type SBOMGenerateArgs struct {
	ArtifactPath string `json:"artifact_path"`
	OutputPath   string `json:"output_path"`
}

type SBOMArgs struct {
	ProjectName    string `json:"project_name"`
	VersionName    string `json:"version_name"`
	RevisionNumber string `json:"revision_number"`
	FilePath       string `json:"file_path"`
	ASFUID         string `json:"asf_uid,omitempty"`
}

type VoteInitiateArgs struct {
	ReleaseName       string `json:"release_name"`
	EmailTo           string `json:"email_to"`
	VoteDuration      int    `json:"vote_duration"`
	InitiatorID       string `json:"initiator_id"`
	InitiatorFullname string `json:"initiator_fullname"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
}

type MessageSendArgs struct {
	EmailSender    string `json:"email_sender"`
	EmailRecipient string `json:"email_recipient"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	InReplyTo      string `json:"in_reply_to,omitempty"`
}

type SVNImportFilesArgs struct {
	SVNURL             string `json:"svn_url"`
	Revision           string `json:"revision"`
	TargetSubdirectory string `json:"target_subdirectory,omitempty"`
	ProjectName        string `json:"project_name"`
	VersionName        string `json:"version_name"`
	ASFUID             string `json:"asf_uid"`
}

type MetadataUpdateArgs struct {
	ASFUID              string `json:"asf_uid"`
	NextScheduleSeconds int    `json:"next_schedule_seconds"`
}

type DistributionWorkflowArgs struct {
	Name        string         `json:"name"`
	Namespace   string         `json:"namespace"`
	Package     string         `json:"package"`
	Version     string         `json:"version"`
	Staging     bool           `json:"staging"`
	Platform    string         `json:"platform"`
	ProjectName string         `json:"project_name"`
	VersionName string         `json:"version_name"`
	ASFUID      string         `json:"asf_uid"`
	Arguments   map[string]any `json:"arguments,omitempty"`
}

type KeysImportFileArgs struct {
	ASFUID      string `json:"asf_uid"`
	ProjectName string `json:"project_name"`
	VersionName string `json:"version_name"`
}

// DecodeArgs strictly unmarshals a task's JSON arguments into dst.
func DecodeArgs(t *storage.Task, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(t.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return atrerrors.Newf(atrerrors.KindValidation, "invalid arguments for task %d (%s): %v", t.ID, t.Type, err)
	}
	return nil
}

// EncodeArgs marshals a typed argument record for enqueueing.
func EncodeArgs(args any) ([]byte, error) {
	const op = "tasks.EncodeArgs"

	data, err := json.Marshal(args)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to encode task arguments")
	}
	return data, nil
}
