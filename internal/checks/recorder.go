package checks

import (
	"context"
	"encoding/json"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// Recorder appends check findings for one (checker, release, revision,
// primary path) scope. Findings are recorded verbatim; ignore rules apply
// only at display time.
type Recorder struct {
	q           *storage.Queries
	checker     string
	release     string
	revision    string
	primaryPath string
	inputHash   string
}

// NewRecorder creates a recorder. inputHash may be empty when the checker
// has no primary artifact (release-level checks).
func NewRecorder(q *storage.Queries, checker, release, revision, primaryPath, inputHash string) *Recorder {
	return &Recorder{
		q:           q,
		checker:     checker,
		release:     release,
		revision:    revision,
		primaryPath: primaryPath,
		inputHash:   inputHash,
	}
}

// Success records a passing finding.
func (r *Recorder) Success(ctx context.Context, message string, data any, memberPath string) error {
	return r.append(ctx, storage.CheckSuccess, message, data, memberPath)
}

// Warning records a non-fatal finding.
func (r *Recorder) Warning(ctx context.Context, message string, data any, memberPath string) error {
	return r.append(ctx, storage.CheckWarning, message, data, memberPath)
}

// Failure records a failing finding.
func (r *Recorder) Failure(ctx context.Context, message string, data any, memberPath string) error {
	return r.append(ctx, storage.CheckFailure, message, data, memberPath)
}

// Exception records that the checker itself broke.
func (r *Recorder) Exception(ctx context.Context, message string, data any, memberPath string) error {
	return r.append(ctx, storage.CheckException, message, data, memberPath)
}

func (r *Recorder) append(ctx context.Context, status storage.CheckStatus, message string, data any, memberPath string) error {
	const op = "checks.Recorder.append"

	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return atrerrors.InternalWrap(err, op, "failed to encode check data")
		}
	}
	return r.q.AppendCheckResult(ctx, &storage.CheckResult{
		Checker:     r.checker,
		Release:     r.release,
		Revision:    r.revision,
		PrimaryPath: r.primaryPath,
		MemberPath:  memberPath,
		Status:      status,
		Message:     message,
		Data:        payload,
		InputHash:   r.inputHash,
		CreatedAt:   time.Now().UTC(),
	})
}
