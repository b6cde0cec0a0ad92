package checks

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sebbASF/tooling-trusted-releases/internal/content"
	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// NoCacheMarker at the root of a revision directory disables check-result
// reuse for that revision.
const NoCacheMarker = ".atr-no-cache"

// FunctionArguments is the bundle handed to checker handlers. The recorder
// is a lazy factory so cache short-circuits never touch the result store.
type FunctionArguments struct {
	Project        string
	Version        string
	Release        string
	Revision       string
	PrimaryRelPath string
	PrimaryAbsPath string
	InputHash      string

	NewRecorder func() *Recorder
}

// Checker validates one artifact (or the whole revision for release-level
// checks) and records findings through the recorder.
type Checker interface {
	Run(ctx context.Context, args *FunctionArguments) (any, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, args *FunctionArguments) (any, error)

func (f CheckerFunc) Run(ctx context.Context, args *FunctionArguments) (any, error) {
	return f(ctx, args)
}

// Config tunes the orchestrator.
type Config struct {
	DisableCache bool
}

// Orchestrator selects checker tasks for new revisions and prepares checker
// invocations with cache reuse.
type Orchestrator struct {
	store   *storage.Store
	content *content.Store
	cfg     Config
	logger  *slog.Logger
}

func NewOrchestrator(store *storage.Store, cs *content.Store, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, content: cs, cfg: cfg, logger: logger}
}

// EnqueueForRevision enumerates the revision's files and enqueues one task
// per (file, matching checker), plus the release-level paths check. Runs
// inside the caller's transaction.
func (o *Orchestrator) EnqueueForRevision(ctx context.Context, q *storage.Queries, rel *storage.Release, revisionNumber, committee string, isPodling bool) error {
	const op = "checks.EnqueueForRevision"

	dir := o.content.UnfinishedDir(rel.Project, rel.Version, revisionNumber)
	files, err := o.content.ListFiles(dir)
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to enumerate revision files")
	}

	now := time.Now().UTC()
	enqueued := 0
	for _, file := range files {
		for _, taskType := range CheckersForFile(file) {
			args, err := argsForChecker(taskType, committee, isPodling)
			if err != nil {
				return err
			}
			if _, err := q.EnqueueTask(ctx, &storage.Task{
				Type:           taskType,
				Args:           args,
				Added:          now,
				Project:        rel.Project,
				Version:        rel.Version,
				Revision:       revisionNumber,
				PrimaryRelPath: file,
			}); err != nil {
				return atrerrors.InternalWrap(err, op, "failed to enqueue check task")
			}
			enqueued++
		}
	}

	pathsArgs, err := argsForChecker("paths-check", committee, isPodling)
	if err != nil {
		return err
	}
	if _, err := q.EnqueueTask(ctx, &storage.Task{
		Type:     "paths-check",
		Args:     pathsArgs,
		Added:    now,
		Project:  rel.Project,
		Version:  rel.Version,
		Revision: revisionNumber,
	}); err != nil {
		return atrerrors.InternalWrap(err, op, "failed to enqueue paths check")
	}

	o.logger.Info("checks enqueued",
		"release", rel.Name, "revision", revisionNumber,
		"files", len(files), "tasks", enqueued+1)
	return nil
}

func argsForChecker(taskType, committee string, isPodling bool) ([]byte, error) {
	const op = "checks.argsForChecker"

	var payload any
	switch taskType {
	case "signature-check":
		payload = map[string]any{"committee_name": committee}
	case "license-files", "license-headers", "paths-check":
		payload = map[string]any{"is_podling": isPodling}
	default:
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to encode checker arguments")
	}
	return data, nil
}

// Prepare builds the FunctionArguments for a claimed checker task and
// attempts cache reuse. When cached is true the prior results have already
// been copied forward and the checker must not run.
func (o *Orchestrator) Prepare(ctx context.Context, task *storage.Task) (args *FunctionArguments, cached bool, err error) {
	const op = "checks.Prepare"

	release := storage.ReleaseName(task.Project, task.Version)
	args = &FunctionArguments{
		Project:        task.Project,
		Version:        task.Version,
		Release:        release,
		Revision:       task.Revision,
		PrimaryRelPath: task.PrimaryRelPath,
	}
	revisionDir := o.content.UnfinishedDir(task.Project, task.Version, task.Revision)

	if task.PrimaryRelPath != "" {
		args.PrimaryAbsPath = filepath.Join(revisionDir, filepath.FromSlash(task.PrimaryRelPath))
		if o.cacheEnabled(revisionDir) {
			hash, err := HashFile(args.PrimaryAbsPath)
			if err != nil {
				return nil, false, atrerrors.InternalWrap(err, op, "failed to hash primary artifact")
			}
			args.InputHash = hash

			hit, err := o.copyCachedResults(ctx, task.Type, release, task.Revision, task.PrimaryRelPath, hash)
			if err != nil {
				return nil, false, err
			}
			if hit {
				return args, true, nil
			}
		}
	}

	q := o.store.Queries()
	args.NewRecorder = func() *Recorder {
		return NewRecorder(q, task.Type, release, task.Revision, task.PrimaryRelPath, args.InputHash)
	}
	return args, false, nil
}

func (o *Orchestrator) cacheEnabled(revisionDir string) bool {
	if o.cfg.DisableCache {
		return false
	}
	if _, err := os.Stat(filepath.Join(revisionDir, NoCacheMarker)); err == nil {
		return false
	}
	return true
}

// copyCachedResults copies forward the most recent prior revision's results
// for the same (checker, input hash, primary path).
func (o *Orchestrator) copyCachedResults(ctx context.Context, checker, release, revision, primaryPath, hash string) (bool, error) {
	const op = "checks.copyCachedResults"

	q := o.store.Queries()
	prior, err := q.FindCachedCheckResults(ctx, release, checker, hash, primaryPath, revision)
	if err != nil {
		return false, atrerrors.InternalWrap(err, op, "cache lookup failed")
	}
	if len(prior) == 0 {
		return false, nil
	}

	for _, r := range prior {
		copied := *r
		copied.ID = 0
		copied.Revision = revision
		copied.CreatedAt = time.Now().UTC()
		if err := q.AppendCheckResult(ctx, &copied); err != nil {
			return false, atrerrors.InternalWrap(err, op, "failed to copy cached result")
		}
	}
	o.logger.Debug("check results reused from cache",
		"checker", checker, "release", release, "revision", revision,
		"primary", primaryPath, "results", len(prior))
	return true, nil
}

// HandlerFor adapts a checker to a task handler: prepare arguments, honor
// cache hits, otherwise run the checker.
func (o *Orchestrator) HandlerFor(checker Checker) func(ctx context.Context, task *storage.Task) (any, error) {
	return func(ctx context.Context, task *storage.Task) (any, error) {
		args, cached, err := o.Prepare(ctx, task)
		if err != nil {
			return nil, err
		}
		if cached {
			return map[string]any{"cached": true}, nil
		}
		return checker.Run(ctx, args)
	}
}
