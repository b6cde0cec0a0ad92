package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
	"github.com/sebbASF/tooling-trusted-releases/internal/storage"
)

// Handler executes one claimed task. The returned value is serialized into
// the task's result column. Handlers own their internal deadlines; the
// executor never cancels a running handler.
type Handler func(ctx context.Context, task *storage.Task) (any, error)

// Registry maps task type tags to handlers. Registration happens once at
// startup; dispatch of an unregistered type fails the task.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a type tag. Re-registering a tag panics: it is
// a wiring bug, not a runtime condition.
func (r *Registry) Register(taskType string, h Handler) {
	if _, dup := r.handlers[taskType]; dup {
		panic(fmt.Sprintf("tasks: duplicate handler for %q", taskType))
	}
	r.handlers[taskType] = h
}

func (r *Registry) lookup(taskType string) (Handler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// Options tune the worker loop.
type Options struct {
	// TasksPerRun bounds how many tasks one worker processes before
	// exiting so a supervisor restarts it with a fresh process.
	TasksPerRun int
	// PollInterval is the idle sleep between empty claim attempts.
	PollInterval time.Duration
	// MaxLoopFailures is how many consecutive claim-loop errors the
	// worker tolerates before exiting for restart.
	MaxLoopFailures int
}

// Worker claims and executes queued tasks until its per-run budget is spent.
type Worker struct {
	store    *storage.Store
	registry *Registry
	opts     Options
	logger   *slog.Logger
	pid      int
}

// NewWorker creates a worker over the metadata store.
func NewWorker(store *storage.Store, registry *Registry, opts Options, logger *slog.Logger) *Worker {
	if opts.TasksPerRun <= 0 {
		opts.TasksPerRun = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	if opts.MaxLoopFailures <= 0 {
		opts.MaxLoopFailures = 5
	}
	return &Worker{
		store:    store,
		registry: registry,
		opts:     opts,
		logger:   logger,
		pid:      os.Getpid(),
	}
}

// Run processes up to TasksPerRun tasks, then returns nil so the supervisor
// restarts the process. Returns early on context cancellation or after
// MaxLoopFailures consecutive loop errors.
func (w *Worker) Run(ctx context.Context) error {
	const op = "tasks.Run"

	processed := 0
	failures := 0
	for processed < w.opts.TasksPerRun {
		if err := ctx.Err(); err != nil {
			return err
		}

		task, err := w.claim(ctx)
		if err != nil {
			if atrerrors.IsKind(err, atrerrors.KindNotFound) {
				failures = 0
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.opts.PollInterval):
				}
				continue
			}
			failures++
			w.logger.Error("task claim failed", "error", err, "consecutive", failures)
			if failures >= w.opts.MaxLoopFailures {
				return atrerrors.InternalWrap(err, op, "worker loop persistently failing")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}
		failures = 0

		w.execute(ctx, task)
		processed++
	}
	w.logger.Info("worker run budget spent", "processed", processed)
	return nil
}

func (w *Worker) claim(ctx context.Context) (*storage.Task, error) {
	var task *storage.Task
	err := w.store.WithWriteTx(ctx, func(q *storage.Queries) error {
		var err error
		task, err = q.ClaimTask(ctx, w.pid, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// execute runs one handler and records the outcome. Handler panics are
// recovered into a FAILED row; the worker never crashes on a bad task.
func (w *Worker) execute(ctx context.Context, task *storage.Task) {
	logger := w.logger.With("task", task.ID, "type", task.Type)
	logger.Info("task started")
	start := time.Now()

	result, err := w.dispatch(ctx, task)

	q := w.store.Queries()
	if err != nil {
		logger.Warn("task failed", "error", err, "duration", time.Since(start))
		if ferr := q.FailTask(ctx, task.ID, err.Error(), time.Now()); ferr != nil {
			logger.Error("failed to record task failure", "error", ferr)
		}
		return
	}

	var payload []byte
	if result != nil {
		payload, err = json.Marshal(result)
		if err != nil {
			logger.Error("task result not serializable", "error", err)
			if ferr := q.FailTask(ctx, task.ID, "result not serializable: "+err.Error(), time.Now()); ferr != nil {
				logger.Error("failed to record task failure", "error", ferr)
			}
			return
		}
	}
	if err := q.CompleteTask(ctx, task.ID, payload, time.Now()); err != nil {
		logger.Error("failed to record task completion", "error", err)
		return
	}
	logger.Info("task completed", "duration", time.Since(start))
}

func (w *Worker) dispatch(ctx context.Context, task *storage.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = atrerrors.Newf(atrerrors.KindInternal, "handler panicked: %v\n%s", r, debug.Stack())
		}
	}()

	handler, ok := w.registry.lookup(task.Type)
	if !ok {
		return nil, atrerrors.Newf(atrerrors.KindValidation, "no handler registered for task type %q", task.Type)
	}
	return handler(ctx, task)
}

// Reschedule enqueues a fresh copy of a recurring task, due after interval.
// Handlers for recurring work call this before returning.
func Reschedule(ctx context.Context, q *storage.Queries, task *storage.Task, interval time.Duration) (int64, error) {
	due := time.Now().Add(interval).UTC()
	return q.EnqueueTask(ctx, &storage.Task{
		Type:           task.Type,
		Args:           task.Args,
		UserID:         task.UserID,
		Added:          time.Now().UTC(),
		ScheduledAt:    &due,
		Project:        task.Project,
		Version:        task.Version,
		Revision:       task.Revision,
		PrimaryRelPath: task.PrimaryRelPath,
	})
}
