package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// EnqueueTask inserts a new QUEUED task and returns its id.
func (q *Queries) EnqueueTask(ctx context.Context, t *Task) (int64, error) {
	const op = "storage.EnqueueTask"

	args := t.Args
	if len(args) == 0 {
		args = []byte("{}")
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (type, args, status, user_id, added, scheduled_at,
			project, version, revision, primary_rel_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.Type, string(args), string(TaskQueued), t.UserID, t.Added.UTC(), t.ScheduledAt,
		t.Project, t.Version, t.Revision, t.PrimaryRelPath)
	if err != nil {
		return 0, atrerrors.InternalWrap(err, op, "failed to enqueue task")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, atrerrors.InternalWrap(err, op, "failed to read task id")
	}
	return id, nil
}

// ClaimTask atomically claims the oldest ready QUEUED task: the row
// transitions to ACTIVE with the claimer's pid and start time in a single
// UPDATE ... RETURNING. Returns NotFound when the queue is empty. Must run
// inside a BEGIN IMMEDIATE transaction for the claim to be exclusive.
func (q *Queries) ClaimTask(ctx context.Context, pid int, now time.Time) (*Task, error) {
	const op = "storage.ClaimTask"

	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, started = ?, pid = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
			ORDER BY added LIMIT 1
		)
		RETURNING id, type, args, status, user_id, pid, added, started, completed,
			scheduled_at, project, version, revision, primary_rel_path, result, error
	`, string(TaskActive), now.UTC(), pid, string(TaskQueued), now.UTC())

	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.NotFound(op, "no queued tasks ready")
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to claim task")
	}
	return t, nil
}

// CompleteTask records a successful outcome.
func (q *Queries) CompleteTask(ctx context.Context, id int64, result []byte, now time.Time) error {
	return q.finishTask(ctx, id, TaskCompleted, result, "", now)
}

// FailTask records a failed outcome with the formatted error text.
func (q *Queries) FailTask(ctx context.Context, id int64, errText string, now time.Time) error {
	return q.finishTask(ctx, id, TaskFailed, nil, errText, now)
}

func (q *Queries) finishTask(ctx context.Context, id int64, state TaskState, result []byte, errText string, now time.Time) error {
	const op = "storage.finishTask"

	var resultVal any
	if result != nil {
		resultVal = string(result)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed = ?, result = ?, error = ?
		WHERE id = ? AND status = ?
	`, string(state), now.UTC(), resultVal, errText, id, string(TaskActive))
	if err != nil {
		return atrerrors.InternalWrap(err, op, "failed to record task outcome")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return atrerrors.Newf(atrerrors.KindConflict, "task %d is not active", id)
	}
	return nil
}

// GetTask returns one task by id.
func (q *Queries) GetTask(ctx context.Context, id int64) (*Task, error) {
	const op = "storage.GetTask"

	row := q.db.QueryRowContext(ctx, taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, atrerrors.Newf(atrerrors.KindNotFound, "task %d does not exist", id)
	}
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to scan task")
	}
	return t, nil
}

// TaskFilter selects tasks by optional predicates.
type TaskFilter struct {
	State    TaskState
	Type     string
	Project  string
	Version  string
	Revision string
	Limit    int
}

// ListTasks returns tasks matching the filter, oldest first.
func (q *Queries) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	const op = "storage.ListTasks"

	query := taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	if f.State != "" {
		query += ` AND status = ?`
		args = append(args, string(f.State))
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Project != "" {
		query += ` AND project = ?`
		args = append(args, f.Project)
	}
	if f.Version != "" {
		query += ` AND version = ?`
		args = append(args, f.Version)
	}
	if f.Revision != "" {
		query += ` AND revision = ?`
		args = append(args, f.Revision)
	}
	query += ` ORDER BY added`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to query tasks")
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, atrerrors.InternalWrap(err, op, "failed to scan task")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountUnfinishedTasks counts QUEUED and ACTIVE tasks targeting a specific
// revision. Promotion requires this to be zero.
func (q *Queries) CountUnfinishedTasks(ctx context.Context, project, version, revision string) (int, error) {
	const op = "storage.CountUnfinishedTasks"

	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE project = ? AND version = ? AND revision = ? AND status IN (?, ?)
	`, project, version, revision, string(TaskQueued), string(TaskActive)).Scan(&n)
	if err != nil {
		return 0, atrerrors.InternalWrap(err, op, "failed to count tasks")
	}
	return n, nil
}

const taskColumns = `
	SELECT id, type, args, status, user_id, pid, added, started, completed,
		scheduled_at, project, version, revision, primary_rel_path, result, error`

func scanTask(scan func(dest ...any) error) (*Task, error) {
	var t Task
	var state, args string
	var started, completed, scheduled sql.NullTime
	var result sql.NullString
	err := scan(&t.ID, &t.Type, &args, &state, &t.UserID, &t.PID, &t.Added,
		&started, &completed, &scheduled,
		&t.Project, &t.Version, &t.Revision, &t.PrimaryRelPath, &result, &t.Error)
	if err != nil {
		return nil, err
	}
	t.Args = []byte(args)
	t.State = TaskState(state)
	if started.Valid {
		v := started.Time
		t.Started = &v
	}
	if completed.Valid {
		v := completed.Time
		t.Completed = &v
	}
	if scheduled.Valid {
		v := scheduled.Time
		t.ScheduledAt = &v
	}
	if result.Valid {
		t.Result = []byte(result.String)
	}
	return &t, nil
}
