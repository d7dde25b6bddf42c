package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/softsmith/maker/internal/store"
	"github.com/softsmith/maker/internal/task"
)

// SQLiteTaskStore implements store.TaskStore on SQLite.
type SQLiteTaskStore struct {
	db *sql.DB
}

const taskColumns = `id, project_id, type, capability, name, payload, result, failure,
	status, attempts, fix_of, lease_token, lease_deadline, rowid, created_at`

// Insert adds a batch of tasks atomically after cycle-checking the
// project graph inside one immediate transaction.
func (s *SQLiteTaskStore) Insert(ctx context.Context, tasks ...*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	projectID := tasks[0].ProjectID
	for _, t := range tasks {
		if t.ProjectID != projectID {
			return task.Structuralf("batch spans projects %q and %q", projectID, t.ProjectID)
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := listTasksTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	byID := make(map[string]bool, len(existing))
	for _, t := range existing {
		byID[t.ID] = true
	}
	for _, t := range tasks {
		if byID[t.ID] {
			return task.Structuralf("task %q already exists", t.ID)
		}
	}

	combined := append(existing, tasks...)
	if err := store.Acyclic(combined); err != nil {
		return err
	}

	now := time.Now()
	for _, t := range tasks {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, type, capability, name, payload, status, attempts, fix_of, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ProjectID, t.Type, t.Capability, t.Name, t.Payload, t.Status, t.Attempts, t.FixOf, createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read insert rowid: %w", err)
		}
		t.Seq = seq
		t.CreatedAt = createdAt

		for _, depID := range t.DependsOn {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
			`, t.ID, depID); err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns a task by ID.
func (s *SQLiteTaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	if err := s.loadDeps(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns all tasks in a project in insertion order.
func (s *SQLiteTaskStore) List(ctx context.Context, projectID string) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	for _, t := range tasks {
		if err := s.loadDeps(ctx, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// MarkReady transitions Pending -> Ready via a conditional UPDATE.
func (s *SQLiteTaskStore) MarkReady(ctx context.Context, id string) (bool, error) {
	return s.conditional(ctx, `
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?
	`, task.StatusReady, id, task.StatusPending)
}

// Acquire transitions Ready -> Running and records the lease. The WHERE
// clause on the expected status is what makes acquisition atomic across
// replicas.
func (s *SQLiteTaskStore) Acquire(ctx context.Context, id, token string, deadline time.Time) (bool, error) {
	return s.conditional(ctx, `
		UPDATE tasks SET status = ?, lease_token = ?, lease_deadline = ?
		WHERE id = ? AND status = ?
	`, task.StatusRunning, token, deadline, id, task.StatusReady)
}

// Release returns an expired lease to Ready.
func (s *SQLiteTaskStore) Release(ctx context.Context, id, token string) (bool, error) {
	return s.conditional(ctx, `
		UPDATE tasks SET status = ?, lease_token = '', lease_deadline = NULL, attempts = attempts + 1
		WHERE id = ? AND status = ? AND lease_token = ?
	`, task.StatusReady, id, task.StatusRunning, token)
}

// Complete transitions {Running, token} -> Done.
func (s *SQLiteTaskStore) Complete(ctx context.Context, id, token string, result []byte) (bool, error) {
	return s.conditional(ctx, `
		UPDATE tasks SET status = ?, result = ?, lease_token = '', lease_deadline = NULL
		WHERE id = ? AND status = ? AND lease_token = ?
	`, task.StatusDone, result, id, task.StatusRunning, token)
}

// Fail transitions {Running, token} -> Failed.
func (s *SQLiteTaskStore) Fail(ctx context.Context, id, token string, failure *task.ErrorPayload) (bool, error) {
	blob, err := json.Marshal(failure)
	if err != nil {
		return false, err
	}
	return s.conditional(ctx, `
		UPDATE tasks SET status = ?, failure = ?, lease_token = '', lease_deadline = NULL
		WHERE id = ? AND status = ? AND lease_token = ?
	`, task.StatusFailed, string(blob), id, task.StatusRunning, token)
}

// ForceFail terminally fails a leased task without a worker report.
func (s *SQLiteTaskStore) ForceFail(ctx context.Context, id, token string, failure *task.ErrorPayload) (bool, error) {
	blob, err := json.Marshal(failure)
	if err != nil {
		return false, err
	}
	return s.conditional(ctx, `
		UPDATE tasks SET status = ?, failure = ?, lease_token = '', lease_deadline = NULL, attempts = attempts + 1
		WHERE id = ? AND status = ? AND lease_token = ?
	`, task.StatusFailed, string(blob), id, task.StatusRunning, token)
}

// ExpiredLeases returns Running tasks whose lease deadline has passed.
func (s *SQLiteTaskStore) ExpiredLeases(ctx context.Context, now time.Time) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND lease_deadline IS NOT NULL AND lease_deadline <= ?
	`, task.StatusRunning, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired leases: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RewriteDependency repoints Pending dependents of from onto to inside one
// transaction, cycle-checking the resulting graph before committing.
func (s *SQLiteTaskStore) RewriteDependency(ctx context.Context, projectID, from, to string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tasks, err := listTasksTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	found := false
	var rewritten []string
	for _, t := range tasks {
		if t.ID == to {
			found = true
		}
		if t.Status != task.StatusPending {
			continue
		}
		for i, dep := range t.DependsOn {
			if dep == from {
				t.DependsOn[i] = to
				rewritten = append(rewritten, t.ID)
			}
		}
	}
	if !found {
		return task.Structuralf("rewrite target %q does not exist", to)
	}
	if len(rewritten) == 0 {
		return nil
	}
	if err := store.Acyclic(tasks); err != nil {
		return err
	}

	for _, id := range rewritten {
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_dependencies SET depends_on_id = ? WHERE task_id = ? AND depends_on_id = ?
		`, to, id, from); err != nil {
			return fmt.Errorf("failed to rewrite dependency for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// conditional runs a status-guarded UPDATE and reports whether it won.
func (s *SQLiteTaskStore) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteTaskStore) loadDeps(ctx context.Context, t *task.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id FROM task_dependencies WHERE task_id = ?
	`, t.ID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var depID string
		if err := rows.Scan(&depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		t.DependsOn = append(t.DependsOn, depID)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	t := &task.Task{}
	var failure sql.NullString
	var leaseToken string
	var leaseDeadline sql.NullTime
	err := row.Scan(&t.ID, &t.ProjectID, &t.Type, &t.Capability, &t.Name, &t.Payload, &t.Result,
		&failure, &t.Status, &t.Attempts, &t.FixOf, &leaseToken, &leaseDeadline, &t.Seq, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if failure.Valid && failure.String != "" {
		var ep task.ErrorPayload
		if err := json.Unmarshal([]byte(failure.String), &ep); err != nil {
			return nil, fmt.Errorf("failed to decode failure payload: %w", err)
		}
		t.Failure = &ep
	}
	if leaseToken != "" {
		t.Lease = &task.Lease{Token: leaseToken}
		if leaseDeadline.Valid {
			t.Lease.Deadline = leaseDeadline.Time
		}
	}
	return t, nil
}

// listTasksTx loads a project's tasks with dependencies inside a
// transaction.
func listTasksTx(ctx context.Context, tx *sql.Tx, projectID string) ([]*task.Task, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY rowid
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	for _, t := range tasks {
		depRows, err := tx.QueryContext(ctx, `
			SELECT depends_on_id FROM task_dependencies WHERE task_id = ?
		`, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query dependencies: %w", err)
		}
		for depRows.Next() {
			var depID string
			if err := depRows.Scan(&depID); err != nil {
				depRows.Close()
				return nil, fmt.Errorf("failed to scan dependency: %w", err)
			}
			t.DependsOn = append(t.DependsOn, depID)
		}
		depRows.Close()
		if err := depRows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating dependencies: %w", err)
		}
	}
	return tasks, nil
}
