package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/softsmith/maker/internal/project"
	"github.com/softsmith/maker/internal/store"
)

// SQLiteProjectStore implements store.ProjectStore on SQLite.
type SQLiteProjectStore struct {
	db *sql.DB
}

// Insert adds a project.
func (s *SQLiteProjectStore) Insert(ctx context.Context, p *project.Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, prompt, state, fix_attempts, paused, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Prompt, p.State, p.FixAttempts, boolInt(p.Paused), p.LastError, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	p.CreatedAt = createdAt
	return nil
}

// Get returns a project by ID.
func (s *SQLiteProjectStore) Get(ctx context.Context, id string) (*project.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `
		SELECT id, prompt, state, fix_attempts, paused, last_error, created_at
		FROM projects WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

// List returns all projects in creation order.
func (s *SQLiteProjectStore) List(ctx context.Context) ([]*project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prompt, state, fix_attempts, paused, last_error, created_at
		FROM projects ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetState transitions from -> to via a conditional UPDATE.
func (s *SQLiteProjectStore) SetState(ctx context.Context, id string, from, to project.State) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET state = ? WHERE id = ? AND state = ?
	`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetPaused flips the dispatch gate.
func (s *SQLiteProjectStore) SetPaused(ctx context.Context, id string, paused bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET paused = ? WHERE id = ?
	`, boolInt(paused), id)
	if err != nil {
		return fmt.Errorf("failed to update paused: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementFixAttempts bumps and returns the cumulative fix counter.
func (s *SQLiteProjectStore) IncrementFixAttempts(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE projects SET fix_attempts = fix_attempts + 1 WHERE id = ?
	`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment fix attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, store.ErrNotFound
	}

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT fix_attempts FROM projects WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to read fix attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return attempts, nil
}

// SetLastError records the most recent failure detail.
func (s *SQLiteProjectStore) SetLastError(ctx context.Context, id, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET last_error = ? WHERE id = ?
	`, msg, id)
	if err != nil {
		return fmt.Errorf("failed to update last error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanProject(row rowScanner) (*project.Project, error) {
	p := &project.Project{}
	var paused int
	err := row.Scan(&p.ID, &p.Prompt, &p.State, &p.FixAttempts, &paused, &p.LastError, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Paused = paused != 0
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ store.ProjectStore = (*SQLiteProjectStore)(nil)
	_ store.TaskStore    = (*SQLiteTaskStore)(nil)
)
