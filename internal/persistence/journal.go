package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/softsmith/maker/internal/events"
)

// Journal is the durable progress-log sink. Records are append-only; the
// engine never reads them back, but UIs and the CLI can.
type Journal struct {
	db *sql.DB
}

// Append implements events.Sink.
func (j *Journal) Append(rec events.Record) error {
	_, err := j.db.Exec(`
		INSERT INTO journal (project_id, task_id, kind, detail, at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ProjectID, rec.TaskID, rec.Kind, rec.Detail, rec.At)
	if err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// Records returns a project's journal in append order, for external
// consumers.
func (j *Journal) Records(ctx context.Context, projectID string) ([]events.Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT project_id, task_id, kind, detail, at FROM journal
		WHERE project_id = ? ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var records []events.Record
	for rows.Next() {
		var rec events.Record
		if err := rows.Scan(&rec.ProjectID, &rec.TaskID, &rec.Kind, &rec.Detail, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan journal record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ events.Sink = (*Journal)(nil)
