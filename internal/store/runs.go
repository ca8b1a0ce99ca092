package store

import (
	"database/sql"
	"time"

	"github.com/cityscope/cityscope/internal/models"
)

// StartETLRun records the start of one pipeline stage and returns the row for
// completion later.
func (s *Store) StartETLRun(stage string) (*models.ETLRun, error) {
	run := &models.ETLRun{
		Stage:     stage,
		StartedAt: time.Now().UTC(),
	}

	res, err := s.db.Exec(`
		INSERT INTO etl_runs (stage, started_at, success) VALUES (?, ?, FALSE)
	`, run.Stage, run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteETLRun updates the run row with the stage outcome.
func (s *Store) CompleteETLRun(run *models.ETLRun) error {
	if run == nil {
		return nil
	}
	run.CompletedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE etl_runs
		SET completed_at = ?, success = ?, records_created = ?, records_updated = ?, records_skipped = ?, error_message = ?
		WHERE id = ?
	`, run.CompletedAt, run.Success, run.Created, run.Updated, run.Skipped, run.ErrorMessage, run.ID)
	return err
}

// RecentETLRuns returns the most recent stage executions, newest first.
func (s *Store) RecentETLRuns(limit int) ([]models.ETLRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, stage, started_at, completed_at, success, records_created, records_updated, records_skipped, error_message
		FROM etl_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ETLRun
	for rows.Next() {
		var r models.ETLRun
		if err := rows.Scan(&r.ID, &r.Stage, &r.StartedAt, &r.CompletedAt, &r.Success, &r.Created, &r.Updated, &r.Skipped, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
