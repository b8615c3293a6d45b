package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/hive/internal/scheduler"
	"github.com/ShayCichocki/hive/pkg/models"
)

// RunRecord is one terminal objective as stored in the runs table.
type RunRecord struct {
	ID             string
	Name           string
	Strategy       models.Strategy
	Status         models.ObjectiveStatus
	Error          string
	TasksTotal     int
	TasksCompleted int
	TasksFailed    int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// RunStore persists terminal objective records. It satisfies the
// coordinator's History interface.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore over an opened, migrated database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun upserts the terminal record for an objective.
func (s *RunStore) SaveRun(obj models.Objective, counts scheduler.Counts) error {
	var startedAt, completedAt any
	if obj.StartedAt != nil {
		startedAt = formatTime(*obj.StartedAt)
	}
	if obj.CompletedAt != nil {
		completedAt = formatTime(*obj.CompletedAt)
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, name, strategy, status, error,
			tasks_total, tasks_completed, tasks_failed,
			created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			tasks_total = excluded.tasks_total,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, obj.ID, obj.Name, string(obj.Strategy), string(obj.Status), obj.Error,
		counts.Total, counts.Completed, counts.Failed,
		formatTime(obj.CreatedAt), startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", obj.ID, err)
	}
	return nil
}

// ListRuns returns stored runs, most recent first, up to limit. A limit of
// zero returns everything.
func (s *RunStore) ListRuns(limit int) ([]RunRecord, error) {
	query := `
		SELECT id, name, strategy, status, COALESCE(error, ''),
			tasks_total, tasks_completed, tasks_failed,
			created_at, started_at, completed_at
		FROM runs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var createdAt string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Strategy, &r.Status, &r.Error,
			&r.TasksTotal, &r.TasksCompleted, &r.TasksFailed,
			&createdAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if t, err := parseTime(createdAt); err == nil {
			r.CreatedAt = t
		}
		r.StartedAt = parseNullableTime(startedAt)
		r.CompletedAt = parseNullableTime(completedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeOldRuns deletes run records older than the given age and returns how
// many were removed.
func (s *RunStore) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := s.db.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	return result.RowsAffected()
}
