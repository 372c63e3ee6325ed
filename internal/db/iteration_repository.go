package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tpott/diy-ralph/internal/models"
)

// Iteration repository errors.
var (
	ErrIterationNotFound = errors.New("iteration not found")
)

// IterationRepository handles iteration record persistence.
type IterationRepository struct {
	db *DB
}

// NewIterationRepository creates a new IterationRepository.
func NewIterationRepository(db *DB) *IterationRepository {
	return &IterationRepository{db: db}
}

// Create adds a new iteration record. Numbers are unique per run; a
// rate-limited retry must reuse the existing record via RecordAttempt
// instead of creating a duplicate.
func (r *IterationRepository) Create(ctx context.Context, it *models.Iteration) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.Outcome == "" {
		it.Outcome = models.IterationRunning
	}
	if it.Attempts <= 0 {
		it.Attempts = 1
	}
	if it.StartedAt.IsZero() {
		it.StartedAt = time.Now().UTC()
	}
	if err := it.Validate(); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO iterations (
			id, run_id, number, attempts, outcome,
			session_id, result_text, last_error, log_path, exit_code,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		it.ID,
		it.RunID,
		it.Number,
		it.Attempts,
		string(it.Outcome),
		nullableString(it.SessionID),
		nullableString(it.ResultText),
		nullableString(it.LastError),
		nullableString(it.LogPath),
		it.ExitCode,
		it.StartedAt.UTC().Format(time.RFC3339),
		stringTimePtr(it.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}

	return nil
}

// Get retrieves an iteration by ID.
func (r *IterationRepository) Get(ctx context.Context, id string) (*models.Iteration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, run_id, number, attempts, outcome,
			session_id, result_text, last_error, log_path, exit_code,
			started_at, finished_at
		FROM iterations WHERE id = ?
	`, id)

	return r.scanIteration(row)
}

// ListByRun retrieves iteration records for a run, ordered by number.
func (r *IterationRepository) ListByRun(ctx context.Context, runID string) ([]*models.Iteration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, number, attempts, outcome,
			session_id, result_text, last_error, log_path, exit_code,
			started_at, finished_at
		FROM iterations
		WHERE run_id = ?
		ORDER BY number ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	iterations := make([]*models.Iteration, 0)
	for rows.Next() {
		it, err := r.scanIteration(rows)
		if err != nil {
			return nil, err
		}
		iterations = append(iterations, it)
	}

	return iterations, rows.Err()
}

// PruneRuns deletes iteration history for all but the keep most recent
// runs, ordered by when each run last started an iteration. Returns the
// number of runs removed. Selection and deletion happen in one
// transaction so a concurrent writer cannot see a half-pruned history.
func (r *IterationRepository) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	pruned := 0
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT run_id FROM iterations
			GROUP BY run_id
			ORDER BY MAX(started_at) DESC
		`)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		defer rows.Close()

		var stale []string
		seen := 0
		for rows.Next() {
			var runID string
			if err := rows.Scan(&runID); err != nil {
				return err
			}
			seen++
			if seen > keep {
				stale = append(stale, runID)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, runID := range stale {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM iterations WHERE run_id = ?", runID); err != nil {
				return fmt.Errorf("failed to prune run %s: %w", runID, err)
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

// NextNumber returns the next iteration number for a run. Numbering is
// monotonic per run with no gaps: max(number)+1.
func (r *IterationRepository) NextNumber(ctx context.Context, runID string) (int, error) {
	var max int
	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(number), 0) FROM iterations WHERE run_id = ?", runID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next iteration number: %w", err)
	}
	return max + 1, nil
}

// RecordAttempt increments the attempt counter on an existing record. Used
// when a rate-limited invocation retries the same iteration slot.
func (r *IterationRepository) RecordAttempt(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE iterations SET attempts = attempts + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrIterationNotFound
	}
	return nil
}

// Finish updates an iteration with its final outcome.
func (r *IterationRepository) Finish(ctx context.Context, it *models.Iteration) error {
	finishedAt := time.Now().UTC()
	it.FinishedAt = &finishedAt

	result, err := r.db.ExecContext(ctx, `
		UPDATE iterations
		SET outcome = ?, attempts = ?, session_id = ?, result_text = ?,
			last_error = ?, exit_code = ?, finished_at = ?
		WHERE id = ?
	`,
		string(it.Outcome),
		it.Attempts,
		nullableString(it.SessionID),
		nullableString(it.ResultText),
		nullableString(it.LastError),
		it.ExitCode,
		stringTimePtr(it.FinishedAt),
		it.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update iteration: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrIterationNotFound
	}
	return nil
}

func (r *IterationRepository) scanIteration(scanner interface{ Scan(...any) error }) (*models.Iteration, error) {
	var (
		id         string
		runID      string
		number     int
		attempts   int
		outcome    string
		sessionID  sql.NullString
		resultText sql.NullString
		lastError  sql.NullString
		logPath    sql.NullString
		exitCode   sql.NullInt64
		startedAt  string
		finishedAt sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&runID,
		&number,
		&attempts,
		&outcome,
		&sessionID,
		&resultText,
		&lastError,
		&logPath,
		&exitCode,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIterationNotFound
		}
		return nil, fmt.Errorf("failed to scan iteration: %w", err)
	}

	it := &models.Iteration{
		ID:         id,
		RunID:      runID,
		Number:     number,
		Attempts:   attempts,
		Outcome:    models.IterationOutcome(outcome),
		SessionID:  sessionID.String,
		ResultText: resultText.String,
		LastError:  lastError.String,
		LogPath:    logPath.String,
	}

	if t, err := time.Parse(time.RFC3339, startedAt); err == nil {
		it.StartedAt = t
	}
	if finishedAt.Valid && finishedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			it.FinishedAt = &t
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		it.ExitCode = &code
	}

	return it, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
