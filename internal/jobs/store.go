package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const jobColumns = `id, project_name, user, layout_json, is_error, error_message,
    error_detail, submitted_at, started_at, completed_at, cancelled_at,
    state_history_json, created_at, updated_at`

// Store persists jobs in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	// Pragmas ride on the DSN so that every connection database/sql
	// opens gets them, not just the one that ran a PRAGMA statement.
	// Without a per-connection busy_timeout, concurrent writers fail
	// immediately with SQLITE_BUSY instead of waiting.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new job.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job id is empty")
	}

	layoutJSON, historyJSON, err := encodeJob(job)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, project_name, user, layout_json, is_error, error_message,
            error_detail, submitted_at, started_at, completed_at, cancelled_at,
            state_history_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ProjectName,
		nullableString(job.User),
		layoutJSON,
		boolToInt(job.IsError),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorDetail),
		nullableTime(job.SubmittedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.CancelledAt),
		historyJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier, returning (nil, nil) when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}

	layoutJSON, historyJSON, err := encodeJob(job)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET project_name = ?, user = ?, layout_json = ?, is_error = ?,
             error_message = ?, error_detail = ?, submitted_at = ?,
             started_at = ?, completed_at = ?, cancelled_at = ?,
             state_history_json = ?, updated_at = ?
         WHERE id = ?`,
		job.ProjectName,
		nullableString(job.User),
		layoutJSON,
		boolToInt(job.IsError),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorDetail),
		nullableTime(job.SubmittedAt),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.CancelledAt),
		historyJSON,
		time.Now().UTC().Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

// List returns all jobs ordered by submission time.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

func encodeJob(job *Job) (layoutJSON, historyJSON string, err error) {
	layoutBytes, err := json.Marshal(job.Layout)
	if err != nil {
		return "", "", fmt.Errorf("marshal layout: %w", err)
	}
	history := job.StateHistory
	if history == nil {
		history = []StateEntry{}
	}
	historyBytes, err := json.Marshal(history)
	if err != nil {
		return "", "", fmt.Errorf("marshal state history: %w", err)
	}
	return string(layoutBytes), string(historyBytes), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job          Job
		user         sql.NullString
		layoutJSON   string
		isError      int
		errorMessage sql.NullString
		errorDetail  sql.NullString
		submittedAt  sql.NullString
		startedAt    sql.NullString
		completedAt  sql.NullString
		cancelledAt  sql.NullString
		historyJSON  string
		createdAt    string
		updatedAt    string
	)

	err := scanner.Scan(
		&job.ID,
		&job.ProjectName,
		&user,
		&layoutJSON,
		&isError,
		&errorMessage,
		&errorDetail,
		&submittedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&historyJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.User = user.String
	job.IsError = isError != 0
	job.ErrorMessage = errorMessage.String
	job.ErrorDetail = errorDetail.String

	if err := json.Unmarshal([]byte(layoutJSON), &job.Layout); err != nil {
		return nil, fmt.Errorf("unmarshal layout: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &job.StateHistory); err != nil {
		return nil, fmt.Errorf("unmarshal state history: %w", err)
	}

	if job.SubmittedAt, err = parseTimePtr(submittedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if job.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return nil, err
	}

	return &job, nil
}

func parseTimePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", value.String, err)
	}
	return &parsed, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
