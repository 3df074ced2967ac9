package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/contentgen-be/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, type, status, user_id, payload, result, error, created_at, started_at, completed_at`

// jobRow mirrors the jobs table; nullable columns are scanned separately from domain.Job
type jobRow struct {
	ID          string         `db:"id"`
	Type        string         `db:"type"`
	Status      string         `db:"status"`
	UserID      string         `db:"user_id"`
	Payload     []byte         `db:"payload"`
	Result      []byte         `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:        r.ID,
		Type:      domain.JobType(r.Type),
		Status:    domain.JobStatus(r.Status),
		UserID:    r.UserID,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.CreatedAt,
	}
	if len(r.Result) > 0 {
		job.Result = json.RawMessage(r.Result)
	}
	if r.Error.Valid {
		msg := r.Error.String
		job.Error = &msg
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	return job
}

// PostgresQueue implements Queue and Store on a jobs table
type PostgresQueue struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var (
	_ Queue = (*PostgresQueue)(nil)
	_ Store = (*PostgresQueue)(nil)
)

// NewPostgresQueue creates a new PostgresQueue instance
func NewPostgresQueue(db *sqlx.DB, logger *slog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts a pending job for payload
func (q *PostgresQueue) Enqueue(ctx context.Context, payload domain.Payload) (*domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO jobs (id, type, status, user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + jobColumns

	var row jobRow
	err = q.db.GetContext(ctx, &row, query,
		uuid.NewString(),
		string(payload.JobType()),
		string(domain.JobStatusPending),
		payload.OwnerID(),
		body,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", row.ID),
		slog.String("job_type", row.Type),
		slog.String("user_id", row.UserID),
	)

	return row.toDomain(), nil
}

// GetJob retrieves a job by its ID
func (q *PostgresQueue) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var row jobRow
	if err := q.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain(), nil
}

// ProcessNextJob claims the oldest pending job of jobType and executes it.
// SKIP LOCKED lets concurrent workers pass over a row another worker is claiming.
func (q *PostgresQueue) ProcessNextJob(ctx context.Context, jobType domain.JobType, handler Handler) (*domain.Job, error) {
	query := `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE type = $1 AND status = $2
			ORDER BY created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET status = $3, started_at = NOW()
		WHERE id IN (SELECT id FROM next)
		RETURNING ` + jobColumns

	var row jobRow
	err := q.db.GetContext(ctx, &row, query,
		string(jobType),
		string(domain.JobStatusPending),
		string(domain.JobStatusProcessing),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return q.execute(ctx, row.toDomain(), handler)
}

// ProcessJob claims a specific pending job and executes it
func (q *PostgresQueue) ProcessJob(ctx context.Context, jobID string, handler Handler) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, started_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + jobColumns

	var row jobRow
	err := q.db.GetContext(ctx, &row, query,
		string(domain.JobStatusProcessing),
		jobID,
		string(domain.JobStatusPending),
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to claim job: %w", err)
		}
		if _, getErr := q.GetJob(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, domain.ErrJobAlreadyClaimed
	}

	return q.execute(ctx, row.toDomain(), handler)
}

// execute runs handler on a claimed job and persists the final status
func (q *PostgresQueue) execute(ctx context.Context, job *domain.Job, handler Handler) (*domain.Job, error) {
	q.logger.Info("Job claimed successfully",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	result, handlerErr := handler(ctx, job)

	var resultJSON []byte
	if handlerErr == nil {
		resultJSON, handlerErr = encodeResult(result)
	}
	if handlerErr != nil {
		return q.updateStatus(ctx, job.ID, domain.JobStatusFailed, nil, domain.FailureMessage(handlerErr))
	}
	return q.updateStatus(ctx, job.ID, domain.JobStatusCompleted, resultJSON, "")
}

// updateStatus records a terminal status with its result or error message
func (q *PostgresQueue) updateStatus(ctx context.Context, jobID string, status domain.JobStatus, resultJSON []byte, errorMsg string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
			result = $2,
			error = $3,
			completed_at = NOW()
		WHERE id = $4
		RETURNING ` + jobColumns

	var errArg sql.NullString
	if errorMsg != "" {
		errArg = sql.NullString{String: errorMsg, Valid: true}
	}

	var row jobRow
	if err := q.db.GetContext(ctx, &row, query, string(status), resultJSON, errArg, jobID); err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}

	q.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return row.toDomain(), nil
}

// ListJobs returns jobs newest first; it fetches one extra row so callers can detect another page
func (q *PostgresQueue) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, string(filter.JobType))
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, len(rows))
	for i := range rows {
		jobs[i] = *rows[i].toDomain()
	}
	return jobs, nil
}
