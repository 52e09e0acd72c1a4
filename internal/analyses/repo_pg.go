package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"habitat-backend/internal/llm"
)

// PGStore implements Store using Postgres. Transitions are single UPDATE
// statements guarded by the expected source status.
type PGStore struct {
	DB  *sql.DB
	Now func() time.Time
}

const jobColumns = `id, status, images, comment, result, error, llm_info, schema_version, request_id,
       created_at, updated_at, started_at, completed_at`

func (r *PGStore) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Create inserts a new pending job.
func (r *PGStore) Create(ctx context.Context, job Job) error {
	if job.ID == "" || job.Status != StatusPending {
		return ErrInvalidInput
	}
	const query = `
INSERT INTO analysis_jobs (id, status, images, comment, request_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	images, err := json.Marshal(job.Input.Images)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		images,
		job.Input.Comment,
		nullString(job.RequestID),
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Get returns a job by ID.
func (r *PGStore) Get(ctx context.Context, jobID string) (Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE id = $1
LIMIT 1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, err
	}
	return job, nil
}

// MarkProcessing moves a pending job to processing.
func (r *PGStore) MarkProcessing(ctx context.Context, jobID string) error {
	const query = `
UPDATE analysis_jobs
SET status = 'processing',
    started_at = $2,
    updated_at = $2
WHERE id = $1 AND status = 'pending'`
	res, err := r.DB.ExecContext(ctx, query, jobID, r.now())
	if err != nil {
		return err
	}
	return r.checkGuarded(ctx, res, jobID, StatusProcessing)
}

// Complete stores the result of a processing job.
func (r *PGStore) Complete(ctx context.Context, jobID string, result Result, info llm.Info) error {
	const query = `
UPDATE analysis_jobs
SET status = 'completed',
    result = $2,
    llm_info = $3,
    schema_version = $4,
    completed_at = $5,
    updated_at = $5
WHERE id = $1 AND status = 'processing'`
	resultPayload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	infoPayload, err := json.Marshal(info)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, jobID, resultPayload, infoPayload, nullString(result.SchemaVersion), r.now())
	if err != nil {
		return err
	}
	return r.checkGuarded(ctx, res, jobID, StatusCompleted)
}

// Fail stores the terminal error of a processing job.
func (r *PGStore) Fail(ctx context.Context, jobID string, jobErr JobError, info *llm.Info) error {
	const query = `
UPDATE analysis_jobs
SET status = 'failed',
    error = $2,
    llm_info = COALESCE($3::jsonb, llm_info),
    completed_at = $4,
    updated_at = $4
WHERE id = $1 AND status = 'processing'`
	errPayload, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	var infoPayload any
	if info != nil {
		b, err := json.Marshal(info)
		if err != nil {
			return err
		}
		infoPayload = b
	}
	res, err := r.DB.ExecContext(ctx, query, jobID, errPayload, infoPayload, r.now())
	if err != nil {
		return err
	}
	return r.checkGuarded(ctx, res, jobID, StatusFailed)
}

// ListByStatus returns jobs in status updated before cutoff, oldest first.
func (r *PGStore) ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT ` + jobColumns + `
FROM analysis_jobs
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, string(status), updatedBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// checkGuarded turns a zero-row guarded update into ErrNotFound or a TransitionError.
func (r *PGStore) checkGuarded(ctx context.Context, res sql.Result, jobID string, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current string
	err = r.DB.QueryRowContext(ctx, `SELECT status FROM analysis_jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return &TransitionError{ID: jobID, From: Status(current), To: to}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		job           Job
		status        string
		images        []byte
		comment       sql.NullString
		result        []byte
		jobErr        []byte
		llmInfo       []byte
		schemaVersion sql.NullString
		requestID     sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&status,
		&images,
		&comment,
		&result,
		&jobErr,
		&llmInfo,
		&schemaVersion,
		&requestID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return Job{}, err
	}
	job.Status = Status(status)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &job.Input.Images); err != nil {
			return Job{}, fmt.Errorf("decode images for job %s: %w", job.ID, err)
		}
	}
	job.Input.Comment = comment.String
	if len(result) > 0 {
		job.Result = &Result{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return Job{}, fmt.Errorf("decode result for job %s: %w", job.ID, err)
		}
		job.Result.SchemaVersion = schemaVersion.String
	}
	if len(jobErr) > 0 {
		job.Error = &JobError{}
		if err := json.Unmarshal(jobErr, job.Error); err != nil {
			return Job{}, fmt.Errorf("decode error for job %s: %w", job.ID, err)
		}
	}
	if len(llmInfo) > 0 {
		job.LLMInfo = &llm.Info{}
		if err := json.Unmarshal(llmInfo, job.LLMInfo); err != nil {
			return Job{}, fmt.Errorf("decode llm info for job %s: %w", job.ID, err)
		}
	}
	job.SchemaVersion = schemaVersion.String
	job.RequestID = requestID.String
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
