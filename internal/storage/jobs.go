package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, job_type, status, payload, result, error_message, dedupe_key, attempts,
	worker_id, created_at, updated_at, started_at, last_heartbeat_at, completed_at`

// JobFilter narrows ListJobs. Zero values mean no filter.
type JobFilter struct {
	JobType  domain.JobType
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job on a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// CreateJob inserts a new job row
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, job_type, status, payload, dedupe_key, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.exec(ctx, "create job", query,
		job.ID,
		string(job.Type),
		string(job.Status),
		job.Payload,
		job.DedupeKey,
		int64(job.Attempts),
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	if err := s.get(ctx, &job, "job "+jobID, query, jobID); err != nil {
		return nil, err
	}
	return &job, nil
}

// FindActiveJobByDedupeKey returns the queued or running job carrying key
func (s *Storage) FindActiveJobByDedupeKey(ctx context.Context, key string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE dedupe_key = ? AND status IN (?, ?)
		ORDER BY created_at ASC
		LIMIT 1`
	err := s.get(ctx, &job, "active job for "+key, query,
		key, string(domain.JobStatusQueued), string(domain.JobStatusRunning))
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob moves a queued job to running with a single conditional update.
// Only one caller can win; the others get ErrConflict.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	ts := now()
	query := `
		UPDATE jobs
		SET status = ?,
		    worker_id = ?,
		    started_at = ?,
		    last_heartbeat_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
	`

	rows, err := s.exec(ctx, "claim job", query,
		string(domain.JobStatusRunning), workerID, ts, ts, ts, jobID, string(domain.JobStatusQueued))
	if err != nil {
		return nil, err
	}

	if rows == 0 {
		existing, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return nil, getErr
		}
		s.logger.Warn("Failed to claim job - not queued",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
			slog.String("status", string(existing.Status)),
		)
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrConflict, jobID, existing.Status)
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
	)

	return s.GetJob(ctx, jobID)
}

// CompleteJob marks a running job completed with its result
func (s *Storage) CompleteJob(ctx context.Context, jobID string, result string) error {
	ts := now()
	query := `
		UPDATE jobs
		SET status = ?,
		    result = ?,
		    error_message = NULL,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status = ?
	`

	rows, err := s.exec(ctx, "complete job", query,
		string(domain.JobStatusCompleted), result, ts, ts, jobID, string(domain.JobStatusRunning))
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionConflict(ctx, jobID, domain.JobStatusCompleted)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(domain.JobStatusCompleted)),
	)
	return nil
}

// TerminateJob moves a job to failed or timed_out with an error message.
// The update only matches jobs whose current status allows the transition.
func (s *Storage) TerminateJob(ctx context.Context, jobID string, to domain.JobStatus, errorMessage string) error {
	if to != domain.JobStatusFailed && to != domain.JobStatusTimedOut {
		return fmt.Errorf("%w: %s is not a failure status", domain.ErrValidation, to)
	}
	if errorMessage == "" {
		errorMessage = string(to)
	}

	var from []domain.JobStatus
	for _, st := range []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning} {
		if st.CanTransition(to) {
			from = append(from, st)
		}
	}

	ts := now()
	query, args, err := sqlx.In(`
		UPDATE jobs
		SET status = ?,
		    result = NULL,
		    error_message = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
		  AND status IN (?)
	`, string(to), errorMessage, ts, ts, jobID, statusStrings(from))
	if err != nil {
		return fmt.Errorf("failed to build terminate query: %w", err)
	}

	rows, err := s.exec(ctx, "terminate job", query, args...)
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionConflict(ctx, jobID, to)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
		slog.String("error_message", errorMessage),
	)
	return nil
}

func (s *Storage) transitionConflict(ctx context.Context, jobID string, to domain.JobStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s cannot move from %s to %s", domain.ErrConflict, jobID, job.Status, to)
}

// IncrementJobAttempts records one more external-service attempt
func (s *Storage) IncrementJobAttempts(ctx context.Context, jobID string) error {
	query := `UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`
	_, err := s.exec(ctx, "increment job attempts", query, now(), jobID)
	return err
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	ts := now()
	query := `
		UPDATE jobs
		SET last_heartbeat_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	rows, err := s.exec(ctx, "update job heartbeat", query, ts, ts, jobID, string(domain.JobStatusRunning))
	if err != nil {
		return err
	}

	if rows == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}
	return nil
}

// ListJobs lists jobs newest first. One extra row is fetched so callers can
// tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if filter.JobType != "" {
		query += " AND job_type = ?"
		args = append(args, string(filter.JobType))
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, filter.Cursor.CreatedAt.UTC(), filter.Cursor.CreatedAt.UTC(), filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.PageSize > 0 {
		query += " LIMIT ?"
		args = append(args, int64(filter.PageSize+1))
	}

	jobs := []domain.Job{}
	if err := s.selectAll(ctx, &jobs, "jobs", query, args...); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListStaleRunningJobs returns running jobs whose heartbeat is older than cutoff
func (s *Storage) ListStaleRunningJobs(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = ? AND last_heartbeat_at < ?
		ORDER BY last_heartbeat_at ASC`

	jobs := []domain.Job{}
	if err := s.selectAll(ctx, &jobs, "stale jobs", query, string(domain.JobStatusRunning), cutoff.UTC()); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListQueuedJobsBefore returns jobs still queued that were created before cutoff
func (s *Storage) ListQueuedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`

	jobs := []domain.Job{}
	if err := s.selectAll(ctx, &jobs, "queued jobs", query, string(domain.JobStatusQueued), cutoff.UTC(), int64(limit)); err != nil {
		return nil, err
	}
	return jobs, nil
}

// IsNotFound reports whether err means the row is absent
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
