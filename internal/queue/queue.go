// Package queue persists jobs and announces them to workers through the broker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/storage"
	"github.com/google/uuid"
)

const (
	DefaultPageSize        = 20
	MaxPageSize            = 100
	DefaultRedispatchLimit = 100
)

// Publisher delivers a dispatch message to the job exchange
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Queue is the durable job queue. The job row is the source of truth; the
// broker message only tells a worker which row to pick up.
type Queue struct {
	store     *storage.Storage
	publisher Publisher
	logger    *slog.Logger
	dedupe    bool
}

// Option configures a Queue
type Option func(*Queue)

// WithDedupe controls whether Enqueue reuses an active job for the same work.
// Enabled by default.
func WithDedupe(enabled bool) Option {
	return func(q *Queue) {
		q.dedupe = enabled
	}
}

// New creates a new Queue
func New(store *storage.Storage, publisher Publisher, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		publisher: publisher,
		logger:    logger,
		dedupe:    true,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a queued job for payload and publishes its dispatch message.
// With dedupe enabled, a job for the same work that is already queued or
// running is returned with created=false and nothing is published.
func (q *Queue) Enqueue(ctx context.Context, payload domain.Payload) (*domain.Job, bool, error) {
	if err := payload.Validate(); err != nil {
		return nil, false, err
	}

	raw, err := domain.EncodePayload(payload)
	if err != nil {
		return nil, false, err
	}

	var (
		job     *domain.Job
		created bool
	)
	err = q.store.InTx(ctx, func(tx *storage.Storage) error {
		if q.dedupe {
			existing, err := tx.FindActiveJobByDedupeKey(ctx, payload.DedupeKey())
			if err == nil {
				job = existing
				return nil
			}
			if !storage.IsNotFound(err) {
				return err
			}
		}

		ts := time.Now().UTC()
		job = &domain.Job{
			ID:        uuid.New().String(),
			Type:      payload.JobType(),
			Status:    domain.JobStatusQueued,
			Payload:   raw,
			DedupeKey: payload.DedupeKey(),
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		created = true
		return tx.CreateJob(ctx, job)
	})
	if err != nil {
		q.logger.Error("Failed to enqueue job",
			slog.String("job_type", string(payload.JobType())),
			slog.String("error", err.Error()),
		)
		return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	if !created {
		q.logger.Info("Active job already exists, skipping enqueue",
			slog.String("job_id", job.ID),
			slog.String("dedupe_key", job.DedupeKey),
			slog.String("status", string(job.Status)),
		)
		return job, false, nil
	}

	q.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	// A lost message is recovered by the sweeper, so the job stays queued either way.
	if err := q.publish(ctx, job); err != nil {
		q.logger.Warn("Job queued but dispatch message not published",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return job, true, nil
}

func (q *Queue) publish(ctx context.Context, job *domain.Job) error {
	body, err := json.Marshal(domain.JobMessage{JobID: job.ID, JobType: job.Type})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	return q.publisher.PublishWithRetry(ctx, body, "application/json")
}

// Bind returns a Queue whose store operations run on tx
func (q *Queue) Bind(tx *storage.Storage) *Queue {
	return &Queue{store: tx, publisher: q.publisher, logger: q.logger, dedupe: q.dedupe}
}

// Get retrieves a job by ID
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.store.GetJob(ctx, jobID)
}

// Claim atomically moves a queued job to running for workerID.
// Returns ErrNotFound for an unknown job and ErrConflict when it is not queued.
func (q *Queue) Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	return q.store.ClaimJob(ctx, jobID, workerID)
}

// Complete stores the result of a running job
func (q *Queue) Complete(ctx context.Context, jobID string, result any) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	return q.store.CompleteJob(ctx, jobID, encoded)
}

// Fail marks a queued or running job failed
func (q *Queue) Fail(ctx context.Context, jobID string, cause error) error {
	return q.store.TerminateJob(ctx, jobID, domain.JobStatusFailed, errorMessage(cause))
}

// TimeOut marks a running job timed_out
func (q *Queue) TimeOut(ctx context.Context, jobID string, cause error) error {
	return q.store.TerminateJob(ctx, jobID, domain.JobStatusTimedOut, errorMessage(cause))
}

// Heartbeat refreshes the lease of a running job
func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	return q.store.UpdateJobHeartbeat(ctx, jobID)
}

// RecordAttempt counts one external-service attempt made for a job
func (q *Queue) RecordAttempt(ctx context.Context, jobID string) error {
	return q.store.IncrementJobAttempts(ctx, jobID)
}

// Page is one page of a job listing
type Page struct {
	Jobs       []domain.Job
	NextCursor *storage.JobCursor
}

// List returns one page of jobs, newest first
func (q *Queue) List(ctx context.Context, filter storage.JobFilter) (*Page, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	jobs, err := q.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		last := page.Jobs[len(page.Jobs)-1]
		page.NextCursor = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// Redispatch re-publishes jobs still queued after olderThan. It returns the
// number of messages published.
func (q *Queue) Redispatch(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRedispatchLimit
	}

	jobs, err := q.store.ListQueuedJobsBefore(ctx, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range jobs {
		if err := q.publish(ctx, &jobs[i]); err != nil {
			q.logger.Warn("Failed to redispatch job",
				slog.String("job_id", jobs[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		published++
	}

	if published > 0 {
		q.logger.Info("Redispatched queued jobs",
			slog.Int("count", published),
			slog.Int("candidates", len(jobs)),
		)
	}
	return published, nil
}

// ExpireLeases marks running jobs whose heartbeat is older than leaseTimeout
// as timed_out. It returns the number of jobs expired.
func (q *Queue) ExpireLeases(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	stale, err := q.store.ListStaleRunningJobs(ctx, time.Now().UTC().Add(-leaseTimeout))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, job := range stale {
		cause := fmt.Errorf("%w: no heartbeat for %s", domain.ErrTimedOut, leaseTimeout)
		if err := q.TimeOut(ctx, job.ID, cause); err != nil {
			// The job may have finished between the listing and the update.
			q.logger.Warn("Failed to expire job lease",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

func encodeResult(result any) (string, error) {
	if s, ok := result.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job result: %w", err)
	}
	return string(data), nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
