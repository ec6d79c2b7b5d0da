// Package pipeline holds the job processors that turn recordings into transcripts and synthetic dubs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/processing"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/storage"
)

// Processor runs one job type
type Processor interface {
	JobType() domain.JobType
	Process(ctx context.Context, jobID string) error
}

// Deps are the collaborators shared by the processors
type Deps struct {
	Queue    *queue.Queue
	Store    *storage.Storage
	Service  processing.Service
	Retry    RetryPolicy
	WorkerID string
	Logger   *slog.Logger
}

type base struct {
	queue    *queue.Queue
	store    *storage.Storage
	service  processing.Service
	retry    RetryPolicy
	workerID string
	logger   *slog.Logger
}

func newBase(deps Deps) base {
	workerID := deps.WorkerID
	if workerID == "" {
		workerID = "pipeline"
	}
	return base{
		queue:    deps.Queue,
		store:    deps.Store,
		service:  deps.Service,
		retry:    deps.Retry.withDefaults(),
		workerID: workerID,
		logger:   deps.Logger,
	}
}

// load fetches a job that must be queued and of type want. Store failures other
// than a missing row are retryable since nothing has been written yet.
func (b *base) load(ctx context.Context, jobID string, want domain.JobType) (*domain.Job, domain.Payload, error) {
	job, err := b.queue.Get(ctx, jobID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil, err
		}
		return nil, nil, domain.NewRetryableError(err)
	}

	if job.Type != want {
		b.logger.Error("Job handed to the wrong processor",
			slog.String("job_id", jobID),
			slog.String("job_type", string(job.Type)),
			slog.String("processor", string(want)),
		)
		return nil, nil, fmt.Errorf("%w: job %s is %s, expected %s", domain.ErrInvalidJobType, jobID, job.Type, want)
	}

	if job.Status != domain.JobStatusQueued {
		return nil, nil, fmt.Errorf("%w: job %s is %s", domain.ErrConflict, jobID, job.Status)
	}

	payload, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, nil, b.fail(ctx, job.ID, err)
	}
	return job, payload, nil
}

// lookup wraps a pre-claim read of a referenced row. A missing row fails the job.
func (b *base) lookup(ctx context.Context, jobID string, err error) error {
	if storage.IsNotFound(err) {
		return b.fail(ctx, jobID, err)
	}
	return domain.NewRetryableError(err)
}

// fail records cause on the job as failed, or timed_out when the job's
// deadline is what ended it, and returns cause
func (b *base) fail(ctx context.Context, jobID string, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(cause, domain.ErrTimedOut) {
		cause = fmt.Errorf("%w: %w", domain.ErrTimedOut, cause)
	}

	// The record must land even when the job's own context is done.
	writeCtx := context.WithoutCancel(ctx)

	var err error
	if errors.Is(cause, domain.ErrTimedOut) {
		err = b.queue.TimeOut(writeCtx, jobID, cause)
		if errors.Is(err, domain.ErrConflict) {
			// still queued: a deadline before the claim is a plain failure
			err = b.queue.Fail(writeCtx, jobID, cause)
		}
	} else {
		err = b.queue.Fail(writeCtx, jobID, cause)
	}
	if err != nil {
		b.logger.Error("Failed to record job failure",
			slog.String("job_id", jobID),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
	} else {
		b.logger.Warn("Job failed",
			slog.String("job_id", jobID),
			slog.String("error", cause.Error()),
		)
	}
	return cause
}

// claim moves the job to running for this worker
func (b *base) claim(ctx context.Context, jobID string) error {
	if _, err := b.queue.Claim(ctx, jobID, b.workerID); err != nil {
		if errors.Is(err, domain.ErrConflict) || storage.IsNotFound(err) {
			return err
		}
		return domain.NewRetryableError(err)
	}
	return nil
}
