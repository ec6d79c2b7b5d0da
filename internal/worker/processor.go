package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/storage"
)

// processJob runs one job under the job deadline with a heartbeat alongside.
// In-flight jobs are not canceled by shutdown; only the deadline ends them.
func (w *Worker) processJob(ctx context.Context, msg domain.JobMessage) error {
	p, err := w.processorFor(ctx, msg)
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, msg.JobID, heartbeatDone)
	defer close(heartbeatDone)

	started := time.Now()
	err = p.Process(jobCtx, msg.JobID)

	w.logger.Debug("Job processed",
		slog.String("job_id", msg.JobID),
		slog.String("job_type", string(p.JobType())),
		slog.Duration("elapsed", time.Since(started)),
		slog.Bool("ok", err == nil),
	)
	return err
}

// processorFor picks the processor for the message's job type, reading the job
// row when the message does not carry one
func (w *Worker) processorFor(ctx context.Context, msg domain.JobMessage) (pipeline.Processor, error) {
	jobType := msg.JobType
	if jobType == "" {
		job, err := w.queue.Get(ctx, msg.JobID)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, fmt.Errorf("%w: job %s", domain.ErrConflict, msg.JobID)
			}
			return nil, domain.NewRetryableError(err)
		}
		jobType = job.Type
	}

	p, ok := w.processors[jobType]
	if !ok {
		w.logger.Error("No processor registered for job type",
			slog.String("job_id", msg.JobID),
			slog.String("job_type", string(jobType)),
		)
		return nil, fmt.Errorf("%w: no processor for %q", domain.ErrInvalidJobType, jobType)
	}
	return p, nil
}

// sendJobHeartbeat periodically refreshes the job's lease until done is closed
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			} else {
				w.logger.Debug("Job heartbeat updated",
					slog.String("job_id", jobID),
				)
			}
		}
	}
}
