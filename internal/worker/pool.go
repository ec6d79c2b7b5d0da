package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes jobs until jobsChan is closed. Deliveries still buffered
// after shutdown began are requeued unprocessed.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for jd := range w.jobsChan {
		if ctx.Err() != nil {
			if err := jd.delivery.Nack(false, true); err != nil {
				w.logger.Error("Failed to NACK message on shutdown",
					slog.String("worker_name", workerName),
					slog.String("job_id", jd.msg.JobID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", jd.msg.JobID),
			slog.String("job_type", string(jd.msg.JobType)),
		)

		err := w.processJob(ctx, jd.msg)
		w.settle(ctx, workerName, jd, err)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// settle acks or nacks the delivery for the outcome of processJob
func (w *Worker) settle(ctx context.Context, workerName string, jd *jobDelivery, err error) {
	if err == nil {
		if ackErr := jd.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", jd.msg.JobID),
				slog.String("error", ackErr.Error()),
			)
			return
		}
		w.logger.Info("Job completed successfully",
			slog.String("worker_name", workerName),
			slog.String("job_id", jd.msg.JobID),
		)
		return
	}

	if w.shouldRequeueJob(ctx, jd.msg.JobID, err) {
		w.logger.Warn("Job hit a transient error, requeueing",
			slog.String("worker_name", workerName),
			slog.String("job_id", jd.msg.JobID),
			slog.String("error", err.Error()),
			slog.Duration("requeue_after", w.requeueDelay),
		)
		w.waitRequeueDelay(ctx)
		if nackErr := jd.delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", jd.msg.JobID),
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	// The job row records the outcome; redelivery would only hit a conflict.
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrConflict) {
		level = slog.LevelInfo
	}
	w.logger.Log(ctx, level, "Job finished with error",
		slog.String("worker_name", workerName),
		slog.String("job_id", jd.msg.JobID),
		slog.String("error", err.Error()),
	)
	if ackErr := jd.delivery.Ack(false); ackErr != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", jd.msg.JobID),
			slog.String("error", ackErr.Error()),
		)
	}
}

// shouldRequeueJob reports whether a failed delivery should go back to the queue:
// only transient errors on a job that is still queued.
func (w *Worker) shouldRequeueJob(ctx context.Context, jobID string, err error) bool {
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidJobType) {
		return false
	}
	if !domain.IsRetryable(err) {
		return false
	}

	job, getErr := w.queue.Get(ctx, jobID)
	if getErr != nil {
		// store still unreachable, the job cannot have moved on
		return !errors.Is(getErr, domain.ErrNotFound)
	}
	return job.Status == domain.JobStatusQueued
}

// waitRequeueDelay paces redeliveries while a dependency is down; shutdown cuts it short
func (w *Worker) waitRequeueDelay(ctx context.Context) {
	timer := time.NewTimer(w.requeueDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-w.stopChan:
	}
}
