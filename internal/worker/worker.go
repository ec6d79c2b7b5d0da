package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultConcurrency       = 4
	defaultJobTimeout        = 10 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
	defaultRequeueDelay      = time.Second
)

// Consumer is the broker side the worker reads deliveries from
type Consumer interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Consumer          Consumer
	Queue             *queue.Queue
	Processors        []pipeline.Processor
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	// RequeueDelay holds a transient failure back before it is nacked to the broker
	RequeueDelay      time.Duration
}

// Worker consumes job messages and runs them on a bounded pool of goroutines
type Worker struct {
	logger            *slog.Logger
	consumer          Consumer
	queue             *queue.Queue
	processors        map[domain.JobType]pipeline.Processor
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	requeueDelay      time.Duration
	jobsChan          chan *jobDelivery
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Consumer == nil {
		return nil, fmt.Errorf("worker consumer is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("worker queue is required")
	}

	processors := make(map[domain.JobType]pipeline.Processor, len(cfg.Processors))
	for _, p := range cfg.Processors {
		if _, dup := processors[p.JobType()]; dup {
			return nil, fmt.Errorf("duplicate processor for job type %s", p.JobType())
		}
		processors[p.JobType()] = p
	}
	if len(processors) == 0 {
		return nil, fmt.Errorf("at least one processor is required")
	}

	w := &Worker{
		logger:            cfg.Logger,
		consumer:          cfg.Consumer,
		queue:             cfg.Queue,
		processors:        processors,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		requeueDelay:      cfg.RequeueDelay,
		stopChan:          make(chan struct{}),
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}
	if w.concurrency <= 0 {
		w.concurrency = defaultConcurrency
	}
	if w.prefetchCount <= 0 {
		w.prefetchCount = w.concurrency
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = defaultJobTimeout
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = defaultHeartbeatInterval
	}
	if w.requeueDelay <= 0 {
		w.requeueDelay = defaultRequeueDelay
	}
	w.jobsChan = make(chan *jobDelivery, w.concurrency)

	return w, nil
}

// Start subscribes to the queue and processes jobs until ctx is canceled, Stop is
// called or the broker closes the delivery channel. It returns once in-flight jobs finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.spawnWorkerPool(ctx)
	err = w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker dispatcher exited, waiting for in-flight jobs")
	w.wg.Wait()
	return err
}

// Stop signals the worker to stop and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
