package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/domain"
	"github.com/cuongbtq/media-pipeline/internal/pipeline"
	"github.com/cuongbtq/media-pipeline/internal/queue"
	"github.com/cuongbtq/media-pipeline/internal/testsupport"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlement struct {
	acked   bool
	requeue bool
}

// fakeAcknowledger records how each delivery tag was settled
type fakeAcknowledger struct {
	mu      sync.Mutex
	settled map[uint64]settlement
}

func newAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(map[uint64]settlement)}
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{acked: true}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) get(tag uint64) (settlement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.settled[tag]
	return s, ok
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	prefetch   int
	tag        string
	qosErr     error
}

func (c *fakeConsumer) Qos(prefetchCount int) error {
	c.prefetch = prefetchCount
	return c.qosErr
}

func (c *fakeConsumer) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	c.tag = consumerTag
	return c.deliveries, nil
}

type fakeProcessor struct {
	jobType domain.JobType
	fn      func(ctx context.Context, jobID string) error
}

func (p *fakeProcessor) JobType() domain.JobType { return p.jobType }

func (p *fakeProcessor) Process(ctx context.Context, jobID string) error {
	return p.fn(ctx, jobID)
}

type harness struct {
	queue    *queue.Queue
	ack      *fakeAcknowledger
	consumer *fakeConsumer
	tag      uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := testsupport.NewStorage(t)
	return &harness{
		queue:    queue.New(store, &testsupport.Publisher{}, testsupport.Logger()),
		ack:      newAcknowledger(),
		consumer: &fakeConsumer{deliveries: make(chan amqp.Delivery, 16)},
	}
}

func (h *harness) deliver(body []byte) uint64 {
	h.tag++
	h.consumer.deliveries <- amqp.Delivery{
		Acknowledger: h.ack,
		DeliveryTag:  h.tag,
		Body:         body,
	}
	return h.tag
}

func (h *harness) deliverJob(t *testing.T, job *domain.Job) uint64 {
	t.Helper()
	body, err := json.Marshal(domain.JobMessage{JobID: job.ID, JobType: job.Type})
	require.NoError(t, err)
	return h.deliver(body)
}

func (h *harness) enqueue(t *testing.T) *domain.Job {
	t.Helper()
	job, _, err := h.queue.Enqueue(context.Background(), domain.TranscriptionPayload{RecordingID: "rec-" + time.Now().Format("150405.000000000")})
	require.NoError(t, err)
	return job
}

// run starts the worker, closes the deliveries once sent and waits for it to drain
func (h *harness) run(t *testing.T, processors ...pipeline.Processor) {
	t.Helper()
	w, err := NewWorker(&Config{
		Logger:            testsupport.Logger(),
		Consumer:          h.consumer,
		Queue:             h.queue,
		Processors:        processors,
		WorkerID:          "worker-test",
		Concurrency:       2,
		JobTimeout:        time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
		RequeueDelay:      5 * time.Millisecond,
	})
	require.NoError(t, err)

	close(h.consumer.deliveries)
	err = w.Start(context.Background())
	assert.ErrorIs(t, err, errDeliveriesClosed)
	w.Stop()
}

func completing(q *queue.Queue) *fakeProcessor {
	return &fakeProcessor{
		jobType: domain.JobTypeTranscription,
		fn: func(ctx context.Context, jobID string) error {
			if _, err := q.Claim(ctx, jobID, "worker-test"); err != nil {
				return err
			}
			return q.Complete(ctx, jobID, map[string]int{"segments_created": 0})
		},
	}
}

func TestWorker_AcksCompletedJob(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t)
	tag := h.deliverJob(t, job)

	h.run(t, completing(h.queue))

	s, ok := h.ack.get(tag)
	require.True(t, ok)
	assert.True(t, s.acked)
	assert.Equal(t, 2, h.consumer.prefetch)
	assert.Equal(t, "worker-test", h.consumer.tag)

	got, err := h.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

func TestWorker_Settlement(t *testing.T) {
	tests := []struct {
		name        string
		processErr  func(h *harness, jobID string) error
		wantAck     bool
		wantRequeue bool
	}{
		{
			name:       "conflict is acked",
			processErr: func(*harness, string) error { return domain.ErrConflict },
			wantAck:    true,
		},
		{
			name: "failed job is acked",
			processErr: func(h *harness, jobID string) error {
				cause := errors.New("audio unreachable")
				require.NoError(t, h.queue.Fail(context.Background(), jobID, cause))
				return cause
			},
			wantAck: true,
		},
		{
			name: "transient error on queued job is requeued",
			processErr: func(*harness, string) error {
				return domain.NewRetryableError(errors.New("database is locked"))
			},
			wantRequeue: true,
		},
		{
			name: "transient error after the job was failed is acked",
			processErr: func(h *harness, jobID string) error {
				cause := domain.NewRetryableError(domain.ErrExternalService)
				require.NoError(t, h.queue.Fail(context.Background(), jobID, cause))
				return cause
			},
			wantAck: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			job := h.enqueue(t)
			tag := h.deliverJob(t, job)

			h.run(t, &fakeProcessor{
				jobType: domain.JobTypeTranscription,
				fn: func(_ context.Context, jobID string) error {
					return tt.processErr(h, jobID)
				},
			})

			s, ok := h.ack.get(tag)
			require.True(t, ok)
			assert.Equal(t, tt.wantAck, s.acked)
			assert.Equal(t, tt.wantRequeue, s.requeue)
		})
	}
}

func TestWorker_RejectsMalformedMessages(t *testing.T) {
	h := newHarness(t)
	badJSON := h.deliver([]byte("{not json"))
	badID := h.deliver([]byte(`{"job_id":"not-a-uuid","job_type":"transcription"}`))

	called := false
	h.run(t, &fakeProcessor{
		jobType: domain.JobTypeTranscription,
		fn: func(context.Context, string) error {
			called = true
			return nil
		},
	})

	for _, tag := range []uint64{badJSON, badID} {
		s, ok := h.ack.get(tag)
		require.True(t, ok)
		assert.False(t, s.acked)
		assert.False(t, s.requeue)
	}
	assert.False(t, called)
}

func TestWorker_UnknownJobTypeIsAcked(t *testing.T) {
	h := newHarness(t)
	job, _, err := h.queue.Enqueue(context.Background(), domain.DubbingPayload{RecordingID: "r", SegmentID: "s", Language: "fr"})
	require.NoError(t, err)
	tag := h.deliverJob(t, job)

	h.run(t, completing(h.queue))

	s, ok := h.ack.get(tag)
	require.True(t, ok)
	assert.True(t, s.acked)

	got, err := h.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
}

func TestWorker_ResolvesTypeFromJobRow(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t)
	body, err := json.Marshal(map[string]string{"job_id": job.ID})
	require.NoError(t, err)
	tag := h.deliver(body)

	h.run(t, completing(h.queue))

	s, ok := h.ack.get(tag)
	require.True(t, ok)
	assert.True(t, s.acked)
}

func TestWorker_HeartbeatAndDeadline(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t)
	tag := h.deliverJob(t, job)

	var claimedBeat time.Time
	var hadDeadline bool
	h.run(t, &fakeProcessor{
		jobType: domain.JobTypeTranscription,
		fn: func(ctx context.Context, jobID string) error {
			_, hadDeadline = ctx.Deadline()
			claimed, err := h.queue.Claim(ctx, jobID, "worker-test")
			if err != nil {
				return err
			}
			claimedBeat = *claimed.LastHeartbeatAt
			time.Sleep(80 * time.Millisecond)
			return h.queue.Complete(ctx, jobID, "{}")
		},
	})

	s, ok := h.ack.get(tag)
	require.True(t, ok)
	assert.True(t, s.acked)
	assert.True(t, hadDeadline)

	got, err := h.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeatAt)
	assert.True(t, got.LastHeartbeatAt.After(claimedBeat), "heartbeat should advance past the claim")
}

func TestNewWorker_Validation(t *testing.T) {
	h := newHarness(t)
	p := completing(h.queue)

	_, err := NewWorker(&Config{Logger: testsupport.Logger(), Queue: h.queue, Processors: []pipeline.Processor{p}})
	assert.Error(t, err, "consumer required")

	_, err = NewWorker(&Config{Logger: testsupport.Logger(), Consumer: h.consumer, Queue: h.queue})
	assert.Error(t, err, "processors required")

	_, err = NewWorker(&Config{Logger: testsupport.Logger(), Consumer: h.consumer, Queue: h.queue, Processors: []pipeline.Processor{p, p}})
	assert.Error(t, err, "duplicate processor")
}

func TestParseJobMessage(t *testing.T) {
	msg, err := parseJobMessage([]byte(`{"job_id":"6f1c1f4e-8f7a-4f8e-9d6a-2b3c4d5e6f70","job_type":"dubbing"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeDubbing, msg.JobType)

	_, err = parseJobMessage([]byte(`{"job_id":""}`))
	assert.Error(t, err)
}

func TestSettle_RequeueWaitsWhenStoreIsDown(t *testing.T) {
	store := testsupport.ClosedStorage(t)
	ack := newAcknowledger()
	delay := 50 * time.Millisecond

	w, err := NewWorker(&Config{
		Logger:       testsupport.Logger(),
		Consumer:     &fakeConsumer{},
		Queue:        queue.New(store, &testsupport.Publisher{}, testsupport.Logger()),
		Processors:   []pipeline.Processor{completing(nil)},
		RequeueDelay: delay,
	})
	require.NoError(t, err)

	jd := &jobDelivery{
		delivery: amqp.Delivery{Acknowledger: ack, DeliveryTag: 1},
		msg:      domain.JobMessage{JobID: "job-1", JobType: domain.JobTypeTranscription},
	}

	start := time.Now()
	w.settle(context.Background(), "worker-test-0", jd, domain.NewRetryableError(errors.New("database is locked")))

	assert.GreaterOrEqual(t, time.Since(start), delay)
	s, ok := ack.get(1)
	require.True(t, ok)
	assert.True(t, s.requeue)
}

func TestSettle_ShutdownCutsRequeueDelayShort(t *testing.T) {
	h := newHarness(t)
	job := h.enqueue(t)

	w, err := NewWorker(&Config{
		Logger:       testsupport.Logger(),
		Consumer:     h.consumer,
		Queue:        h.queue,
		Processors:   []pipeline.Processor{completing(h.queue)},
		RequeueDelay: time.Hour,
	})
	require.NoError(t, err)

	jd := &jobDelivery{
		delivery: amqp.Delivery{Acknowledger: h.ack, DeliveryTag: 7},
		msg:      domain.JobMessage{JobID: job.ID, JobType: job.Type},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.settle(ctx, "worker-test-0", jd, domain.NewRetryableError(errors.New("database is locked")))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("settle did not return after shutdown")
	}
	s, ok := h.ack.get(7)
	require.True(t, ok)
	assert.True(t, s.requeue)
}
