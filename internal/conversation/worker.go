package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// ExtractionRunner performs one extraction.
type ExtractionRunner interface {
	Extract(ctx context.Context, leadID string) (leads.MergeReport, error)
}

// ExtractionObserver counts extraction outcomes.
type ExtractionObserver interface {
	ObserveExtraction(result string)
}

// Worker consumes extraction jobs from the queue and runs the extractor.
type Worker struct {
	runner ExtractionRunner
	queue  queueClient
	jobs   JobUpdater
	logger *logging.Logger
	events *EventLogger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	observer         ExtractionObserver
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	defaultMaxAttempts   = 3
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMaxAttempts sets how many deliveries a failing job gets on queues that
// redeliver unacknowledged messages.
func WithMaxAttempts(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithExtractionObserver wires outcome counting, usually Prometheus.
func WithExtractionObserver(observer ExtractionObserver) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.observer = observer
	}
}

// NewWorker builds a worker. jobs may be nil when job tracking is off.
func NewWorker(runner ExtractionRunner, queue queueClient, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if runner == nil {
		panic("conversation: extraction runner cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		runner: runner,
		queue:  queue,
		jobs:   jobs,
		logger: logger,
		events: NewEventLogger(logger),
		cfg:    cfg,
	}
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all consumers stop.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("extraction worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("extraction worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive extraction jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode extraction job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}
	if payload.Kind != jobTypeExtract {
		w.logger.Warn("unknown job kind", "job_id", payload.ID, "kind", payload.Kind)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	job := payload.Extraction
	report, err := w.runner.Extract(ctx, job.LeadID)
	if w.shouldRetry(msg, err) {
		// Leave the message unacknowledged; it reappears after the
		// visibility timeout.
		if w.cfg.observer != nil {
			w.cfg.observer.ObserveExtraction("retry")
		}
		w.logger.Warn("extraction failed, will retry", "error", err, "job_id", payload.ID,
			"lead_id", job.LeadID, "attempt", msg.ReceiveCount)
		return
	}
	result := extractionResult(report, err)
	if w.cfg.observer != nil {
		w.cfg.observer.ObserveExtraction(result)
	}
	w.events.ExtractionFinished(ctx, job, result, report, err)

	if payload.TrackStatus && w.jobs != nil {
		var storeErr error
		if err != nil {
			storeErr = w.jobs.MarkFailed(ctx, payload.ID, err.Error())
		} else {
			storeErr = w.jobs.MarkCompleted(ctx, payload.ID, report)
		}
		if storeErr != nil {
			w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
		}
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

// shouldRetry reports whether a failed job should be left for redelivery.
// Unparseable model output is not retried since the transcript has not changed.
func (w *Worker) shouldRetry(msg queueMessage, err error) bool {
	if err == nil || errors.Is(err, ErrExtractionUnparseable) {
		return false
	}
	return msg.ReceiveCount > 0 && msg.ReceiveCount < w.cfg.maxAttempts
}

func extractionResult(report leads.MergeReport, err error) string {
	switch {
	case errors.Is(err, ErrExtractionUnparseable):
		return "unparseable"
	case err != nil:
		return "failed"
	case report.Changed():
		return "applied"
	default:
		return "unchanged"
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete extraction job", "error", err)
	}
}
