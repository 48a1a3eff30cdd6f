package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// TaskExtractLead is the asynq task type for lead extraction.
const TaskExtractLead = "lead.extract"

const defaultAsynqQueue = "extraction"

// newExtractionTask wraps a job payload as an asynq task.
func newExtractionTask(payload queuePayload) (*asynq.Task, error) {
	payload, body, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExtractLead, []byte(body), asynq.TaskID(payload.ID)), nil
}

// parseExtractionTask decodes the job payload from a task.
func parseExtractionTask(task *asynq.Task) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return queuePayload{}, err
	}
	if payload.Extraction.LeadID == "" {
		return queuePayload{}, errors.New("conversation: extraction task missing lead id")
	}
	return payload, nil
}

// AsynqScheduler enqueues extraction jobs on a Redis-backed asynq queue.
type AsynqScheduler struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	jobs     JobRecorder
	logger   *logging.Logger
}

var _ ExtractionScheduler = (*AsynqScheduler)(nil)

func NewAsynqScheduler(opt asynq.RedisConnOpt, queue string, jobs JobRecorder, logger *logging.Logger) *AsynqScheduler {
	if opt == nil {
		panic("conversation: asynq redis options cannot be nil")
	}
	if queue == "" {
		queue = defaultAsynqQueue
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AsynqScheduler{
		client:   asynq.NewClient(opt),
		queue:    queue,
		maxRetry: 3,
		jobs:     jobs,
		logger:   logger,
	}
}

func (s *AsynqScheduler) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *AsynqScheduler) ScheduleExtraction(ctx context.Context, job ExtractionJob) error {
	if job.LeadID == "" {
		return errors.New("conversation: extraction job requires a lead id")
	}
	payload, _, err := encodePayload(queuePayload{
		Kind:        jobTypeExtract,
		Extraction:  job,
		TrackStatus: s.jobs != nil,
	})
	if err != nil {
		return err
	}
	task, err := newExtractionTask(payload)
	if err != nil {
		return err
	}
	if payload.TrackStatus {
		if err := s.jobs.PutPending(ctx, newJobRecord(payload)); err != nil {
			return fmt.Errorf("conversation: failed to record job: %w", err)
		}
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue), asynq.MaxRetry(s.maxRetry)); err != nil {
		return fmt.Errorf("conversation: enqueue extraction task: %w", err)
	}
	s.logger.Debug("extraction task enqueued", "job_id", payload.ID, "lead_id", job.LeadID, "queue", s.queue)
	return nil
}

// AsynqWorker runs extraction tasks from an asynq queue.
type AsynqWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	runner   ExtractionRunner
	jobs     JobUpdater
	observer ExtractionObserver
	events   *EventLogger
	logger   *logging.Logger
}

func NewAsynqWorker(opt asynq.RedisConnOpt, queue string, concurrency int, runner ExtractionRunner, jobs JobUpdater, observer ExtractionObserver, logger *logging.Logger) *AsynqWorker {
	if runner == nil {
		panic("conversation: extraction runner cannot be nil")
	}
	if queue == "" {
		queue = defaultAsynqQueue
	}
	if concurrency < 1 {
		concurrency = defaultWorkerCount
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &AsynqWorker{
		mux:      asynq.NewServeMux(),
		runner:   runner,
		jobs:     jobs,
		observer: observer,
		events:   NewEventLogger(logger),
		logger:   logger,
	}
	if opt != nil {
		w.server = asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
		})
	}
	w.mux.HandleFunc(TaskExtractLead, w.handleExtraction)
	return w
}

// Run serves tasks until ctx is done.
func (w *AsynqWorker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.logger.Error("extraction worker stopped", "error", err)
	}
}

func (w *AsynqWorker) handleExtraction(ctx context.Context, task *asynq.Task) error {
	payload, err := parseExtractionTask(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	report, err := w.runner.Extract(ctx, payload.Extraction.LeadID)
	result := extractionResult(report, err)
	if w.observer != nil {
		w.observer.ObserveExtraction(result)
	}
	w.events.ExtractionFinished(ctx, payload.Extraction, result, report, err)

	final := err == nil || errors.Is(err, ErrExtractionUnparseable) || lastAttempt(ctx)
	if payload.TrackStatus && w.jobs != nil && final {
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

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrExtractionUnparseable):
		// the same transcript would produce the same output
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	max, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= max
}
