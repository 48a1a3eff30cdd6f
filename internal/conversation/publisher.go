package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Publisher enqueues extraction jobs for asynchronous processing.
type Publisher struct {
	queue  queueClient
	jobs   JobRecorder
	logger *logging.Logger
}

var _ ExtractionScheduler = (*Publisher)(nil)

// NewPublisher creates a queue-backed publisher. jobs may be nil, in which
// case job status is not tracked.
func NewPublisher(queue queueClient, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		jobs:   jobs,
		logger: logger,
	}
}

// ScheduleExtraction publishes an extraction job for a lead.
func (p *Publisher) ScheduleExtraction(ctx context.Context, job ExtractionJob) error {
	if job.LeadID == "" {
		return errors.New("conversation: extraction job requires a lead id")
	}
	payload := queuePayload{
		Kind:        jobTypeExtract,
		Extraction:  job,
		TrackStatus: p.jobs != nil,
	}
	return p.enqueue(ctx, payload)
}

func (p *Publisher) enqueue(ctx context.Context, payload queuePayload) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if payload.TrackStatus && p.jobs != nil {
		if err := p.jobs.PutPending(ctx, newJobRecord(payload)); err != nil {
			return fmt.Errorf("conversation: failed to record job: %w", err)
		}
	}

	msg := outgoingMessage{
		Body:     body,
		GroupKey: payload.Extraction.LeadID,
		DedupKey: payload.ID,
	}
	if err := p.queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}

	p.logger.Debug("extraction job enqueued", "job_id", payload.ID, "lead_id", payload.Extraction.LeadID)
	return nil
}
