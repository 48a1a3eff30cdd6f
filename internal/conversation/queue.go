package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, msg outgoingMessage) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// outgoingMessage is a job on its way to the queue. GroupKey serializes jobs
// for one lead on FIFO queues; DedupKey collapses resends of the same job.
type outgoingMessage struct {
	Body     string
	GroupKey string
	DedupKey string
}

// queueMessage is a received job. ReceiveCount is zero for backends that
// never redeliver.
type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

type jobType string

const jobTypeExtract jobType = "lead.extract.v1"

// ExtractionJob asks for a lead's fields to be re-extracted from its transcript.
type ExtractionJob struct {
	LeadID         string `json:"lead_id"`
	CompanyID      string `json:"company_id"`
	ConversationID string `json:"conversation_id"`
}

// ExtractionScheduler hands extraction work to a background backend.
type ExtractionScheduler interface {
	ScheduleExtraction(ctx context.Context, job ExtractionJob) error
}

type queuePayload struct {
	ID          string        `json:"id"`
	Kind        jobType       `json:"kind"`
	Extraction  ExtractionJob `json:"extraction"`
	TrackStatus bool          `json:"track_status"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
