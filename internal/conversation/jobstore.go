package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Job records expire a day after they are created (DynamoDB TTL on expiresAt).
const jobTTL = 24 * time.Hour

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var (
	ErrJobNotFound = errors.New("conversation: job not found")
	ErrJobExists   = errors.New("conversation: job already exists")
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobRecord is the status row kept for a tracked extraction job, readable
// through the admin API.
type JobRecord struct {
	JobID          string    `dynamodbav:"jobId" json:"jobId"`
	Status         JobStatus `dynamodbav:"status" json:"status"`
	RequestType    jobType   `dynamodbav:"requestType" json:"requestType"`
	CompanyID      string    `dynamodbav:"companyId,omitempty" json:"companyId,omitempty"`
	LeadID         string    `dynamodbav:"leadId" json:"leadId"`
	ConversationID string    `dynamodbav:"conversationId,omitempty" json:"conversationId,omitempty"`
	Applied        []string  `dynamodbav:"applied,omitempty" json:"applied,omitempty"`
	Attempts       int       `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"`
	ErrorMessage   string    `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt      string    `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt      string    `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt      int64     `dynamodbav:"expiresAt,omitempty" json:"-"`
}

func newJobRecord(payload queuePayload) *JobRecord {
	return &JobRecord{
		JobID:          payload.ID,
		RequestType:    payload.Kind,
		CompanyID:      payload.Extraction.CompanyID,
		LeadID:         payload.Extraction.LeadID,
		ConversationID: payload.Extraction.ConversationID,
	}
}

// JobRecorder registers jobs before they are enqueued.
type JobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

// JobUpdater records how a job finished.
type JobUpdater interface {
	MarkCompleted(ctx context.Context, jobID string, report leads.MergeReport) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

// JobStore keeps job records in a DynamoDB table keyed by jobId.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var (
	_ JobRecorder = (*JobStore)(nil)
	_ JobUpdater  = (*JobStore)(nil)
)

func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: jobs table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStore{client: client, tableName: tableName, logger: logger}
}

// PutPending writes job as pending. A second write for the same id fails
// with ErrJobExists.
func (s *JobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("conversation: marshal job: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if isConditionFailed(err) {
		return ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("conversation: put job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, report leads.MergeReport) error {
	applied := report.Applied()
	if applied == nil {
		applied = []string{}
	}
	return s.finish(ctx, jobID, JobStatusCompleted, []jobAttr{
		{alias: "applied", name: "applied", value: applied},
		{alias: "error", name: "errorMessage", value: ""},
	}, false)
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	return s.finish(ctx, jobID, JobStatusFailed, []jobAttr{
		{alias: "error", name: "errorMessage", value: errMsg},
	}, true)
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("conversation: job id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: get job %s: %w", jobID, err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("conversation: decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// jobAttr is one SET clause: #alias = :alias, where #alias names attribute name.
type jobAttr struct {
	alias string
	name  string
	value any
}

// finish sets the terminal status plus attrs on an existing job. countAttempt
// bumps the attempts counter.
func (s *JobStore) finish(ctx context.Context, jobID string, status JobStatus, attrs []jobAttr, countAttempt bool) error {
	if jobID == "" {
		return errors.New("conversation: job id required")
	}
	attrs = append(attrs,
		jobAttr{alias: "status", name: "status", value: string(status)},
		jobAttr{alias: "updated", name: "updatedAt", value: time.Now().UTC().Format(time.RFC3339Nano)},
	)

	names := make(map[string]string, len(attrs)+1)
	values := make(map[string]types.AttributeValue, len(attrs)+1)
	clauses := make([]string, 0, len(attrs))
	for _, a := range attrs {
		av, err := attributevalue.Marshal(a.value)
		if err != nil {
			return fmt.Errorf("conversation: marshal %s: %w", a.name, err)
		}
		names["#"+a.alias] = a.name
		values[":"+a.alias] = av
		clauses = append(clauses, fmt.Sprintf("#%s = :%s", a.alias, a.alias))
	}
	expr := "SET " + strings.Join(clauses, ", ")
	if countAttempt {
		names["#attempts"] = "attempts"
		values[":one"] = &types.AttributeValueMemberN{Value: "1"}
		expr += " ADD #attempts :one"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       jobKey(jobID),
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(jobId)"),
	})
	if isConditionFailed(err) {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("conversation: update job %s: %w", jobID, err)
	}
	s.logger.Debug("job finished", "job_id", jobID, "status", status)
	return nil
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"jobId": &types.AttributeValueMemberS{Value: jobID},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
