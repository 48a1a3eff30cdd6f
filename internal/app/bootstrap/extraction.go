package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/hibiken/asynq"

	appconfig "github.com/wolfman30/realestate-lead-ai/internal/config"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const (
	BackendMemory = "memory"
	BackendSQS    = "sqs"
	BackendAsynq  = "asynq"

	memoryQueueBuffer  = 256
	sqsLongPollSeconds = 20
)

// JobTracker records extraction jobs from enqueue to completion.
type JobTracker interface {
	conversation.JobRecorder
	conversation.JobUpdater
}

// Extraction is the configured background extraction backend.
type Extraction struct {
	Backend   string
	Scheduler conversation.ExtractionScheduler
	Jobs      JobTracker

	memory   *conversation.MemoryQueue
	sqs      *conversation.SQSQueue
	asynqOpt asynq.RedisConnOpt
	closers  []func() error
}

// BuildExtraction wires the queue named by EXTRACTION_BACKEND. Job records go
// to DynamoDB when JOBS_TABLE is set and to memory otherwise.
func BuildExtraction(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Extraction, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	ex := &Extraction{Backend: cfg.ExtractionBackend}
	if cfg.JobsTable != "" {
		ex.Jobs = conversation.NewJobStore(dynamodb.NewFromConfig(awsCfg, dynamoEndpoint(cfg)), cfg.JobsTable, logger)
	} else {
		ex.Jobs = conversation.NewMemoryJobStore()
	}

	switch cfg.ExtractionBackend {
	case BackendMemory, "":
		ex.Backend = BackendMemory
		ex.memory = conversation.NewMemoryQueue(memoryQueueBuffer)
		ex.Scheduler = conversation.NewPublisher(ex.memory, ex.Jobs, logger)
	case BackendSQS:
		if cfg.ExtractionQueueURL == "" {
			return nil, errors.New("bootstrap: sqs extraction backend needs EXTRACTION_QUEUE_URL")
		}
		ex.sqs = conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg, sqsEndpoint(cfg)), cfg.ExtractionQueueURL)
		ex.Scheduler = conversation.NewPublisher(ex.sqs, ex.Jobs, logger)
	case BackendAsynq:
		if cfg.RedisAddr == "" {
			return nil, errors.New("bootstrap: asynq extraction backend needs REDIS_ADDR")
		}
		opts := RedisOptions(cfg)
		ex.asynqOpt = asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, TLSConfig: opts.TLSConfig}
		scheduler := conversation.NewAsynqScheduler(ex.asynqOpt, cfg.AsynqQueue, ex.Jobs, logger)
		ex.Scheduler = scheduler
		ex.closers = append(ex.closers, scheduler.Close)
	default:
		return nil, fmt.Errorf("bootstrap: unsupported extraction backend %q", cfg.ExtractionBackend)
	}
	logger.Info("extraction backend configured", "backend", ex.Backend)
	return ex, nil
}

// InProcess reports whether jobs must be consumed by the process that
// schedules them.
func (e *Extraction) InProcess() bool {
	return e.memory != nil
}

// StartWorkers consumes jobs with runner until ctx is done. The returned
// function blocks until every worker has stopped.
func (e *Extraction) StartWorkers(ctx context.Context, cfg *appconfig.Config, runner conversation.ExtractionRunner, observer conversation.ExtractionObserver, logger *logging.Logger) func() {
	opts := []conversation.WorkerOption{conversation.WithWorkerCount(cfg.ExtractionWorkers)}
	if observer != nil {
		opts = append(opts, conversation.WithExtractionObserver(observer))
	}
	var worker *conversation.Worker
	switch {
	case e.memory != nil:
		worker = conversation.NewWorker(runner, e.memory, e.Jobs, logger, opts...)
	case e.sqs != nil:
		opts = append(opts,
			conversation.WithReceiveWaitSeconds(sqsLongPollSeconds),
			conversation.WithMaxAttempts(cfg.ExtractionMaxAttempts))
		worker = conversation.NewWorker(runner, e.sqs, e.Jobs, logger, opts...)
	case e.asynqOpt != nil:
		asynqWorker := conversation.NewAsynqWorker(e.asynqOpt, cfg.AsynqQueue, cfg.ExtractionWorkers, runner, e.Jobs, observer, logger)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			asynqWorker.Run(ctx)
		}()
		return wg.Wait
	default:
		return func() {}
	}
	worker.Start(ctx)
	return worker.Wait
}

// Close releases queue clients.
func (e *Extraction) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// sqsEndpoint and dynamoEndpoint point the queue and job table at
// AWS_ENDPOINT_OVERRIDE (LocalStack). Bedrock always uses the real endpoint.
func sqsEndpoint(cfg *appconfig.Config) func(*sqs.Options) {
	return func(o *sqs.Options) {
		if ep := strings.TrimSpace(cfg.AWSEndpointOverride); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	}
}

func dynamoEndpoint(cfg *appconfig.Config) func(*dynamodb.Options) {
	return func(o *dynamodb.Options) {
		if ep := strings.TrimSpace(cfg.AWSEndpointOverride); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	}
}
