package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// ErrJobNotFound is returned when no workflow exists for a job ID.
var ErrJobNotFound = errors.New("index job not found")

// Job status values reported by GetIndexJob.
const (
	JobStatusRunning    = "running"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCanceled   = "canceled"
	JobStatusTerminated = "terminated"
	JobStatusTimedOut   = "timed_out"
	JobStatusUnknown    = "unknown"
)

// JobClient starts and inspects indexing jobs.
type JobClient interface {
	StartIndexJob(ctx context.Context, input IndexJobInput) (string, error)
	GetIndexJob(ctx context.Context, workflowID string) (*IndexJobStatus, error)
}

// IndexJobStatus reports the state of an indexing job.
type IndexJobStatus struct {
	WorkflowID string          `json:"workflow_id"`
	Status     string          `json:"status"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	Result     *IndexJobResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Client talks to Temporal on behalf of the server and CLI.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient dials Temporal.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")
	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}
}

// JobID derives the workflow ID for a job. Identical requests map to the same
// ID, so a duplicate start attaches to the running job.
func JobID(input IndexJobInput) string {
	return fmt.Sprintf("index-transfers-%s-%s-%d-%d",
		input.WalletAddress,
		input.TokenMint,
		input.Start.Unix(),
		input.End.Unix(),
	)
}

// StartIndexJob starts IndexTransfersWorkflow and returns its workflow ID.
func (c *Client) StartIndexJob(ctx context.Context, input IndexJobInput) (string, error) {
	id := JobID(input)

	c.logger.DebugContext(ctx, "starting index job",
		"workflow_id", id,
		"wallet", input.WalletAddress,
		"mint", input.TokenMint,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		Memo: map[string]interface{}{
			"wallet_address": input.WalletAddress,
			"token_mint":     input.TokenMint,
			"created_by":     "splindex",
		},
	}, IndexTransfersWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start index job",
			"workflow_id", id,
			"error", err,
		)
		return "", fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "index job started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run.GetID(), nil
}

// GetIndexJob describes a job and, once it has completed, loads its result.
func (c *Client) GetIndexJob(ctx context.Context, workflowID string) (*IndexJobStatus, error) {
	desc, err := c.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to describe workflow %q: %w", workflowID, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	status := &IndexJobStatus{
		WorkflowID: workflowID,
		Status:     jobStatus(info.GetStatus()),
	}
	if t := info.GetStartTime(); t != nil {
		started := t.AsTime().UTC()
		status.StartedAt = &started
	}
	if t := info.GetCloseTime(); t != nil {
		closed := t.AsTime().UTC()
		status.ClosedAt = &closed
	}

	switch status.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut:
		var result IndexJobResult
		if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
			status.Error = err.Error()
		} else {
			status.Result = &result
		}
	}

	return status, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func jobStatus(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return JobStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return JobStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return JobStatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return JobStatusCanceled
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return JobStatusTerminated
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return JobStatusTimedOut
	default:
		return JobStatusUnknown
	}
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
