package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/helixir/article-pipeline-service/internal/domain"
	"github.com/helixir/article-pipeline-service/internal/observability"
)

// Signal and query names understood by ArticleGenerationWorkflow. They live
// here so the server can signal workflows without importing the workflows
// package.
const (
	// SignalCancel asks the workflow to cancel its article and stop.
	SignalCancel = "cancel"

	// QueryProgress returns the workflow's WorkflowProgress.
	QueryProgress = "progress"
)

const (
	// DefaultWorkflowExecutionTimeout bounds one generation run.
	DefaultWorkflowExecutionTimeout = 6 * time.Hour

	// DefaultHealthCheckTimeout is the timeout for Temporal server health checks.
	DefaultHealthCheckTimeout = 5 * time.Second
)

var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a workflow with the same ID is already running.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrQueryFailed indicates the workflow query failed.
	ErrQueryFailed = errors.New("query failed")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates a connection failure to the Temporal server.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeadlineExceeded indicates the operation deadline was exceeded.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal error with the operation and workflow it concerns.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	Err        error
}

// Error returns the error message.
func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s]", e.WorkflowID)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError converts a Temporal SDK error to a TemporalError.
func wrapTemporalError(op string, err error, workflowID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{Op: op, WorkflowID: workflowID, Err: err}

	var notFoundErr *serviceerror.NotFound
	var alreadyStartedErr *serviceerror.WorkflowExecutionAlreadyStarted
	var invalidArgumentErr *serviceerror.InvalidArgument
	var deadlineExceededErr *serviceerror.DeadlineExceeded
	var queryFailedErr *serviceerror.QueryFailed

	switch {
	case errors.As(err, &notFoundErr):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStartedErr):
		te.Kind = ErrWorkflowAlreadyStarted
	case errors.As(err, &invalidArgumentErr):
		te.Kind = ErrInvalidArgument
	case errors.As(err, &deadlineExceededErr), errors.Is(err, context.DeadlineExceeded):
		te.Kind = ErrDeadlineExceeded
	case errors.As(err, &queryFailedErr):
		te.Kind = ErrQueryFailed
	case errors.Is(err, context.Canceled):
		te.Kind = ErrClientClosed
	default:
		te.Kind = ErrConnectionFailed
	}
	return te
}

// IsWorkflowNotFound checks if the error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowAlreadyStarted checks if the error indicates a workflow already started.
func IsWorkflowAlreadyStarted(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyStarted)
}

// ClientConfig contains configuration for the Temporal client.
type ClientConfig struct {
	// HostPort is the Temporal server address (e.g., "localhost:7233").
	HostPort string

	// Namespace is the Temporal namespace to use.
	Namespace string

	// TaskQueue is the task queue article workflows run on.
	TaskQueue string

	// StageTimeout is the service-wide per-stage timeout. Workflows size the
	// advance activity from it until the pipeline reports a budget.
	StageTimeout time.Duration
}

// NewClient dials Temporal, logging SDK output through logger.
func NewClient(cfg ClientConfig, logger zerolog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// ArticleGenerationInput starts an ArticleGenerationWorkflow. It is defined
// here so callers can build it without importing the workflows package.
type ArticleGenerationInput struct {
	ArticleID uuid.UUID
	// StageTimeout is the service-wide per-stage timeout, used to size the
	// first advance when the start activity reports no budget.
	StageTimeout time.Duration
}

// WorkflowProgress is returned by the progress query.
type WorkflowProgress struct {
	ArticleID      uuid.UUID            `json:"article_id"`
	Status         domain.ArticleStatus `json:"status"`
	Stage          domain.Stage         `json:"stage"`
	Progress       float64              `json:"progress"`
	StagesExecuted int                  `json:"stages_executed"`
	GateCycles     int                  `json:"gate_cycles"`
	Shortfalls     int                  `json:"shortfalls"`
	CancelRequest  bool                 `json:"cancel_requested"`
	LastError      string               `json:"last_error,omitempty"`
}

// CancelSignal is the payload of SignalCancel.
type CancelSignal struct {
	Reason string `json:"reason"`
}

// ArticleReader loads the article fields that name a workflow run.
type ArticleReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationArticle, error)
}

// WorkflowID names the run generating cycle/retry of an article. Every
// regeneration or retry starts a distinct run.
func WorkflowID(articleID uuid.UUID, cycle, retry int) string {
	return fmt.Sprintf("article-%s-c%d-r%d", articleID, cycle, retry)
}

// ArticleWorkflowClient starts and controls article generation workflows.
type ArticleWorkflowClient struct {
	mu                 sync.RWMutex
	client             client.Client
	articles           ArticleReader
	taskQueue          string
	stageTimeout       time.Duration
	healthCheckTimeout time.Duration
	workflowFunc       interface{}
	closed             bool
}

// NewArticleWorkflowClient creates a client. workflowFunc is the workflow
// function or its registered name.
func NewArticleWorkflowClient(c client.Client, cfg ClientConfig, articles ArticleReader, workflowFunc interface{}) *ArticleWorkflowClient {
	return &ArticleWorkflowClient{
		client:             c,
		articles:           articles,
		taskQueue:          cfg.TaskQueue,
		stageTimeout:       cfg.StageTimeout,
		healthCheckTimeout: DefaultHealthCheckTimeout,
		workflowFunc:       workflowFunc,
	}
}

// Close closes the underlying Temporal client connection.
func (c *ArticleWorkflowClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && !c.closed {
		c.client.Close()
		c.closed = true
	}
}

func (c *ArticleWorkflowClient) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Health checks the connection health to the Temporal server.
func (c *ArticleWorkflowClient) Health(ctx context.Context) error {
	if c.isClosed() {
		return &TemporalError{Op: "Health", Kind: ErrClientClosed}
	}

	checkCtx, cancel := context.WithTimeout(ctx, c.healthCheckTimeout)
	defer cancel()

	if _, err := c.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "")
	}
	return nil
}

// StartArticle starts the workflow for the article's current cycle and
// retry count. A run already in progress for that cycle yields
// ErrWorkflowAlreadyStarted.
func (c *ArticleWorkflowClient) StartArticle(ctx context.Context, id uuid.UUID) error {
	a, err := c.articles.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = c.StartArticleWorkflow(ctx, WorkflowID(a.ID, a.GenerationCycle, a.RetryCount), id)
	return err
}

// StartArticleWorkflow starts a generation workflow with the given ID and
// returns its run ID.
func (c *ArticleWorkflowClient) StartArticleWorkflow(ctx context.Context, workflowID string, articleID uuid.UUID) (string, error) {
	if c.isClosed() {
		return "", &TemporalError{Op: "StartArticleWorkflow", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	options := client.StartWorkflowOptions{
		ID:                       workflowID,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: DefaultWorkflowExecutionTimeout,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_FAIL,
	}

	run, err := c.client.ExecuteWorkflow(ctx, options, c.workflowFunc, ArticleGenerationInput{
		ArticleID:    articleID,
		StageTimeout: c.stageTimeout,
	})
	if err != nil {
		return "", wrapTemporalError("StartArticleWorkflow", err, workflowID)
	}
	return run.GetRunID(), nil
}

// CancelWorkflow signals the workflow to cancel its article. The article
// itself is cancelled by the workflow's CancelArticle activity.
func (c *ArticleWorkflowClient) CancelWorkflow(ctx context.Context, workflowID, reason string) error {
	if c.isClosed() {
		return &TemporalError{Op: "CancelWorkflow", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	if err := c.client.SignalWorkflow(ctx, workflowID, "", SignalCancel, CancelSignal{Reason: reason}); err != nil {
		return wrapTemporalError("CancelWorkflow", err, workflowID)
	}
	return nil
}

// QueryProgress returns the running workflow's progress.
func (c *ArticleWorkflowClient) QueryProgress(ctx context.Context, workflowID string) (*WorkflowProgress, error) {
	if c.isClosed() {
		return nil, &TemporalError{Op: "QueryProgress", Kind: ErrClientClosed, WorkflowID: workflowID}
	}

	resp, err := c.client.QueryWorkflow(ctx, workflowID, "", QueryProgress)
	if err != nil {
		return nil, wrapTemporalError("QueryProgress", err, workflowID)
	}

	var progress WorkflowProgress
	if err := resp.Get(&progress); err != nil {
		return nil, &TemporalError{
			Op:         "QueryProgress",
			Kind:       ErrQueryFailed,
			WorkflowID: workflowID,
			Err:        fmt.Errorf("decode query result: %w", err),
		}
	}
	return &progress, nil
}

// TaskQueue returns the configured task queue name.
func (c *ArticleWorkflowClient) TaskQueue() string {
	return c.taskQueue
}
