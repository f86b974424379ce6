package temporal

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Worker defaults. Stage activities spend most of their time waiting on
// providers, so activity slots are the main throughput knob.
const (
	defaultMaxConcurrentActivities    = 20
	defaultMaxConcurrentWorkflowTasks = 50
	defaultActivityPollers            = 4
	defaultWorkflowPollers            = 2
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// TaskQueue is the name of the task queue to poll.
	TaskQueue string

	// MaxConcurrentActivities caps stage activities executing on this worker.
	MaxConcurrentActivities int

	// MaxConcurrentWorkflowTasks caps concurrent workflow task executions.
	MaxConcurrentWorkflowTasks int

	ActivityPollers int
	WorkflowPollers int
}

// DefaultWorkerConfig returns a WorkerConfig with default values.
func DefaultWorkerConfig(taskQueue string) WorkerConfig {
	return WorkerConfig{
		TaskQueue:                  taskQueue,
		MaxConcurrentActivities:    defaultMaxConcurrentActivities,
		MaxConcurrentWorkflowTasks: defaultMaxConcurrentWorkflowTasks,
		ActivityPollers:            defaultActivityPollers,
		WorkflowPollers:            defaultWorkflowPollers,
	}
}

// workerOptionsFromConfig builds worker.Options, defaulting zero fields.
func workerOptionsFromConfig(cfg WorkerConfig) worker.Options {
	d := DefaultWorkerConfig(cfg.TaskQueue)
	pick := func(v, def int) int {
		if v <= 0 {
			return def
		}
		return v
	}
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     pick(cfg.MaxConcurrentActivities, d.MaxConcurrentActivities),
		MaxConcurrentWorkflowTaskExecutionSize: pick(cfg.MaxConcurrentWorkflowTasks, d.MaxConcurrentWorkflowTasks),
		MaxConcurrentActivityTaskPollers:       pick(cfg.ActivityPollers, d.ActivityPollers),
		MaxConcurrentWorkflowTaskPollers:       pick(cfg.WorkflowPollers, d.WorkflowPollers),
	}
}

// WorkerManager owns the worker executing article workflows and activities.
type WorkerManager struct {
	worker    worker.Worker
	taskQueue string
}

// NewWorkerManager creates a worker polling cfg.TaskQueue.
func NewWorkerManager(c client.Client, cfg WorkerConfig) (*WorkerManager, error) {
	if cfg.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	return &WorkerManager{
		worker:    worker.New(c, cfg.TaskQueue, workerOptionsFromConfig(cfg)),
		taskQueue: cfg.TaskQueue,
	}, nil
}

// RegisterWorkflow registers a workflow function.
func (m *WorkerManager) RegisterWorkflow(workflow interface{}) {
	m.worker.RegisterWorkflow(workflow)
}

// RegisterActivity registers an activity function or a struct whose
// exported methods are activities.
func (m *WorkerManager) RegisterActivity(activity interface{}) {
	m.worker.RegisterActivity(activity)
}

// TaskQueue returns the configured task queue name.
func (m *WorkerManager) TaskQueue() string {
	return m.taskQueue
}

// Run starts the worker and blocks until ctx is done.
func (m *WorkerManager) Run(ctx context.Context) error {
	return runWorker(ctx, m.worker)
}

type startStopper interface {
	Start() error
	Stop()
}

func runWorker(ctx context.Context, w startStopper) error {
	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
