package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/autonomy-kernel/kernel/config"
	"goa.design/autonomy-kernel/kernel/ids"
	"goa.design/autonomy-kernel/kernel/orchestrator"
	"goa.design/autonomy-kernel/kernel/telemetry"
	"goa.design/autonomy-kernel/kernel/types"
)

// Options configures the Temporal-backed Engine. Either Client or
// ClientOptions must be provided, mirroring
// runtime/agent/engine/temporal/engine.go's Options shape.
type Options struct {
	Client        client.Client
	ClientOptions *client.Options
	TaskQueue     string
	WorkerOptions worker.Options

	DisableTracing bool
	DisableMetrics bool

	Activities *Activities
	Auth       map[string]config.RoleCallAuthorization
	Logger     telemetry.Logger
}

// Engine implements orchestrator.Engine by starting OrchestrateWorkflow on
// Temporal and blocking for its result, so Execute's synchronous signature
// is preserved for callers while the run itself survives a worker crash.
type Engine struct {
	client      client.Client
	closeClient bool
	taskQueue   string
	worker      worker.Worker
	auth        map[string]RoleAuthorization
	logger      telemetry.Logger

	startOnce sync.Once
}

var _ orchestrator.Engine = (*Engine)(nil)

// New constructs and registers an Engine. It does not start the worker;
// call Start before the first Execute, or rely on Execute's lazy start.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: task queue is required")
	}
	if opts.Activities == nil {
		return nil, fmt.Errorf("temporal engine: activities are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if !opts.DisableTracing {
			tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = append(clientOpts.Interceptors, tracer)
		}
		if !opts.DisableMetrics && clientOpts.MetricsHandler == nil {
			clientOpts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
		}
		var err error
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	w := worker.New(cli, opts.TaskQueue, opts.WorkerOptions)
	w.RegisterWorkflowWithOptions(OrchestrateWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivity(opts.Activities)

	auth := make(map[string]RoleAuthorization, len(opts.Auth))
	for role, a := range opts.Auth {
		auth[role] = RoleAuthorization{MinSourceTrust: a.MinSourceTrust, AllowedSources: a.AllowedSources}
	}

	return &Engine{
		client:      cli,
		closeClient: closeClient,
		taskQueue:   opts.TaskQueue,
		worker:      w,
		auth:        auth,
		logger:      logger,
	}, nil
}

// Start launches the worker in the background. Execute also lazily starts
// it on first call, so explicit Start is only needed to fail fast at
// startup rather than on the first request.
func (e *Engine) Start() error {
	var startErr error
	e.startOnce.Do(func() {
		if err := e.worker.Start(); err != nil {
			e.logger.Error(context.Background(), "temporal orchestrator worker failed to start", "err", err)
			startErr = err
		}
	})
	return startErr
}

// Execute starts OrchestrateWorkflow and waits for its result, satisfying
// orchestrator.Engine's synchronous interface over a durable workflow.
func (e *Engine) Execute(ctx context.Context, req orchestrator.OrchestratedRequest) types.OrchestratedResult {
	_ = e.Start()

	runOpts := client.StartWorkflowOptions{
		ID:        ids.NewWithPrefix("orchestration"),
		TaskQueue: e.taskQueue,
	}
	in := WorkflowInput{Request: req, Auth: e.auth}

	run, err := e.client.ExecuteWorkflow(ctx, runOpts, WorkflowName, in)
	if err != nil {
		e.logger.Error(ctx, "temporal orchestrator: start workflow failed", "err", err)
		return types.OrchestratedResult{}
	}

	var result types.OrchestratedResult
	if err := run.Get(ctx, &result); err != nil {
		e.logger.Error(ctx, "temporal orchestrator: workflow failed", "err", err, "run_id", run.GetRunID())
		return types.OrchestratedResult{}
	}
	return result
}

// Close stops the worker and, if this Engine created the client, closes it.
func (e *Engine) Close() {
	e.worker.Stop()
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}
