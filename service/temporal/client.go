package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solvision/service/metrics"
	"github.com/brojonat/solvision/service/wallet"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Client holds the connection to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
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

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// WorkflowStarter is the part of the Temporal client the Fetcher needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Fetcher fetches wallet data by running FetchWalletWorkflow and waiting for its result.
type Fetcher struct {
	starter   WorkflowStarter
	taskQueue string
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher. A zero timeout leaves the workflow execution unbounded;
// the caller's context still bounds the wait.
func NewFetcher(starter WorkflowStarter, taskQueue string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		starter:   starter,
		taskQueue: taskQueue,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
}

// FetchWalletData starts a fetch workflow for address and blocks until it completes.
// Workflow failures are reduced to the underlying application error message.
func (f *Fetcher) FetchWalletData(ctx context.Context, address string) (*wallet.Data, error) {
	start := time.Now()
	status := "success"
	defer func() {
		if f.metrics != nil {
			f.metrics.RecordFetchWorkflow(status, time.Since(start).Seconds())
		}
	}()

	opts := client.StartWorkflowOptions{
		ID:                       workflowID(address),
		TaskQueue:                f.taskQueue,
		WorkflowExecutionTimeout: f.timeout,
	}

	run, err := f.starter.ExecuteWorkflow(ctx, opts, FetchWalletWorkflow, FetchWalletInput{Address: address})
	if err != nil {
		status = "start_error"
		f.logger.ErrorContext(ctx, "failed to start fetch workflow",
			"address", address,
			"workflow_id", opts.ID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start fetch workflow: %w", err)
	}

	f.logger.DebugContext(ctx, "started fetch workflow",
		"address", address,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	var result FetchWalletResult
	if err := run.Get(ctx, &result); err != nil {
		status = "error"
		f.logger.WarnContext(ctx, "fetch workflow failed",
			"address", address,
			"workflow_id", run.GetID(),
			"error", err,
		)
		if msg, ok := applicationMessage(err); ok {
			return nil, errors.New(msg)
		}
		return nil, fmt.Errorf("fetch workflow failed: %w", err)
	}

	transactions := result.Transactions
	if transactions == nil {
		transactions = []wallet.Transaction{}
	}
	return &wallet.Data{
		Address:      result.Address,
		Transactions: transactions,
	}, nil
}

// applicationMessage returns the message of the innermost application error in err's chain.
// Temporal wraps plain workflow errors in application errors of their own, so the first match
// is not necessarily the one the activity raised.
func applicationMessage(err error) (string, bool) {
	var (
		msg   string
		found bool
	)
	for err != nil {
		var appErr *temporalsdk.ApplicationError
		if !errors.As(err, &appErr) {
			break
		}
		msg, found = appErr.Message(), true
		err = appErr.Unwrap()
	}
	return msg, found
}

// workflowID is unique per fetch so repeated searches for the same wallet never collide.
func workflowID(address string) string {
	return "fetch-wallet-" + address + "-" + uuid.NewString()
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
