package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

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

// CreateSelfTransferSchedule creates a Temporal schedule that runs the
// SelfTransferWorkflow for input.Signer every interval. A run still in
// progress when the next one is due causes that next run to be skipped.
func (c *Client) CreateSelfTransferSchedule(ctx context.Context, input SelfTransferInput, interval time.Duration) error {
	if input.Signer == "" {
		return fmt.Errorf("signer is required")
	}
	id := ScheduleID(input.Signer)

	c.logger.Debug("creating self-transfer schedule",
		"signer", input.Signer,
		"schedule_id", id,
		"interval", interval,
		"references", len(input.References),
	)

	workflowAction := client.ScheduleWorkflowAction{
		ID:        fmt.Sprintf("self-transfer-%s", input.Signer),
		Workflow:  SelfTransferWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action:  &workflowAction,
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"signer":     input.Signer,
			"references": input.References,
			"created_by": "burri",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"signer", input.Signer,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("self-transfer schedule created",
		"signer", input.Signer,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// DeleteSelfTransferSchedule deletes the Temporal schedule for a signer.
func (c *Client) DeleteSelfTransferSchedule(ctx context.Context, signer string) error {
	id := ScheduleID(signer)

	c.logger.Debug("deleting self-transfer schedule",
		"signer", signer,
		"schedule_id", id,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"signer", signer,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("self-transfer schedule deleted",
		"signer", signer,
		"schedule_id", id,
	)

	return nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
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
