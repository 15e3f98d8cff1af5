package workflows

import (
	"context"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/stanstork/stratum-replicator/internal/temporal"
	"github.com/stanstork/stratum-replicator/internal/temporal/activities"
)

// TickWorkflow runs a single tick. Started as a cron workflow it fires once
// per schedule slot, and Temporal never runs two slots of the same cron
// workflow at once.
func TickWorkflow(ctx workflow.Context, params temporal.TickParams) (*temporal.TickActivityResult, error) {
	ctx = workflow.WithActivityOptions(ctx, tickActivityOptions(params))

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting tick workflow", "TaskID", params.TaskID)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	var result temporal.TickActivityResult
	if err := workflow.ExecuteActivity(ctx, a.TickActivity, params).Get(ctx, &result); err != nil {
		logger.Error("Tick activity failed.", "error", err)
		return nil, err
	}

	logger.Info("Tick workflow completed.", "TaskID", params.TaskID, "TickID", result.TickID, "Outcome", result.Outcome)
	return &result, nil
}

func tickActivityOptions(params temporal.TickParams) workflow.ActivityOptions {
	timeout := params.ActivityTimeout
	if timeout <= 0 {
		timeout = temporal.DefaultActivityTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		// The next scheduled tick is the retry mechanism.
		RetryPolicy: &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// StartCronTick registers the tick workflow as a Temporal cron workflow. If
// the workflow is already running the existing run is kept.
func StartCronTick(ctx context.Context, c client.Client, taskQueue, schedule string, params temporal.TickParams) (client.WorkflowRun, error) {
	if taskQueue == "" {
		taskQueue = temporal.TaskQueueName
	}
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           temporal.TickWorkflowID(params.TaskID),
		TaskQueue:    taskQueue,
		CronSchedule: schedule,
	}, TickWorkflow, params)
	if err != nil {
		return nil, errors.Wrapf(err, "start cron tick workflow for task %s", params.TaskID)
	}
	return run, nil
}
