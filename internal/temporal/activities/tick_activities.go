package activities

import (
	"context"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/stanstork/stratum-replicator/internal/scheduler"
	"github.com/stanstork/stratum-replicator/internal/temporal"
)

// Ticker runs one tick for a task. *scheduler.Scheduler satisfies it.
type Ticker interface {
	Tick(ctx context.Context) scheduler.Result
}

type Activities struct {
	Tickers map[string]Ticker
}

// TickActivity runs one scheduler tick. Tick failures are part of the
// result, not activity errors: the next scheduled run is the retry.
func (a *Activities) TickActivity(ctx context.Context, params temporal.TickParams) (*temporal.TickActivityResult, error) {
	logger := activity.GetLogger(ctx)

	ticker, ok := a.Tickers[params.TaskID]
	if !ok {
		return nil, sdktemporal.NewNonRetryableApplicationError(
			"no scheduler registered for task "+params.TaskID, "UnknownTask", errors.New("unknown task"))
	}

	logger.Info("Running replication tick", "TaskID", params.TaskID)
	res := ticker.Tick(ctx)

	out := &temporal.TickActivityResult{
		TickID:  res.TickID,
		TaskID:  res.TaskID,
		Outcome: string(res.Outcome),
		State:   res.State.String(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
		logger.Warn("Replication tick failed", "TaskID", params.TaskID, "TickID", res.TickID, "Outcome", out.Outcome, "Error", out.Error)
	} else {
		logger.Info("Replication tick finished", "TaskID", params.TaskID, "TickID", res.TickID, "Outcome", out.Outcome)
	}
	return out, nil
}
