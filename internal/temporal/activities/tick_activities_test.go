package activities

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/stanstork/stratum-replicator/internal/models"
	"github.com/stanstork/stratum-replicator/internal/scheduler"
	"github.com/stanstork/stratum-replicator/internal/temporal"
)

type fakeTicker struct {
	result scheduler.Result
	calls  int
}

func (f *fakeTicker) Tick(context.Context) scheduler.Result {
	f.calls++
	return f.result
}

func TestTickActivity_ReportsOutcome(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	ticker := &fakeTicker{result: scheduler.Result{
		TickID:  "tick-1",
		TaskID:  "task-a",
		Outcome: scheduler.OutcomeStarted,
		State:   models.StateStarting,
	}}
	a := &Activities{Tickers: map[string]Ticker{"task-a": ticker}}
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.TickActivity, temporal.TickParams{TaskID: "task-a"})
	require.NoError(t, err)

	var res temporal.TickActivityResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "tick-1", res.TickID)
	assert.Equal(t, "started", res.Outcome)
	assert.Equal(t, "starting", res.State)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, ticker.calls)
}

func TestTickActivity_FailedTickIsNotAnActivityError(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	ticker := &fakeTicker{result: scheduler.Result{
		TickID:  "tick-2",
		TaskID:  "task-a",
		Outcome: scheduler.OutcomeStartFailed,
		State:   models.StateReady,
		Err:     errors.New("engine unavailable"),
	}}
	a := &Activities{Tickers: map[string]Ticker{"task-a": ticker}}
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.TickActivity, temporal.TickParams{TaskID: "task-a"})
	require.NoError(t, err)

	var res temporal.TickActivityResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "start_failed", res.Outcome)
	assert.Equal(t, "engine unavailable", res.Error)
}

func TestTickActivity_UnknownTask(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	a := &Activities{Tickers: map[string]Ticker{}}
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.TickActivity, temporal.TickParams{TaskID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
