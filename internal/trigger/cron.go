// Package trigger fires scheduler ticks from an in-process cron schedule.
package trigger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/scheduler"
)

// Ticker runs one tick. *scheduler.Scheduler satisfies it.
type Ticker interface {
	Tick(ctx context.Context) scheduler.Result
}

// CronTrigger invokes a Ticker on a cron schedule. A tick that is still
// running when the next one is due causes that next one to be skipped.
type CronTrigger struct {
	cron     *cron.Cron
	schedule string
	entry    cron.EntryID
	ticker   Ticker
	logger   zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewCronTrigger accepts standard five-field expressions and descriptors
// such as @daily or @every 1h. Schedules are evaluated in UTC.
func NewCronTrigger(schedule string, ticker Ticker, logger zerolog.Logger) (*CronTrigger, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.Wrapf(err, "invalid trigger schedule %q", schedule)
	}

	cronLogger := NewCronLogger(logger)
	t := &CronTrigger{
		schedule: schedule,
		ticker:   ticker,
		logger:   logger.With().Str("component", "trigger").Str("schedule", schedule).Logger(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
		),
	}
	t.baseCtx, t.cancel = context.WithCancel(context.Background())

	job := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(t.fire))
	id, err := t.cron.AddJob(schedule, job)
	if err != nil {
		return nil, errors.Wrapf(err, "register trigger schedule %q", schedule)
	}
	t.entry = id
	return t, nil
}

func (t *CronTrigger) fire() {
	res := t.ticker.Tick(t.baseCtx)
	evt := t.logger.Info()
	if res.Failed() {
		evt = t.logger.Warn().Err(res.Err)
	}
	evt.
		Str("tick_id", res.TickID).
		Str("outcome", string(res.Outcome)).
		Str("state", res.State.String()).
		Time("next_tick", t.Next()).
		Msg("tick finished")
}

func (t *CronTrigger) Start() {
	t.cron.Start()
	t.logger.Info().Time("next_tick", t.Next()).Msg("cron trigger started")
}

// Stop halts the schedule and cancels a running tick, then waits for it to
// return or for ctx to expire.
func (t *CronTrigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	t.cancel()
	select {
	case <-done.Done():
		t.logger.Info().Msg("cron trigger stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for running tick")
	}
}

// Next is the time of the next scheduled tick, zero before Start.
func (t *CronTrigger) Next() time.Time {
	return t.cron.Entry(t.entry).Next
}
