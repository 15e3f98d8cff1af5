package trigger

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CronLogger adapts zerolog to cron.Logger. Routine scheduler chatter goes to
// debug; skipped runs are warnings.
type CronLogger struct {
	logger zerolog.Logger
}

var _ cron.Logger = (*CronLogger)(nil)

func NewCronLogger(logger zerolog.Logger) *CronLogger {
	return &CronLogger{logger: logger.With().Str("component", "cron").Logger()}
}

func (l *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		withKeyvals(l.logger.Warn(), keysAndValues...).Msg("previous tick still running, skipping this one")
		return
	}
	withKeyvals(l.logger.Debug(), keysAndValues...).Msg(msg)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	withKeyvals(l.logger.Error().Err(err), keysAndValues...).Msg(msg)
}

func withKeyvals(event *zerolog.Event, keyvals ...interface{}) *zerolog.Event {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "MISSING_VALUE")
	}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		event = event.Interface(key, keyvals[i+1])
	}
	return event
}
