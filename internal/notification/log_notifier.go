package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/models"
)

// LogNotifier writes alerts to the structured log. It is always enabled.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("notifier", "log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, notif models.Notification) error {
	var evt *zerolog.Event
	switch notif.Severity {
	case models.NotificationSeverityError:
		evt = n.logger.Error()
	case models.NotificationSeverityWarning:
		evt = n.logger.Warn()
	default:
		evt = n.logger.Info()
	}
	evt = evt.
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("task_id", notif.TaskID).
		Str("title", notif.Title)
	if len(notif.Metadata) > 0 {
		evt = evt.RawJSON("metadata", notif.Metadata)
	}
	evt.Msg(notif.Message)
	return nil
}

func (n *LogNotifier) String() string {
	return "LogNotifier"
}
