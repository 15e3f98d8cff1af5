package notification

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// sanitizeRecipients trims addresses and drops blanks and duplicates.
func sanitizeRecipients(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	var cleaned []string
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" || seen[strings.ToLower(recipient)] {
			continue
		}
		seen[strings.ToLower(recipient)] = true
		cleaned = append(cleaned, recipient)
	}
	return cleaned
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("task_id", notif.TaskID).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
