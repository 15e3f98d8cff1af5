package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/models"
)

type EmailNotifier struct {
	mailer     Mailer
	recipients []string
	logger     zerolog.Logger
}

func NewEmailNotifier(mailer Mailer, recipients []string, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		mailer:     mailer,
		recipients: sanitizeRecipients(recipients),
		logger:     logger.With().Str("notifier", "email").Logger(),
	}
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[Stratum] %s", strings.TrimSpace(notif.Title))
	if subject == "[Stratum] " {
		subject = "[Stratum] Notification"
	}

	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(notif.Message))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Task: %s\n", notif.TaskID))
	body.WriteString(fmt.Sprintf("Event: %s\n", notif.EventType))
	body.WriteString(fmt.Sprintf("Severity: %s\n", notif.Severity))
	body.WriteString(fmt.Sprintf("Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST")))
	if len(notif.Metadata) > 0 {
		body.WriteString(fmt.Sprintf("Metadata: %s\n", string(notif.Metadata)))
	}

	if err := n.mailer.Send(n.recipients, subject, body.String()); err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
