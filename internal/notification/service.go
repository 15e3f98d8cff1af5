package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-replicator/internal/models"
)

type Event struct {
	TaskID   string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Service raises operator alerts. Delivery failures are logged and never
// returned to the caller's control flow.
type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyTaskNotFound(ctx context.Context, taskID, tickID, reason string) error
	NotifyTickFailed(ctx context.Context, taskID, tickID, reason string) error
	NotifyStartOutcomeUnknown(ctx context.Context, taskID, tickID string) error
}

type service struct {
	logger    zerolog.Logger
	notifiers []Notifier
	now       func() time.Time
}

func NewService(logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
		now:       time.Now,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	message := strings.TrimSpace(evt.Message)
	if title == "" {
		title = string(evt.Event)
	}

	var metadata json.RawMessage
	if len(evt.Metadata) > 0 {
		raw, err := json.Marshal(evt.Metadata)
		if err != nil {
			return models.Notification{}, fmt.Errorf("marshal notification metadata: %w", err)
		}
		metadata = raw
	}

	notif := models.Notification{
		ID:        uuid.NewString(),
		TaskID:    strings.TrimSpace(evt.TaskID),
		EventType: evt.Event,
		Severity:  evt.Severity,
		Title:     title,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyTaskNotFound(ctx context.Context, taskID, tickID, reason string) error {
	_, err := s.Publish(ctx, Event{
		TaskID:   taskID,
		Event:    models.NotificationEventTaskNotFound,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Replication task not found: %s", taskID),
		Message:  fmt.Sprintf("The job-control API does not know task %s. Check the task id in the orchestrator configuration: %s", taskID, fallbackReason(reason)),
		Metadata: map[string]interface{}{
			"task_id": taskID,
			"tick_id": tickID,
			"reason":  fallbackReason(reason),
		},
	})
	return err
}

func (s *service) NotifyTickFailed(ctx context.Context, taskID, tickID, reason string) error {
	reason = fallbackReason(reason)
	_, err := s.Publish(ctx, Event{
		TaskID:   taskID,
		Event:    models.NotificationEventTickFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Scheduled run failed: %s", taskID),
		Message:  fmt.Sprintf("Tick %s for task %s failed: %s", tickID, taskID, reason),
		Metadata: map[string]interface{}{
			"task_id": taskID,
			"tick_id": tickID,
			"reason":  reason,
		},
	})
	return err
}

func (s *service) NotifyStartOutcomeUnknown(ctx context.Context, taskID, tickID string) error {
	_, err := s.Publish(ctx, Event{
		TaskID:   taskID,
		Event:    models.NotificationEventStartOutcomeUnknown,
		Severity: models.NotificationSeverityWarning,
		Title:    fmt.Sprintf("Start outcome unknown: %s", taskID),
		Message:  fmt.Sprintf("Tick %s gave up waiting for the start of task %s. The next tick will observe whether it is running.", tickID, taskID),
		Metadata: map[string]interface{}{
			"task_id": taskID,
			"tick_id": tickID,
		},
	})
	return err
}

func fallbackReason(reason string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return "Unknown error"
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
