package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventTaskNotFound        NotificationEvent = "task_not_found"
	NotificationEventTickFailed          NotificationEvent = "tick_failed"
	NotificationEventStartOutcomeUnknown NotificationEvent = "start_outcome_unknown"
)

// Notification is an operator alert. Alerts are delivered, not stored.
type Notification struct {
	ID        string               `json:"id"`
	TaskID    string               `json:"task_id"`
	EventType NotificationEvent    `json:"event_type"`
	Severity  NotificationSeverity `json:"severity"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}
