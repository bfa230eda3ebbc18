package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifyDispatch persists a workflow notification.
	TaskTypeNotifyDispatch = "notify:dispatch"
	// TaskTypeEscalationScan reminds approvers about stale requests.
	TaskTypeEscalationScan = "escalation:scan"
	// TaskTypeIdempotencyCleanup prunes expired transition markers.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
)

// NotifyDispatchPayload describes one notification to persist.
type NotifyDispatchPayload struct {
	RecipientID     int64  `json:"recipient_id"`
	Type            string `json:"type"`
	RelatedEntityID string `json:"related_entity_id"`
	Priority        string `json:"priority"`
}

// NewNotifyDispatchTask constructs an Asynq task.
func NewNotifyDispatchTask(payload NotifyDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifyDispatch, data, asynq.Queue(QueueDefault)), nil
}

// EscalationScanPayload tunes the stale-request scan.
type EscalationScanPayload struct {
	// DefaultAfterHours applies when the governing policy sets no
	// escalation time of its own.
	DefaultAfterHours int `json:"default_after_hours"`
	Limit             int `json:"limit"`
}

// NewEscalationScanTask builds the scheduled scan task.
func NewEscalationScanTask(payload EscalationScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeEscalationScan, data, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload bounds marker retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds the scheduled cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
