package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/approvia/approvia/internal/jobs"
	"github.com/approvia/approvia/internal/notify"
)

// NotifyDispatchJob persists queued workflow notifications.
type NotifyDispatchJob struct {
	Service *notify.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyDispatchJob initialises the dispatch handler.
func NewNotifyDispatchJob(service *notify.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyDispatchJob {
	return &NotifyDispatchJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTypeNotifyDispatch tasks.
func (j *NotifyDispatchJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("notify dispatch: handler not configured")
	}
	var payload NotifyDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskTypeNotifyDispatch)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	n, err := j.Service.Dispatch(ctx, notify.DispatchInput{
		RecipientID:     payload.RecipientID,
		Type:            payload.Type,
		RelatedEntityID: payload.RelatedEntityID,
		Priority:        payload.Priority,
	})
	if err != nil {
		if errors.Is(err, notify.ErrValidation) {
			// Malformed payloads never become valid on retry.
			j.logger().Warn("dropping invalid notification", slog.Any("error", err))
			return asynq.SkipRetry
		}
		resultErr = err
		return resultErr
	}
	j.logger().Debug("notification stored",
		slog.Int64("id", n.ID),
		slog.Int64("recipient_id", n.RecipientID),
		slog.String("type", n.Type),
	)
	return nil
}

func (j *NotifyDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeNotifyDispatch))
	}
	return slog.Default().With(slog.String("job", TaskTypeNotifyDispatch))
}

func (j *NotifyDispatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
