package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/approvia/approvia/internal/jobs"
	"github.com/approvia/approvia/internal/policy"
	"github.com/approvia/approvia/internal/request"
	"github.com/approvia/approvia/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const escalationLockTTL = 4 * time.Minute

// StaleRequestSource lists requests stuck in a pending status.
type StaleRequestSource interface {
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]request.PaymentRequest, error)
}

// PolicySource resolves the policy governing a request.
type PolicySource interface {
	FindApplicable(ctx context.Context, amount decimal.Decimal, categoryID, costCenterID *int64) (policy.Policy, error)
}

// NotifyEnqueuer queues notification dispatch tasks.
type NotifyEnqueuer interface {
	EnqueueNotifyDispatch(ctx context.Context, payload NotifyDispatchPayload) error
}

// EscalationScanJob reminds the pending approver about requests that sat
// untouched past the escalation window. A Redis lock keeps the scan
// single-flight across worker replicas.
type EscalationScanJob struct {
	Requests StaleRequestSource
	Policies PolicySource
	Enqueuer NotifyEnqueuer
	Locker   *redislock.Client
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewEscalationScanJob initialises the scan handler.
func NewEscalationScanJob(requests StaleRequestSource, policies PolicySource, enqueuer NotifyEnqueuer, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *EscalationScanJob {
	return &EscalationScanJob{
		Requests: requests,
		Policies: policies,
		Enqueuer: enqueuer,
		Locker:   locker,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the escalation scan.
func (j *EscalationScanJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Requests == nil {
		return errors.New("escalation scan: handler not configured")
	}
	var payload EscalationScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.DefaultAfterHours <= 0 {
		payload.DefaultAfterHours = 48
	}
	if payload.Limit <= 0 {
		payload.Limit = 200
	}

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.EscalationLockKey, escalationLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.logger().Debug("scan already running elsewhere")
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
	}

	tracker := j.metrics().Track(TaskTypeEscalationScan)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	cutoff := now.Add(-time.Duration(payload.DefaultAfterHours) * time.Hour)
	stale, err := j.Requests.StalePending(ctx, cutoff, payload.Limit)
	if err != nil {
		resultErr = err
		return resultErr
	}

	escalated := 0
	for _, pr := range stale {
		hours := payload.DefaultAfterHours
		if j.Policies != nil {
			// A policy may stretch the window; the scan cutoff already
			// covers the platform default.
			pol, err := j.Policies.FindApplicable(ctx, pr.Amount, pr.CategoryID, &pr.CostCenterID)
			if err == nil && pol.Conditions.EscalationTimeHours > hours {
				hours = pol.Conditions.EscalationTimeHours
			}
		}
		if now.Sub(pr.UpdatedAt) < time.Duration(hours)*time.Hour {
			continue
		}
		recipient := pr.RequesterID
		if pr.CurrentApproverID != nil {
			recipient = *pr.CurrentApproverID
		}
		if j.Enqueuer == nil {
			continue
		}
		err = j.Enqueuer.EnqueueNotifyDispatch(ctx, NotifyDispatchPayload{
			RecipientID:     recipient,
			Type:            request.NotifyApprovalRequested,
			RelatedEntityID: pr.ID.String(),
			Priority:        request.PriorityHigh,
		})
		if err != nil {
			j.logger().Warn("enqueue escalation notification",
				slog.String("request_id", pr.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		escalated++
		j.metrics().AddEscalations(string(pr.Status), 1)
	}

	j.logger().Info("completed escalation scan",
		slog.Int("stale", len(stale)),
		slog.Int("escalated", escalated),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

func (j *EscalationScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeEscalationScan))
	}
	return slog.Default().With(slog.String("job", TaskTypeEscalationScan))
}

func (j *EscalationScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *EscalationScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
