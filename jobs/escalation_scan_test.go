package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/approvia/approvia/internal/policy"
	"github.com/approvia/approvia/internal/request"
)

type fakeStaleSource struct {
	requests []request.PaymentRequest
	cutoff   time.Time
}

func (f *fakeStaleSource) StalePending(_ context.Context, cutoff time.Time, _ int) ([]request.PaymentRequest, error) {
	f.cutoff = cutoff
	return f.requests, nil
}

type fakePolicySource struct {
	policy policy.Policy
	err    error
}

func (f *fakePolicySource) FindApplicable(context.Context, decimal.Decimal, *int64, *int64) (policy.Policy, error) {
	return f.policy, f.err
}

type fakeEnqueuer struct {
	payloads []NotifyDispatchPayload
}

func (f *fakeEnqueuer) EnqueueNotifyDispatch(_ context.Context, payload NotifyDispatchPayload) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

func staleRequest(approver *int64, age time.Duration) request.PaymentRequest {
	return request.PaymentRequest{
		ID:                uuid.New(),
		RequesterID:       42,
		CostCenterID:      7,
		Amount:            decimal.NewFromInt(30000),
		Status:            request.StatusPendingOwnerApproval,
		CurrentApproverID: approver,
		UpdatedAt:         time.Now().Add(-age),
	}
}

func scanTask(t *testing.T, payload EscalationScanPayload) *asynq.Task {
	t.Helper()
	task, err := NewEscalationScanTask(payload)
	require.NoError(t, err)
	return task
}

func TestEscalationScanNotifiesAssignedApprover(t *testing.T) {
	approver := int64(900)
	source := &fakeStaleSource{requests: []request.PaymentRequest{staleRequest(&approver, 72*time.Hour)}}
	enqueuer := &fakeEnqueuer{}
	job := NewEscalationScanJob(source, &fakePolicySource{err: policy.ErrNoApplicablePolicy}, enqueuer, nil, nil, nil)

	require.NoError(t, job.Handle(context.Background(), scanTask(t, EscalationScanPayload{DefaultAfterHours: 48})))

	require.Len(t, enqueuer.payloads, 1)
	require.Equal(t, approver, enqueuer.payloads[0].RecipientID)
	require.Equal(t, request.NotifyApprovalRequested, enqueuer.payloads[0].Type)
	require.Equal(t, request.PriorityHigh, enqueuer.payloads[0].Priority)
}

func TestEscalationScanFallsBackToRequester(t *testing.T) {
	source := &fakeStaleSource{requests: []request.PaymentRequest{staleRequest(nil, 72*time.Hour)}}
	enqueuer := &fakeEnqueuer{}
	job := NewEscalationScanJob(source, nil, enqueuer, nil, nil, nil)

	require.NoError(t, job.Handle(context.Background(), scanTask(t, EscalationScanPayload{DefaultAfterHours: 48})))

	require.Len(t, enqueuer.payloads, 1)
	require.Equal(t, int64(42), enqueuer.payloads[0].RecipientID)
}

func TestEscalationScanHonoursPolicyWindow(t *testing.T) {
	approver := int64(900)
	// 72 hours pending, but the governing policy allows 96.
	source := &fakeStaleSource{requests: []request.PaymentRequest{staleRequest(&approver, 72*time.Hour)}}
	policies := &fakePolicySource{policy: policy.Policy{
		Conditions: policy.Conditions{EscalationTimeHours: 96},
	}}
	enqueuer := &fakeEnqueuer{}
	job := NewEscalationScanJob(source, policies, enqueuer, nil, nil, nil)

	require.NoError(t, job.Handle(context.Background(), scanTask(t, EscalationScanPayload{DefaultAfterHours: 48})))

	require.Empty(t, enqueuer.payloads)
}

func TestEscalationScanPolicyCannotShrinkWindow(t *testing.T) {
	approver := int64(900)
	// Pending 30 hours, under the 48 hour platform default. A tighter
	// policy window does not escalate early.
	source := &fakeStaleSource{requests: []request.PaymentRequest{staleRequest(&approver, 30*time.Hour)}}
	policies := &fakePolicySource{policy: policy.Policy{
		Conditions: policy.Conditions{EscalationTimeHours: 12},
	}}
	enqueuer := &fakeEnqueuer{}
	job := NewEscalationScanJob(source, policies, enqueuer, nil, nil, nil)

	require.NoError(t, job.Handle(context.Background(), scanTask(t, EscalationScanPayload{DefaultAfterHours: 48})))

	require.Empty(t, enqueuer.payloads)
	require.WithinDuration(t, time.Now().Add(-48*time.Hour), source.cutoff, time.Minute)
}

func TestEscalationScanBadPayloadSkipsRetry(t *testing.T) {
	job := NewEscalationScanJob(&fakeStaleSource{}, nil, &fakeEnqueuer{}, nil, nil, nil)
	task := asynq.NewTask(TaskTypeEscalationScan, []byte("{nope"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}
