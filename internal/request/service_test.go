package request

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/approvia/approvia/internal/budget"
	"github.com/approvia/approvia/internal/masterdata"
	"github.com/approvia/approvia/internal/policy"
	"github.com/approvia/approvia/internal/shared"
)

type memoryWorkflowRepo struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]PaymentRequest
	approvals []ApprovalEntry
	statuses  []StatusEntry
	markers   map[string]bool
	markerErr error
	budgets   map[int64]*budget.Budget
	centers   map[int64]*masterdata.CostCenter
	seq       int
}

func newMemoryWorkflowRepo() *memoryWorkflowRepo {
	return &memoryWorkflowRepo{
		requests: make(map[uuid.UUID]PaymentRequest),
		markers:  make(map[string]bool),
		budgets:  make(map[int64]*budget.Budget),
		centers:  make(map[int64]*masterdata.CostCenter),
	}
}

type repoSnapshot struct {
	requests  map[uuid.UUID]PaymentRequest
	approvals []ApprovalEntry
	statuses  []StatusEntry
	markers   map[string]bool
	budgets   map[int64]budget.Budget
	centers   map[int64]masterdata.CostCenter
	seq       int
}

func (m *memoryWorkflowRepo) snapshot() repoSnapshot {
	snap := repoSnapshot{
		requests:  make(map[uuid.UUID]PaymentRequest, len(m.requests)),
		approvals: append([]ApprovalEntry(nil), m.approvals...),
		statuses:  append([]StatusEntry(nil), m.statuses...),
		markers:   make(map[string]bool, len(m.markers)),
		budgets:   make(map[int64]budget.Budget, len(m.budgets)),
		centers:   make(map[int64]masterdata.CostCenter, len(m.centers)),
		seq:       m.seq,
	}
	for id, pr := range m.requests {
		snap.requests[id] = pr
	}
	for k := range m.markers {
		snap.markers[k] = true
	}
	for id, b := range m.budgets {
		snap.budgets[id] = *b
	}
	for id, cc := range m.centers {
		snap.centers[id] = *cc
	}
	return snap
}

func (m *memoryWorkflowRepo) restore(snap repoSnapshot) {
	m.requests = snap.requests
	m.approvals = snap.approvals
	m.statuses = snap.statuses
	m.markers = snap.markers
	m.budgets = make(map[int64]*budget.Budget, len(snap.budgets))
	for id := range snap.budgets {
		b := snap.budgets[id]
		m.budgets[id] = &b
	}
	m.centers = make(map[int64]*masterdata.CostCenter, len(snap.centers))
	for id := range snap.centers {
		cc := snap.centers[id]
		m.centers[id] = &cc
	}
	m.seq = snap.seq
}

func (m *memoryWorkflowRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx, (*memoryTx)(m)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryWorkflowRepo) Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.requests[id]
	if !ok {
		return PaymentRequest{}, ErrNotFound
	}
	return pr, nil
}

func (m *memoryWorkflowRepo) ApprovalHistory(ctx context.Context, id uuid.UUID) ([]ApprovalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApprovalEntry
	for _, e := range m.approvals {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryWorkflowRepo) StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusEntry
	for _, e := range m.statuses {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryWorkflowRepo) List(ctx context.Context, filters ListFilters, limit, offset int) ([]PaymentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentRequest
	for _, pr := range m.requests {
		if filters.Status != "" && pr.Status != filters.Status {
			continue
		}
		if filters.RequesterID > 0 && pr.RequesterID != filters.RequesterID {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func (m *memoryWorkflowRepo) Count(ctx context.Context, filters ListFilters) (int, error) {
	out, err := m.List(ctx, filters, 0, 0)
	return len(out), err
}

type memoryTx memoryWorkflowRepo

func (t *memoryTx) Create(ctx context.Context, pr PaymentRequest) (PaymentRequest, error) {
	t.seq++
	pr.ID = uuid.New()
	pr.Number = fmt.Sprintf("RD%06d%04d", 202601, t.seq)
	pr.Status = StatusPendingValidation
	pr.CreatedAt = time.Now()
	pr.UpdatedAt = pr.CreatedAt
	t.requests[pr.ID] = pr
	return pr, nil
}

func (t *memoryTx) Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error) {
	pr, ok := t.requests[id]
	if !ok {
		return PaymentRequest{}, ErrNotFound
	}
	return pr, nil
}

func (t *memoryTx) Save(ctx context.Context, pr PaymentRequest) error {
	if _, ok := t.requests[pr.ID]; !ok {
		return ErrNotFound
	}
	pr.UpdatedAt = time.Now()
	t.requests[pr.ID] = pr
	return nil
}

func (t *memoryTx) AppendApproval(ctx context.Context, entry ApprovalEntry) error {
	entry.At = time.Now()
	t.approvals = append(t.approvals, entry)
	return nil
}

func (t *memoryTx) AppendStatus(ctx context.Context, entry StatusEntry) error {
	entry.At = time.Now()
	t.statuses = append(t.statuses, entry)
	return nil
}

func (t *memoryTx) MarkTransition(ctx context.Context, requestID uuid.UUID, target Status) error {
	key := shared.TransitionKey(requestID.String(), string(target))
	if t.markers[key] {
		return shared.ErrIdempotencyConflict
	}
	t.markers[key] = true
	return nil
}

func (t *memoryTx) TransitionApplied(ctx context.Context, requestID uuid.UUID, target Status) (bool, error) {
	if t.markerErr != nil {
		return false, t.markerErr
	}
	return t.markers[shared.TransitionKey(requestID.String(), string(target))], nil
}

func (t *memoryTx) ClearTransitions(ctx context.Context, requestID uuid.UUID) error {
	prefix := shared.RequestKeyPrefix(requestID.String())
	for k := range t.markers {
		if strings.HasPrefix(k, prefix) {
			delete(t.markers, k)
		}
	}
	return nil
}

func (t *memoryTx) FindBudget(ctx context.Context, ref budget.BucketRef) (budget.Budget, error) {
	var wildcard *budget.Budget
	for _, b := range t.budgets {
		if !b.Matchable() || b.CostCenterID != ref.CostCenterID || b.Year != ref.Year {
			continue
		}
		if b.CategoryID == nil {
			wildcard = b
			continue
		}
		if ref.CategoryID != nil && *b.CategoryID == *ref.CategoryID {
			return *b, nil
		}
	}
	if wildcard != nil {
		return *wildcard, nil
	}
	return budget.Budget{}, budget.ErrNotFound
}

func (t *memoryTx) CommitBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	b, ok := t.budgets[budgetID]
	if !ok {
		return budget.ErrNotFound
	}
	if b.Available.LessThan(amount) {
		return budget.ErrInsufficientBudget
	}
	b.Committed = b.Committed.Add(amount)
	b.Available = b.Available.Sub(amount)
	return nil
}

func (t *memoryTx) SpendBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	b, ok := t.budgets[budgetID]
	if !ok {
		return budget.ErrNotFound
	}
	if b.Committed.LessThan(amount) {
		return budget.ErrInsufficientCommitted
	}
	b.Spent = b.Spent.Add(amount)
	b.Committed = b.Committed.Sub(amount)
	return nil
}

func (t *memoryTx) ReleaseBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	b, ok := t.budgets[budgetID]
	if !ok {
		return budget.ErrNotFound
	}
	if b.Committed.LessThan(amount) {
		return budget.ErrInsufficientCommitted
	}
	b.Committed = b.Committed.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

func (t *memoryTx) GetCostCenter(ctx context.Context, id int64) (masterdata.CostCenter, error) {
	cc, ok := t.centers[id]
	if !ok {
		return masterdata.CostCenter{}, masterdata.ErrNotFound
	}
	return *cc, nil
}

func (t *memoryTx) AddCostCenterCommitted(ctx context.Context, id int64, amount decimal.Decimal) error {
	cc, ok := t.centers[id]
	if !ok {
		return masterdata.ErrNotFound
	}
	cc.Committed = cc.Committed.Add(amount)
	return nil
}

func (t *memoryTx) ReleaseCostCenterCommitted(ctx context.Context, id int64, amount decimal.Decimal) error {
	cc, ok := t.centers[id]
	if !ok {
		return masterdata.ErrNotFound
	}
	if cc.Committed.LessThan(amount) {
		return masterdata.ErrCommittedFloor
	}
	cc.Committed = cc.Committed.Sub(amount)
	return nil
}

func (t *memoryTx) CostCenterCommitToSpent(ctx context.Context, id int64, amount decimal.Decimal) error {
	cc, ok := t.centers[id]
	if !ok {
		return masterdata.ErrNotFound
	}
	if cc.Committed.LessThan(amount) {
		return masterdata.ErrCommittedFloor
	}
	cc.Committed = cc.Committed.Sub(amount)
	cc.Spent = cc.Spent.Add(amount)
	return nil
}

type stubPolicies struct {
	pol policy.Policy
	err error
}

func (s *stubPolicies) FindApplicable(ctx context.Context, amount decimal.Decimal, categoryID, costCenterID *int64) (policy.Policy, error) {
	if s.err != nil {
		return policy.Policy{}, s.err
	}
	return s.pol, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *captureNotifier) Emit(ctx context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *captureNotifier) ofType(typ string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type captureAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *captureAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

const (
	testManagerID  = int64(900)
	testCostCenter = int64(10)
	testVendor     = int64(20)
)

type fixture struct {
	repo     *memoryWorkflowRepo
	svc      *Service
	notifier *captureNotifier
	audit    *captureAudit
	policies *stubPolicies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryWorkflowRepo()
	repo.centers[testCostCenter] = &masterdata.CostCenter{ID: testCostCenter, Code: "CC-10", Name: "Engineering", ManagerID: testManagerID, Active: true}
	repo.budgets[1] = &budget.Budget{
		ID:           1,
		CostCenterID: testCostCenter,
		Year:         time.Now().Year(),
		Period:       budget.PeriodAnnual,
		Planned:      decimal.NewFromInt(1000000),
		Available:    decimal.NewFromInt(1000000),
		Spent:        decimal.Zero,
		Committed:    decimal.Zero,
		Status:       budget.StatusActive,
	}
	notifier := &captureNotifier{}
	audit := &captureAudit{}
	policies := &stubPolicies{err: policy.ErrNoApplicablePolicy}
	svc := NewService(repo, policies, audit, notifier, slog.Default(), DefaultWorkflowConfig())
	return &fixture{repo: repo, svc: svc, notifier: notifier, audit: audit, policies: policies}
}

func (f *fixture) create(t *testing.T, amount int64, quotations int) PaymentRequest {
	t.Helper()
	pr, err := f.svc.Create(context.Background(), CreateInput{
		RequesterID:    1,
		Description:    "test expense",
		Amount:         decimal.NewFromInt(amount),
		VendorID:       testVendor,
		CostCenterID:   testCostCenter,
		InBudget:       true,
		InvoiceDate:    time.Now(),
		QuotationCount: quotations,
	})
	require.NoError(t, err)
	return pr
}

func (f *fixture) bucket(t *testing.T) budget.Budget {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return *f.repo.budgets[1]
}

func (f *fixture) center(t *testing.T) masterdata.CostCenter {
	t.Helper()
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return *f.repo.centers[testCostCenter]
}

func TestCreateStartsAtPendingValidation(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 5000, 1)
	require.Equal(t, StatusPendingValidation, pr.Status)
	require.NotEmpty(t, pr.Number)
	require.Equal(t, "BRL", pr.Currency)

	history, err := f.svc.StatusHistory(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, StatusPendingValidation, history[0].Status)
}

func TestSubmitRoutesToCostCenterManager(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 5000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingOwnerApproval, got.Status)
	require.NotNil(t, got.CurrentApproverID)
	require.Equal(t, testManagerID, *got.CurrentApproverID)

	asks := f.notifier.ofType(NotifyApprovalRequested)
	require.Len(t, asks, 1)
	require.Equal(t, testManagerID, asks[0].RecipientID)
}

func TestSubmitByOtherUserForbidden(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 5000, 1)
	err := f.svc.Submit(context.Background(), pr.ID, 2)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestOwnerApprovalAtThresholdGoesDirectToPayment(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 10000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, "ok"))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingPaymentApproval, got.Status)
	require.NotNil(t, got.ApprovedAt)

	b := f.bucket(t)
	require.True(t, b.Committed.Equal(decimal.NewFromInt(10000)))
	require.True(t, b.Available.Equal(decimal.NewFromInt(990000)))
	require.NoError(t, budget.CheckInvariant(b))

	cc := f.center(t)
	require.True(t, cc.Committed.Equal(decimal.NewFromInt(10000)))
}

func TestLargeAmountWalksFullLadder(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 250000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))

	expected := []Status{
		StatusPendingFPAApproval,
		StatusPendingDirectorApproval,
		StatusPendingCFOApproval,
		StatusPendingCEOApproval,
		StatusPendingPaymentApproval,
	}
	for i, want := range expected {
		require.NoError(t, f.svc.Approve(context.Background(), pr.ID, int64(100+i), ""))
		got, err := f.svc.Get(context.Background(), pr.ID)
		require.NoError(t, err)
		require.Equal(t, want, got.Status)
		require.Equal(t, i+1, got.ApprovalLevel)
	}

	history, err := f.svc.ApprovalHistory(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, e := range history {
		require.Equal(t, i+1, e.Level)
		require.Equal(t, ActionApproved, e.Action)
	}
	// Reservation happens once, on payment-approval entry.
	require.True(t, f.bucket(t).Committed.Equal(decimal.NewFromInt(250000)))
}

func TestMidLadderAmountStopsAtDirector(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 50000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, 101, ""))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, 102, ""))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingPaymentApproval, got.Status)
	require.Equal(t, 3, got.ApprovalLevel)
}

func TestQuotationGateBlocksApproval(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 15000, 2)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))

	err := f.svc.Approve(context.Background(), pr.ID, testManagerID, "")
	require.ErrorIs(t, err, ErrInsufficientQuotations)

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingOwnerApproval, got.Status)
	require.Equal(t, 0, got.ApprovalLevel)
	require.True(t, f.bucket(t).Committed.IsZero())
}

func TestRejectLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 15000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Reject(context.Background(), pr.ID, testManagerID, "not justified"))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, got.Status)
	require.NotNil(t, got.RejectedAt)

	b := f.bucket(t)
	require.True(t, b.Committed.IsZero())
	require.True(t, b.Available.Equal(b.Planned))

	err = f.svc.Approve(context.Background(), pr.ID, testManagerID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	rejections := f.notifier.ofType(NotifyRequestRejected)
	require.Len(t, rejections, 1)
	require.Equal(t, int64(1), rejections[0].RecipientID)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 15000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.ErrorIs(t, f.svc.Reject(context.Background(), pr.ID, testManagerID, ""), ErrValidation)
}

func TestCancelAfterCommitReleasesReservation(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 10000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	require.True(t, f.bucket(t).Committed.Equal(decimal.NewFromInt(10000)))

	require.NoError(t, f.svc.Cancel(context.Background(), pr.ID, 1, "duplicate request"))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	b := f.bucket(t)
	require.True(t, b.Committed.IsZero())
	require.True(t, b.Available.Equal(b.Planned))
	require.NoError(t, budget.CheckInvariant(b))
	require.True(t, f.center(t).Committed.IsZero())
}

func TestCancelBeforeCommitSkipsLedger(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 10000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Cancel(context.Background(), pr.ID, 1, "changed plans"))

	b := f.bucket(t)
	require.True(t, b.Committed.IsZero())
	require.True(t, b.Available.Equal(b.Planned))
}

func TestMarkAsPaidMovesCommittedToSpent(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 10000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	require.NoError(t, f.svc.MarkAsPaid(context.Background(), pr.ID, 55, PaymentDetails{Method: "wire", Reference: "TX-123"}))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	require.Equal(t, int64(55), got.Payment.PaidBy)
	require.Equal(t, "TX-123", got.Payment.Reference)

	b := f.bucket(t)
	require.True(t, b.Spent.Equal(decimal.NewFromInt(10000)))
	require.True(t, b.Committed.IsZero())
	require.NoError(t, budget.CheckInvariant(b))

	cc := f.center(t)
	require.True(t, cc.Spent.Equal(decimal.NewFromInt(10000)))
	require.True(t, cc.Committed.IsZero())

	require.Len(t, f.notifier.ofType(NotifyRequestPaid), 1)
}

func TestMarkAsPaidReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 10000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	require.NoError(t, f.svc.MarkAsPaid(context.Background(), pr.ID, 55, PaymentDetails{Method: "wire", Reference: "TX-123"}))
	require.NoError(t, f.svc.MarkAsPaid(context.Background(), pr.ID, 55, PaymentDetails{Method: "wire", Reference: "TX-123"}))

	// Spend applied exactly once.
	b := f.bucket(t)
	require.True(t, b.Spent.Equal(decimal.NewFromInt(10000)))
	require.True(t, f.center(t).Spent.Equal(decimal.NewFromInt(10000)))
	require.Len(t, f.notifier.ofType(NotifyRequestPaid), 1)
}

func TestApproveToPaymentReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 10000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingPaymentApproval, got.Status)
	require.Equal(t, 1, got.ApprovalLevel)
	require.True(t, f.bucket(t).Committed.Equal(decimal.NewFromInt(10000)))
}

func TestSubmitReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 5000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))

	history, err := f.svc.StatusHistory(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Len(t, history, 2) // created + submitted, no duplicate
}

func TestReplayCheckSurfacesMarkerError(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 5000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))

	markerErr := fmt.Errorf("marker lookup failed")
	f.repo.markerErr = markerErr
	err := f.svc.Submit(context.Background(), pr.ID, 1)
	require.ErrorIs(t, err, markerErr)
	require.NotErrorIs(t, err, ErrInvalidTransition)
}

func TestBudgetShortfallAbortsSubmit(t *testing.T) {
	f := newFixture(t)
	f.repo.budgets[1].Planned = decimal.NewFromInt(100)
	f.repo.budgets[1].Available = decimal.NewFromInt(100)
	pr := f.create(t, 5000, 1)

	err := f.svc.Submit(context.Background(), pr.ID, 1)
	require.ErrorIs(t, err, budget.ErrInsufficientBudget)

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingValidation, got.Status)
	require.Nil(t, got.CurrentApproverID)
}

func TestOutOfBudgetRequestSkipsLedger(t *testing.T) {
	f := newFixture(t)
	pr, err := f.svc.Create(context.Background(), CreateInput{
		RequesterID:  1,
		Description:  "unplanned expense",
		Amount:       decimal.NewFromInt(5000),
		VendorID:     testVendor,
		CostCenterID: testCostCenter,
		InBudget:     false,
		InvoiceDate:  time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetQuotationCount(context.Background(), pr.ID, 1, 1))
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))

	// The cost-center counter still tracks the commitment.
	require.True(t, f.bucket(t).Committed.IsZero())
	require.True(t, f.center(t).Committed.Equal(decimal.NewFromInt(5000)))
}

func TestValidateRecordsTaxVariance(t *testing.T) {
	f := newFixture(t)
	// Expected tax for 10000 at 10% is 1000; 900 is outside the tolerance.
	reported := decimal.NewFromInt(900)
	pr, err := f.svc.Create(context.Background(), CreateInput{
		RequesterID:    1,
		Description:    "taxed expense",
		Amount:         decimal.NewFromInt(10000),
		VendorID:       testVendor,
		CostCenterID:   testCostCenter,
		InBudget:       true,
		InvoiceDate:    time.Now(),
		QuotationCount: 1,
		ReportedTax:    &reported,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Validate(context.Background(), pr.ID, 7, "checked"))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	// Variance does not block the chain, it flags the request.
	require.Equal(t, StatusPendingOwnerApproval, got.Status)
	require.Equal(t, TaxCheckPendingAdjustment, got.TaxCheck)
	require.Len(t, f.notifier.ofType(NotifyAdjustmentRequested), 1)
}

func TestValidateWithinToleranceApproves(t *testing.T) {
	f := newFixture(t)
	reported := decimal.RequireFromString("1000.50")
	pr, err := f.svc.Create(context.Background(), CreateInput{
		RequesterID:    1,
		Description:    "taxed expense",
		Amount:         decimal.NewFromInt(10000),
		VendorID:       testVendor,
		CostCenterID:   testCostCenter,
		InvoiceDate:    time.Now(),
		QuotationCount: 1,
		ReportedTax:    &reported,
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Validate(context.Background(), pr.ID, 7, ""))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, TaxCheckApproved, got.TaxCheck)
}

func TestReturnAndResubmitRestartLadder(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 15000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	require.NoError(t, f.svc.Return(context.Background(), pr.ID, 101, "wrong vendor"))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReturned, got.Status)
	require.Len(t, f.notifier.ofType(NotifyRequestReturned), 1)

	require.NoError(t, f.svc.Resubmit(context.Background(), pr.ID, 1))
	got, err = f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingValidation, got.Status)
	require.Equal(t, 0, got.ApprovalLevel)

	// Markers were cleared, the second cycle runs the same transitions again.
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))
	got, err = f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingFPAApproval, got.Status)
	require.Equal(t, 1, got.ApprovalLevel)
}

func TestResubmitOnlyByRequester(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 15000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.RequestAdjustment(context.Background(), pr.ID, testManagerID, "fix contract"))
	require.ErrorIs(t, f.svc.Resubmit(context.Background(), pr.ID, 2), ErrForbidden)
	require.NoError(t, f.svc.Resubmit(context.Background(), pr.ID, 1))
}

func TestAssignedApproverEnforced(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 5000, 1)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.ErrorIs(t, f.svc.Approve(context.Background(), pr.ID, 42, ""), ErrForbidden)
}

func TestPolicyAssignsNextApprover(t *testing.T) {
	f := newFixture(t)
	f.policies.err = nil
	f.policies.pol = policy.Policy{
		ID:        1,
		Name:      "default chain",
		MinAmount: decimal.Zero,
		MaxAmount: decimal.NewFromInt(1000000),
		Status:    policy.StatusActive,
		Approvers: []policy.Approver{
			{Level: 1, UserID: testManagerID, IsRequired: true},
			{Level: 2, UserID: 777, IsRequired: true},
		},
	}
	pr := f.create(t, 15000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Approve(context.Background(), pr.ID, testManagerID, ""))

	got, err := f.svc.Get(context.Background(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingFPAApproval, got.Status)
	require.NotNil(t, got.CurrentApproverID)
	require.Equal(t, int64(777), *got.CurrentApproverID)
}

func TestCancelTerminalFails(t *testing.T) {
	f := newFixture(t)
	pr := f.create(t, 15000, 3)
	require.NoError(t, f.svc.Submit(context.Background(), pr.ID, 1))
	require.NoError(t, f.svc.Reject(context.Background(), pr.ID, testManagerID, "no"))
	require.ErrorIs(t, f.svc.Cancel(context.Background(), pr.ID, 1, "too late"), ErrInvalidTransition)
}
