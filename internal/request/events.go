package request

// Notification types emitted by the workflow.
const (
	NotifyApprovalRequested   = "approval_requested"
	NotifyRequestApproved     = "request_approved"
	NotifyRequestRejected     = "request_rejected"
	NotifyRequestReturned     = "request_returned"
	NotifyAdjustmentRequested = "adjustment_requested"
	NotifyRequestPaid         = "request_paid"
	NotifyRequestCancelled    = "request_cancelled"
)

// Notification priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Event is a notification emitted to the surrounding delivery layer. Emission
// is fire-and-forget; delivery failures never block a transition.
type Event struct {
	RecipientID     int64
	Type            string
	RelatedEntityID string
	Priority        string
}
