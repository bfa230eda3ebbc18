package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	ListForRecipient(ctx context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]Notification, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, id, recipientID int64) error
	MarkAllRead(ctx context.Context, recipientID int64) error
}

// RequestInfo is the slice of a payment request needed to word a message.
type RequestInfo struct {
	Number   string
	Amount   decimal.Decimal
	Currency string
}

// RequestSource resolves request details for message building.
type RequestSource interface {
	RequestInfo(ctx context.Context, id string) (RequestInfo, error)
}

// Service persists and serves in-app notifications.
type Service struct {
	repo     RepositoryPort
	requests RequestSource
	logger   *slog.Logger
	printer  *message.Printer
}

// NewService constructs the notification service.
func NewService(repo RepositoryPort, requests RequestSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		requests: requests,
		logger:   logger,
		printer:  message.NewPrinter(language.English),
	}
}

// DispatchInput is one workflow event to turn into a stored notification.
type DispatchInput struct {
	RecipientID     int64
	Type            string
	RelatedEntityID string
	Priority        string
}

var titles = map[string]string{
	"approval_requested":   "Approval requested",
	"request_approved":     "Request approved",
	"request_rejected":     "Request rejected",
	"request_returned":     "Request returned",
	"adjustment_requested": "Adjustment requested",
	"request_paid":         "Request paid",
	"request_cancelled":    "Request cancelled",
}

// Dispatch stores the notification, wording the message from the underlying
// request when it can still be resolved.
func (s *Service) Dispatch(ctx context.Context, input DispatchInput) (Notification, error) {
	if input.RecipientID == 0 {
		return Notification{}, fmt.Errorf("%w: recipient required", ErrValidation)
	}
	title, ok := titles[input.Type]
	if !ok {
		return Notification{}, fmt.Errorf("%w: unknown notification type %q", ErrValidation, input.Type)
	}
	body := title
	if s.requests != nil && input.RelatedEntityID != "" {
		info, err := s.requests.RequestInfo(ctx, input.RelatedEntityID)
		if err != nil {
			s.logger.Warn("resolve request for notification", slog.String("request_id", input.RelatedEntityID), slog.Any("error", err))
		} else {
			body = fmt.Sprintf("%s: %s (%s)", title, info.Number, s.formatAmount(info.Amount, info.Currency))
		}
	}
	priority := input.Priority
	if priority == "" {
		priority = "normal"
	}
	return s.repo.Create(ctx, Notification{
		RecipientID:     input.RecipientID,
		Type:            input.Type,
		Title:           title,
		Message:         body,
		RelatedEntityID: input.RelatedEntityID,
		Priority:        priority,
	})
}

func (s *Service) formatAmount(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%s %s", code, amount.StringFixed(2))
	}
	value, _ := amount.Float64()
	return s.printer.Sprintf("%v", currency.Symbol(unit.Amount(value)))
}

// ListForRecipient returns a recipient's notifications.
func (s *Service) ListForRecipient(ctx context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]Notification, error) {
	return s.repo.ListForRecipient(ctx, recipientID, unreadOnly, limit, offset)
}

// UnreadCount returns the unread badge count.
func (s *Service) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	return s.repo.UnreadCount(ctx, recipientID)
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, id, recipientID int64) error {
	return s.repo.MarkRead(ctx, id, recipientID)
}

// MarkAllRead flags all of a recipient's notifications as read.
func (s *Service) MarkAllRead(ctx context.Context, recipientID int64) error {
	return s.repo.MarkAllRead(ctx, recipientID)
}
