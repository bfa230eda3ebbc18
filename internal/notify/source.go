package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/approvia/approvia/internal/request"
)

type requestGetter interface {
	Get(ctx context.Context, id uuid.UUID) (request.PaymentRequest, error)
}

type requestSource struct {
	repo requestGetter
}

// NewRequestSource adapts the payment request repository to the message
// building port.
func NewRequestSource(repo requestGetter) RequestSource {
	return requestSource{repo: repo}
}

func (s requestSource) RequestInfo(ctx context.Context, id string) (RequestInfo, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return RequestInfo{}, err
	}
	pr, err := s.repo.Get(ctx, rid)
	if err != nil {
		return RequestInfo{}, err
	}
	return RequestInfo{Number: pr.Number, Amount: pr.Amount, Currency: pr.Currency}, nil
}
