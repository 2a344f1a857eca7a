package exchange

import (
	"context"
	"errors"
	"fmt"

	"intentbot/internal/models"
)

var ErrCancelNotConfirmed = errors.New("отмена ордера не подтверждена, замена прервана")

type Replacer interface {
	CancelOrder(ctx context.Context, id string) (*models.ExchangeOrder, error)
	Order(ctx context.Context, order models.Order) (models.ExchangeOrder, error)
}

// ReplaceOrder amends an order as cancel then create. The replacement is
// only submitted once the venue confirms the cancel; an order that filled in
// the meantime is returned as is.
func ReplaceOrder(ctx context.Context, venue Replacer, current models.ExchangeOrder, patch OrderPatch) (*models.ExchangeOrder, error) {
	canceled, err := venue.CancelOrder(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelNotConfirmed, err)
	}
	if canceled == nil {
		return nil, fmt.Errorf("%w: ордер %s не найден", ErrCancelNotConfirmed, current.ID)
	}
	switch canceled.Status {
	case models.OrderStatusCanceled:
	case models.OrderStatusDone:
		return canceled, nil
	default:
		return nil, fmt.Errorf("%w: статус %s", ErrCancelNotConfirmed, canceled.Status)
	}

	desired := patch.Apply(current.Desired())
	created, err := venue.Order(ctx, desired)
	if err != nil {
		return nil, fmt.Errorf("ордер %s отменён, замена не создана: %w", current.ID, err)
	}
	return &created, nil
}
