package escrow

import (
	"fmt"

	"p2pescrow/core/events"
)

// CreateDispute escalates an order whose payment is contested. Either party
// may open it once payment was reported sent.
func (e *Engine) CreateDispute(caller [20]byte, id uint64) error {
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if !order.IsParty(caller) {
			return nil, fmt.Errorf("%w: only the buyer or seller may dispute", ErrUnauthorized)
		}
		if order.Status != OrderPaymentSent {
			return nil, statusError("dispute", order.Status)
		}
		order.Status = OrderDisputed
		if err := e.state.OrderPut(order); err != nil {
			return nil, fmt.Errorf("escrow: persist order %d: %w", order.ID, err)
		}
		return []events.Event{events.DisputeCreated{OrderID: order.ID, Initiator: caller}}, nil
	})
}

// ResolveDispute closes a disputed order under arbitration. In favour of the
// buyer the depositor is refunded and the order is cancelled; otherwise the
// order completes with the regular payout.
func (e *Engine) ResolveDispute(caller [20]byte, id uint64, favorBuyer bool) error {
	if err := e.guard.CheckActive(); err != nil {
		return err
	}
	if err := e.guard.RequireOwner(caller); err != nil {
		return err
	}
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if order.Status != OrderDisputed {
			return nil, statusError("resolve dispute", order.Status)
		}
		resolved := events.DisputeResolved{OrderID: order.ID, FavorBuyer: favorBuyer}
		order.ClosedAt = e.now()
		if favorBuyer {
			legs := refundLegs(order)
			order.Status = OrderCancelled
			return e.commitAndSettle(order, legs, resolved, events.OrderCancelled{OrderID: order.ID})
		}
		legs, err := e.payoutLegs(order)
		if err != nil {
			return nil, err
		}
		order.Status = OrderCompleted
		return e.commitAndSettle(order, legs, resolved, events.OrderCompleted{OrderID: order.ID})
	})
}
