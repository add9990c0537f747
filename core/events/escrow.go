package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"p2pescrow/core/types"
)

const (
	TypeOrderCreated    = "escrow.order.created"
	TypeOrderAccepted   = "escrow.order.accepted"
	TypePaymentSent     = "escrow.order.payment_sent"
	TypeOrderCompleted  = "escrow.order.completed"
	TypeOrderCancelled  = "escrow.order.cancelled"
	TypeDisputeCreated  = "escrow.dispute.created"
	TypeDisputeResolved = "escrow.dispute.resolved"
	TypePaused          = "escrow.paused"
	TypeUnpaused        = "escrow.unpaused"
	TypePayoutFailed    = "escrow.payout.failed"
	TypePayoutSettled   = "escrow.payout.settled"
)

type OrderCreated struct {
	OrderID   uint64
	Buyer     [20]byte
	OrderType string
	Amount    *uint256.Int
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

func (e OrderCreated) OrderRef() uint64 { return e.OrderID }

func (e OrderCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCreated,
		Attributes: map[string]string{
			"orderId": formatID(e.OrderID),
			"buyer":   formatAddress(e.Buyer),
			"type":    e.OrderType,
			"amount":  formatAmount(e.Amount),
		},
	}
}

type OrderAccepted struct {
	OrderID uint64
	Seller  [20]byte
	Amount  *uint256.Int
}

func (OrderAccepted) EventType() string { return TypeOrderAccepted }

func (e OrderAccepted) OrderRef() uint64 { return e.OrderID }

func (e OrderAccepted) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderAccepted,
		Attributes: map[string]string{
			"orderId": formatID(e.OrderID),
			"seller":  formatAddress(e.Seller),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type PaymentSent struct {
	OrderID uint64
	Buyer   [20]byte
}

func (PaymentSent) EventType() string { return TypePaymentSent }

func (e PaymentSent) OrderRef() uint64 { return e.OrderID }

func (e PaymentSent) Event() *types.Event {
	return &types.Event{
		Type: TypePaymentSent,
		Attributes: map[string]string{
			"orderId": formatID(e.OrderID),
			"buyer":   formatAddress(e.Buyer),
		},
	}
}

type OrderCompleted struct {
	OrderID uint64
}

func (OrderCompleted) EventType() string { return TypeOrderCompleted }

func (e OrderCompleted) OrderRef() uint64 { return e.OrderID }

func (e OrderCompleted) Event() *types.Event {
	return &types.Event{
		Type:       TypeOrderCompleted,
		Attributes: map[string]string{"orderId": formatID(e.OrderID)},
	}
}

type OrderCancelled struct {
	OrderID uint64
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func (e OrderCancelled) OrderRef() uint64 { return e.OrderID }

func (e OrderCancelled) Event() *types.Event {
	return &types.Event{
		Type:       TypeOrderCancelled,
		Attributes: map[string]string{"orderId": formatID(e.OrderID)},
	}
}

type DisputeCreated struct {
	OrderID   uint64
	Initiator [20]byte
}

func (DisputeCreated) EventType() string { return TypeDisputeCreated }

func (e DisputeCreated) OrderRef() uint64 { return e.OrderID }

func (e DisputeCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeCreated,
		Attributes: map[string]string{
			"orderId":   formatID(e.OrderID),
			"initiator": formatAddress(e.Initiator),
		},
	}
}

type DisputeResolved struct {
	OrderID    uint64
	FavorBuyer bool
}

func (DisputeResolved) EventType() string { return TypeDisputeResolved }

func (e DisputeResolved) OrderRef() uint64 { return e.OrderID }

func (e DisputeResolved) Event() *types.Event {
	return &types.Event{
		Type: TypeDisputeResolved,
		Attributes: map[string]string{
			"orderId":    formatID(e.OrderID),
			"favorBuyer": strconv.FormatBool(e.FavorBuyer),
		},
	}
}

// PauseChanged reports an owner toggling the pause flag. Repeated calls that
// re-assert the current value are still emitted.
type PauseChanged struct {
	By     [20]byte
	Paused bool
}

func (e PauseChanged) EventType() string {
	if e.Paused {
		return TypePaused
	}
	return TypeUnpaused
}

func (e PauseChanged) Event() *types.Event {
	return &types.Event{
		Type:       e.EventType(),
		Attributes: map[string]string{"by": formatAddress(e.By)},
	}
}

// PayoutFailed is emitted when a custody transfer fails after the order has
// already reached a terminal status.
type PayoutFailed struct {
	OrderID     uint64
	Legs        int
	Outstanding *uint256.Int
	Reason      string
	Attempt     uint32
}

func (PayoutFailed) EventType() string { return TypePayoutFailed }

func (e PayoutFailed) OrderRef() uint64 { return e.OrderID }

func (e PayoutFailed) Event() *types.Event {
	attrs := map[string]string{
		"orderId":     formatID(e.OrderID),
		"legs":        strconv.Itoa(e.Legs),
		"outstanding": formatAmount(e.Outstanding),
		"attempt":     strconv.FormatUint(uint64(e.Attempt), 10),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypePayoutFailed, Attributes: attrs}
}

type PayoutSettled struct {
	OrderID uint64
}

func (PayoutSettled) EventType() string { return TypePayoutSettled }

func (e PayoutSettled) OrderRef() uint64 { return e.OrderID }

func (e PayoutSettled) Event() *types.Event {
	return &types.Event{
		Type:       TypePayoutSettled,
		Attributes: map[string]string{"orderId": formatID(e.OrderID)},
	}
}
