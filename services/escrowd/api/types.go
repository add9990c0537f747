// Package api holds the JSON shapes shared by the escrowd server and its
// client.
package api

import (
	"p2pescrow/crypto"
	"p2pescrow/native/escrow"
)

// Order is the wire form of an escrow order. Amounts are decimal strings.
type Order struct {
	ID            uint64         `json:"id"`
	Type          string         `json:"type"`
	Status        string         `json:"status"`
	Buyer         string         `json:"buyer"`
	Seller        string         `json:"seller,omitempty"`
	Amount        string         `json:"amount"`
	LPFee         string         `json:"lpFee"`
	CreatedAt     int64          `json:"createdAt"`
	AcceptedAt    int64          `json:"acceptedAt,omitempty"`
	PaymentSentAt int64          `json:"paymentSentAt,omitempty"`
	ClosedAt      int64          `json:"closedAt,omitempty"`
	PendingPayout *PendingPayout `json:"pendingPayout,omitempty"`
}

// PayoutLeg is one unpaid transfer of a pending payout.
type PayoutLeg struct {
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// PendingPayout lists legs awaiting reconciliation.
type PendingPayout struct {
	Legs      []PayoutLeg `json:"legs"`
	Attempts  uint32      `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
	UpdatedAt int64       `json:"updatedAt"`
}

// CreateOrderRequest is the body of POST /v1/orders.
type CreateOrderRequest struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// CreateOrderResponse is returned by POST /v1/orders.
type CreateOrderResponse struct {
	ID    uint64 `json:"id"`
	Order *Order `json:"order,omitempty"`
}

// AcceptBuyRequest is the body of POST /v1/orders/{id}/accept-buy.
type AcceptBuyRequest struct {
	Value string `json:"value"`
}

// ResolveRequest is the body of POST /v1/orders/{id}/resolve.
type ResolveRequest struct {
	FavorBuyer bool `json:"favorBuyer"`
}

// OrderList is returned by GET /v1/orders.
type OrderList struct {
	Orders []Order `json:"orders"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Status is returned by GET /v1/status.
type Status struct {
	Paused      bool   `json:"paused"`
	Balance     string `json:"balance"`
	Owner       string `json:"owner"`
	FeeBps      uint32 `json:"feeBps"`
	LastOrderID uint64 `json:"lastOrderId"`
}

// Account is returned by the account endpoints.
type Account struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// CreditRequest is the body of POST /v1/accounts/{addr}/credit.
type CreditRequest struct {
	Amount string `json:"amount"`
}

// Event is one journal entry.
type Event struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OrderID    uint64            `json:"orderId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

// EventList is returned by GET /v1/events.
type EventList struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// ErrorBody is the envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
	Order *Order      `json:"order,omitempty"`
}

// ErrorDetail carries a stable code and a human readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromOrder renders an engine order.
func FromOrder(o *escrow.Order) *Order {
	if o == nil {
		return nil
	}
	out := &Order{
		ID:            o.ID,
		Type:          o.Type.String(),
		Status:        o.Status.String(),
		Buyer:         crypto.FormatAddress(o.Buyer),
		Amount:        "0",
		LPFee:         "0",
		CreatedAt:     o.CreatedAt,
		AcceptedAt:    o.AcceptedAt,
		PaymentSentAt: o.PaymentSentAt,
		ClosedAt:      o.ClosedAt,
	}
	if o.Seller != nil {
		out.Seller = crypto.FormatAddress(*o.Seller)
	}
	if o.Amount != nil {
		out.Amount = o.Amount.Dec()
	}
	if o.LPFee != nil {
		out.LPFee = o.LPFee.Dec()
	}
	return out
}

// FromPendingPayout renders unpaid payout legs.
func FromPendingPayout(p *escrow.PendingPayout) *PendingPayout {
	if p == nil {
		return nil
	}
	out := &PendingPayout{
		Legs:      make([]PayoutLeg, 0, len(p.Legs)),
		Attempts:  p.Attempts,
		LastError: p.LastError,
		UpdatedAt: p.UpdatedAt,
	}
	for _, leg := range p.Legs {
		amount := "0"
		if leg.Amount != nil {
			amount = leg.Amount.Dec()
		}
		out.Legs = append(out.Legs, PayoutLeg{
			Kind:      string(leg.Kind),
			Recipient: crypto.FormatAddress(leg.Recipient),
			Amount:    amount,
		})
	}
	return out
}
