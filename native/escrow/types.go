package escrow

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// OrderType distinguishes which party deposits the custodied asset.
type OrderType uint8

const (
	// OrderTypeSell orders are funded by the buyer at creation.
	OrderTypeSell OrderType = iota + 1
	// OrderTypeBuy orders are funded by the LP when the order is accepted.
	OrderTypeBuy
)

// Valid reports whether the order type is one of the supported variants.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeSell, OrderTypeBuy:
		return true
	default:
		return false
	}
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeSell:
		return "sell"
	case OrderTypeBuy:
		return "buy"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseOrderType accepts the lowercase or capitalised variant name.
func ParseOrderType(raw string) (OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sell":
		return OrderTypeSell, nil
	case "buy":
		return OrderTypeBuy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOrderType, raw)
	}
}

// OrderStatus represents the lifecycle states of an order.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota + 1
	OrderAccepted
	OrderPaymentSent
	OrderCompleted
	OrderDisputed
	OrderCancelled
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderAccepted, OrderPaymentSent, OrderCompleted, OrderDisputed, OrderCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is legal from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderAccepted:
		return "accepted"
	case OrderPaymentSent:
		return "payment_sent"
	case OrderCompleted:
		return "completed"
	case OrderDisputed:
		return "disputed"
	case OrderCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseOrderStatus is the inverse of OrderStatus.String.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	for s := OrderPending; s <= OrderCancelled; s++ {
		if s.String() == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("escrow: unknown order status %q", raw)
}

// Order is a single escrow deal between a buyer and an LP.
type Order struct {
	ID     uint64
	Type   OrderType
	Buyer  [20]byte
	Seller *[20]byte
	Amount *uint256.Int
	LPFee  *uint256.Int
	Status OrderStatus

	CreatedAt     int64
	AcceptedAt    int64
	PaymentSentAt int64
	ClosedAt      int64
}

// Clone returns a deep copy of the order so callers can safely mutate the copy
// without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Amount = cloneAmount(o.Amount)
	clone.LPFee = cloneAmount(o.LPFee)
	if o.Seller != nil {
		seller := *o.Seller
		clone.Seller = &seller
	}
	return &clone
}

// IsParty reports whether addr is the buyer or the accepted seller.
func (o *Order) IsParty(addr [20]byte) bool {
	if o == nil {
		return false
	}
	if o.Buyer == addr {
		return true
	}
	return o.Seller != nil && *o.Seller == addr
}

// Depositor returns the party whose funds are currently held for the order.
// Pending buy orders have no deposit yet.
func (o *Order) Depositor() ([20]byte, bool) {
	switch o.Type {
	case OrderTypeSell:
		return o.Buyer, true
	case OrderTypeBuy:
		if o.Seller == nil {
			return [20]byte{}, false
		}
		return *o.Seller, true
	default:
		return [20]byte{}, false
	}
}

// Beneficiary returns the party that receives the asset, net of fees, when
// the order completes.
func (o *Order) Beneficiary() ([20]byte, bool) {
	switch o.Type {
	case OrderTypeSell:
		if o.Seller == nil {
			return [20]byte{}, false
		}
		return *o.Seller, true
	case OrderTypeBuy:
		return o.Buyer, true
	default:
		return [20]byte{}, false
	}
}

// SanitizeOrder validates the order definition and returns a normalised clone
// with non-nil amounts.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("escrow: nil order")
	}
	if o.ID == 0 {
		return nil, fmt.Errorf("escrow: order id must be positive")
	}
	if !o.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOrderType, o.Type)
	}
	if !o.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid order status: %d", o.Status)
	}
	clone := o.Clone()
	if clone.LPFee.Gt(clone.Amount) {
		return nil, fmt.Errorf("escrow: fee %s exceeds amount %s", clone.LPFee.Dec(), clone.Amount.Dec())
	}
	if clone.Status != OrderPending && clone.Seller == nil {
		return nil, fmt.Errorf("escrow: %s order missing seller", clone.Status)
	}
	return clone, nil
}

// Meta holds the escrow-wide configuration and counters.
type Meta struct {
	Owner       [20]byte
	FeeBps      uint32
	Paused      bool
	NextOrderID uint64
}

// PayoutKind labels a single leg of a settlement.
type PayoutKind string

const (
	PayoutKindNet    PayoutKind = "payout"
	PayoutKindFee    PayoutKind = "fee"
	PayoutKindRefund PayoutKind = "refund"
)

// PayoutLeg is one custody transfer owed as part of settling an order.
type PayoutLeg struct {
	Kind      PayoutKind
	Recipient [20]byte
	Amount    *uint256.Int
}

// PendingPayout records legs that could not be transferred after the order
// had already been committed to a terminal status.
type PendingPayout struct {
	OrderID   uint64
	Legs      []PayoutLeg
	UpdatedAt int64
	Attempts  uint32
	LastError string
}

// Total sums the outstanding amounts.
func (p *PendingPayout) Total() *uint256.Int {
	total := uint256.NewInt(0)
	if p == nil {
		return total
	}
	for _, leg := range p.Legs {
		if leg.Amount != nil {
			total.Add(total, leg.Amount)
		}
	}
	return total
}

// Clone returns a deep copy of the pending payout.
func (p *PendingPayout) Clone() *PendingPayout {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Legs = make([]PayoutLeg, len(p.Legs))
	for i, leg := range p.Legs {
		clone.Legs[i] = PayoutLeg{Kind: leg.Kind, Recipient: leg.Recipient, Amount: cloneAmount(leg.Amount)}
	}
	return &clone
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}
