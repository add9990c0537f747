package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"p2pescrow/native/escrow"
)

type storedOrder struct {
	ID            uint64
	Type          uint8
	Buyer         [20]byte
	Seller        []byte
	Amount        *big.Int
	LPFee         *big.Int
	Status        uint8
	CreatedAt     uint64
	AcceptedAt    uint64
	PaymentSentAt uint64
	ClosedAt      uint64
}

type storedMeta struct {
	Owner       [20]byte
	FeeBps      uint32
	Paused      bool
	NextOrderID uint64
}

type storedPayoutLeg struct {
	Kind      string
	Recipient [20]byte
	Amount    *big.Int
}

type storedPendingPayout struct {
	OrderID   uint64
	Legs      []storedPayoutLeg
	UpdatedAt uint64
	Attempts  uint32
	LastError string
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: amount %s exceeds 256 bits", v)
	}
	return out, nil
}

func sanitizeUnix(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func newStoredOrder(o *escrow.Order) *storedOrder {
	stored := &storedOrder{
		ID:            o.ID,
		Type:          uint8(o.Type),
		Buyer:         o.Buyer,
		Amount:        toBig(o.Amount),
		LPFee:         toBig(o.LPFee),
		Status:        uint8(o.Status),
		CreatedAt:     sanitizeUnix(o.CreatedAt),
		AcceptedAt:    sanitizeUnix(o.AcceptedAt),
		PaymentSentAt: sanitizeUnix(o.PaymentSentAt),
		ClosedAt:      sanitizeUnix(o.ClosedAt),
	}
	if o.Seller != nil {
		stored.Seller = append([]byte(nil), o.Seller[:]...)
	}
	return stored
}

func (s *storedOrder) toOrder() (*escrow.Order, error) {
	amount, err := fromBig(s.Amount)
	if err != nil {
		return nil, err
	}
	fee, err := fromBig(s.LPFee)
	if err != nil {
		return nil, err
	}
	order := &escrow.Order{
		ID:            s.ID,
		Type:          escrow.OrderType(s.Type),
		Buyer:         s.Buyer,
		Amount:        amount,
		LPFee:         fee,
		Status:        escrow.OrderStatus(s.Status),
		CreatedAt:     int64(s.CreatedAt),
		AcceptedAt:    int64(s.AcceptedAt),
		PaymentSentAt: int64(s.PaymentSentAt),
		ClosedAt:      int64(s.ClosedAt),
	}
	switch len(s.Seller) {
	case 0:
	case 20:
		var seller [20]byte
		copy(seller[:], s.Seller)
		order.Seller = &seller
	default:
		return nil, fmt.Errorf("state: order %d seller must be 20 bytes, got %d", s.ID, len(s.Seller))
	}
	return order, nil
}

// OrderPut validates and stores the order record.
func (m *Manager) OrderPut(order *escrow.Order) error {
	sanitized, err := escrow.SanitizeOrder(order)
	if err != nil {
		return err
	}
	return m.KVPut(OrderKey(sanitized.ID), newStoredOrder(sanitized))
}

// OrderGet loads an order by id.
func (m *Manager) OrderGet(id uint64) (*escrow.Order, bool, error) {
	var stored storedOrder
	ok, err := m.KVGet(OrderKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	order, err := stored.toOrder()
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}

// EscrowMetaPut stores the escrow-wide configuration and counters.
func (m *Manager) EscrowMetaPut(meta *escrow.Meta) error {
	if meta == nil {
		return fmt.Errorf("state: nil escrow meta")
	}
	return m.KVPut(escrowMetaKey, storedMeta{
		Owner:       meta.Owner,
		FeeBps:      meta.FeeBps,
		Paused:      meta.Paused,
		NextOrderID: meta.NextOrderID,
	})
}

// EscrowMetaGet loads the escrow-wide configuration and counters.
func (m *Manager) EscrowMetaGet() (*escrow.Meta, bool, error) {
	var stored storedMeta
	ok, err := m.KVGet(escrowMetaKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &escrow.Meta{
		Owner:       stored.Owner,
		FeeBps:      stored.FeeBps,
		Paused:      stored.Paused,
		NextOrderID: stored.NextOrderID,
	}, true, nil
}

// PendingPayoutPut records the unpaid legs of an order.
func (m *Manager) PendingPayoutPut(p *escrow.PendingPayout) error {
	if p == nil || p.OrderID == 0 {
		return fmt.Errorf("state: pending payout requires an order id")
	}
	stored := storedPendingPayout{
		OrderID:   p.OrderID,
		Legs:      make([]storedPayoutLeg, 0, len(p.Legs)),
		UpdatedAt: sanitizeUnix(p.UpdatedAt),
		Attempts:  p.Attempts,
		LastError: p.LastError,
	}
	for _, leg := range p.Legs {
		stored.Legs = append(stored.Legs, storedPayoutLeg{
			Kind:      string(leg.Kind),
			Recipient: leg.Recipient,
			Amount:    toBig(leg.Amount),
		})
	}
	return m.KVPut(PendingPayoutKey(p.OrderID), stored)
}

// PendingPayoutGet loads the unpaid legs of an order.
func (m *Manager) PendingPayoutGet(id uint64) (*escrow.PendingPayout, bool, error) {
	var stored storedPendingPayout
	ok, err := m.KVGet(PendingPayoutKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	out := &escrow.PendingPayout{
		OrderID:   stored.OrderID,
		Legs:      make([]escrow.PayoutLeg, 0, len(stored.Legs)),
		UpdatedAt: int64(stored.UpdatedAt),
		Attempts:  stored.Attempts,
		LastError: stored.LastError,
	}
	for _, leg := range stored.Legs {
		amount, err := fromBig(leg.Amount)
		if err != nil {
			return nil, false, err
		}
		out.Legs = append(out.Legs, escrow.PayoutLeg{
			Kind:      escrow.PayoutKind(leg.Kind),
			Recipient: leg.Recipient,
			Amount:    amount,
		})
	}
	return out, true, nil
}

// PendingPayoutDelete clears the pending payout of an order.
func (m *Manager) PendingPayoutDelete(id uint64) error {
	return m.KVDelete(PendingPayoutKey(id))
}

var _ escrow.State = (*Manager)(nil)
