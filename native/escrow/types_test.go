package escrow

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestOrderTypeParsing(t *testing.T) {
	for _, raw := range []string{"sell", "Sell", " SELL "} {
		got, err := ParseOrderType(raw)
		if err != nil || got != OrderTypeSell {
			t.Fatalf("parse %q: %v %v", raw, got, err)
		}
	}
	if _, err := ParseOrderType("swap"); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("expected ErrInvalidOrderType, got %v", err)
	}
	if OrderType(9).Valid() {
		t.Fatalf("unexpected valid order type")
	}
}

func TestOrderStatusRoundTrip(t *testing.T) {
	for s := OrderPending; s <= OrderCancelled; s++ {
		parsed, err := ParseOrderStatus(s.String())
		if err != nil || parsed != s {
			t.Fatalf("status %d: %v %v", s, parsed, err)
		}
	}
	if !OrderCompleted.Terminal() || !OrderCancelled.Terminal() || OrderDisputed.Terminal() {
		t.Fatalf("terminal set mismatch")
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	seller := [20]byte{2}
	order := &Order{ID: 1, Type: OrderTypeSell, Amount: uint256.NewInt(10), LPFee: uint256.NewInt(1), Seller: &seller, Status: OrderAccepted}
	clone := order.Clone()
	clone.Amount.SetUint64(99)
	clone.Seller[0] = 9
	if order.Amount.Uint64() != 10 || order.Seller[0] != 2 {
		t.Fatalf("clone shares memory with original")
	}
}

func TestDepositorAndBeneficiary(t *testing.T) {
	buyer, lp := [20]byte{1}, [20]byte{2}
	sell := &Order{Type: OrderTypeSell, Buyer: buyer}
	if dep, ok := sell.Depositor(); !ok || dep != buyer {
		t.Fatalf("sell depositor must be the buyer")
	}
	if _, ok := sell.Beneficiary(); ok {
		t.Fatalf("pending sell order has no beneficiary")
	}
	buy := &Order{Type: OrderTypeBuy, Buyer: buyer}
	if _, ok := buy.Depositor(); ok {
		t.Fatalf("pending buy order has no depositor")
	}
	buy.Seller = &lp
	if dep, _ := buy.Depositor(); dep != lp {
		t.Fatalf("accepted buy depositor must be the LP")
	}
	if ben, _ := buy.Beneficiary(); ben != buyer {
		t.Fatalf("buy beneficiary must be the buyer")
	}
}

func TestSanitizeOrder(t *testing.T) {
	if _, err := SanitizeOrder(&Order{ID: 1, Type: OrderTypeSell, Status: OrderAccepted}); err == nil {
		t.Fatalf("accepted order without seller must be rejected")
	}
	if _, err := SanitizeOrder(&Order{ID: 1, Type: OrderTypeSell, Status: OrderPending, Amount: uint256.NewInt(1), LPFee: uint256.NewInt(2)}); err == nil {
		t.Fatalf("fee above amount must be rejected")
	}
	clean, err := SanitizeOrder(&Order{ID: 1, Type: OrderTypeBuy, Status: OrderPending})
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if clean.Amount == nil || clean.LPFee == nil {
		t.Fatalf("sanitize must fill amounts")
	}
}
