package escrow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"p2pescrow/core/events"
)

var (
	ownerAddr = [20]byte{0xAA}
	buyerAddr = [20]byte{0x01}
	lpAddr    = [20]byte{0x02}
	strangerA = [20]byte{0x03}
)

type harness struct {
	engine   *Engine
	state    *mockState
	ledger   *mockLedger
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	state := newMockState()
	ledger := newMockLedger()
	engine, err := NewEngine(state, ledger, Config{Owner: ownerAddr, FeeBps: 200})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	ledger.fund(buyerAddr, 10_000)
	ledger.fund(lpAddr, 10_000)
	return &harness{engine: engine, state: state, ledger: ledger, recorder: recorder}
}

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func (h *harness) mustCreate(t *testing.T, typ OrderType, value uint64) uint64 {
	t.Helper()
	id, err := h.engine.CreateOrder(buyerAddr, typ, amt(value))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return id
}

func (h *harness) order(t *testing.T, id uint64) *Order {
	t.Helper()
	order, ok := h.engine.GetOrder(id)
	if !ok {
		t.Fatalf("order %d not found", id)
	}
	return order
}

// sellToPaymentSent drives a 1000 sell order to PaymentSent.
func (h *harness) sellToPaymentSent(t *testing.T) uint64 {
	t.Helper()
	id := h.mustCreate(t, OrderTypeSell, 1000)
	if err := h.engine.AcceptOrder(lpAddr, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.engine.ConfirmPaymentSent(buyerAddr, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return id
}

// buyToPaymentSent drives a buy order funded with 1000 by the LP to
// PaymentSent.
func (h *harness) buyToPaymentSent(t *testing.T) uint64 {
	t.Helper()
	id := h.mustCreate(t, OrderTypeBuy, 0)
	if err := h.engine.AcceptBuyOrder(lpAddr, id, amt(1000)); err != nil {
		t.Fatalf("accept buy: %v", err)
	}
	if err := h.engine.ConfirmPaymentSent(buyerAddr, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return id
}

func TestNewEngineFeeBounds(t *testing.T) {
	if _, err := NewEngine(newMockState(), newMockLedger(), Config{Owner: ownerAddr, FeeBps: MaxFeeBps}); err != nil {
		t.Fatalf("10000 bps must be accepted: %v", err)
	}
	if _, err := NewEngine(newMockState(), newMockLedger(), Config{Owner: ownerAddr, FeeBps: MaxFeeBps + 1}); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("expected ErrInvalidFeeRate, got %v", err)
	}
}

func TestNewEngineReopensPersistedMeta(t *testing.T) {
	state := newMockState()
	ledger := newMockLedger()
	ledger.fund(buyerAddr, 100)
	first, err := NewEngine(state, ledger, Config{Owner: ownerAddr, FeeBps: 200})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := first.CreateOrder(buyerAddr, OrderTypeSell, amt(10)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := first.Pause(ownerAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}

	second, err := NewEngine(state, ledger, Config{Owner: ownerAddr, FeeBps: 200})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !second.IsPaused() {
		t.Fatalf("pause flag must survive reopen")
	}
	if err := second.Unpause(ownerAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	id, err := second.CreateOrder(buyerAddr, OrderTypeBuy, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected id 2 after reopen, got %d", id)
	}
	if _, err := NewEngine(state, ledger, Config{Owner: strangerA, FeeBps: 200}); err == nil {
		t.Fatalf("owner mismatch must be rejected")
	}
	if _, err := NewEngine(state, ledger, Config{Owner: ownerAddr, FeeBps: 300}); !errors.Is(err, ErrInvalidFeeRate) {
		t.Fatalf("fee mismatch must be rejected, got %v", err)
	}
}

func TestSequentialOrderIDs(t *testing.T) {
	h := newHarness(t)
	if id := h.mustCreate(t, OrderTypeSell, 100); id != 1 {
		t.Fatalf("first id = %d", id)
	}
	if id := h.mustCreate(t, OrderTypeBuy, 0); id != 2 {
		t.Fatalf("second id = %d", id)
	}
	if id := h.mustCreate(t, OrderTypeSell, 5); id != 3 {
		t.Fatalf("third id = %d", id)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.CreateOrder(buyerAddr, OrderTypeSell, amt(0)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("sell with zero value: %v", err)
	}
	if _, err := h.engine.CreateOrder(buyerAddr, OrderTypeBuy, amt(1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("buy with value: %v", err)
	}
	if _, err := h.engine.CreateOrder(buyerAddr, OrderType(7), amt(1)); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("unknown type: %v", err)
	}
	if _, err := h.engine.CreateOrder(strangerA, OrderTypeSell, amt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("unfunded deposit: %v", err)
	}
	if len(h.state.orders) != 0 || h.state.meta.NextOrderID != 1 {
		t.Fatalf("failed creations must not persist state")
	}

	id := h.mustCreate(t, OrderTypeBuy, 0)
	order := h.order(t, id)
	if !order.Amount.IsZero() || !order.LPFee.IsZero() || order.Status != OrderPending || order.Seller != nil {
		t.Fatalf("unexpected buy order %+v", order)
	}
	if order.CreatedAt != 1_700_000_000 {
		t.Fatalf("created at = %d", order.CreatedAt)
	}
}

func TestCreateSellFixesAmountAndFee(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)
	order := h.order(t, id)
	if order.Amount.Uint64() != 1000 || order.LPFee.Uint64() != 20 {
		t.Fatalf("amount/fee = %s/%s", order.Amount.Dec(), order.LPFee.Dec())
	}
	if h.engine.Balance().Uint64() != 1000 {
		t.Fatalf("custody balance = %s", h.engine.Balance().Dec())
	}
	if h.ledger.balanceOf(buyerAddr) != 9000 {
		t.Fatalf("buyer balance = %d", h.ledger.balanceOf(buyerAddr))
	}
}

func TestCreateOrderRefundsDepositWhenPersistFails(t *testing.T) {
	h := newHarness(t)
	h.state.failOrderPut = true
	if _, err := h.engine.CreateOrder(buyerAddr, OrderTypeSell, amt(500)); err == nil {
		t.Fatalf("expected persist failure")
	}
	if h.ledger.balanceOf(buyerAddr) != 10_000 || !h.engine.Balance().IsZero() {
		t.Fatalf("deposit must be returned")
	}
	h.state.failOrderPut = false
	// The consumed id is not reused.
	if id := h.mustCreate(t, OrderTypeSell, 1); id != 2 {
		t.Fatalf("expected id 2, got %d", id)
	}
}

func TestDoubleAcceptAndMissingOrder(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)
	if err := h.engine.AcceptOrder(lpAddr, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.engine.AcceptOrder(strangerA, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second accept: %v", err)
	}
	if seller := h.order(t, id).Seller; seller == nil || *seller != lpAddr {
		t.Fatalf("seller must stay fixed")
	}
	if err := h.engine.AcceptOrder(lpAddr, 99); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("missing order: %v", err)
	}
}

func TestAcceptRejectsWrongOrderType(t *testing.T) {
	h := newHarness(t)
	buyID := h.mustCreate(t, OrderTypeBuy, 0)
	sellID := h.mustCreate(t, OrderTypeSell, 10)
	if err := h.engine.AcceptOrder(lpAddr, buyID); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("accept on buy: %v", err)
	}
	if err := h.engine.AcceptBuyOrder(lpAddr, sellID, amt(10)); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("accept-buy on sell: %v", err)
	}
	if err := h.engine.AcceptBuyOrder(lpAddr, buyID, amt(0)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("accept-buy without deposit: %v", err)
	}
	if err := h.engine.AcceptBuyOrder(strangerA, buyID, amt(10)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("accept-buy unfunded: %v", err)
	}
	if h.order(t, buyID).Status != OrderPending {
		t.Fatalf("failed accept must not change state")
	}
}

func TestAuthorization(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)
	if err := h.engine.CancelOrder(lpAddr, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cancel by non-buyer: %v", err)
	}
	if err := h.engine.AcceptOrder(lpAddr, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.engine.ConfirmPaymentSent(lpAddr, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("confirm by seller: %v", err)
	}
	if err := h.engine.ConfirmPaymentSent(buyerAddr, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := h.engine.CompleteOrder(strangerA, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("complete by stranger: %v", err)
	}
	if err := h.engine.CreateDispute(strangerA, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("dispute by stranger: %v", err)
	}
}

func TestSellHappyPath(t *testing.T) {
	for name, completer := range map[string][20]byte{"buyer": buyerAddr, "seller": lpAddr} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			id := h.sellToPaymentSent(t)
			if err := h.engine.CompleteOrder(completer, id); err != nil {
				t.Fatalf("complete: %v", err)
			}
			order := h.order(t, id)
			if order.Status != OrderCompleted || order.ClosedAt == 0 {
				t.Fatalf("unexpected order %+v", order)
			}
			if got := h.ledger.balanceOf(lpAddr); got != 10_980 {
				t.Fatalf("seller balance = %d", got)
			}
			if got := h.ledger.balanceOf(ownerAddr); got != 20 {
				t.Fatalf("owner balance = %d", got)
			}
			if !h.engine.Balance().IsZero() {
				t.Fatalf("custody must be empty")
			}
			if err := h.engine.CompleteOrder(completer, id); !errors.Is(err, ErrInvalidStatus) {
				t.Fatalf("completed order is terminal: %v", err)
			}
		})
	}
}

func TestBuyHappyPath(t *testing.T) {
	h := newHarness(t)
	id := h.buyToPaymentSent(t)
	order := h.order(t, id)
	if order.Amount.Uint64() != 1000 || order.LPFee.Uint64() != 20 || order.Seller == nil || *order.Seller != lpAddr {
		t.Fatalf("acceptance must fix amount, fee and seller: %+v", order)
	}
	if err := h.engine.CompleteOrder(buyerAddr, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := h.ledger.balanceOf(buyerAddr); got != 10_980 {
		t.Fatalf("buyer balance = %d", got)
	}
	if got := h.ledger.balanceOf(lpAddr); got != 9000 {
		t.Fatalf("lp balance = %d", got)
	}
	if got := h.ledger.balanceOf(ownerAddr); got != 20 {
		t.Fatalf("owner balance = %d", got)
	}
}

func TestCancelPendingSellRefundsBuyer(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)
	if err := h.engine.CancelOrder(buyerAddr, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.order(t, id).Status != OrderCancelled {
		t.Fatalf("expected cancelled")
	}
	if h.ledger.balanceOf(buyerAddr) != 10_000 || !h.engine.Balance().IsZero() {
		t.Fatalf("buyer must be refunded in full")
	}

	accepted := h.mustCreate(t, OrderTypeSell, 10)
	if err := h.engine.AcceptOrder(lpAddr, accepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.engine.CancelOrder(buyerAddr, accepted); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("cancel after accept: %v", err)
	}
}

func TestCancelPendingBuyMovesNoFunds(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeBuy, 0)
	if err := h.engine.CancelOrder(buyerAddr, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.order(t, id).Status != OrderCancelled || h.ledger.balanceOf(buyerAddr) != 10_000 {
		t.Fatalf("unexpected state after buy cancel")
	}
}

func TestDisputeOnlyFromPaymentSent(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)
	if err := h.engine.CreateDispute(buyerAddr, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("dispute while pending: %v", err)
	}
	if err := h.engine.ResolveDispute(ownerAddr, id, true); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("resolve while pending: %v", err)
	}
}

func TestResolveDisputeInFavourOfBuyer(t *testing.T) {
	t.Run("sell refunds buyer", func(t *testing.T) {
		h := newHarness(t)
		id := h.sellToPaymentSent(t)
		if err := h.engine.CreateDispute(lpAddr, id); err != nil {
			t.Fatalf("dispute: %v", err)
		}
		if err := h.engine.ResolveDispute(buyerAddr, id, true); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("resolve by buyer: %v", err)
		}
		if err := h.engine.ResolveDispute(ownerAddr, id, true); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if h.order(t, id).Status != OrderCancelled || h.ledger.balanceOf(buyerAddr) != 10_000 {
			t.Fatalf("buyer must be refunded")
		}
	})
	t.Run("buy refunds lp", func(t *testing.T) {
		h := newHarness(t)
		id := h.buyToPaymentSent(t)
		if err := h.engine.CreateDispute(buyerAddr, id); err != nil {
			t.Fatalf("dispute: %v", err)
		}
		if err := h.engine.ResolveDispute(ownerAddr, id, true); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if h.order(t, id).Status != OrderCancelled || h.ledger.balanceOf(lpAddr) != 10_000 {
			t.Fatalf("lp must be refunded as depositor")
		}
		if h.ledger.balanceOf(ownerAddr) != 0 {
			t.Fatalf("refund charges no fee")
		}
	})
}

func TestResolveDisputeInFavourOfSeller(t *testing.T) {
	h := newHarness(t)
	id := h.sellToPaymentSent(t)
	if err := h.engine.CreateDispute(buyerAddr, id); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := h.engine.ResolveDispute(ownerAddr, id, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.order(t, id).Status != OrderCompleted {
		t.Fatalf("expected completed")
	}
	if h.ledger.balanceOf(lpAddr) != 10_980 || h.ledger.balanceOf(ownerAddr) != 20 {
		t.Fatalf("payout must match completion")
	}
	if err := h.engine.ResolveDispute(ownerAddr, id, false); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second resolve: %v", err)
	}
}

func TestPauseGatesMutations(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)
	if err := h.engine.Pause(buyerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pause by non-owner: %v", err)
	}
	if err := h.engine.Pause(ownerAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.engine.Pause(ownerAddr); err != nil {
		t.Fatalf("pause is idempotent: %v", err)
	}
	if _, err := h.engine.CreateOrder(buyerAddr, OrderTypeSell, amt(1)); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("create while paused: %v", err)
	}
	// Pause wins over every other validation error.
	if err := h.engine.AcceptOrder(lpAddr, 404); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("accept missing while paused: %v", err)
	}
	if err := h.engine.ResolveDispute(strangerA, id, true); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("resolve while paused: %v", err)
	}
	if _, ok := h.engine.GetOrder(id); !ok || !h.engine.IsPaused() {
		t.Fatalf("reads must stay available while paused")
	}
	if err := h.engine.Unpause(lpAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unpause by non-owner: %v", err)
	}
	if err := h.engine.Unpause(ownerAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := h.engine.AcceptOrder(lpAddr, id); err != nil {
		t.Fatalf("accept after unpause: %v", err)
	}
}

func TestTransferFailureLeavesPendingPayout(t *testing.T) {
	h := newHarness(t)
	id := h.sellToPaymentSent(t)
	h.ledger.setReject(ownerAddr, true)

	err := h.engine.CompleteOrder(buyerAddr, id)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if h.order(t, id).Status != OrderCompleted {
		t.Fatalf("order must already be terminal")
	}
	if h.ledger.balanceOf(lpAddr) != 10_980 {
		t.Fatalf("legs before the failure are paid")
	}
	pending, ok := h.engine.PendingPayouts(id)
	if !ok || len(pending.Legs) != 1 || pending.Legs[0].Kind != PayoutKindFee || pending.Total().Uint64() != 20 {
		t.Fatalf("unexpected pending payout %+v", pending)
	}

	if err := h.engine.RetryPayout(buyerAddr, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("retry by non-owner: %v", err)
	}
	if err := h.engine.RetryPayout(ownerAddr, id); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("retry while still rejecting: %v", err)
	}
	if pending, _ := h.engine.PendingPayouts(id); pending.Attempts != 2 {
		t.Fatalf("attempts = %d", pending.Attempts)
	}

	h.ledger.setReject(ownerAddr, false)
	if err := h.engine.RetryPayout(ownerAddr, id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok := h.engine.PendingPayouts(id); ok {
		t.Fatalf("pending payout must be cleared")
	}
	if h.ledger.balanceOf(ownerAddr) != 20 {
		t.Fatalf("owner fee must be settled")
	}
	if err := h.engine.RetryPayout(ownerAddr, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("retry without pending payout: %v", err)
	}

	types := h.recorder.Types()
	want := []string{
		events.TypeOrderCreated, events.TypeOrderAccepted, events.TypePaymentSent,
		events.TypeOrderCompleted, events.TypePayoutFailed, events.TypePayoutFailed, events.TypePayoutSettled,
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestEventsEmittedInOrder(t *testing.T) {
	h := newHarness(t)
	id := h.sellToPaymentSent(t)
	if err := h.engine.CreateDispute(buyerAddr, id); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := h.engine.ResolveDispute(ownerAddr, id, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := h.recorder.Events()
	last, ok := got[len(got)-1].(events.OrderCancelled)
	if !ok || last.OrderID != id {
		t.Fatalf("last event = %#v", got[len(got)-1])
	}
	resolved, ok := got[len(got)-2].(events.DisputeResolved)
	if !ok || !resolved.FavorBuyer {
		t.Fatalf("expected dispute resolution event, got %#v", got[len(got)-2])
	}
}

func TestConcurrentAcceptHasSingleWinner(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeSell, 1000)

	const contenders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := [20]byte{0x40, byte(i)}
			err := h.engine.AcceptOrder(caller, id)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalidStatus) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestConcurrentCreateAssignsUniqueIDs(t *testing.T) {
	h := newHarness(t)
	const n = 32
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := h.engine.CreateOrder(buyerAddr, OrderTypeBuy, nil)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] || id == 0 || id > n {
			t.Fatalf("unexpected id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d ids, got %d", n, len(seen))
	}
}

func TestCreateOrderFeeOverflowPersistsNothing(t *testing.T) {
	h := newHarness(t)
	huge := new(uint256.Int).SetAllOne()
	h.ledger.fundAmount(strangerA, huge)

	_, err := h.engine.CreateOrder(strangerA, OrderTypeSell, huge)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if h.engine.LastOrderID() != 0 {
		t.Fatalf("no id may be consumed, last id %d", h.engine.LastOrderID())
	}
	if _, ok := h.engine.GetOrder(1); ok {
		t.Fatalf("order must not be persisted")
	}
	if !h.ledger.amountOf(strangerA).Eq(huge) || !h.engine.Balance().IsZero() {
		t.Fatalf("no deposit may be taken")
	}
	if len(h.recorder.Events()) != 0 {
		t.Fatalf("unexpected events %v", h.recorder.Types())
	}
}

func TestAcceptBuyFeeOverflowLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreate(t, OrderTypeBuy, 0)
	huge := new(uint256.Int).SetAllOne()
	h.ledger.fundAmount(strangerA, huge)

	if err := h.engine.AcceptBuyOrder(strangerA, id, huge); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	order := h.order(t, id)
	if order.Status != OrderPending || order.Seller != nil || !order.Amount.IsZero() || !order.LPFee.IsZero() {
		t.Fatalf("order changed: %+v", order)
	}
	if !h.ledger.amountOf(strangerA).Eq(huge) || !h.engine.Balance().IsZero() {
		t.Fatalf("no deposit may be taken")
	}
}

func TestFullFeeRatePaysOwnerEverything(t *testing.T) {
	ledger := newMockLedger()
	engine, err := NewEngine(newMockState(), ledger, Config{Owner: ownerAddr, FeeBps: MaxFeeBps})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ledger.fund(buyerAddr, 1000)
	// A zero net leg is skipped, so a recipient that refuses transfers is
	// never contacted.
	ledger.setReject(lpAddr, true)

	id, err := engine.CreateOrder(buyerAddr, OrderTypeSell, amt(1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, _ := engine.GetOrder(id)
	if order.LPFee.Uint64() != 1000 {
		t.Fatalf("fee = %s", order.LPFee.Dec())
	}
	if err := engine.AcceptOrder(lpAddr, id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := engine.ConfirmPaymentSent(buyerAddr, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := engine.CompleteOrder(lpAddr, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ledger.balanceOf(ownerAddr) != 1000 || ledger.balanceOf(lpAddr) != 0 {
		t.Fatalf("owner=%d lp=%d", ledger.balanceOf(ownerAddr), ledger.balanceOf(lpAddr))
	}
	if !engine.Balance().IsZero() {
		t.Fatalf("custody must be empty, got %s", engine.Balance().Dec())
	}
	if _, ok := engine.PendingPayouts(id); ok {
		t.Fatalf("no pending payout expected")
	}
}

func TestPauseWaitsForInFlightTransition(t *testing.T) {
	ledger := &gatedLedger{mockLedger: newMockLedger(), entered: make(chan struct{}), release: make(chan struct{})}
	engine, err := NewEngine(newMockState(), ledger, Config{Owner: ownerAddr, FeeBps: 200})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ledger.fund(lpAddr, 1000)
	id, err := engine.CreateOrder(buyerAddr, OrderTypeBuy, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- engine.AcceptBuyOrder(lpAddr, id, amt(1000)) }()
	<-ledger.entered

	paused := make(chan error, 1)
	go func() { paused <- engine.Pause(ownerAddr) }()
	select {
	case err := <-paused:
		t.Fatalf("pause returned while a transition was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(ledger.release)
	if err := <-acceptErr; err != nil {
		t.Fatalf("accept buy: %v", err)
	}
	if err := <-paused; err != nil {
		t.Fatalf("pause: %v", err)
	}
	order, _ := engine.GetOrder(id)
	if order.Status != OrderAccepted {
		t.Fatalf("transition admitted before pause must commit, status %s", order.Status)
	}
	if err := engine.ConfirmPaymentSent(buyerAddr, id); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected ErrContractPaused after pause, got %v", err)
	}
}
