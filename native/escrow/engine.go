package escrow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"p2pescrow/core/events"
)

// State is the persistence surface the engine requires. Implementations must
// return copies so the engine can mutate loaded records freely.
type State interface {
	OrderGet(id uint64) (*Order, bool, error)
	OrderPut(order *Order) error
	EscrowMetaGet() (*Meta, bool, error)
	EscrowMetaPut(meta *Meta) error
	PendingPayoutGet(id uint64) (*PendingPayout, bool, error)
	PendingPayoutPut(payout *PendingPayout) error
	PendingPayoutDelete(id uint64) error
}

// CustodyLedger moves value in and out of the escrow vault.
type CustodyLedger interface {
	// Deposit moves amount from the caller's account into custody.
	Deposit(from [20]byte, amount *uint256.Int) error
	// Transfer releases amount from custody to the recipient.
	Transfer(to [20]byte, amount *uint256.Int) error
	// Balance reports the total value currently held in custody.
	Balance() *uint256.Int
}

// Config carries the construction-time parameters. They are fixed for the
// lifetime of a persisted escrow.
type Config struct {
	Owner  [20]byte
	FeeBps uint32
}

const lockStripes = 64

// Engine implements the order lifecycle on top of the supplied state and
// custody ledger.
type Engine struct {
	state   State
	ledger  CustodyLedger
	guard   *AccessGuard
	emitter events.Emitter
	nowFn   func() int64
	feeBps  uint32

	// gateMu is held shared by every order mutation and exclusively while
	// the pause flag changes, so no transition commits after Pause returns.
	gateMu sync.RWMutex

	metaMu sync.Mutex
	meta   Meta

	locks [lockStripes]sync.RWMutex
}

// NewEngine loads the persisted meta record or initialises it from cfg. A
// persisted escrow must be reopened with the same owner and fee rate.
func NewEngine(state State, ledger CustodyLedger, cfg Config) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if ledger == nil {
		return nil, errNilLedger
	}
	if cfg.FeeBps > MaxFeeBps {
		return nil, fmt.Errorf("%w: %d bps exceeds %d", ErrInvalidFeeRate, cfg.FeeBps, MaxFeeBps)
	}
	meta, ok, err := state.EscrowMetaGet()
	if err != nil {
		return nil, fmt.Errorf("escrow: load meta: %w", err)
	}
	if !ok {
		meta = &Meta{Owner: cfg.Owner, FeeBps: cfg.FeeBps, NextOrderID: 1}
		if err := state.EscrowMetaPut(meta); err != nil {
			return nil, fmt.Errorf("escrow: init meta: %w", err)
		}
	} else {
		if meta.Owner != cfg.Owner {
			return nil, fmt.Errorf("escrow: configured owner does not match persisted owner")
		}
		if meta.FeeBps != cfg.FeeBps {
			return nil, fmt.Errorf("%w: configured %d bps, persisted %d bps", ErrInvalidFeeRate, cfg.FeeBps, meta.FeeBps)
		}
		if meta.NextOrderID == 0 {
			meta.NextOrderID = 1
		}
	}
	return &Engine{
		state:   state,
		ledger:  ledger,
		guard:   NewAccessGuard(meta.Owner, meta.Paused),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		feeBps:  meta.FeeBps,
		meta:    *meta,
	}, nil
}

// SetEmitter configures the event emitter used for lifecycle notifications.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for order timestamps. Primarily used in
// tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) lockFor(id uint64) *sync.RWMutex {
	return &e.locks[id%lockStripes]
}

// enter admits a mutation unless the engine is paused. The returned func
// must be called once the mutation has committed.
func (e *Engine) enter() (func(), error) {
	e.gateMu.RLock()
	if err := e.guard.CheckActive(); err != nil {
		e.gateMu.RUnlock()
		return nil, err
	}
	return e.gateMu.RUnlock, nil
}

func (e *Engine) emit(evts []events.Event) {
	for _, evt := range evts {
		e.emitter.Emit(evt)
	}
}

// Owner returns the configured owner.
func (e *Engine) Owner() [20]byte { return e.guard.Owner() }

// FeeBps returns the configured LP fee rate.
func (e *Engine) FeeBps() uint32 { return e.feeBps }

// IsPaused reports the pause flag.
func (e *Engine) IsPaused() bool { return e.guard.IsPaused() }

// Balance reports the value currently held in custody.
func (e *Engine) Balance() *uint256.Int {
	bal := e.ledger.Balance()
	if bal == nil {
		return uint256.NewInt(0)
	}
	return bal.Clone()
}

// LastOrderID reports the highest id handed out so far, or zero.
func (e *Engine) LastOrderID() uint64 {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return e.meta.NextOrderID - 1
}

// GetOrder returns a copy of the order. Store failures are reported as a miss.
func (e *Engine) GetOrder(id uint64) (*Order, bool) {
	lock := e.lockFor(id)
	lock.RLock()
	defer lock.RUnlock()
	order, ok, err := e.state.OrderGet(id)
	if err != nil || !ok || order == nil {
		return nil, false
	}
	return order.Clone(), true
}

// CreateOrder opens a new order on behalf of caller. Sell orders must carry a
// positive value, which is deposited into custody. Buy orders must carry none.
func (e *Engine) CreateOrder(caller [20]byte, t OrderType, value *uint256.Int) (uint64, error) {
	leave, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer leave()
	amount := cloneAmount(value)
	switch t {
	case OrderTypeSell:
		if amount.IsZero() {
			return 0, fmt.Errorf("%w: sell orders require a deposit", ErrInsufficientBalance)
		}
	case OrderTypeBuy:
		if !amount.IsZero() {
			return 0, fmt.Errorf("%w: buy orders are funded on acceptance", ErrInvalidAmount)
		}
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidOrderType, t)
	}

	e.metaMu.Lock()
	fee, err := ComputeFee(amount, e.feeBps)
	if err != nil {
		e.metaMu.Unlock()
		return 0, err
	}
	id := e.meta.NextOrderID
	if !amount.IsZero() {
		if err := e.ledger.Deposit(caller, amount); err != nil {
			e.metaMu.Unlock()
			return 0, fmt.Errorf("%w: deposit: %v", ErrInsufficientBalance, err)
		}
	}
	next := e.meta
	next.NextOrderID = id + 1
	if err := e.state.EscrowMetaPut(&next); err != nil {
		err = fmt.Errorf("escrow: persist meta: %w", err)
		e.metaMu.Unlock()
		return 0, e.compensate(caller, amount, err)
	}
	e.meta = next

	order := &Order{
		ID:        id,
		Type:      t,
		Buyer:     caller,
		Amount:    amount,
		LPFee:     fee,
		Status:    OrderPending,
		CreatedAt: e.now(),
	}
	if err := e.state.OrderPut(order); err != nil {
		// The id stays consumed; ids are never reused.
		err = fmt.Errorf("escrow: persist order %d: %w", id, err)
		e.metaMu.Unlock()
		return 0, e.compensate(caller, amount, err)
	}
	e.metaMu.Unlock()

	e.emit([]events.Event{events.OrderCreated{
		OrderID:   id,
		Buyer:     caller,
		OrderType: t.String(),
		Amount:    amount.Clone(),
	}})
	return id, nil
}

// compensate returns a deposit taken for an operation that failed to persist.
func (e *Engine) compensate(to [20]byte, amount *uint256.Int, cause error) error {
	if amount == nil || amount.IsZero() {
		return cause
	}
	if err := e.ledger.Transfer(to, amount); err != nil {
		return errors.Join(cause, fmt.Errorf("%w: refund deposit: %v", ErrTransferFailed, err))
	}
	return cause
}

// withOrder runs fn under the order's exclusive lock. Events returned by fn
// are emitted after the lock is released, including when fn fails after a
// commit.
func (e *Engine) withOrder(id uint64, fn func(order *Order) ([]events.Event, error)) error {
	leave, err := e.enter()
	if err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	order, ok, err := e.state.OrderGet(id)
	if err != nil {
		lock.Unlock()
		leave()
		return fmt.Errorf("escrow: load order %d: %w", id, err)
	}
	if !ok || order == nil {
		lock.Unlock()
		leave()
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	evts, err := fn(order)
	lock.Unlock()
	leave()
	e.emit(evts)
	return err
}

// AcceptOrder makes caller the LP of a pending sell order.
func (e *Engine) AcceptOrder(caller [20]byte, id uint64) error {
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if order.Type != OrderTypeSell {
			return nil, fmt.Errorf("%w: accept requires a sell order, use accept-buy", ErrInvalidOrderType)
		}
		if order.Status != OrderPending {
			return nil, statusError("accept", order.Status)
		}
		seller := caller
		order.Seller = &seller
		order.Status = OrderAccepted
		order.AcceptedAt = e.now()
		if err := e.state.OrderPut(order); err != nil {
			return nil, fmt.Errorf("escrow: persist order %d: %w", order.ID, err)
		}
		return []events.Event{events.OrderAccepted{OrderID: order.ID, Seller: caller, Amount: order.Amount.Clone()}}, nil
	})
}

// AcceptBuyOrder makes caller the LP of a pending buy order and deposits
// value, fixing the order amount and fee.
func (e *Engine) AcceptBuyOrder(caller [20]byte, id uint64, value *uint256.Int) error {
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if order.Type != OrderTypeBuy {
			return nil, fmt.Errorf("%w: accept-buy requires a buy order", ErrInvalidOrderType)
		}
		if order.Status != OrderPending {
			return nil, statusError("accept", order.Status)
		}
		amount := cloneAmount(value)
		if amount.IsZero() {
			return nil, fmt.Errorf("%w: buy orders require a deposit on acceptance", ErrInsufficientBalance)
		}
		fee, err := ComputeFee(amount, e.feeBps)
		if err != nil {
			return nil, err
		}
		if err := e.ledger.Deposit(caller, amount); err != nil {
			return nil, fmt.Errorf("%w: deposit: %v", ErrInsufficientBalance, err)
		}
		seller := caller
		order.Seller = &seller
		order.Amount = amount
		order.LPFee = fee
		order.Status = OrderAccepted
		order.AcceptedAt = e.now()
		if err := e.state.OrderPut(order); err != nil {
			return nil, e.compensate(caller, amount, fmt.Errorf("escrow: persist order %d: %w", order.ID, err))
		}
		return []events.Event{events.OrderAccepted{OrderID: order.ID, Seller: caller, Amount: amount.Clone()}}, nil
	})
}

// ConfirmPaymentSent records the buyer's claim that the off-band payment was
// made.
func (e *Engine) ConfirmPaymentSent(caller [20]byte, id uint64) error {
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if order.Buyer != caller {
			return nil, fmt.Errorf("%w: only the buyer may confirm payment", ErrUnauthorized)
		}
		if order.Status != OrderAccepted {
			return nil, statusError("confirm payment", order.Status)
		}
		order.Status = OrderPaymentSent
		order.PaymentSentAt = e.now()
		if err := e.state.OrderPut(order); err != nil {
			return nil, fmt.Errorf("escrow: persist order %d: %w", order.ID, err)
		}
		return []events.Event{events.PaymentSent{OrderID: order.ID, Buyer: caller}}, nil
	})
}

// CompleteOrder releases the custodied amount net of fee to the beneficiary
// and the fee to the owner.
func (e *Engine) CompleteOrder(caller [20]byte, id uint64) error {
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if !order.IsParty(caller) {
			return nil, fmt.Errorf("%w: only the buyer or seller may complete", ErrUnauthorized)
		}
		if order.Status != OrderPaymentSent {
			return nil, statusError("complete", order.Status)
		}
		legs, err := e.payoutLegs(order)
		if err != nil {
			return nil, err
		}
		order.Status = OrderCompleted
		order.ClosedAt = e.now()
		return e.commitAndSettle(order, legs, events.OrderCompleted{OrderID: order.ID})
	})
}

// CancelOrder closes a pending order and refunds any deposit to the buyer.
func (e *Engine) CancelOrder(caller [20]byte, id uint64) error {
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		if order.Buyer != caller {
			return nil, fmt.Errorf("%w: only the buyer may cancel", ErrUnauthorized)
		}
		if order.Status != OrderPending {
			return nil, statusError("cancel", order.Status)
		}
		legs := refundLegs(order)
		order.Status = OrderCancelled
		order.ClosedAt = e.now()
		return e.commitAndSettle(order, legs, events.OrderCancelled{OrderID: order.ID})
	})
}

// Pause halts every mutating operation. Idempotent.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause lifts the pause. Idempotent.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if err := e.guard.RequireOwner(caller); err != nil {
		return err
	}
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	e.metaMu.Lock()
	next := e.meta
	next.Paused = paused
	if err := e.state.EscrowMetaPut(&next); err != nil {
		e.metaMu.Unlock()
		return fmt.Errorf("escrow: persist pause flag: %w", err)
	}
	e.meta = next
	e.guard.setPaused(paused)
	e.metaMu.Unlock()
	e.emit([]events.Event{events.PauseChanged{By: caller, Paused: paused}})
	return nil
}
