package escrow

import (
	"errors"
	"fmt"

	"p2pescrow/core/events"
)

// payoutLegs splits the custodied amount between the beneficiary and the
// owner.
func (e *Engine) payoutLegs(order *Order) ([]PayoutLeg, error) {
	beneficiary, ok := order.Beneficiary()
	if !ok {
		return nil, fmt.Errorf("%w: order %d has no beneficiary", ErrInvalidStatus, order.ID)
	}
	net, err := NetOfFee(order.Amount, order.LPFee)
	if err != nil {
		return nil, err
	}
	return []PayoutLeg{
		{Kind: PayoutKindNet, Recipient: beneficiary, Amount: net},
		{Kind: PayoutKindFee, Recipient: e.guard.Owner(), Amount: cloneAmount(order.LPFee)},
	}, nil
}

// refundLegs returns the full amount to whoever currently has funds in
// custody. Pending buy orders hold nothing.
func refundLegs(order *Order) []PayoutLeg {
	depositor, ok := order.Depositor()
	if !ok || order.Amount == nil || order.Amount.IsZero() {
		return nil
	}
	return []PayoutLeg{{Kind: PayoutKindRefund, Recipient: depositor, Amount: order.Amount.Clone()}}
}

// executeLegs transfers each leg in order and stops at the first failure,
// returning the legs that remain unpaid. Zero legs are skipped.
func (e *Engine) executeLegs(legs []PayoutLeg) ([]PayoutLeg, error) {
	for i, leg := range legs {
		if leg.Amount == nil || leg.Amount.IsZero() {
			continue
		}
		if err := e.ledger.Transfer(leg.Recipient, leg.Amount); err != nil {
			return legs[i:], fmt.Errorf("%s leg: %w", leg.Kind, err)
		}
	}
	return nil, nil
}

// commitAndSettle persists the order before any fund movement, then runs the
// legs. Legs left unpaid by a transfer failure are recorded as a pending
// payout; the order stays in its new status.
func (e *Engine) commitAndSettle(order *Order, legs []PayoutLeg, committed ...events.Event) ([]events.Event, error) {
	if err := e.state.OrderPut(order); err != nil {
		return nil, fmt.Errorf("escrow: persist order %d: %w", order.ID, err)
	}
	evts := append([]events.Event(nil), committed...)
	remaining, transferErr := e.executeLegs(legs)
	if transferErr == nil {
		return evts, nil
	}
	pending := &PendingPayout{
		OrderID:   order.ID,
		Legs:      remaining,
		UpdatedAt: e.now(),
		Attempts:  1,
		LastError: transferErr.Error(),
	}
	failure := fmt.Errorf("%w: order %d: %v", ErrTransferFailed, order.ID, transferErr)
	if err := e.state.PendingPayoutPut(pending); err != nil {
		failure = errors.Join(failure, fmt.Errorf("escrow: record pending payout: %w", err))
	}
	evts = append(evts, events.PayoutFailed{
		OrderID:     order.ID,
		Legs:        len(remaining),
		Outstanding: pending.Total(),
		Reason:      transferErr.Error(),
		Attempt:     pending.Attempts,
	})
	return evts, failure
}

// PendingPayouts returns the unpaid legs recorded for an order, if any.
func (e *Engine) PendingPayouts(id uint64) (*PendingPayout, bool) {
	lock := e.lockFor(id)
	lock.RLock()
	defer lock.RUnlock()
	pending, ok, err := e.state.PendingPayoutGet(id)
	if err != nil || !ok || pending == nil {
		return nil, false
	}
	return pending.Clone(), true
}

// RetryPayout re-attempts the unpaid legs of a terminal order. Only the owner
// may trigger reconciliation.
func (e *Engine) RetryPayout(caller [20]byte, id uint64) error {
	if err := e.guard.CheckActive(); err != nil {
		return err
	}
	if err := e.guard.RequireOwner(caller); err != nil {
		return err
	}
	return e.withOrder(id, func(order *Order) ([]events.Event, error) {
		pending, ok, err := e.state.PendingPayoutGet(id)
		if err != nil {
			return nil, fmt.Errorf("escrow: load pending payout %d: %w", id, err)
		}
		if !ok || pending == nil || len(pending.Legs) == 0 {
			return nil, fmt.Errorf("%w: order %d has no pending payout", ErrInvalidStatus, id)
		}
		if !order.Status.Terminal() {
			return nil, statusError("retry payout", order.Status)
		}
		remaining, transferErr := e.executeLegs(pending.Legs)
		if transferErr == nil {
			if err := e.state.PendingPayoutDelete(id); err != nil {
				return nil, fmt.Errorf("escrow: clear pending payout %d: %w", id, err)
			}
			return []events.Event{events.PayoutSettled{OrderID: id}}, nil
		}
		pending.Legs = remaining
		pending.Attempts++
		pending.UpdatedAt = e.now()
		pending.LastError = transferErr.Error()
		failure := fmt.Errorf("%w: order %d: %v", ErrTransferFailed, id, transferErr)
		if err := e.state.PendingPayoutPut(pending); err != nil {
			failure = errors.Join(failure, fmt.Errorf("escrow: record pending payout: %w", err))
		}
		return []events.Event{events.PayoutFailed{
			OrderID:     id,
			Legs:        len(remaining),
			Outstanding: pending.Total(),
			Reason:      transferErr.Error(),
			Attempt:     pending.Attempts,
		}}, failure
	})
}
