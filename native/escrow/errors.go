package escrow

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound       = errors.New("escrow: order not found")
	ErrUnauthorized        = errors.New("escrow: unauthorized")
	ErrInvalidStatus       = errors.New("escrow: invalid status")
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	ErrInvalidAmount       = errors.New("escrow: invalid amount")
	ErrInvalidOrderType    = errors.New("escrow: invalid order type")
	ErrTransferFailed      = errors.New("escrow: transfer failed")
	ErrContractPaused      = errors.New("escrow: contract paused")
	ErrInvalidFeeRate      = errors.New("escrow: fee rate out of range")

	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: custody ledger not configured")
)

func statusError(op string, status OrderStatus) error {
	return fmt.Errorf("%w: cannot %s in status %s", ErrInvalidStatus, op, status)
}

// Code returns a stable identifier for the error kind, or an empty string for
// errors outside the escrow taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrContractPaused):
		return "CONTRACT_PAUSED"
	case errors.Is(err, ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrInvalidStatus):
		return "INVALID_STATUS"
	case errors.Is(err, ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrInvalidOrderType):
		return "INVALID_ORDER_TYPE"
	case errors.Is(err, ErrTransferFailed):
		return "TRANSFER_FAILED"
	case errors.Is(err, ErrInvalidFeeRate):
		return "INVALID_FEE_RATE"
	default:
		return ""
	}
}
