package escrow

import (
	"fmt"

	"github.com/holiman/uint256"
)

// MaxFeeBps is 100% expressed in basis points.
const MaxFeeBps = 10_000

var bpsDenominator = uint256.NewInt(MaxFeeBps)

// ComputeFee returns floor(amount * bps / 10000). The multiplication is
// checked; an overflow is reported as ErrInsufficientBalance rather than
// wrapping.
func ComputeFee(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() || bps == 0 {
		return uint256.NewInt(0), nil
	}
	product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(uint64(bps)))
	if overflow {
		return nil, fmt.Errorf("%w: fee computation overflows for amount %s", ErrInsufficientBalance, amount.Dec())
	}
	return product.Div(product, bpsDenominator), nil
}

// NetOfFee returns amount - fee, failing with ErrInsufficientBalance when the
// fee exceeds the amount.
func NetOfFee(amount, fee *uint256.Int) (*uint256.Int, error) {
	net, underflow := new(uint256.Int).SubOverflow(cloneAmount(amount), cloneAmount(fee))
	if underflow {
		return nil, fmt.Errorf("%w: fee %s exceeds amount %s", ErrInsufficientBalance, cloneAmount(fee).Dec(), cloneAmount(amount).Dec())
	}
	return net, nil
}
