package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"p2pescrow/crypto"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func formatAddress(addr [20]byte) string {
	return crypto.FormatAddress(addr)
}
