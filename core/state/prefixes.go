package state

import (
	"encoding/binary"
)

var (
	orderPrefix   = []byte("escrow/order/")
	payoutPrefix  = []byte("escrow/payout/")
	accountPrefix = []byte("account/")
	escrowMetaKey = []byte("escrow/meta")
	vaultKey      = []byte("escrow/vault")
)

func idKey(prefix []byte, id uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], id)
	return buf
}

// OrderKey returns the unhashed key of an order record.
func OrderKey(id uint64) []byte { return idKey(orderPrefix, id) }

// PendingPayoutKey returns the unhashed key of a pending payout record.
func PendingPayoutKey(id uint64) []byte { return idKey(payoutPrefix, id) }

// AccountKey returns the unhashed key of an account balance record.
func AccountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}
