package types

import "github.com/holiman/uint256"

// Account tracks the spendable balance of an identity outside of escrow
// custody.
type Account struct {
	Balance *uint256.Int
}

// EnsureAccount returns acc with non-nil numeric fields, allocating a fresh
// account when acc is nil.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: uint256.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = uint256.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return EnsureAccount(nil)
	}
	out := &Account{Balance: uint256.NewInt(0)}
	if a.Balance != nil {
		out.Balance = a.Balance.Clone()
	}
	return out
}
