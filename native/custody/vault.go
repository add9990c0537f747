// Package custody implements the escrow custody ledger on top of account
// balances kept in core/state.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"p2pescrow/core/state"
	"p2pescrow/core/types"
	"p2pescrow/native/escrow"
)

var (
	// ErrInsufficientFunds is returned when the debited side cannot cover the
	// amount.
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	// ErrInvalidAmount rejects nil or zero movements.
	ErrInvalidAmount = errors.New("custody: amount must be positive")
)

// Store is the subset of state.Manager used by the vault.
type Store interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	VaultBalance() (*uint256.Int, error)
	PutAccountWithVault(addr [20]byte, account *types.Account, vault *uint256.Int) error
}

// Vault moves value between accounts and the escrow custody total. All
// mutations are serialised on a single mutex, and each movement lands in one
// atomic store write.
type Vault struct {
	mu    sync.Mutex
	store Store
}

// NewVault returns a vault backed by store.
func NewVault(store Store) *Vault {
	return &Vault{store: store}
}

// Deposit debits from and credits custody.
func (v *Vault) Deposit(from [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	account, err := v.store.GetAccount(from)
	if err != nil {
		return err
	}
	remaining, underflow := new(uint256.Int).SubOverflow(account.Balance, amount)
	if underflow {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, account.Balance.Dec(), amount.Dec())
	}
	held, err := v.store.VaultBalance()
	if err != nil {
		return err
	}
	total, overflow := new(uint256.Int).AddOverflow(held, amount)
	if overflow {
		return fmt.Errorf("custody: vault balance overflow")
	}
	account.Balance = remaining
	return v.store.PutAccountWithVault(from, account, total)
}

// Transfer debits custody and credits to.
func (v *Vault) Transfer(to [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	held, err := v.store.VaultBalance()
	if err != nil {
		return err
	}
	remaining, underflow := new(uint256.Int).SubOverflow(held, amount)
	if underflow {
		return fmt.Errorf("%w: vault holds %s, need %s", ErrInsufficientFunds, held.Dec(), amount.Dec())
	}
	account, err := v.store.GetAccount(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(account.Balance, amount)
	if overflow {
		return fmt.Errorf("custody: account balance overflow")
	}
	account.Balance = credited
	return v.store.PutAccountWithVault(to, account, remaining)
}

// Balance reports the custody total. Read failures report zero.
func (v *Vault) Balance() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	held, err := v.store.VaultBalance()
	if err != nil || held == nil {
		return uint256.NewInt(0)
	}
	return held
}

// AccountBalance returns the spendable balance of addr.
func (v *Vault) AccountBalance(addr [20]byte) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	account, err := v.store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance.Clone(), nil
}

// Credit mints amount into addr. Used by the development faucet.
func (v *Vault) Credit(addr [20]byte, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	account, err := v.store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	credited, overflow := new(uint256.Int).AddOverflow(account.Balance, amount)
	if overflow {
		return nil, fmt.Errorf("custody: account balance overflow")
	}
	account.Balance = credited
	if err := v.store.PutAccount(addr, account); err != nil {
		return nil, err
	}
	return credited.Clone(), nil
}

var (
	_ escrow.CustodyLedger = (*Vault)(nil)
	_ Store                = (*state.Manager)(nil)
)
