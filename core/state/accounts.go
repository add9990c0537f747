package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"p2pescrow/core/types"
)

type storedAccount struct {
	Balance *big.Int
}

// GetAccount returns the account stored under addr. Unknown accounts are
// returned with a zero balance.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.KVGet(AccountKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	account := &types.Account{}
	if ok {
		balance, err := fromBig(stored.Balance)
		if err != nil {
			return nil, err
		}
		account.Balance = balance
	}
	types.EnsureAccount(account)
	return account, nil
}

// PutAccount stores the account under addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.KVPut(AccountKey(addr), storedAccount{Balance: toBig(account.Balance)})
}

// VaultBalance returns the total held in escrow custody.
func (m *Manager) VaultBalance() (*uint256.Int, error) {
	var stored storedAccount
	ok, err := m.KVGet(vaultKey, &stored)
	if err != nil {
		return nil, fmt.Errorf("state: load vault: %w", err)
	}
	if !ok {
		return uint256.NewInt(0), nil
	}
	return fromBig(stored.Balance)
}

// PutAccountWithVault stores the account and the custody total in one atomic
// write, so a balance never moves on one side only.
func (m *Manager) PutAccountWithVault(addr [20]byte, account *types.Account, vault *uint256.Int) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	var b KVBatch
	b.Put(AccountKey(addr), storedAccount{Balance: toBig(account.Balance)})
	b.Put(vaultKey, storedAccount{Balance: toBig(vault)})
	return m.KVWrite(&b)
}
