package state

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"p2pescrow/core/types"
	"p2pescrow/native/escrow"
	"p2pescrow/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func TestOrderRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	_, ok, err := mgr.OrderGet(1)
	require.NoError(t, err)
	require.False(t, ok)

	seller := [20]byte{0x02}
	order := &escrow.Order{
		ID:         1,
		Type:       escrow.OrderTypeSell,
		Buyer:      [20]byte{0x01},
		Seller:     &seller,
		Amount:     uint256.NewInt(1000),
		LPFee:      uint256.NewInt(20),
		Status:     escrow.OrderAccepted,
		CreatedAt:  100,
		AcceptedAt: 110,
	}
	require.NoError(t, mgr.OrderPut(order))

	got, ok, err := mgr.OrderGet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, order.Buyer, got.Buyer)
	require.NotNil(t, got.Seller)
	require.Equal(t, seller, *got.Seller)
	require.Equal(t, uint64(1000), got.Amount.Uint64())
	require.Equal(t, uint64(20), got.LPFee.Uint64())
	require.Equal(t, escrow.OrderAccepted, got.Status)
	require.Equal(t, int64(110), got.AcceptedAt)
}

func TestPendingBuyOrderKeepsSellerUnset(t *testing.T) {
	mgr := newTestManager(t)
	require.NoError(t, mgr.OrderPut(&escrow.Order{ID: 7, Type: escrow.OrderTypeBuy, Status: escrow.OrderPending}))

	got, ok, err := mgr.OrderGet(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, got.Seller)
	require.True(t, got.Amount.IsZero())
}

func TestOrderPutRejectsInvalidRecords(t *testing.T) {
	mgr := newTestManager(t)
	require.Error(t, mgr.OrderPut(&escrow.Order{ID: 0, Type: escrow.OrderTypeSell, Status: escrow.OrderPending}))
	require.Error(t, mgr.OrderPut(&escrow.Order{ID: 1, Type: escrow.OrderTypeSell, Status: escrow.OrderCompleted}))
}

func TestMetaAndPendingPayout(t *testing.T) {
	mgr := newTestManager(t)

	_, ok, err := mgr.EscrowMetaGet()
	require.NoError(t, err)
	require.False(t, ok)

	meta := &escrow.Meta{Owner: [20]byte{0xAA}, FeeBps: 200, Paused: true, NextOrderID: 5}
	require.NoError(t, mgr.EscrowMetaPut(meta))
	got, ok, err := mgr.EscrowMetaGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, *meta, *got)

	pending := &escrow.PendingPayout{
		OrderID: 3,
		Legs: []escrow.PayoutLeg{
			{Kind: escrow.PayoutKindFee, Recipient: [20]byte{0xAA}, Amount: uint256.NewInt(20)},
		},
		Attempts:  1,
		LastError: "rejected",
	}
	require.NoError(t, mgr.PendingPayoutPut(pending))
	loaded, ok, err := mgr.PendingPayoutGet(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded.Legs, 1)
	require.Equal(t, escrow.PayoutKindFee, loaded.Legs[0].Kind)
	require.Equal(t, uint64(20), loaded.Total().Uint64())

	require.NoError(t, mgr.PendingPayoutDelete(3))
	_, ok, err = mgr.PendingPayoutGet(3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAccountsAndVault(t *testing.T) {
	mgr := newTestManager(t)
	addr := [20]byte{0x09}

	acc, err := mgr.GetAccount(addr)
	require.NoError(t, err)
	require.True(t, acc.Balance.IsZero())

	require.NoError(t, mgr.PutAccount(addr, &types.Account{Balance: uint256.NewInt(42)}))
	acc, err = mgr.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(42), acc.Balance.Uint64())

	vault, err := mgr.VaultBalance()
	require.NoError(t, err)
	require.True(t, vault.IsZero())
	require.NoError(t, mgr.PutAccountWithVault(addr, &types.Account{Balance: uint256.NewInt(35)}, uint256.NewInt(7)))
	vault, err = mgr.VaultBalance()
	require.NoError(t, err)
	require.Equal(t, uint64(7), vault.Uint64())
	acc, err = mgr.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(35), acc.Balance.Uint64())
}

func TestKVBatchWritesNothingOnEncodeError(t *testing.T) {
	mgr := newTestManager(t)
	addr := [20]byte{0x0A}

	var b KVBatch
	b.Put(AccountKey(addr), storedAccount{Balance: big.NewInt(5)})
	b.Put([]byte("broken"), -1)
	require.Error(t, mgr.KVWrite(&b))

	acc, err := mgr.GetAccount(addr)
	require.NoError(t, err)
	require.True(t, acc.Balance.IsZero())
}

func TestEngineStatePersistsAcrossLevelDBReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "escrow")
	owner := [20]byte{0xAA}
	buyer := [20]byte{0x01}

	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	mgr := NewManager(db)
	engine, err := escrow.NewEngine(mgr, &stubLedger{}, escrow.Config{Owner: owner, FeeBps: 200})
	require.NoError(t, err)
	id, err := engine.CreateOrder(buyer, escrow.OrderTypeSell, uint256.NewInt(1000))
	require.NoError(t, err)
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	reopened, err := escrow.NewEngine(NewManager(db), &stubLedger{}, escrow.Config{Owner: owner, FeeBps: 200})
	require.NoError(t, err)

	order, ok := reopened.GetOrder(id)
	require.True(t, ok)
	require.Equal(t, uint64(20), order.LPFee.Uint64())

	next, err := reopened.CreateOrder(buyer, escrow.OrderTypeBuy, nil)
	require.NoError(t, err)
	require.Equal(t, id+1, next)
}

type stubLedger struct{}

func (stubLedger) Deposit([20]byte, *uint256.Int) error  { return nil }
func (stubLedger) Transfer([20]byte, *uint256.Int) error { return nil }
func (stubLedger) Balance() *uint256.Int                 { return uint256.NewInt(0) }
