package escrow

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
)

type mockState struct {
	mu      sync.Mutex
	orders  map[uint64]*Order
	meta    *Meta
	payouts map[uint64]*PendingPayout

	failOrderPut bool
}

func newMockState() *mockState {
	return &mockState{
		orders:  make(map[uint64]*Order),
		payouts: make(map[uint64]*PendingPayout),
	}
}

func (m *mockState) OrderGet(id uint64) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, false, nil
	}
	return order.Clone(), true, nil
}

func (m *mockState) OrderPut(order *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOrderPut {
		return errors.New("disk full")
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *mockState) EscrowMetaGet() (*Meta, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meta == nil {
		return nil, false, nil
	}
	meta := *m.meta
	return &meta, true, nil
}

func (m *mockState) EscrowMetaPut(meta *Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *meta
	m.meta = &copied
	return nil
}

func (m *mockState) PendingPayoutGet(id uint64) (*PendingPayout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) PendingPayoutPut(p *PendingPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payouts[p.OrderID] = p.Clone()
	return nil
}

func (m *mockState) PendingPayoutDelete(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payouts, id)
	return nil
}

// mockLedger tracks account balances and a custody total. Recipients listed in
// reject fail every transfer addressed to them.
type mockLedger struct {
	mu       sync.Mutex
	accounts map[[20]byte]*uint256.Int
	custody  *uint256.Int
	reject   map[[20]byte]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		accounts: make(map[[20]byte]*uint256.Int),
		custody:  uint256.NewInt(0),
		reject:   make(map[[20]byte]bool),
	}
}

func (l *mockLedger) fund(addr [20]byte, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(addr).Add(l.balanceLocked(addr), uint256.NewInt(amount))
}

func (l *mockLedger) fundAmount(addr [20]byte, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(addr).Add(l.balanceLocked(addr), amount)
}

func (l *mockLedger) balanceLocked(addr [20]byte) *uint256.Int {
	bal, ok := l.accounts[addr]
	if !ok {
		bal = uint256.NewInt(0)
		l.accounts[addr] = bal
	}
	return bal
}

func (l *mockLedger) balanceOf(addr [20]byte) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(addr).Uint64()
}

func (l *mockLedger) setReject(addr [20]byte, reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reject[addr] = reject
}

func (l *mockLedger) amountOf(addr [20]byte) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(addr).Clone()
}

func (l *mockLedger) Deposit(from [20]byte, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(from)
	if bal.Lt(amount) {
		return errors.New("insufficient funds")
	}
	bal.Sub(bal, amount)
	l.custody.Add(l.custody, amount)
	return nil
}

func (l *mockLedger) Transfer(to [20]byte, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reject[to] {
		return errors.New("recipient rejected transfer")
	}
	if l.custody.Lt(amount) {
		return errors.New("custody underfunded")
	}
	l.custody.Sub(l.custody, amount)
	bal := l.balanceLocked(to)
	bal.Add(bal, amount)
	return nil
}

func (l *mockLedger) Balance() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.custody.Clone()
}

// gatedLedger parks every deposit until release is closed.
type gatedLedger struct {
	*mockLedger
	entered chan struct{}
	release chan struct{}
}

func (l *gatedLedger) Deposit(from [20]byte, amount *uint256.Int) error {
	l.entered <- struct{}{}
	<-l.release
	return l.mockLedger.Deposit(from, amount)
}
