package escrow

import (
	"fmt"
	"sync/atomic"
)

// AccessGuard holds the owner identity and the pause flag. Each engine owns
// its own guard so independent escrows can coexist in one process.
type AccessGuard struct {
	owner  [20]byte
	paused atomic.Bool
}

// NewAccessGuard returns a guard for owner with the supplied initial pause
// state.
func NewAccessGuard(owner [20]byte, paused bool) *AccessGuard {
	g := &AccessGuard{owner: owner}
	g.paused.Store(paused)
	return g
}

// Owner returns the arbitration authority and fee recipient.
func (g *AccessGuard) Owner() [20]byte { return g.owner }

// IsOwner reports whether caller is the owner.
func (g *AccessGuard) IsOwner(caller [20]byte) bool { return caller == g.owner }

// IsPaused is a pure read of the pause flag.
func (g *AccessGuard) IsPaused() bool { return g.paused.Load() }

// CheckActive fails with ErrContractPaused while the guard is paused.
func (g *AccessGuard) CheckActive() error {
	if g.paused.Load() {
		return ErrContractPaused
	}
	return nil
}

// RequireOwner fails with ErrUnauthorized unless caller is the owner.
func (g *AccessGuard) RequireOwner(caller [20]byte) error {
	if !g.IsOwner(caller) {
		return fmt.Errorf("%w: owner only", ErrUnauthorized)
	}
	return nil
}

func (g *AccessGuard) setPaused(paused bool) {
	g.paused.Store(paused)
}
