// Package reservoir models the bounded energy store with first-order RC
// charge and discharge dynamics, per-tick standing decay, and conversion
// losses on both directions.
package reservoir

import (
	"math"

	"github.com/jouleflow/jouleflow/pkg/types"
)

// Reservoir is the mutable storage state. Level is always kept within
// [MinStorage, MaxStorage].
type Reservoir struct {
	level float64
	s     types.Settings
}

// New returns a reservoir at the given initial level, clamped to bounds.
func New(initial float64, s types.Settings) *Reservoir {
	r := &Reservoir{level: initial, s: s}
	r.Clamp()
	return r
}

// Level is the current stored energy in joules.
func (r *Reservoir) Level() float64 {
	return r.level
}

// Ratio is the fill fraction in [0,1].
func (r *Reservoir) Ratio() float64 {
	return r.level / r.s.MaxStorage
}

// Decay applies the per-tick standing loss. Called once at the start of
// every tick before any other movement.
func (r *Reservoir) Decay() {
	r.level *= r.s.StorageDecay
}

// Headroom is the energy that would fit before hitting MaxStorage.
func (r *Reservoir) Headroom() float64 {
	return math.Max(0, r.s.MaxStorage-r.level)
}

// MaxChargeable is the most energy the RC charging curve admits this tick.
// It shrinks as the store fills.
func (r *Reservoir) MaxChargeable() float64 {
	return r.Headroom() * (1 - math.Exp(-r.s.DT/r.s.ChargeTau))
}

// Store adds energy, applying charge efficiency, and returns what was
// stored. The caller enforces whichever intake limit applies (the RC curve
// for solar, the charge-rate cap for grid purchases).
func (r *Reservoir) Store(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	stored := amount * r.s.ChargeEfficiency
	r.level += stored
	return stored
}

// MaxDischarge is the most stored energy the RC discharge curve releases
// this tick.
func (r *Reservoir) MaxDischarge() float64 {
	return r.level * (1 - math.Exp(-r.s.DT/r.s.DischargeTau))
}

// Withdraw removes stored energy. The delivered amount after conversion loss
// is amount * DischargeEff; pricing of that loss is the caller's concern.
// Withdrawals never take the level below MinStorage.
func (r *Reservoir) Withdraw(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	if avail := r.level - r.s.MinStorage; amount > avail {
		amount = avail
	}
	r.level -= amount
	return amount
}

// Clamp forces the level back into bounds. Called at the end of every tick
// so rounding in the movement math can never accumulate out of range.
func (r *Reservoir) Clamp() {
	r.level = math.Max(r.s.MinStorage, math.Min(r.level, r.s.MaxStorage))
}
