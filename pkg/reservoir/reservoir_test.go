package reservoir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jouleflow/jouleflow/pkg/types"
)

func TestNewClampsInitialLevel(t *testing.T) {
	s := types.DefaultSettings()
	assert.Equal(t, s.MaxStorage, New(999, s).Level())
	assert.Equal(t, s.MinStorage, New(-5, s).Level())
	assert.Equal(t, 10.0, New(10, s).Level())
}

func TestDecay(t *testing.T) {
	s := types.DefaultSettings()
	r := New(40, s)
	r.Decay()
	assert.InDelta(t, 40*s.StorageDecay, r.Level(), 1e-12)
}

func TestMaxChargeable(t *testing.T) {
	s := types.DefaultSettings()

	t.Run("rc limit shrinks as the store fills", func(t *testing.T) {
		empty := New(0, s)
		nearFull := New(45, s)
		assert.Greater(t, empty.MaxChargeable(), nearFull.MaxChargeable())
	})

	t.Run("matches the rc charging curve", func(t *testing.T) {
		r := New(20, s)
		want := (s.MaxStorage - 20) * (1 - math.Exp(-s.DT/s.ChargeTau))
		assert.InDelta(t, want, r.MaxChargeable(), 1e-12)
	})

	t.Run("full store accepts nothing", func(t *testing.T) {
		assert.Zero(t, New(s.MaxStorage, s).MaxChargeable())
	})
}

func TestStore(t *testing.T) {
	s := types.DefaultSettings()
	r := New(10, s)

	stored := r.Store(5)
	assert.InDelta(t, 4.0, stored, 1e-12)
	assert.InDelta(t, 14.0, r.Level(), 1e-12)

	t.Run("non-positive request is a no-op", func(t *testing.T) {
		assert.Zero(t, r.Store(0))
		assert.Zero(t, r.Store(-3))
		assert.InDelta(t, 14.0, r.Level(), 1e-12)
	})
}

func TestDischarge(t *testing.T) {
	s := types.DefaultSettings()

	t.Run("rc discharge limit", func(t *testing.T) {
		r := New(40, s)
		want := 40 * (1 - math.Exp(-s.DT/s.DischargeTau))
		assert.InDelta(t, want, r.MaxDischarge(), 1e-12)
	})

	t.Run("empty store releases nothing", func(t *testing.T) {
		r := New(0, s)
		assert.Zero(t, r.MaxDischarge())
		assert.Zero(t, r.Withdraw(3))
	})

	t.Run("withdraw stops at the floor", func(t *testing.T) {
		r := New(2, s)
		got := r.Withdraw(10)
		assert.InDelta(t, 2.0, got, 1e-12)
		assert.Equal(t, s.MinStorage, r.Level())
	})
}

func TestClampAfterMovements(t *testing.T) {
	s := types.DefaultSettings()
	r := New(49.9, s)
	// Store enough to overshoot, then clamp as the tick boundary does.
	r.Store(10)
	r.Clamp()
	assert.Equal(t, s.MaxStorage, r.Level())
}
