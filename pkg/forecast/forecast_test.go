package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jouleflow/jouleflow/pkg/types"
)

func ticksFromBuy(prices []float64) []types.Tick {
	out := make([]types.Tick, len(prices))
	for i, p := range prices {
		out[i] = types.Tick{ID: i, BuyPrice: p, SellPrice: p + 2, Demand: 10, Sun: 50}
	}
	return out
}

func TestEnrichEmptyAndShortHistory(t *testing.T) {
	s := types.DefaultSettings()

	t.Run("empty", func(t *testing.T) {
		f := Enrich(nil, s)
		assert.Equal(t, 50.0, f.RSI)
		assert.Zero(t, f.Volatility)
	})

	t.Run("single tick defaults to neutral", func(t *testing.T) {
		f := Enrich(ticksFromBuy([]float64{40}), s)
		assert.Equal(t, 40.0, f.BuyAt(3, 40))
		assert.Zero(t, f.Momentum)
		assert.Equal(t, 50.0, f.RSI)
		assert.Zero(t, f.SunTrend)
		assert.Equal(t, 2.0, f.Spread)
		assert.Equal(t, 2.0, f.SpreadMA)
	})
}

func TestEnrichLinearSeries(t *testing.T) {
	s := types.DefaultSettings()
	// Strictly rising price: every delta is a gain.
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 10 + float64(i)
	}
	f := Enrich(ticksFromBuy(prices), s)

	t.Run("regression extrapolates the line", func(t *testing.T) {
		// Last price 34; slope 1/tick, so horizon 3 forecasts 37.
		assert.InDelta(t, 37.0, f.BuyAt(3, 34), 1e-9)
		assert.InDelta(t, 35.0, f.BuyAt(1, 34), 1e-9)
		assert.InDelta(t, 54.0, f.BuyAt(20, 34), 1e-9)
	})
	t.Run("zero losses reads as 100", func(t *testing.T) {
		assert.Equal(t, 100.0, f.RSI)
	})
	t.Run("momentum over lag 5", func(t *testing.T) {
		// (34-29)/29
		assert.InDelta(t, 5.0/29.0, f.Momentum, 1e-9)
	})
}

func TestEnrichFallingSeriesRSI(t *testing.T) {
	s := types.DefaultSettings()
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 100 - float64(i)
	}
	f := Enrich(ticksFromBuy(prices), s)
	assert.Equal(t, 0.0, f.RSI)
	assert.True(t, f.Momentum < 0)
}

func TestVolatility(t *testing.T) {
	s := types.DefaultSettings()

	t.Run("constant series has zero volatility", func(t *testing.T) {
		prices := make([]float64, 30)
		for i := range prices {
			prices[i] = 42
		}
		f := Enrich(ticksFromBuy(prices), s)
		assert.Zero(t, f.Volatility)
	})

	t.Run("alternating series is volatile", func(t *testing.T) {
		prices := make([]float64, 30)
		for i := range prices {
			if i%2 == 0 {
				prices[i] = 10
			} else {
				prices[i] = 50
			}
		}
		f := Enrich(ticksFromBuy(prices), s)
		assert.Greater(t, f.Volatility, 10.0)
	})
}

func TestSunTrend(t *testing.T) {
	s := types.DefaultSettings()
	ticks := ticksFromBuy([]float64{10, 10, 10, 10, 10, 10})
	for i := range ticks {
		ticks[i].Sun = 80 - i*10
	}
	f := Enrich(ticks, s)
	assert.InDelta(t, -10.0, f.SunTrend, 1e-9)
}

func TestEnrichAllIsCausal(t *testing.T) {
	s := types.DefaultSettings()
	ticks := ticksFromBuy([]float64{10, 20, 30, 40, 50})
	all := EnrichAll(ticks, s)
	require.Len(t, all, 5)

	// Features at index i must match Enrich over the prefix only.
	for i := range ticks {
		want := Enrich(ticks[:i+1], s)
		assert.Equal(t, want, all[i].Features, "index %d", i)
	}
}

func TestForecastFallbacks(t *testing.T) {
	var f Features
	assert.Equal(t, 7.5, f.BuyAt(3, 7.5))
	assert.Equal(t, 8.5, f.SellAt(3, 8.5))
	assert.Equal(t, 9.5, f.DemandAt(3, 9.5))
}
