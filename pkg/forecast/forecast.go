// Package forecast derives statistical features from a rolling window of
// tick history. Everything here is a pure function of the history passed in;
// features for a tick are computed only from that tick and earlier ones.
package forecast

import (
	"math"

	"github.com/jouleflow/jouleflow/pkg/types"
)

// Features are the derived signals the decision engine and the deferrable
// scheduler consume. Forecast maps are keyed by horizon in ticks.
type Features struct {
	BuyForecast    map[int]float64
	SellForecast   map[int]float64
	DemandForecast map[int]float64

	Volatility float64
	Momentum   float64
	RSI        float64
	Spread     float64
	SpreadMA   float64
	SunTrend   float64
}

// Enriched pairs a tick with its features as of that tick.
type Enriched struct {
	types.Tick
	Features
}

// Enrich computes features for the last tick of history. With fewer than two
// ticks the regression and oscillator features fall back to neutral values
// instead of failing.
func Enrich(history []types.Tick, s types.Settings) Features {
	n := len(history)
	if n == 0 {
		return Features{RSI: 50}
	}
	cur := history[n-1]

	buy := make([]float64, n)
	sell := make([]float64, n)
	demand := make([]float64, n)
	sun := make([]float64, n)
	for i, t := range history {
		buy[i] = t.BuyPrice
		sell[i] = t.SellPrice
		demand[i] = t.Demand
		sun[i] = float64(t.Sun)
	}

	f := Features{
		BuyForecast:    make(map[int]float64, len(s.ForecastHorizons)),
		SellForecast:   make(map[int]float64, len(s.ForecastHorizons)),
		DemandForecast: make(map[int]float64, len(s.ForecastHorizons)),
		Spread:         cur.SellPrice - cur.BuyPrice,
	}

	window := s.ForecastWindow
	for _, h := range s.ForecastHorizons {
		f.BuyForecast[h] = regressAt(buy, window, h)
		f.SellForecast[h] = regressAt(sell, window, h)
		f.DemandForecast[h] = regressAt(demand, window, h)
	}

	f.Volatility = rollingStd(buy, window)
	f.Momentum = pctChange(buy, s.MomentumLag)
	f.RSI = rsi(buy, s.RSIPeriod)
	f.SpreadMA = spreadMA(history, window/2, f.Spread)
	f.SunTrend = tailSlope(sun, s.SunTrendWindow)
	return f
}

// EnrichAll computes causal features for every index of the series. Index i
// sees only ticks [0, i].
func EnrichAll(ticks []types.Tick, s types.Settings) []Enriched {
	out := make([]Enriched, len(ticks))
	for i := range ticks {
		out[i] = Enriched{
			Tick:     ticks[i],
			Features: Enrich(ticks[:i+1], s),
		}
	}
	return out
}

// BuyAt returns the buy-price forecast at horizon h, falling back to the
// given current price when the horizon was not computed.
func (f Features) BuyAt(h int, current float64) float64 {
	if v, ok := f.BuyForecast[h]; ok {
		return v
	}
	return current
}

// SellAt is BuyAt for the sell-price forecast.
func (f Features) SellAt(h int, current float64) float64 {
	if v, ok := f.SellForecast[h]; ok {
		return v
	}
	return current
}

// DemandAt is BuyAt for the demand forecast.
func (f Features) DemandAt(h int, current float64) float64 {
	if v, ok := f.DemandForecast[h]; ok {
		return v
	}
	return current
}

// regressAt fits a line to the last window values and evaluates it horizon
// steps past the end of the series. With fewer than two points it returns the
// last value unchanged.
func regressAt(vals []float64, window, horizon int) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	if n < 2 {
		return vals[n-1]
	}
	if window > n {
		window = n
	}
	tail := vals[n-window:]
	slope, intercept := linreg(tail)
	// x runs over the window tail; the evaluation point is horizon-1 past
	// the last sample, matching a forecast "for tick index n+h-1".
	x := float64(window-1) + float64(horizon)
	return intercept + slope*x
}

// linreg returns the least-squares slope and intercept of vals against their
// indices 0..len-1.
func linreg(vals []float64) (slope, intercept float64) {
	n := float64(len(vals))
	if n < 2 {
		if n == 1 {
			return 0, vals[0]
		}
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range vals {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// rollingStd is the sample standard deviation of the last window values, 0
// when fewer than two are available.
func rollingStd(vals []float64, window int) float64 {
	n := len(vals)
	if window > n {
		window = n
	}
	if window < 2 {
		return 0
	}
	tail := vals[n-window:]
	var sum float64
	for _, v := range tail {
		sum += v
	}
	mean := sum / float64(window)
	var sq float64
	for _, v := range tail {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(window-1))
}

// pctChange is the fractional change from lag ticks ago to now, 0 when the
// series is too short or the base is zero.
func pctChange(vals []float64, lag int) float64 {
	n := len(vals)
	if lag <= 0 || n <= lag {
		return 0
	}
	base := vals[n-1-lag]
	if base == 0 {
		return 0
	}
	return (vals[n-1] - base) / base
}

// rsi is the relative-strength oscillator over the last period deltas,
// mapped to [0,100]. A window with zero losses reads as 100.
func rsi(vals []float64, period int) float64 {
	n := len(vals)
	if period < 1 || n < period+1 {
		return 50
	}
	var gains, losses float64
	for i := n - period; i < n; i++ {
		d := vals[i] - vals[i-1]
		if d > 0 {
			gains += d
		} else {
			losses += -d
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// spreadMA is the mean sell-buy spread over the last window ticks, falling
// back to the current spread when the window cannot be filled.
func spreadMA(history []types.Tick, window int, current float64) float64 {
	n := len(history)
	if window < 1 || n < window {
		return current
	}
	var sum float64
	for _, t := range history[n-window:] {
		sum += t.SellPrice - t.BuyPrice
	}
	return sum / float64(window)
}

// tailSlope is the regression slope of the last window values, 0 when fewer
// than two are available.
func tailSlope(vals []float64, window int) float64 {
	n := len(vals)
	if window > n {
		window = n
	}
	if window < 2 {
		return 0
	}
	slope, _ := linreg(vals[n-window:])
	return slope
}
