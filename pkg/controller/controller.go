// Package controller is the per-tick decision engine. Each tick it applies
// storage decay, takes in solar, decides grid buys and sells against a
// dynamic storage target, fulfills immediate plus scheduled deferrable
// demand, and appends to the ledger.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jouleflow/jouleflow/pkg/deferral"
	"github.com/jouleflow/jouleflow/pkg/forecast"
	"github.com/jouleflow/jouleflow/pkg/reservoir"
	"github.com/jouleflow/jouleflow/pkg/types"
)

var (
	// ErrDuplicateTick means the tick was already processed; callers skip it.
	ErrDuplicateTick = errors.New("tick already processed")
	// ErrOutOfOrderTick means the tick is older than the last processed one.
	ErrOutOfOrderTick = errors.New("tick out of order")
)

// Controller holds all per-run decision state. Safe for concurrent use; the
// poll loop steps it while HTTP handlers read the ledger and summary.
type Controller struct {
	mu sync.Mutex

	s     types.Settings
	res   *reservoir.Reservoir
	sched *deferral.Scheduler

	// planning is the enriched feed series used for candidate scoring and
	// the forward-looking storage target. Refreshed on every Plan call.
	planning []forecast.Enriched
	slots    []types.ScheduledSlot
	byTick   map[int][]types.ScheduledSlot

	history   []types.Tick
	priceHist []float64

	ledger   []types.LedgerEntry
	rows     []types.TickRecord
	summary  types.Summary
	lastTick int
}

// New returns a controller at the given initial storage level.
func New(s types.Settings, initialStorage float64) *Controller {
	return &Controller{
		s:        s,
		res:      reservoir.New(initialStorage, s),
		sched:    deferral.New(s),
		byTick:   make(map[int][]types.ScheduledSlot),
		lastTick: -1,
	}
}

// Plan ingests the feed's tick series and deferrable tasks: it enriches the
// series for scoring and places any tasks not yet scheduled. Safe to call on
// every poll; already-placed tasks are not re-allocated.
func (c *Controller) Plan(ctx context.Context, ticks []types.Tick, tasks []types.DeferrableTask) ([]types.ScheduledSlot, error) {
	for _, t := range ticks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("planning series: %w", err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.planning = forecast.EnrichAll(ticks, c.s)
	newSlots := c.sched.Schedule(ctx, tasks, c.planning)
	if len(newSlots) > 0 {
		c.slots = append(c.slots, newSlots...)
		c.byTick = deferral.SlotsByTick(c.slots)
		slog.InfoContext(ctx, "scheduled deferrable load",
			slog.Int("newSlots", len(newSlots)),
			slog.Int("totalSlots", len(c.slots)))
	}
	return newSlots, nil
}

// Step runs the decision sequence for one tick and returns everything that
// happened. Duplicate ticks return ErrDuplicateTick, older ticks
// ErrOutOfOrderTick; neither mutates state.
func (c *Controller) Step(ctx context.Context, tick types.Tick) (types.TickResult, error) {
	if err := tick.Validate(); err != nil {
		return types.TickResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if tick.ID == c.lastTick {
		return types.TickResult{}, ErrDuplicateTick
	}
	if tick.ID < c.lastTick {
		return types.TickResult{}, fmt.Errorf("%w: got %d after %d", ErrOutOfOrderTick, tick.ID, c.lastTick)
	}
	c.lastTick = tick.ID

	c.res.Decay()
	initial := c.res.Level()

	c.priceHist = append(c.priceHist, tick.BuyPrice)
	if len(c.priceHist) > c.s.PriceHistoryLen {
		c.priceHist = c.priceHist[len(c.priceHist)-c.s.PriceHistoryLen:]
	}
	c.history = append(c.history, tick)
	if keep := 2 * c.s.ForecastWindow; len(c.history) > keep {
		c.history = c.history[len(c.history)-keep:]
	}
	f := forecast.Enrich(c.history, c.s)

	res := types.TickResult{Tick: tick}
	now := time.Now()
	entry := func(action types.Action, amount, price, cost float64, note string) {
		res.Entries = append(res.Entries, types.LedgerEntry{
			Tick:   tick.ID,
			Action: action,
			Amount: amount,
			Price:  price,
			Cost:   cost,
			Note:   note,
			Time:   now,
		})
	}

	// Deferrable load that was placed into this tick joins the demand pool.
	var deferPower float64
	if slots := c.byTick[tick.ID]; len(slots) > 0 {
		reasons := make(map[string]bool)
		for _, s := range slots {
			deferPower += s.Energy
			reasons[s.Reason] = true
		}
		entry(types.ActionDeferredScheduled, deferPower, 0, 0, joinReasons(reasons))
	}
	totalDemand := tick.Demand + deferPower

	target := c.storageTarget(tick.ID, c.res.Level())
	res.Target = target

	// Solar intake through the RC charging curve.
	if tick.Sun > c.s.SolarSunThreshold {
		solar := float64(tick.Sun) * c.s.SolarCoefficient
		possible := math.Min(solar, c.res.MaxChargeable())
		if possible*c.s.ChargeEfficiency > 0.005 {
			stored := c.res.Store(possible)
			entry(types.ActionSolarCharge, stored, 0, 0, "")
		}
	}

	// Opportunistic grid buy into storage.
	if shouldBuy, amount := c.buyDecision(tick, f, target, totalDemand); shouldBuy && amount > 0.05 {
		amount = math.Min(amount, c.s.MaxChargeRate)
		stored := c.res.Store(amount)
		cost := amount * tick.BuyPrice
		entry(types.ActionBoughtForStorage, amount, tick.BuyPrice, cost,
			fmt.Sprintf("stored %.3fJ after conversion loss", stored))
	}

	// Opportunistic sell of excess above target.
	if shouldSell, amount := c.sellDecision(tick, f, target); shouldSell && amount > 0.05 {
		withdrawn := c.res.Withdraw(amount)
		delivered := withdrawn * c.s.DischargeEff
		entry(types.ActionSoldFromStorage, withdrawn, tick.SellPrice, -delivered*tick.SellPrice, "")
	}

	// Demand fulfillment: storage first when cheaper than the grid, the
	// remainder bought at the current buy price.
	if totalDemand > 0 {
		remaining := totalDemand
		storageUse := c.demandFromStorage(totalDemand, tick.BuyPrice, tick.SellPrice)
		if storageUse > 0.01 {
			withdrawn := c.res.Withdraw(storageUse)
			delivered := withdrawn * c.s.DischargeEff
			entry(types.ActionDischargedDemand, withdrawn, 0, 0,
				fmt.Sprintf("delivered %.3fJ", delivered))
			remaining = totalDemand - delivered
		}
		if remaining > 0.01 {
			entry(types.ActionBoughtFromGrid, remaining, tick.BuyPrice, remaining*tick.BuyPrice, "")
		}
	}

	c.res.Clamp()
	res.StorageLevel = c.res.Level()
	res.StorageState = storageState(res.StorageLevel - initial)
	res.NewSlots = c.byTick[tick.ID]

	c.ledger = append(c.ledger, res.Entries...)
	c.summary.Add(res)

	// The audit row is appended for every tick, transacting or not.
	actions := make([]string, len(res.Entries))
	for i, e := range res.Entries {
		actions[i] = e.String()
	}
	res.Record = types.TickRecord{
		Tick:         tick.ID,
		StorageLevel: res.StorageLevel,
		Target:       target,
		Profit:       c.summary.TotalEarned - c.summary.TotalSpent,
		StorageState: res.StorageState,
		Actions:      actions,
		Time:         now,
	}
	c.rows = append(c.rows, res.Record)

	slog.DebugContext(ctx, "tick processed",
		slog.Int("tick", tick.ID),
		slog.Float64("storage", res.StorageLevel),
		slog.Float64("target", target),
		slog.String("state", string(res.StorageState)),
		slog.Int("entries", len(res.Entries)))
	return res, nil
}

// buyDecision scores whether to buy grid energy into storage and how much.
func (c *Controller) buyDecision(tick types.Tick, f forecast.Features, target, totalDemand float64) (bool, float64) {
	s := c.s
	deficit := math.Max(0, target-c.res.Level())
	urgency := math.Min(deficit/(s.MaxStorage*0.3), 2.0)

	priceMA := tick.BuyPrice
	if len(c.priceHist) >= 3 {
		priceMA = mean(c.priceHist)
	}
	priceAttract := math.Max(0, (priceMA-tick.BuyPrice)/math.Max(priceMA, 0.01))
	forecastAdv := math.Max(0, (f.BuyAt(3, tick.BuyPrice)-tick.BuyPrice)/math.Max(tick.BuyPrice, 0.01))
	volFactor := math.Max(0, 1-f.Volatility/5)
	var rsiFactor float64
	if f.RSI < 50 {
		rsiFactor = math.Max(0, (30-f.RSI)/30)
	}
	momFactor := math.Max(0, -f.Momentum)
	demandPressure := math.Min(f.DemandAt(3, totalDemand)/math.Max(c.res.Level()+1, 1), 3.0)

	w := s.BuyWeights
	score := urgency*w.Urgency +
		priceAttract*w.Price +
		forecastAdv*w.Forecast +
		volFactor*w.Volatility +
		rsiFactor*w.RSI +
		momFactor*w.Momentum +
		demandPressure*w.DemandPressure

	if score <= s.BuyScoreThreshold && !(urgency > s.BuyUrgencyOverride && score > s.BuyScoreThreshold-0.2) {
		return false, 0
	}
	maxPossible := math.Min(s.MaxChargeRate, c.res.Headroom())
	switch {
	case urgency > s.BuyUrgencyOverride:
		return true, maxPossible * 0.8
	case score > 1.0:
		return true, maxPossible * 0.6
	default:
		return true, maxPossible * 0.4
	}
}

// sellDecision scores whether to sell stored excess above the target and how
// much. Spreads below the absolute threshold are never worth transacting.
func (c *Controller) sellDecision(tick types.Tick, f forecast.Features, target float64) (bool, float64) {
	s := c.s
	excess := c.res.Level() - target
	if excess <= 0 {
		return false, 0
	}
	spread := tick.SellPrice - tick.BuyPrice
	spreadAttract := math.Max(0, (spread-f.SpreadMA)/math.Max(f.SpreadMA, 0.1))
	forecastDis := math.Max(0, (tick.SellPrice-f.SellAt(3, tick.SellPrice))/math.Max(tick.SellPrice, 0.01))
	priceMA := tick.BuyPrice
	if len(c.priceHist) >= 3 {
		priceMA = mean(c.priceHist)
	}
	premium := math.Max(0, (tick.SellPrice-priceMA)/math.Max(priceMA, 0.01))
	sunDeficit := math.Max(0, (100-float64(tick.Sun))/100)

	w := s.SellWeights
	score := math.Min(excess/(s.MaxStorage*0.2), 2.0)*w.Excess +
		spreadAttract*w.Spread +
		forecastDis*w.Forecast +
		premium*w.PricePremium +
		sunDeficit*w.SunDeficit

	if score <= 0 || spread <= s.SellSpreadThreshold {
		return false, 0
	}
	maxSellable := math.Min(excess*0.6, s.MaxSellPerTick)
	if score > 1.5 {
		return true, maxSellable * 0.8
	}
	return true, maxSellable * 0.5
}

// demandFromStorage decides how much stored energy to put toward demand,
// weighing forgone sell revenue against the grid price.
func (c *Controller) demandFromStorage(totalDemand, buyPrice, sellPrice float64) float64 {
	maxDischarge := c.res.MaxDischarge()
	if maxDischarge <= 0.01 {
		return 0
	}
	opportunityCost := sellPrice * c.s.DischargeEff * 0.8
	if opportunityCost >= buyPrice {
		return 0
	}
	return math.Min(maxDischarge, totalDemand/c.s.DischargeEff)
}

// storageTarget computes the forward-looking reservoir target from the next
// horizon ticks of the planning series, clamped to the configured band.
func (c *Controller) storageTarget(tickID int, level float64) float64 {
	const horizon = 15
	s := c.s

	var future []forecast.Enriched
	for _, e := range c.planning {
		if e.ID > tickID {
			future = append(future, e)
			if len(future) == horizon {
				break
			}
		}
	}
	if len(future) == 0 {
		return s.MaxStorage * 0.3
	}

	var target float64

	demand := make([]float64, len(future))
	sun := make([]float64, len(future))
	buys := make([]float64, len(future))
	sells := make([]float64, len(future))
	var sunTrend float64
	for i, e := range future {
		demand[i] = e.Demand
		sun[i] = float64(e.Sun)
		buys[i] = e.BuyPrice
		sells[i] = e.SellPrice
		sunTrend += e.SunTrend
	}
	sunTrend /= float64(len(future))

	target += math.Min(mean(demand)*2.5, s.MaxStorage*0.6)
	target += math.Min(maxOf(demand)*1.2, s.MaxStorage*0.4)
	target += math.Min(stddev(demand)*0.5, s.MaxStorage*0.2)

	switch {
	case mean(sun) > 60:
		target -= s.MaxStorage * 0.25
	case minOf(sun) < 20:
		target += s.MaxStorage * 0.3
	}
	if sunTrend < -5 {
		target += s.MaxStorage * 0.15
	}

	currentBuy := 10.0
	if n := len(c.history); n > 0 {
		currentBuy = c.history[n-1].BuyPrice
	}
	priceTrend := (mean(buys) - currentBuy) / math.Max(currentBuy, 0.01)
	switch {
	case priceTrend > 0.05:
		target += s.MaxStorage * 0.2
	case priceTrend < -0.05:
		target -= s.MaxStorage * 0.15
	}
	target += math.Min(stddev(buys)*2, s.MaxStorage*0.1)

	var spreadSum float64
	for i := range buys {
		spreadSum += sells[i] - buys[i]
	}
	spreadTrend := spreadSum / float64(len(buys))
	target += math.Max(0, (spreadTrend-2)*s.MaxStorage*0.05)

	switch ratio := level / s.MaxStorage; {
	case ratio < 0.2:
		target += s.MaxStorage * 0.2
	case ratio > 0.8:
		target -= s.MaxStorage * 0.1
	}

	return math.Max(s.MaxStorage*s.TargetFloorFrac, math.Min(target, s.MaxStorage*s.TargetCeilingFrac))
}

// Ledger returns a copy of the full ledger so far.
func (c *Controller) Ledger() []types.LedgerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.LedgerEntry, len(c.ledger))
	copy(out, c.ledger)
	return out
}

// History returns a copy of the per-tick audit rows so far.
func (c *Controller) History() []types.TickRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.TickRecord, len(c.rows))
	copy(out, c.rows)
	return out
}

// Schedule returns a copy of every placed deferrable slot.
func (c *Controller) Schedule() []types.ScheduledSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ScheduledSlot, len(c.slots))
	copy(out, c.slots)
	return out
}

// Summary returns the running totals.
func (c *Controller) Summary() types.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// StorageLevel returns the current reservoir level.
func (c *Controller) StorageLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.Level()
}

// LastTick returns the last processed tick ID, -1 before the first.
func (c *Controller) LastTick() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

func storageState(change float64) types.StorageState {
	switch {
	case change > 0.1:
		return types.StorageCharged
	case change < -0.1:
		return types.StorageDischarged
	default:
		return types.StorageNoChange
	}
}

func joinReasons(set map[string]bool) string {
	reasons := make([]string, 0, len(set))
	for r := range set {
		reasons = append(reasons, r)
	}
	return strings.Join(reasons, "|")
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var sq float64
	for _, v := range vals {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)-1))
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
