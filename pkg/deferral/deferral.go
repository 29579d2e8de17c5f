// Package deferral places deferrable energy demands into favorable ticks
// within their allowed windows, splitting large loads across several ticks
// proportionally to a desirability weighting.
package deferral

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/jouleflow/jouleflow/pkg/forecast"
	"github.com/jouleflow/jouleflow/pkg/log"
	"github.com/jouleflow/jouleflow/pkg/types"
)

// Scheduler assigns deferrable tasks to ticks. It remembers which tasks it
// has already placed so repeated feed polls never double-allocate.
type Scheduler struct {
	s         types.Settings
	scheduled map[string]bool
}

// New returns a scheduler with an empty placement memory.
func New(s types.Settings) *Scheduler {
	return &Scheduler{
		s:         s,
		scheduled: make(map[string]bool),
	}
}

// seen reports whether the task has already been placed.
func (sc *Scheduler) seen(task types.DeferrableTask) bool {
	return sc.scheduled[types.TaskKey(task)]
}

// Schedule places every not-yet-seen valid task into the candidate series
// and returns the new slots. Tasks with no candidate ticks in their window
// or failing validation are skipped and logged, never fatal.
func (sc *Scheduler) Schedule(ctx context.Context, tasks []types.DeferrableTask, series []forecast.Enriched) []types.ScheduledSlot {
	var out []types.ScheduledSlot
	for _, task := range tasks {
		key := types.TaskKey(task)
		if sc.scheduled[key] {
			continue
		}
		if err := task.Validate(); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping invalid deferrable task",
				slog.String("error", err.Error()))
			continue
		}
		if task.Demand == 0 {
			// Nothing to place; remember it so later polls stay quiet.
			sc.scheduled[key] = true
			continue
		}
		slots := sc.place(task, series)
		if len(slots) == 0 {
			log.Ctx(ctx).WarnContext(ctx, "no candidate ticks for deferrable task",
				slog.Int("start", task.Start),
				slog.Int("end", task.End),
				slog.Float64("demand", task.Demand))
			continue
		}
		sc.scheduled[key] = true
		out = append(out, slots...)
	}
	return out
}

// place runs the scoring, fan-out and allocation for one task.
func (sc *Scheduler) place(task types.DeferrableTask, series []forecast.Enriched) []types.ScheduledSlot {
	candidates := windowOf(task, series)
	if len(candidates) == 0 {
		return nil
	}

	scores := make([]float64, len(candidates))
	maxDemand := 1.0
	for _, c := range candidates {
		if c.Demand > maxDemand {
			maxDemand = c.Demand
		}
	}
	w := sc.s.SchedulerWeights
	for i, c := range candidates {
		scores[i] = c.BuyPrice*w.BuyPrice +
			c.BuyAt(3, c.BuyPrice)*w.Forecast +
			(100-float64(c.Sun))*w.SunDeficit +
			(c.Demand/maxDemand)*w.DemandConflict +
			c.Volatility*w.Volatility +
			c.Momentum*w.Momentum +
			(c.RSI-50)*w.RSI +
			(c.Spread-c.SpreadMA)*w.SpreadVsMA
	}

	numTicks := sc.fanOut(task, len(candidates))

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})
	order = order[:numTicks]

	weights := softMinWeights(scores, order)

	var slots []types.ScheduledSlot
	remaining := task.Demand
	perTick := sc.s.SchedulerCapacity
	for i, idx := range order {
		var energy float64
		if i == len(order)-1 {
			energy = remaining
		} else {
			energy = math.Min(math.Min(task.Demand*weights[i], perTick*sc.s.AllocationHeadroom), remaining)
		}
		if energy > sc.s.MinSlotEnergy {
			c := candidates[idx]
			slots = append(slots, types.ScheduledSlot{
				Tick:      c.ID,
				Energy:    energy,
				TaskID:    types.TaskKey(task),
				Weight:    weights[i],
				SplitPart: i + 1,
				SplitOf:   numTicks,
				Reason:    reasonFor(c),
			})
		}
		remaining -= energy
		if remaining <= 0.01 {
			break
		}
	}

	// Tasks too small to clear the slot threshold still get placed whole,
	// at the cheapest tick in their window.
	if len(slots) == 0 && task.Demand > 0 {
		best := 0
		for i, c := range candidates {
			if c.BuyPrice < candidates[best].BuyPrice {
				best = i
			}
		}
		c := candidates[best]
		slots = append(slots, types.ScheduledSlot{
			Tick:      c.ID,
			Energy:    task.Demand,
			TaskID:    types.TaskKey(task),
			Weight:    1,
			SplitPart: 1,
			SplitOf:   1,
			Reason:    reasonFor(c),
		})
	}
	return slots
}

// fanOut decides how many ticks a task spreads across, based on its size
// relative to the per-tick capacity and the window length.
func (sc *Scheduler) fanOut(task types.DeferrableTask, available int) int {
	perTick := sc.s.SchedulerCapacity
	winLen := task.End - task.Start + 1
	minNeeded := int(math.Max(1, math.Ceil(task.Demand/perTick)))

	var n int
	switch {
	case task.Demand <= perTick*0.8:
		n = 1
	case task.Demand <= perTick*2:
		n = minInts(2, available, maxInt(1, winLen/3))
	case task.Demand <= perTick*5:
		n = minInts(4, available, maxInt(2, winLen/2))
	default:
		n = minInts(maxInt(minNeeded, 3), available, winLen/2, 8)
	}
	if n < 1 {
		n = 1
	}
	if n > available {
		n = available
	}
	return n
}

// softMinWeights converts the selected ticks' scores to allocation weights:
// normalize so the best tick gets 1, exponentiate, renormalize to sum 1.
// Lower score means a larger share.
func softMinWeights(scores []float64, order []int) []float64 {
	minS, maxS := scores[order[0]], scores[order[0]]
	for _, idx := range order {
		if scores[idx] < minS {
			minS = scores[idx]
		}
		if scores[idx] > maxS {
			maxS = scores[idx]
		}
	}
	weights := make([]float64, len(order))
	var sum float64
	for i, idx := range order {
		norm := (maxS - scores[idx]) / (maxS - minS + 0.001)
		weights[i] = math.Exp(norm * 2)
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// reasonFor tags why a tick was chosen, for the ledger.
func reasonFor(c forecast.Enriched) string {
	var reasons []string
	if c.Sun > 70 {
		reasons = append(reasons, "high_solar")
	}
	if c.BuyPrice < c.BuyAt(3, c.BuyPrice) {
		reasons = append(reasons, "low_price")
	}
	if c.Volatility < 2 {
		reasons = append(reasons, "stable_price")
	}
	if c.Demand < 50 {
		reasons = append(reasons, "low_demand")
	}
	if len(reasons) == 0 {
		return "balanced"
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "+" + r
	}
	return out
}

// SlotsByTick builds the per-tick lookup the decision engine consumes.
func SlotsByTick(slots []types.ScheduledSlot) map[int][]types.ScheduledSlot {
	out := make(map[int][]types.ScheduledSlot, len(slots))
	for _, s := range slots {
		out[s.Tick] = append(out[s.Tick], s)
	}
	return out
}

func windowOf(task types.DeferrableTask, series []forecast.Enriched) []forecast.Enriched {
	var out []forecast.Enriched
	for _, e := range series {
		if e.ID >= task.Start && e.ID <= task.End {
			out = append(out, e)
		}
	}
	return out
}

func minInts(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
