package deferral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jouleflow/jouleflow/pkg/forecast"
	"github.com/jouleflow/jouleflow/pkg/types"
)

// flatSeries builds an enriched series of n ticks with uniform conditions,
// letting tests perturb individual ticks.
func flatSeries(n int) []forecast.Enriched {
	ticks := make([]types.Tick, n)
	for i := range ticks {
		ticks[i] = types.Tick{ID: i, BuyPrice: 40, SellPrice: 42, Demand: 20, Sun: 50}
	}
	return forecast.EnrichAll(ticks, types.DefaultSettings())
}

func totalEnergy(slots []types.ScheduledSlot) float64 {
	var sum float64
	for _, s := range slots {
		sum += s.Energy
	}
	return sum
}

func TestScheduleSmallTaskSingleSlot(t *testing.T) {
	sc := New(types.DefaultSettings())
	series := flatSeries(30)

	task := types.DeferrableTask{Start: 5, End: 15, Demand: 8}
	slots := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)

	require.Len(t, slots, 1)
	assert.InDelta(t, 8.0, slots[0].Energy, 1e-9)
	assert.GreaterOrEqual(t, slots[0].Tick, 5)
	assert.LessOrEqual(t, slots[0].Tick, 15)
	assert.Equal(t, 1, slots[0].SplitPart)
	assert.Equal(t, 1, slots[0].SplitOf)
}

func TestScheduleLargeTaskSplitsAndConserves(t *testing.T) {
	sc := New(types.DefaultSettings())
	series := flatSeries(40)

	task := types.DeferrableTask{Start: 0, End: 30, Demand: 45}
	slots := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)

	require.Greater(t, len(slots), 1)
	assert.InDelta(t, 45.0, totalEnergy(slots), 0.02)
	seen := map[int]bool{}
	for _, s := range slots {
		assert.GreaterOrEqual(t, s.Tick, 0)
		assert.LessOrEqual(t, s.Tick, 30)
		assert.False(t, seen[s.Tick], "tick %d allocated twice", s.Tick)
		seen[s.Tick] = true
		assert.Greater(t, s.Energy, 0.1)
	}
}

func TestSchedulePrefersCheapSunnyTicks(t *testing.T) {
	s := types.DefaultSettings()
	sc := New(s)

	ticks := make([]types.Tick, 20)
	for i := range ticks {
		ticks[i] = types.Tick{ID: i, BuyPrice: 60, SellPrice: 62, Demand: 80, Sun: 10}
	}
	// Tick 12 is unambiguously the best: cheap, sunny, idle.
	ticks[12].BuyPrice = 10
	ticks[12].SellPrice = 12
	ticks[12].Sun = 90
	ticks[12].Demand = 5
	series := forecast.EnrichAll(ticks, s)

	task := types.DeferrableTask{Start: 5, End: 18, Demand: 6}
	slots := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)

	require.Len(t, slots, 1)
	assert.Equal(t, 12, slots[0].Tick)
	assert.Contains(t, slots[0].Reason, "high_solar")
	assert.Contains(t, slots[0].Reason, "low_demand")
}

func TestScheduleIdempotent(t *testing.T) {
	sc := New(types.DefaultSettings())
	series := flatSeries(30)
	task := types.DeferrableTask{Start: 0, End: 20, Demand: 8}

	first := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)
	require.NotEmpty(t, first)
	assert.True(t, sc.seen(task))

	again := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)
	assert.Empty(t, again, "repeated poll must not double-allocate")
}

func TestScheduleSkipsBadTasks(t *testing.T) {
	sc := New(types.DefaultSettings())
	series := flatSeries(10)

	t.Run("inverted window", func(t *testing.T) {
		slots := sc.Schedule(context.Background(), []types.DeferrableTask{{Start: 8, End: 2, Demand: 5}}, series)
		assert.Empty(t, slots)
	})
	t.Run("window beyond known ticks", func(t *testing.T) {
		task := types.DeferrableTask{Start: 100, End: 110, Demand: 5}
		slots := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)
		assert.Empty(t, slots)
		assert.False(t, sc.seen(task), "unplaced task stays eligible for later polls")
	})
}

func TestFanOutTiers(t *testing.T) {
	sc := New(types.DefaultSettings()) // capacity 12

	cases := []struct {
		name   string
		demand float64
		window types.DeferrableTask
		want   int
	}{
		{"tiny fits one tick", 9, types.DeferrableTask{Start: 0, End: 20}, 1},
		{"medium splits in two", 20, types.DeferrableTask{Start: 0, End: 20}, 2},
		{"large splits in four", 50, types.DeferrableTask{Start: 0, End: 20}, 4},
		{"huge capped at eight", 200, types.DeferrableTask{Start: 0, End: 40}, 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			task := c.window
			task.Demand = c.demand
			got := sc.fanOut(task, task.End-task.Start+1)
			assert.Equal(t, c.want, got)
		})
	}

	t.Run("never exceeds available ticks", func(t *testing.T) {
		task := types.DeferrableTask{Start: 0, End: 40, Demand: 200}
		assert.Equal(t, 2, sc.fanOut(task, 2))
	})
}

func TestSoftMinWeights(t *testing.T) {
	scores := []float64{1, 5, 10}
	order := []int{0, 1, 2}
	w := softMinWeights(scores, order)

	require.Len(t, w, 3)
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, w[0], w[1])
	assert.Greater(t, w[1], w[2])
}

func TestSlotsByTick(t *testing.T) {
	slots := []types.ScheduledSlot{
		{Tick: 3, Energy: 2},
		{Tick: 7, Energy: 1},
		{Tick: 3, Energy: 4},
	}
	byTick := SlotsByTick(slots)
	assert.Len(t, byTick[3], 2)
	assert.Len(t, byTick[7], 1)
	assert.Empty(t, byTick[5])
}

func TestScheduleTinyTaskCheapestTick(t *testing.T) {
	sc := New(types.DefaultSettings())
	ticks := make([]types.Tick, 10)
	for i := range ticks {
		ticks[i] = types.Tick{ID: i, BuyPrice: 40, SellPrice: 42, Demand: 20, Sun: 50}
	}
	ticks[3].BuyPrice = 25
	series := forecast.EnrichAll(ticks, types.DefaultSettings())

	// Demand below the slot threshold still gets a single slot at the
	// cheapest tick in the window.
	task := types.DeferrableTask{Start: 0, End: 5, Demand: 0.05}
	slots := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)

	require.Len(t, slots, 1)
	assert.Equal(t, 3, slots[0].Tick)
	assert.InDelta(t, 0.05, slots[0].Energy, 1e-9)
	assert.True(t, sc.seen(task))

	again := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)
	assert.Empty(t, again)
}

func TestScheduleZeroDemandTask(t *testing.T) {
	sc := New(types.DefaultSettings())
	series := flatSeries(10)

	task := types.DeferrableTask{Start: 0, End: 5, Demand: 0}
	slots := sc.Schedule(context.Background(), []types.DeferrableTask{task}, series)
	assert.Empty(t, slots)
	assert.True(t, sc.seen(task), "nothing to place, but later polls stay quiet")
}
