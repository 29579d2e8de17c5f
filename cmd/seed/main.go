package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/jouleflow/jouleflow/pkg/controller"
	"github.com/jouleflow/jouleflow/pkg/log"
	"github.com/jouleflow/jouleflow/pkg/storage"
	"github.com/jouleflow/jouleflow/pkg/types"
)

// seed generates a synthetic day, runs the decision engine over it and
// persists the resulting ledger, schedule and summary. Useful for populating
// the firestore emulator before poking at the API.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	db := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding synthetic day")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	const (
		dayTicks  = 60
		sunrise   = 15
		dayLength = 30
	)

	ticks := make([]types.Tick, dayTicks)
	for i := range ticks {
		// Sun follows a half-sine over the daylight window.
		sun := 0
		if i >= sunrise && i < sunrise+dayLength {
			sun = int(math.Sin(float64(i-sunrise)*math.Pi/float64(dayLength)) * 100)
		}

		// Prices peak in the morning and evening, sag at midday.
		buy := 30.0
		switch {
		case i >= 10 && i < 16:
			buy = 55 // morning peak
		case i >= 20 && i < 35:
			buy = 22 // midday lull
		case i >= 40 && i < 50:
			buy = 65 // evening peak
		}
		buy += rng.Float64()*6 - 3

		demand := 20.0 + rng.Float64()*10
		if i >= 40 && i < 52 {
			demand += 15 // evening load
		}

		ticks[i] = types.Tick{
			ID:        i,
			Demand:    demand,
			BuyPrice:  buy,
			SellPrice: buy * (0.75 + rng.Float64()*0.2),
			Sun:       sun,
		}
	}

	tasks := []types.DeferrableTask{
		{Start: 18, End: 34, Demand: 25},
		{Start: 5, End: 14, Demand: 8},
	}

	eng := controller.New(types.DefaultSettings(), 0)
	if _, err := eng.Plan(ctx, ticks, tasks); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to plan day", "error", err)
		os.Exit(1)
	}
	if err := db.UpsertSchedule(ctx, eng.Schedule()); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed schedule", "error", err)
		os.Exit(1)
	}

	for _, tick := range ticks {
		res, err := eng.Step(ctx, tick)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to step tick", "tick", tick.ID, "error", err)
			os.Exit(1)
		}
		for _, e := range res.Entries {
			if err := db.InsertLedgerEntry(ctx, e); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to seed ledger entry", "error", err)
				os.Exit(1)
			}
		}
		if err := db.InsertTickRecord(ctx, res.Record); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed tick record", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded tick %d: storage %.2fJ (%s), %d entries\n",
			tick.ID, res.StorageLevel, res.StorageState, len(res.Entries))
	}

	sum := eng.Summary()
	if err := db.PutSummary(ctx, sum); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed summary", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded synthetic day successfully",
		"ticks", sum.Ticks, "netCost", sum.NetCost)
}
