// Package feed retrieves tick data and deferrable demands from the simulated
// grid API.
package feed

import (
	"context"

	"github.com/jouleflow/jouleflow/pkg/types"
)

// Provider defines the interface for a grid data feed.
type Provider interface {
	// GetDay returns the full tick series for the planning day.
	GetDay(ctx context.Context) ([]types.Tick, error)

	// GetLatest returns the most recent live tick.
	GetLatest(ctx context.Context) (types.Tick, error)

	// GetDeferrables returns the outstanding deferrable demand tasks.
	GetDeferrables(ctx context.Context) ([]types.DeferrableTask, error)
}

// Configured sets up the grid feed and returns it. Flags are registered at
// call time and read once lflag.Configure runs.
func Configured() *Grid {
	return configuredGrid()
}
