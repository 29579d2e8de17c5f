// Package storage persists the controller's ledger, schedule, summary and
// settings. Providers are selected by flag; firestore is the production
// backend, memory serves local runs and tests.
package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/jouleflow/jouleflow/pkg/types"
)

// Database defines the interface for persisting run data.
type Database interface {
	// Ledger
	InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) error
	GetLedgerHistory(ctx context.Context, startTick, endTick int) ([]types.LedgerEntry, error)

	// Per-tick audit rows
	InsertTickRecord(ctx context.Context, rec types.TickRecord) error
	GetTickHistory(ctx context.Context, startTick, endTick int) ([]types.TickRecord, error)

	// Schedule
	UpsertSchedule(ctx context.Context, slots []types.ScheduledSlot) error
	GetSchedule(ctx context.Context) ([]types.ScheduledSlot, error)

	// Summary
	PutSummary(ctx context.Context, sum types.Summary) error
	GetSummary(ctx context.Context) (types.Summary, error)

	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
