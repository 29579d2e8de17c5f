package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/jouleflow/jouleflow/pkg/types"
)

// Memory implements Database in process memory. Used for local runs and
// tests where nothing needs to survive a restart.
type Memory struct {
	mu       sync.Mutex
	ledger   []types.LedgerEntry
	rows     []types.TickRecord
	schedule []types.ScheduledSlot
	summary  types.Summary
	settings *types.Settings
	version  int
}

var _ Database = (*Memory)(nil)

// NewMemory returns an empty in-memory database.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger = append(m.ledger, entry)
	return nil
}

func (m *Memory) GetLedgerHistory(ctx context.Context, startTick, endTick int) ([]types.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.LedgerEntry
	for _, e := range m.ledger {
		if e.Tick >= startTick && e.Tick < endTick {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func (m *Memory) InsertTickRecord(ctx context.Context, rec types.TickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec)
	return nil
}

func (m *Memory) GetTickHistory(ctx context.Context, startTick, endTick int) ([]types.TickRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.TickRecord
	for _, r := range m.rows {
		if r.Tick >= startTick && r.Tick < endTick {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func (m *Memory) UpsertSchedule(ctx context.Context, slots []types.ScheduledSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = append([]types.ScheduledSlot(nil), slots...)
	return nil
}

func (m *Memory) GetSchedule(ctx context.Context) ([]types.ScheduledSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ScheduledSlot(nil), m.schedule...), nil
}

func (m *Memory) PutSummary(ctx context.Context, sum types.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = sum
	return nil
}

func (m *Memory) GetSummary(ctx context.Context) (types.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary, nil
}

func (m *Memory) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return types.Settings{}, 0, nil
	}
	return *m.settings, m.version, nil
}

func (m *Memory) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &settings
	m.version = version
	return nil
}

func (m *Memory) Close() error {
	return nil
}
