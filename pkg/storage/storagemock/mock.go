package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jouleflow/jouleflow/pkg/storage"
	"github.com/jouleflow/jouleflow/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertLedgerEntry(ctx context.Context, entry types.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) GetLedgerHistory(ctx context.Context, startTick, endTick int) ([]types.LedgerEntry, error) {
	args := m.Called(ctx, startTick, endTick)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.LedgerEntry), args.Error(1)
}

func (m *MockDatabase) InsertTickRecord(ctx context.Context, rec types.TickRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetTickHistory(ctx context.Context, startTick, endTick int) ([]types.TickRecord, error) {
	args := m.Called(ctx, startTick, endTick)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.TickRecord), args.Error(1)
}

func (m *MockDatabase) UpsertSchedule(ctx context.Context, slots []types.ScheduledSlot) error {
	args := m.Called(ctx, slots)
	return args.Error(0)
}

func (m *MockDatabase) GetSchedule(ctx context.Context) ([]types.ScheduledSlot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.ScheduledSlot), args.Error(1)
}

func (m *MockDatabase) PutSummary(ctx context.Context, sum types.Summary) error {
	args := m.Called(ctx, sum)
	return args.Error(0)
}

func (m *MockDatabase) GetSummary(ctx context.Context) (types.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Summary), args.Error(1)
}

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
