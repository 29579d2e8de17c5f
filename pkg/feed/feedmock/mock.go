package feedmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jouleflow/jouleflow/pkg/feed"
	"github.com/jouleflow/jouleflow/pkg/types"
)

type MockProvider struct {
	mock.Mock
}

var _ feed.Provider = (*MockProvider)(nil)

func (m *MockProvider) GetDay(ctx context.Context) ([]types.Tick, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.Tick), args.Error(1)
}

func (m *MockProvider) GetLatest(ctx context.Context) (types.Tick, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Tick), args.Error(1)
}

func (m *MockProvider) GetDeferrables(ctx context.Context) ([]types.DeferrableTask, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.DeferrableTask), args.Error(1)
}
