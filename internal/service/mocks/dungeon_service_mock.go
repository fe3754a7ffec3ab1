package mocks

import (
	"context"

	"dungeon-server/internal/models"
	"dungeon-server/internal/service"

	"github.com/stretchr/testify/mock"
)

// MockDungeonService is a mock type for the DungeonService type
type MockDungeonService struct {
	mock.Mock
}

// Entrance provides a mock function with given fields: ctx, req
func (_m *MockDungeonService) Entrance(ctx context.Context, req service.EntranceRequest) (*service.EntranceResult, error) {
	ret := _m.Called(ctx, req)

	var r0 *service.EntranceResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.EntranceResult)
	}
	return r0, ret.Error(1)
}

// Balance provides a mock function with given fields: ctx, req
func (_m *MockDungeonService) Balance(ctx context.Context, req service.BalanceRequest) (*service.BalanceResult, error) {
	ret := _m.Called(ctx, req)

	var r0 *service.BalanceResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.BalanceResult)
	}
	return r0, ret.Error(1)
}

// Clear provides a mock function with given fields: ctx, playerIDs
func (_m *MockDungeonService) Clear(ctx context.Context, playerIDs []int) (*service.ClearResult, error) {
	ret := _m.Called(ctx, playerIDs)

	var r0 *service.ClearResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.ClearResult)
	}
	return r0, ret.Error(1)
}

// Next provides a mock function with given fields: ctx, req
func (_m *MockDungeonService) Next(ctx context.Context, req service.NextRequest) (*service.BalanceResult, error) {
	ret := _m.Called(ctx, req)

	var r0 *service.BalanceResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.BalanceResult)
	}
	return r0, ret.Error(1)
}

// SelectEvent provides a mock function with given fields: ctx, req
func (_m *MockDungeonService) SelectEvent(ctx context.Context, req service.SelectEventRequest) (*service.SelectEventResult, error) {
	ret := _m.Called(ctx, req)

	var r0 *service.SelectEventResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.SelectEventResult)
	}
	return r0, ret.Error(1)
}

// Current provides a mock function with given fields: ctx, playerID, heroineID
func (_m *MockDungeonService) Current(ctx context.Context, playerID int, heroineID int) (*models.DungeonRow, error) {
	ret := _m.Called(ctx, playerID, heroineID)

	var r0 *models.DungeonRow
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.DungeonRow)
	}
	return r0, ret.Error(1)
}

// EventByFloor provides a mock function with given fields: ctx, playerID, floor
func (_m *MockDungeonService) EventByFloor(ctx context.Context, playerID int, floor int) (*models.FloorEvents, error) {
	ret := _m.Called(ctx, playerID, floor)

	var r0 *models.FloorEvents
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.FloorEvents)
	}
	return r0, ret.Error(1)
}

// Health provides a mock function with given fields: ctx
func (_m *MockDungeonService) Health(ctx context.Context) error {
	ret := _m.Called(ctx)
	return ret.Error(0)
}

// NewMockDungeonService creates a new instance of MockDungeonService. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockDungeonService(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDungeonService {
	m := &MockDungeonService{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ service.DungeonService = (*MockDungeonService)(nil)
