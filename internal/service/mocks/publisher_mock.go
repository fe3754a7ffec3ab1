package mocks

import (
	"context"

	"dungeon-server/internal/messaging"

	"github.com/stretchr/testify/mock"
)

// MockDungeonPublisher is a mock type for the DungeonPublisher type
type MockDungeonPublisher struct {
	mock.Mock
}

// PublishDungeonUpdate provides a mock function with given fields: ctx, update
func (_m *MockDungeonPublisher) PublishDungeonUpdate(ctx context.Context, update messaging.DungeonUpdate) error {
	ret := _m.Called(ctx, update)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, messaging.DungeonUpdate) error); ok {
		r0 = rf(ctx, update)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockDungeonPublisher creates a new instance of MockDungeonPublisher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockDungeonPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDungeonPublisher {
	m := &MockDungeonPublisher{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

var _ messaging.DungeonPublisher = (*MockDungeonPublisher)(nil)
