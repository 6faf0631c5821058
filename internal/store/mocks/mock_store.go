package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Subscribe(ctx context.Context, c store.Collection, fn func(store.Snapshot)) (store.Subscription, error) {
	args := m.Called(ctx, c, fn)
	if sub := args.Get(0); sub != nil {
		return sub.(store.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) Insert(ctx context.Context, c store.Collection, id string, data []byte) (store.Document, error) {
	args := m.Called(ctx, c, id, data)
	return args.Get(0).(store.Document), args.Error(1)
}

func (m *MockStore) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	args := m.Called(ctx, c, id)
	return args.Get(0).(store.Document), args.Error(1)
}

func (m *MockStore) UpdateIf(ctx context.Context, c store.Collection, id string, version int64, data []byte) (store.Document, error) {
	args := m.Called(ctx, c, id, version, data)
	return args.Get(0).(store.Document), args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, c store.Collection, id string) error {
	args := m.Called(ctx, c, id)
	return args.Error(0)
}

type MockSubscription struct {
	mock.Mock
}

func (m *MockSubscription) Close() error {
	args := m.Called()
	return args.Error(0)
}
