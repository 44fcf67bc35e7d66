package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/eventpay/backend/internal/ledger"
	"github.com/eventpay/backend/internal/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow ledger.UnitOfWork) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func (m *MockStore) Customer(ctx context.Context, orgID, customerID string) (*models.Customer, error) {
	args := m.Called(ctx, orgID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func (m *MockStore) CustomerByScanToken(ctx context.Context, orgID, token string) (*models.Customer, error) {
	args := m.Called(ctx, orgID, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

func (m *MockStore) Transaction(ctx context.Context, orgID, transactionID string) (*models.Transaction, error) {
	args := m.Called(ctx, orgID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockStore) DailyStats(ctx context.Context, orgID string, from, to time.Time) (*models.DailyStats, error) {
	args := m.Called(ctx, orgID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DailyStats), args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event TransactionEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
