package services

import (
	"context"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockReviewPublisher struct {
	mock.Mock
}

func (m *MockReviewPublisher) Publish(ctx context.Context, item models.FraudQueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

type MockAccountFreezer struct {
	mock.Mock
}

func (m *MockAccountFreezer) FreezeAccount(ctx context.Context, accountID int64, reason string) error {
	args := m.Called(ctx, accountID, reason)
	return args.Error(0)
}
