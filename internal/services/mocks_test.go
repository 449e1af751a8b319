package services

import (
	"context"

	"github.com/learnpay/backend/internal/gateway"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) InitiatePayment(ctx context.Context, mobile string, amountCents int64, chargeID string) (*gateway.InitiateResult, error) {
	args := m.Called(ctx, mobile, amountCents, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.InitiateResult), args.Error(1)
}

func (m *MockGateway) VerifyPayment(ctx context.Context, paymentRef string) (*gateway.VerifyResult, error) {
	args := m.Called(ctx, paymentRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.VerifyResult), args.Error(1)
}
