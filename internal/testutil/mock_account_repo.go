package testutil

import (
	"context"

	"facturacl/ms_facturacion_marketplace/internal/core/account"
)

// MockAccountRepository is a mock implementation of account.Repository.
type MockAccountRepository struct {
	FindByIDFunc             func(ctx context.Context, id int64) (*account.Account, error)
	ListWithIntegrationsFunc func(ctx context.Context) ([]account.Account, error)
	UpdateMLTokensFunc       func(ctx context.Context, id int64, accessToken, refreshToken string) error
}

// FindByID calls the mock function if set, otherwise returns nil.
func (m *MockAccountRepository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

// ListWithIntegrations calls the mock function if set, otherwise returns an empty slice.
func (m *MockAccountRepository) ListWithIntegrations(ctx context.Context) ([]account.Account, error) {
	if m.ListWithIntegrationsFunc != nil {
		return m.ListWithIntegrationsFunc(ctx)
	}
	return []account.Account{}, nil
}

// UpdateMLTokens calls the mock function if set, otherwise succeeds.
func (m *MockAccountRepository) UpdateMLTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	if m.UpdateMLTokensFunc != nil {
		return m.UpdateMLTokensFunc(ctx, id, accessToken, refreshToken)
	}
	return nil
}
