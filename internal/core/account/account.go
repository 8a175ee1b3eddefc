package account

import (
	"context"
	"time"
)

// Account owns the integration credentials everything else is scoped to.
// Credential encryption/decryption happens outside this service: the
// repository hands back already-usable values.
type Account struct {
	ID    int64
	Email string
	// HaulmerAPIKey authorizes tax document emission. Empty means the
	// account cannot emit.
	HaulmerAPIKey string
	// Falabella Seller Center: UserID is the seller email, APIKey signs
	// every request. Both must be present for the integration to be active.
	FalabellaUserID string
	FalabellaAPIKey string
	// Mercado Libre OAuth tokens and numeric seller id.
	MLAccessToken  string
	MLRefreshToken string
	MLUserID       string
	CreatedAt      time.Time
}

// HasFalabella reports whether the Falabella integration is configured.
func (a *Account) HasFalabella() bool {
	return a.FalabellaUserID != "" && a.FalabellaAPIKey != ""
}

// HasMercadoLibre reports whether the Mercado Libre integration is configured.
func (a *Account) HasMercadoLibre() bool {
	return a.MLAccessToken != ""
}

// HasIntegrations reports whether at least one marketplace is configured.
func (a *Account) HasIntegrations() bool {
	return a.HasFalabella() || a.HasMercadoLibre()
}

// Repository provides access to accounts.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	// ListWithIntegrations returns every account with at least one
	// configured marketplace integration, for the sync worker.
	ListWithIntegrations(ctx context.Context) ([]Account, error)
	// UpdateMLTokens persists a rotated Mercado Libre token pair.
	UpdateMLTokens(ctx context.Context, id int64, accessToken, refreshToken string) error
}
