package postgres

import (
	"testing"

	"facturacl/ms_facturacion_marketplace/internal/core/account"
)

// The repository itself needs a live PostgreSQL pool; these tests cover the
// contract and the credential predicates the queries mirror.

func TestRepositoryImplementsInterface(t *testing.T) {
	var _ account.Repository = (*Repository)(nil)
}

func TestAccountCredentialPredicates(t *testing.T) {
	tests := []struct {
		name            string
		acc             account.Account
		wantFalabella   bool
		wantML          bool
		wantIntegration bool
	}{
		{
			name: "falabella pair",
			acc: account.Account{
				FalabellaUserID: "seller@example.com",
				FalabellaAPIKey: "key",
			},
			wantFalabella:   true,
			wantIntegration: true,
		},
		{
			name:          "falabella user without key",
			acc:           account.Account{FalabellaUserID: "seller@example.com"},
			wantFalabella: false,
		},
		{
			name:            "mercado libre token",
			acc:             account.Account{MLAccessToken: "APP_USR-token"},
			wantML:          true,
			wantIntegration: true,
		},
		{
			name: "no credentials",
			acc:  account.Account{Email: "seller@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.acc.HasFalabella(); got != tt.wantFalabella {
				t.Errorf("HasFalabella() = %v, want %v", got, tt.wantFalabella)
			}
			if got := tt.acc.HasMercadoLibre(); got != tt.wantML {
				t.Errorf("HasMercadoLibre() = %v, want %v", got, tt.wantML)
			}
			if got := tt.acc.HasIntegrations(); got != tt.wantIntegration {
				t.Errorf("HasIntegrations() = %v, want %v", got, tt.wantIntegration)
			}
		})
	}
}
