package integration

import (
	"context"
	"testing"
	"time"

	"facturacl/ms_facturacion_marketplace/internal/core/account"
	"facturacl/ms_facturacion_marketplace/internal/core/order"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/config"
	"facturacl/ms_facturacion_marketplace/internal/testutil"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Haulmer: config.HaulmerSettings{
			BaseURL:            "https://dev-api.haulmer.com",
			APITimeout:         30 * time.Second,
			BreakerMaxFailures: 5,
			BreakerCooldown:    30 * time.Second,
		},
		Falabella: config.FalabellaSettings{
			BaseURL:      "https://sellercenter-api.falabella.com",
			APITimeout:   30 * time.Second,
			OperatorCode: "FACL",
			UserAgent:    "facturacl/1.0",
		},
		MercadoLibre: config.MercadoLibreSettings{
			BaseURL:      "https://api.mercadolibre.com",
			APITimeout:   30 * time.Second,
			ClientID:     "app-id",
			ClientSecret: "app-secret",
		},
	}
}

func TestRegistry_BuildSelectsAdaptersByCredentials(t *testing.T) {
	tests := []struct {
		name          string
		acc           account.Account
		wantPlatforms []order.Platform
	}{
		{
			name: "falabella only",
			acc: account.Account{
				ID:              1,
				HaulmerAPIKey:   "key",
				FalabellaUserID: "seller@example.com",
				FalabellaAPIKey: "fala-key",
			},
			wantPlatforms: []order.Platform{order.PlatformFalabella},
		},
		{
			name: "mercado libre only",
			acc: account.Account{
				ID:             2,
				HaulmerAPIKey:  "key",
				MLAccessToken:  "APP_USR-token",
				MLRefreshToken: "TG-refresh",
				MLUserID:       "123456",
			},
			wantPlatforms: []order.Platform{order.PlatformMercadoLibre},
		},
		{
			name: "both marketplaces",
			acc: account.Account{
				ID:              3,
				HaulmerAPIKey:   "key",
				FalabellaUserID: "seller@example.com",
				FalabellaAPIKey: "fala-key",
				MLAccessToken:   "APP_USR-token",
				MLUserID:        "123456",
			},
			wantPlatforms: []order.Platform{order.PlatformFalabella, order.PlatformMercadoLibre},
		},
		{
			name:          "no marketplaces",
			acc:           account.Account{ID: 4, HaulmerAPIKey: "key"},
			wantPlatforms: nil,
		},
	}

	r := NewRegistry(testConfig(), &testutil.MockAccountRepository{}, nil, testutil.NewNullLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := r.Build(context.Background(), &tt.acc)
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if set.Provider == nil {
				t.Fatal("expected an invoicing provider")
			}
			if len(set.Adapters) != len(tt.wantPlatforms) {
				t.Fatalf("got %d adapters, want %d", len(set.Adapters), len(tt.wantPlatforms))
			}
			for _, p := range tt.wantPlatforms {
				adapter, ok := set.Adapters[p]
				if !ok {
					t.Fatalf("missing adapter for %s", p)
				}
				if adapter.Platform() != p {
					t.Errorf("adapter reports platform %s, want %s", adapter.Platform(), p)
				}
			}
		})
	}
}

func TestRegistry_CachesPerAccountState(t *testing.T) {
	r := NewRegistry(testConfig(), &testutil.MockAccountRepository{}, nil, testutil.NewNullLogger())
	acc := &account.Account{
		ID:             7,
		HaulmerAPIKey:  "key",
		MLAccessToken:  "APP_USR-token",
		MLRefreshToken: "TG-refresh",
		MLUserID:       "123456",
	}

	if _, err := r.Build(context.Background(), acc); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := r.Build(context.Background(), acc); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(r.breakers) != 1 {
		t.Errorf("breakers cached = %d, want 1", len(r.breakers))
	}
	if len(r.tokens) != 1 {
		t.Errorf("token sources cached = %d, want 1", len(r.tokens))
	}

	other := &account.Account{ID: 8, HaulmerAPIKey: "key2", MLAccessToken: "APP_USR-2", MLUserID: "654321"}
	if _, err := r.Build(context.Background(), other); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(r.breakers) != 2 {
		t.Errorf("breakers cached = %d, want one per account", len(r.breakers))
	}
}
