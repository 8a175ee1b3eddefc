package integration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"facturacl/ms_facturacion_marketplace/internal/adapters/invoicing/haulmer"
	"facturacl/ms_facturacion_marketplace/internal/adapters/platform/falabella"
	"facturacl/ms_facturacion_marketplace/internal/adapters/platform/mercadolibre"
	"facturacl/ms_facturacion_marketplace/internal/application/reconcile"
	"facturacl/ms_facturacion_marketplace/internal/core/account"
	"facturacl/ms_facturacion_marketplace/internal/core/audit"
	"facturacl/ms_facturacion_marketplace/internal/core/order"
	"facturacl/ms_facturacion_marketplace/internal/infrastructure/config"
	infrahttp "facturacl/ms_facturacion_marketplace/internal/infrastructure/http"
)

// Registry assembles the per-account external clients the reconciliation
// engine works against: the invoicing provider plus one adapter per
// marketplace the account has credentials for.
//
// Circuit breakers and Mercado Libre token sources are cached per account so
// their state survives across batches: a rotated ML refresh token invalidates
// the previous one, and a breaker that re-opened on every batch would never
// protect anything.
type Registry struct {
	cfg      *config.AppConfig
	accounts account.Repository
	log      *slog.Logger

	haulmerHTTP   *infrahttp.TracedClient
	falabellaHTTP *infrahttp.TracedClient
	mlHTTP        *infrahttp.TracedClient

	mu       sync.Mutex
	breakers map[int64]*haulmer.CircuitBreaker
	tokens   map[int64]*mercadolibre.TokenSource
}

// NewRegistry creates the registry. auditRepo may be nil to disable the
// outbound call audit trail.
func NewRegistry(cfg *config.AppConfig, accounts account.Repository, auditRepo audit.Repository, log *slog.Logger) *Registry {
	traced := func(timeout time.Duration, provider string) *infrahttp.TracedClient {
		return infrahttp.NewTracedClient(&infrahttp.TracedClientConfig{
			Timeout:         timeout,
			AuditEnabled:    cfg.Audit.Enabled,
			LogRequestBody:  cfg.Audit.LogRequestBody,
			LogResponseBody: cfg.Audit.LogResponseBody,
			MaxBodySize:     cfg.Audit.MaxBodySize,
		}, log, auditRepo, provider)
	}

	r := &Registry{
		cfg:      cfg,
		accounts: accounts,
		log:      log,
		breakers: make(map[int64]*haulmer.CircuitBreaker),
		tokens:   make(map[int64]*mercadolibre.TokenSource),
	}
	r.haulmerHTTP = traced(cfg.Haulmer.APITimeout, "haulmer")
	r.falabellaHTTP = traced(cfg.Falabella.APITimeout, "falabella")
	r.mlHTTP = traced(cfg.MercadoLibre.APITimeout, "mercadolibre")
	return r
}

// Build implements reconcile.IntegrationBuilder.
func (r *Registry) Build(ctx context.Context, acc *account.Account) (*reconcile.IntegrationSet, error) {
	set := &reconcile.IntegrationSet{
		Adapters: make(map[order.Platform]order.Adapter),
	}

	set.Provider = haulmer.NewClient(
		r.cfg.Haulmer.BaseURL,
		acc.HaulmerAPIKey,
		r.haulmerHTTP,
		r.breakerFor(acc.ID),
		r.log,
	)

	if acc.HasFalabella() {
		set.Adapters[order.PlatformFalabella] = falabella.NewClient(
			r.cfg.Falabella.BaseURL,
			acc.FalabellaUserID,
			acc.FalabellaAPIKey,
			r.cfg.Falabella.OperatorCode,
			r.cfg.Falabella.UserAgent,
			r.falabellaHTTP,
			r.log,
		)
	}

	if acc.HasMercadoLibre() {
		set.Adapters[order.PlatformMercadoLibre] = mercadolibre.NewClient(
			r.cfg.MercadoLibre.BaseURL,
			acc.MLUserID,
			r.mlHTTP,
			r.tokenSourceFor(acc),
			r.cfg.Sync.PlaceholderAmountEnabled,
			r.log,
		)
	}

	return set, nil
}

func (r *Registry) breakerFor(accountID int64) *haulmer.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[accountID]
	if !ok {
		b = haulmer.NewCircuitBreaker(r.cfg.Haulmer.BreakerMaxFailures, r.cfg.Haulmer.BreakerCooldown)
		r.breakers[accountID] = b
	}
	return b
}

// tokenSourceFor returns the account's long-lived token source, creating it
// from the stored token pair on first use. Rotated pairs are written back
// through the account repository so a restart picks up the latest refresh
// token.
func (r *Registry) tokenSourceFor(acc *account.Account) *mercadolibre.TokenSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tokens[acc.ID]
	if !ok {
		accountID := acc.ID
		persist := func(ctx context.Context, accessToken, refreshToken string) error {
			return r.accounts.UpdateMLTokens(ctx, accountID, accessToken, refreshToken)
		}
		ts = mercadolibre.NewTokenSource(
			r.cfg.MercadoLibre.BaseURL,
			r.cfg.MercadoLibre.ClientID,
			r.cfg.MercadoLibre.ClientSecret,
			acc.MLAccessToken,
			acc.MLRefreshToken,
			r.mlHTTP,
			persist,
			r.log,
		)
		r.tokens[acc.ID] = ts
	}
	return ts
}
