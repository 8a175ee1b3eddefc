package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App          AppSettings
	HTTP         HTTPSettings
	Auth         AuthSettings
	Log          LogSettings
	Database     DatabaseSettings
	Audit        AuditSettings
	Haulmer      HaulmerSettings
	Falabella    FalabellaSettings
	MercadoLibre MercadoLibreSettings
	Sync         SyncSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// ProcessTimeout caps a single reconciliation batch triggered over HTTP.
	// Batches call out to marketplaces and the invoicing provider per order,
	// so they need far more headroom than regular requests.
	ProcessTimeout time.Duration
}

type AuthSettings struct {
	Enabled     bool
	IssuerURI   string
	JWKSetURI   string
	ClockSkew   time.Duration
	BypassPaths []string
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuditSettings struct {
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
}

// HaulmerSettings configures the invoicing provider client.
type HaulmerSettings struct {
	BaseURL    string
	APITimeout time.Duration
	// Circuit breaker knobs for the emission endpoint.
	BreakerMaxFailures int
	BreakerCooldown    time.Duration
}

// FalabellaSettings configures the Seller Center client.
type FalabellaSettings struct {
	BaseURL      string
	APITimeout   time.Duration
	OperatorCode string // FACL (Chile) | FACO (Colombia) | FAPE (Perú)
	UserAgent    string
}

// MercadoLibreSettings configures the Mercado Libre client. ClientID and
// ClientSecret identify the application, not an account; they are only
// needed for the OAuth token refresh flow.
type MercadoLibreSettings struct {
	BaseURL      string
	APITimeout   time.Duration
	ClientID     string
	ClientSecret string
}

// SyncSettings drives the periodic synchronization worker. The worker
// re-fetches a rolling lookback window every cycle and relies on the
// reconciliation engine's idempotency instead of a changed-since cursor.
type SyncSettings struct {
	Enabled      bool
	Interval     time.Duration
	LookbackDays int
	FetchLimit   int
	// PlaceholderAmountEnabled keeps the policy of emitting with a nominal
	// 0.01 amount when the real amount cannot be resolved, rather than
	// silently dropping the order. Disable to skip such orders instead.
	PlaceholderAmountEnabled bool
	// UploadResponseMaxLen bounds the platform upload response snippet kept
	// on each sale.
	UploadResponseMaxLen int
	// ProviderResponseMaxLen bounds the raw invoicing provider response kept
	// on each document.
	ProviderResponseMaxLen int
}

// Load resolves the application configuration from environment variables.
// It first attempts to load variables from a .env file if it exists; system
// environment variables take precedence over .env values.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ms_facturacion_marketplace"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
			ProcessTimeout:  getEnvAsDuration("HTTP_PROCESS_TIMEOUT", 10*time.Minute),
		},
		Auth: AuthSettings{
			Enabled:     getEnvAsBool("AUTH_ENABLED", true),
			IssuerURI:   strings.TrimSpace(os.Getenv("JWT_ISSUER_URI")),
			JWKSetURI:   strings.TrimSpace(os.Getenv("JWT_JWK_SET_URI")),
			ClockSkew:   getEnvAsDuration("AUTH_CLOCK_SKEW", 2*time.Minute),
			BypassPaths: getEnvAsCSV("AUTH_BYPASS_PATHS", []string{"/health", "/internal/sync-sales"}),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "facturacion_marketplace"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Audit: AuditSettings{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", true),
			LogRequestBody:  getEnvAsBool("AUDIT_LOG_REQUEST_BODY", false),
			LogResponseBody: getEnvAsBool("AUDIT_LOG_RESPONSE_BODY", false),
			MaxBodySize:     getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
		},
		Haulmer: HaulmerSettings{
			BaseURL:            getEnv("HAULMER_BASE_URL", "https://docsapi-openfactura.haulmer.com"),
			APITimeout:         getEnvAsDuration("HAULMER_API_TIMEOUT", 30*time.Second),
			BreakerMaxFailures: getEnvAsInt("HAULMER_BREAKER_MAX_FAILURES", 5),
			BreakerCooldown:    getEnvAsDuration("HAULMER_BREAKER_COOLDOWN", 30*time.Second),
		},
		Falabella: FalabellaSettings{
			BaseURL:      getEnv("FALABELLA_BASE_URL", "https://sellercenter-api.falabella.com"),
			APITimeout:   getEnvAsDuration("FALABELLA_API_TIMEOUT", 60*time.Second),
			OperatorCode: strings.ToUpper(getEnv("FALABELLA_OPERATOR_CODE", "FACL")),
			UserAgent:    getEnv("FALABELLA_USER_AGENT", "SELLER/Go/1/INVOICE_SYNC/FACL"),
		},
		MercadoLibre: MercadoLibreSettings{
			BaseURL:      getEnv("ML_BASE_URL", "https://api.mercadolibre.com"),
			APITimeout:   getEnvAsDuration("ML_API_TIMEOUT", 30*time.Second),
			ClientID:     strings.TrimSpace(os.Getenv("ML_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("ML_CLIENT_SECRET")),
		},
		Sync: SyncSettings{
			Enabled:                  getEnvAsBool("SYNC_ENABLED", true),
			Interval:                 getEnvAsDuration("SYNC_INTERVAL", 30*time.Minute),
			LookbackDays:             getEnvAsInt("SYNC_LOOKBACK_DAYS", 7),
			FetchLimit:               getEnvAsInt("SYNC_FETCH_LIMIT", 100),
			PlaceholderAmountEnabled: getEnvAsBool("SYNC_PLACEHOLDER_AMOUNT_ENABLED", true),
			UploadResponseMaxLen:     getEnvAsInt("SYNC_UPLOAD_RESPONSE_MAX_LEN", 2000),
			ProviderResponseMaxLen:   getEnvAsInt("SYNC_PROVIDER_RESPONSE_MAX_LEN", 4000),
		},
	}

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return cfg, errors.New("invalid config: APP_PORT must be between 1 and 65535")
	}
	if cfg.Sync.Enabled {
		if cfg.Sync.Interval < time.Minute {
			return cfg, errors.New("invalid config: SYNC_INTERVAL must be at least 1m")
		}
		if cfg.Sync.LookbackDays <= 0 {
			return cfg, errors.New("invalid config: SYNC_LOOKBACK_DAYS must be greater than 0")
		}
		if cfg.Sync.FetchLimit <= 0 || cfg.Sync.FetchLimit > 100 {
			return cfg, errors.New("invalid config: SYNC_FETCH_LIMIT must be between 1 and 100")
		}
	}
	switch cfg.Falabella.OperatorCode {
	case "FACL", "FACO", "FAPE":
	default:
		return cfg, fmt.Errorf("invalid config: FALABELLA_OPERATOR_CODE %q must be FACL, FACO or FAPE", cfg.Falabella.OperatorCode)
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURI == "" {
			return cfg, errors.New("invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true")
		}
		if cfg.Auth.JWKSetURI == "" {
			return cfg, errors.New("invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true")
		}
	}

	return cfg, nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
