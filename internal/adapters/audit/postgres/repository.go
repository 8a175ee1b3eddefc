package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"facturacl/ms_facturacion_marketplace/internal/core/audit"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the audit.Repository interface using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(pool *pgxpool.Pool, log *slog.Logger) audit.Repository {
	return &Repository{pool: pool, log: log}
}

// Save persists one provider call record.
func (r *Repository) Save(ctx context.Context, call audit.ProviderCallLog) error {
	query := `
		INSERT INTO provider_audit_log (
			correlation_id, provider, operation, request_method, request_url,
			request_headers, request_body, response_status, response_headers,
			response_body, duration_ms, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	requestHeadersJSON, err := json.Marshal(call.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	responseHeadersJSON, err := json.Marshal(call.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response headers: %w", err)
	}

	// Empty bodies are stored as NULL, not empty JSON.
	var requestBody, responseBody interface{}
	if len(call.RequestBody) > 0 {
		requestBody = call.RequestBody
	}
	if len(call.ResponseBody) > 0 {
		responseBody = call.ResponseBody
	}

	_, err = r.pool.Exec(ctx, query,
		call.CorrelationID,
		call.Provider,
		call.Operation,
		call.RequestMethod,
		call.RequestURL,
		requestHeadersJSON,
		requestBody,
		call.ResponseStatus,
		responseHeadersJSON,
		responseBody,
		call.DurationMs,
		call.ErrorMessage,
	)
	if err != nil {
		r.log.Error("failed to insert provider call log",
			"correlation_id", call.CorrelationID,
			"provider", call.Provider,
			"operation", call.Operation,
			"error", err,
		)
		return fmt.Errorf("insert provider call log: %w", err)
	}

	return nil
}

// FindByCorrelationID retrieves every call recorded under one correlation ID.
func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]audit.ProviderCallLog, error) {
	query := `
		SELECT id, correlation_id, provider, operation, request_method, request_url,
		       request_headers, request_body, response_status, response_headers,
		       response_body, duration_ms, error_message, created_at
		FROM provider_audit_log
		WHERE correlation_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query provider call logs: %w", err)
	}
	defer rows.Close()

	var calls []audit.ProviderCallLog
	for rows.Next() {
		var call audit.ProviderCallLog
		var requestHeadersJSON, responseHeadersJSON []byte
		var requestBody, responseBody []byte

		err := rows.Scan(
			&call.ID,
			&call.CorrelationID,
			&call.Provider,
			&call.Operation,
			&call.RequestMethod,
			&call.RequestURL,
			&requestHeadersJSON,
			&requestBody,
			&call.ResponseStatus,
			&responseHeadersJSON,
			&responseBody,
			&call.DurationMs,
			&call.ErrorMessage,
			&call.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan provider call log: %w", err)
		}

		if err := json.Unmarshal(requestHeadersJSON, &call.RequestHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal request headers: %w", err)
		}
		if err := json.Unmarshal(responseHeadersJSON, &call.ResponseHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal response headers: %w", err)
		}
		call.RequestBody = requestBody
		call.ResponseBody = responseBody

		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return calls, nil
}
