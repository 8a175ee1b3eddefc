package audit

import (
	"context"
	"encoding/json"
	"time"
)

// ProviderCallLog is an audit record for one outbound call to an external
// collaborator (Haulmer, Falabella, Mercado Libre). Bodies and headers are
// sanitized and bounded before they reach this struct.
type ProviderCallLog struct {
	ID              int64
	CorrelationID   string
	Provider        string
	Operation       string
	RequestMethod   string
	RequestURL      string
	RequestHeaders  map[string]string
	RequestBody     json.RawMessage
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    json.RawMessage
	DurationMs      int64
	ErrorMessage    string
	CreatedAt       time.Time
}

// Repository persists and retrieves provider call logs.
type Repository interface {
	Save(ctx context.Context, log ProviderCallLog) error

	// FindByCorrelationID returns every call recorded under one correlation
	// ID, i.e. the complete external footprint of one batch or request.
	FindByCorrelationID(ctx context.Context, correlationID string) ([]ProviderCallLog, error)
}
