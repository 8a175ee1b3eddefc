package invoicing

import (
	"context"

	"github.com/shopspring/decimal"

	"facturacl/ms_facturacion_marketplace/internal/core/order"
)

// EmitRequest asks the provider to issue one tax document.
type EmitRequest struct {
	DocType    order.DocType
	ExternalID string
	// Amount must be > 0. Implementations round to 2 decimal places before
	// submission.
	Amount decimal.Decimal
}

// EmitResult is the outcome of a successful emission.
type EmitResult struct {
	PDFURL string
	XMLURL string
	// Raw is the provider response body kept for audit. The engine truncates
	// it before persistence.
	Raw string
}

// Provider wraps the external tax-document issuance API. Implementations do
// not retry: a blind retry at this layer risks duplicate emission, so
// re-attempts are a Sale-level decision made by the reconciliation engine.
type Provider interface {
	Emit(ctx context.Context, req EmitRequest) (*EmitResult, error)
	// Download fetches an emitted artifact (PDF) for platform upload.
	Download(ctx context.Context, url string) ([]byte, error)
}
