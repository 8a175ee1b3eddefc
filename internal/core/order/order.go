package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies the marketplace an order comes from.
type Platform string

const (
	PlatformFalabella    Platform = "Falabella"
	PlatformMercadoLibre Platform = "Mercado Libre"
	PlatformManual       Platform = "Manual"
)

// DocType is the tax document type requested for an order.
type DocType string

const (
	DocTypeBoleta  DocType = "Boleta"
	DocTypeFactura DocType = "Factura"
)

// Valid reports whether the document type is one of the supported values.
func (d DocType) Valid() bool {
	return d == DocTypeBoleta || d == DocTypeFactura
}

// Order is the canonical, per-cycle representation of a marketplace order.
// It is produced fresh on every fetch and never persisted directly; it is
// the input to reconciliation.
type Order struct {
	// PlatformID is the order identifier in the platform's native form.
	PlatformID string
	// ExternalID is the canonical id_venta used for idempotency.
	ExternalID string
	Amount     decimal.Decimal
	DocType    DocType
	Platform   Platform
	// DocumentDate is the order/document date. Adapters always populate it,
	// falling back to "now" when the source omits a usable date.
	DocumentDate time.Time
	// GroupKey is the platform grouping identifier under which a fiscal
	// document is filed (e.g. a Mercado Libre pack id). Empty means the
	// adapter could not resolve it during fetch; it defaults to ExternalID.
	GroupKey string
}

// VerifyStatus is the tri-state answer to "has a fiscal document already
// been uploaded to the platform for this group key".
type VerifyStatus int

const (
	// VerifyNotUploaded means the platform confirmed no document exists.
	VerifyNotUploaded VerifyStatus = iota
	// VerifyUploaded means the platform confirmed a document is filed.
	VerifyUploaded
	// VerifyCheckFailed means the check could not be performed (network,
	// permissions). Callers treat it as NotUploaded but log it distinctly.
	VerifyCheckFailed
)

// String returns a human-readable form for logging.
func (s VerifyStatus) String() string {
	switch s {
	case VerifyUploaded:
		return "uploaded"
	case VerifyNotUploaded:
		return "not_uploaded"
	case VerifyCheckFailed:
		return "check_failed"
	default:
		return "unknown"
	}
}

// UploadReceipt is the structured outcome of a successful platform upload.
type UploadReceipt struct {
	// Response is a bounded snippet of the platform response kept for audit.
	Response string
}

// Adapter is the uniform surface one marketplace exposes to the
// reconciliation engine. Implementations are constructed per account with
// that account's credentials and must report failures as structured
// outcomes; a single order's adapter failure never aborts a batch.
type Adapter interface {
	// Platform identifies which marketplace this adapter speaks for.
	Platform() Platform

	// FetchOrders returns orders created or updated at or after since.
	// since is mandatory: the platforms reject open-ended queries.
	FetchOrders(ctx context.Context, since time.Time, limit int) ([]Order, error)

	// VerifyDocument checks whether a fiscal document is already filed under
	// the group key. The error is non-nil only when the status is
	// VerifyCheckFailed and carries the cause for logging.
	VerifyDocument(ctx context.Context, groupKey string) (VerifyStatus, error)

	// ResolveGroupKey resolves the grouping key for an order, performing a
	// platform follow-up call when needed. Platforms without a grouping
	// concept return the order's own id.
	ResolveGroupKey(ctx context.Context, externalID string) (string, error)

	// UploadDocument files the PDF under the group key. Platform-specific
	// constraints (size ceilings, one document per group) are enforced
	// locally before the call.
	UploadDocument(ctx context.Context, groupKey string, pdf []byte) (*UploadReceipt, error)
}
