package sale

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"facturacl/ms_facturacion_marketplace/internal/core/order"
)

// Status is the lifecycle status of a Sale.
type Status string

const (
	StatusPending Status = "Pending"
	StatusSuccess Status = "Success"
	StatusError   Status = "Error"
)

// ErrDuplicate is returned by BatchTx.Insert when a Sale with the same
// (account_id, external_id) already exists. Callers treat it as "already
// exists, re-read", never as a user-visible error.
var ErrDuplicate = errors.New("sale already exists for account and external id")

// Sale is the durable unit of idempotency: at most one per account per
// marketplace order, enforced by a unique constraint at the storage layer.
type Sale struct {
	ID         int64
	AccountID  int64
	ExternalID string
	Amount     decimal.Decimal
	DocType    order.DocType
	Platform   order.Platform
	// DocumentDate is the order/document date; nil until known.
	DocumentDate *time.Time
	Status       Status
	ErrorMessage string
	// UploadedAt is set only after a confirmed platform upload (or a
	// platform pre-check confirming a document already exists). Once set it
	// is never cleared: the sale is terminally done.
	UploadedAt *time.Time
	// UploadResponse is a bounded snippet of the platform upload response.
	UploadResponse string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Uploaded reports whether the sale reached the terminal uploaded state.
func (s *Sale) Uploaded() bool {
	return s.UploadedAt != nil
}

// Document is an immutable audit record of one successful invoicing call.
type Document struct {
	ID        int64
	AccountID int64
	SaleID    int64
	PDFURL    string
	XMLURL    string
	// ProviderResponse is the raw invoicing provider response, truncated to
	// a bounded size before persistence.
	ProviderResponse string
	CreatedAt        time.Time
}

// ListFilter narrows and orders the dashboard listing.
type ListFilter struct {
	Platform string
	// DocumentStatus filters on the derived document state:
	// "por_emitir", "emitido" or "cargado".
	DocumentStatus string
	// Search matches against external_id.
	Search    string
	SortBy    string
	SortDesc  bool
	Page      int
	PerPage   int
}

// BatchTx is a transactional handle over the ledger for one reconciliation
// batch. All mutations within a batch go through it and become visible
// atomically on Commit.
type BatchTx interface {
	// Find returns the Sale for (accountID, externalID), or nil when absent.
	Find(ctx context.Context, accountID int64, externalID string) (*Sale, error)
	// Insert persists a new Sale and fills in its ID. Returns ErrDuplicate
	// when the unique constraint rejects it, and must leave the batch
	// transaction usable afterwards so the caller can re-read the row.
	Insert(ctx context.Context, s *Sale) error
	Update(ctx context.Context, s *Sale) error
	// AppendDocument persists a Document and fills in its ID.
	AppendDocument(ctx context.Context, d *Document) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Ledger is the persisted record of every order ever considered: the single
// source of truth for "have we already acted on this order".
type Ledger interface {
	// Begin opens a transactional handle for one batch.
	Begin(ctx context.Context) (BatchTx, error)
	// List returns a page of sales for the dashboard plus the total count.
	List(ctx context.Context, accountID int64, f ListFilter) ([]Sale, int, error)
}

// DocumentState derives the user-facing document state the dashboard shows.
func DocumentState(s *Sale) string {
	switch {
	case s.UploadedAt != nil:
		return "Cargado"
	case s.Status == StatusSuccess:
		return "Emitido"
	default:
		return "Por emitir"
	}
}
