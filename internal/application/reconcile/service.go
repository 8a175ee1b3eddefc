package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"facturacl/ms_facturacion_marketplace/internal/core/account"
	"facturacl/ms_facturacion_marketplace/internal/core/invoicing"
	"facturacl/ms_facturacion_marketplace/internal/core/order"
	"facturacl/ms_facturacion_marketplace/internal/core/sale"
	ctxutil "facturacl/ms_facturacion_marketplace/internal/infrastructure/context"
)

const defaultLookbackDays = 7

// Config bounds the batch behavior and the audit snippets persisted per order.
type Config struct {
	// FetchLimit caps how many orders each platform fetch may return.
	FetchLimit int
	// UploadResponseMaxLen bounds the platform upload response snippet.
	UploadResponseMaxLen int
	// ProviderResponseMaxLen bounds the raw invoicing provider response.
	ProviderResponseMaxLen int
}

// IntegrationSet holds the per-account external clients used by one batch:
// the invoicing provider plus one adapter per configured marketplace.
type IntegrationSet struct {
	Provider invoicing.Provider
	Adapters map[order.Platform]order.Adapter
}

// IntegrationBuilder assembles an IntegrationSet from an account's stored
// credentials. Accounts without a marketplace integration get an empty
// adapter map, not an error.
type IntegrationBuilder interface {
	Build(ctx context.Context, acc *account.Account) (*IntegrationSet, error)
}

// BatchOptions parameterizes one reconciliation batch.
type BatchOptions struct {
	// Since bounds the platform fetch window. Zero means the default
	// lookback window ending now.
	Since time.Time
	// Retry re-attempts emission for sales already in Error status.
	Retry bool
	// ManualOrders are caller-supplied orders processed alongside the
	// platform fetches.
	ManualOrders []order.Order
}

// OrderError reports one order that failed validation or emission.
type OrderError struct {
	ExternalID string `json:"id_venta"`
	Error      string `json:"error"`
}

// BatchResult is the structured outcome of one batch. Per-order failures are
// data here, never reasons to abort the batch. Processed counts orders that
// actually emitted a document this batch; skipped orders count nowhere, so a
// re-run over settled orders reports zero processed.
type BatchResult struct {
	BatchID   string         `json:"batch_id"`
	Processed int            `json:"processed"`
	Platforms map[string]int `json:"platforms,omitempty"`
	Errors    []OrderError   `json:"errors"`
}

// Service is the reconciliation engine: it decides, order by order, whether
// a tax document still needs to be emitted, uploaded, or both, without ever
// emitting twice for the same (account, external id).
type Service struct {
	ledger       sale.Ledger
	accounts     account.Repository
	integrations IntegrationBuilder
	cfg          Config
	log          *slog.Logger
	now          func() time.Time
}

// NewService creates the reconciliation engine.
func NewService(ledger sale.Ledger, accounts account.Repository, integrations IntegrationBuilder, cfg Config, log *slog.Logger) *Service {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	if cfg.UploadResponseMaxLen <= 0 {
		cfg.UploadResponseMaxLen = 2000
	}
	if cfg.ProviderResponseMaxLen <= 0 {
		cfg.ProviderResponseMaxLen = 4000
	}
	return &Service{
		ledger:       ledger,
		accounts:     accounts,
		integrations: integrations,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// ProcessBatch fetches candidate orders for the account and reconciles each
// one against the sale ledger. All ledger mutations happen in a single
// transaction committed at the end; per-order failures are collected in the
// result, and only batch-wide infrastructure failures return an error.
func (s *Service) ProcessBatch(ctx context.Context, accountID int64, opts BatchOptions) (*BatchResult, error) {
	acc, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding account %d: %w", accountID, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("account %d not found", accountID)
	}
	if acc.HaulmerAPIKey == "" {
		return nil, fmt.Errorf("account %d has no invoicing credentials", accountID)
	}

	set, err := s.integrations.Build(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("building integrations for account %d: %w", accountID, err)
	}

	batchID := uuid.NewString()
	ctx = ctxutil.WithCorrelationID(ctx, batchID)
	log := s.log.With("batch_id", batchID, "account_id", accountID)

	since := opts.Since
	if since.IsZero() {
		since = s.now().AddDate(0, 0, -defaultLookbackDays)
	}

	orders := s.fetchOrders(ctx, set, since, log)
	orders = append(orders, opts.ManualOrders...)

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := &BatchResult{BatchID: batchID, Platforms: map[string]int{}, Errors: []OrderError{}}
	for _, o := range orders {
		s.processOrder(ctx, tx, set, accountID, o, opts.Retry, res, log)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing batch %s: %w", batchID, err)
	}

	log.Info("reconciliation batch completed",
		"orders", len(orders),
		"processed", res.Processed,
		"platforms", res.Platforms,
		"errors", len(res.Errors))
	return res, nil
}

// fetchOrders pulls the candidate window from every configured marketplace.
// A platform fetch failure drops that platform's orders for this cycle and
// the batch continues with the rest.
func (s *Service) fetchOrders(ctx context.Context, set *IntegrationSet, since time.Time, log *slog.Logger) []order.Order {
	var orders []order.Order
	for _, adapter := range set.Adapters {
		fetched, err := adapter.FetchOrders(ctx, since, s.cfg.FetchLimit)
		if err != nil {
			log.Warn("platform fetch failed",
				"platform", adapter.Platform(),
				"error", err)
			continue
		}
		log.Info("platform fetch completed",
			"platform", adapter.Platform(),
			"orders", len(fetched))
		orders = append(orders, fetched...)
	}
	return orders
}

// processOrder runs the per-order pipeline: validation, ledger lookup,
// platform pre-check, emission, upload. Skipped orders leave the result
// untouched; only validation and emission failures land in the error list.
func (s *Service) processOrder(ctx context.Context, tx sale.BatchTx, set *IntegrationSet, accountID int64, o order.Order, retry bool, res *BatchResult, log *slog.Logger) {
	if o.ExternalID == "" {
		res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: "external id is empty"})
		return
	}
	if !o.Amount.IsPositive() {
		res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: "amount must be greater than zero"})
		return
	}
	docType := o.DocType
	if !docType.Valid() {
		docType = order.DocTypeBoleta
	}

	existing, err := tx.Find(ctx, accountID, o.ExternalID)
	if err != nil {
		res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("ledger lookup: %v", err)})
		return
	}
	if existing != nil && !s.shouldProceed(existing, retry, log) {
		return
	}

	adapter := set.Adapters[o.Platform]
	groupKey := o.GroupKey
	if groupKey == "" {
		groupKey = o.ExternalID
	}

	// The platform is the ultimate arbiter of "has a document been filed":
	// an Uploaded answer wins over all local state.
	if adapter != nil {
		status, verr := adapter.VerifyDocument(ctx, groupKey)
		switch status {
		case order.VerifyUploaded:
			if err := s.markUploaded(ctx, tx, accountID, o, docType, existing); err != nil {
				res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("recording platform upload: %v", err)})
				return
			}
			log.Info("document already on platform, marked uploaded",
				"external_id", o.ExternalID,
				"platform", o.Platform,
				"group_key", groupKey)
			return
		case order.VerifyCheckFailed:
			log.Warn("platform upload check failed, assuming not uploaded",
				"external_id", o.ExternalID,
				"platform", o.Platform,
				"error", verr)
		}
	}

	// A sale that already emitted never re-emits: the pre-check above is the
	// only way a retry closes its upload gap.
	if existing != nil && existing.Status == sale.StatusSuccess {
		return
	}

	current, ok := s.prepareSale(ctx, tx, accountID, o, docType, retry, existing, res)
	if !ok {
		return
	}
	if current == nil {
		return
	}

	emitted, emitErr := set.Provider.Emit(ctx, invoicing.EmitRequest{
		DocType:    current.DocType,
		ExternalID: current.ExternalID,
		Amount:     current.Amount,
	})
	if emitErr != nil {
		current.Status = sale.StatusError
		current.ErrorMessage = truncate(emitErr.Error(), s.cfg.ProviderResponseMaxLen)
		if err := tx.Update(ctx, current); err != nil {
			log.Error("persisting emission failure",
				"external_id", o.ExternalID,
				"error", err)
		}
		res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: emitErr.Error()})
		return
	}

	current.Status = sale.StatusSuccess
	current.ErrorMessage = ""
	if current.DocumentDate == nil {
		d := s.now()
		current.DocumentDate = &d
	}
	if err := tx.Update(ctx, current); err != nil {
		res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("persisting emission: %v", err)})
		return
	}
	if err := tx.AppendDocument(ctx, &sale.Document{
		AccountID:        accountID,
		SaleID:           current.ID,
		PDFURL:           emitted.PDFURL,
		XMLURL:           emitted.XMLURL,
		ProviderResponse: truncate(emitted.Raw, s.cfg.ProviderResponseMaxLen),
	}); err != nil {
		res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("persisting document: %v", err)})
		return
	}
	log.Info("document emitted",
		"external_id", o.ExternalID,
		"doc_type", current.DocType,
		"amount", current.Amount.String())

	s.attemptUpload(ctx, tx, adapter, set.Provider, current, o, emitted, log)
	res.Processed++
	res.Platforms[string(current.Platform)]++
}

// shouldProceed applies the ledger skip rules: uploaded sales are terminally
// done, Success skips, and Error skips unless the caller asked for a retry.
// Pending always proceeds.
func (s *Service) shouldProceed(existing *sale.Sale, retry bool, log *slog.Logger) bool {
	switch {
	case existing.Uploaded():
		log.Debug("sale already uploaded, skipping", "external_id", existing.ExternalID)
		return false
	case existing.Status == sale.StatusSuccess && !retry:
		log.Debug("sale already emitted, skipping", "external_id", existing.ExternalID)
		return false
	case existing.Status == sale.StatusError && !retry:
		log.Debug("sale in error without retry requested, skipping", "external_id", existing.ExternalID)
		return false
	}
	return true
}

// markUploaded stamps the upload timestamp, creating a Pending sale first
// when the order was never recorded locally.
func (s *Service) markUploaded(ctx context.Context, tx sale.BatchTx, accountID int64, o order.Order, docType order.DocType, existing *sale.Sale) error {
	now := s.now()
	if existing != nil {
		existing.UploadedAt = &now
		return tx.Update(ctx, existing)
	}
	ns := newSale(accountID, o, docType)
	ns.UploadedAt = &now
	if err := tx.Insert(ctx, ns); err != nil {
		if !errors.Is(err, sale.ErrDuplicate) {
			return err
		}
		reread, ferr := tx.Find(ctx, accountID, o.ExternalID)
		if ferr != nil {
			return ferr
		}
		if reread == nil {
			return fmt.Errorf("sale vanished after duplicate insert for %s", o.ExternalID)
		}
		if reread.Uploaded() {
			return nil
		}
		reread.UploadedAt = &now
		return tx.Update(ctx, reread)
	}
	return nil
}

// prepareSale creates the sale if absent or merges missing metadata into the
// existing one. A duplicate insert means a concurrent writer got there
// first: the sale is re-read and the skip rules re-applied (nil sale with
// ok=true means skip). ok=false means the order already landed in the error
// list.
func (s *Service) prepareSale(ctx context.Context, tx sale.BatchTx, accountID int64, o order.Order, docType order.DocType, retry bool, existing *sale.Sale, res *BatchResult) (*sale.Sale, bool) {
	if existing == nil {
		ns := newSale(accountID, o, docType)
		err := tx.Insert(ctx, ns)
		if err == nil {
			return ns, true
		}
		if !errors.Is(err, sale.ErrDuplicate) {
			res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("persisting sale: %v", err)})
			return nil, false
		}
		reread, ferr := tx.Find(ctx, accountID, o.ExternalID)
		if ferr != nil || reread == nil {
			res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("re-reading sale after duplicate insert: %v", ferr)})
			return nil, false
		}
		if reread.Uploaded() || reread.Status == sale.StatusSuccess || (reread.Status == sale.StatusError && !retry) {
			return nil, true
		}
		return reread, true
	}

	// First-write-wins for descriptive metadata: only fill fields the
	// ledger does not have yet.
	changed := false
	if existing.DocumentDate == nil && !o.DocumentDate.IsZero() {
		d := o.DocumentDate
		existing.DocumentDate = &d
		changed = true
	}
	if existing.Platform == "" && o.Platform != "" {
		existing.Platform = o.Platform
		changed = true
	}
	if changed {
		if err := tx.Update(ctx, existing); err != nil {
			res.Errors = append(res.Errors, OrderError{ExternalID: o.ExternalID, Error: fmt.Sprintf("updating sale: %v", err)})
			return nil, false
		}
	}
	return existing, true
}

// attemptUpload tries to file the freshly emitted PDF on the platform. Any
// failure here is recoverable on a later cycle, so it is logged and the
// upload timestamp stays unset.
func (s *Service) attemptUpload(ctx context.Context, tx sale.BatchTx, adapter order.Adapter, provider invoicing.Provider, current *sale.Sale, o order.Order, emitted *invoicing.EmitResult, log *slog.Logger) {
	if adapter == nil || emitted.PDFURL == "" {
		return
	}

	pdf, err := provider.Download(ctx, emitted.PDFURL)
	if err != nil {
		log.Warn("artifact download failed, upload deferred",
			"external_id", o.ExternalID,
			"error", err)
		return
	}

	groupKey := o.GroupKey
	if groupKey == "" {
		resolved, err := adapter.ResolveGroupKey(ctx, o.ExternalID)
		if err != nil {
			log.Warn("group key resolution failed, upload deferred",
				"external_id", o.ExternalID,
				"error", err)
			return
		}
		groupKey = resolved
		if groupKey == "" {
			groupKey = o.ExternalID
		}
	}

	receipt, err := adapter.UploadDocument(ctx, groupKey, pdf)
	if err != nil {
		log.Warn("platform upload failed, recoverable next cycle",
			"external_id", o.ExternalID,
			"platform", o.Platform,
			"error", err)
		return
	}

	uploadedAt := s.now()
	current.UploadedAt = &uploadedAt
	if receipt != nil {
		current.UploadResponse = truncate(receipt.Response, s.cfg.UploadResponseMaxLen)
	}
	if err := tx.Update(ctx, current); err != nil {
		log.Error("recording upload",
			"external_id", o.ExternalID,
			"error", err)
		return
	}
	log.Info("document uploaded",
		"external_id", o.ExternalID,
		"platform", o.Platform,
		"group_key", groupKey)
}

func newSale(accountID int64, o order.Order, docType order.DocType) *sale.Sale {
	ns := &sale.Sale{
		AccountID:  accountID,
		ExternalID: o.ExternalID,
		Amount:     o.Amount,
		DocType:    docType,
		Platform:   o.Platform,
		Status:     sale.StatusPending,
	}
	if !o.DocumentDate.IsZero() {
		d := o.DocumentDate
		ns.DocumentDate = &d
	}
	return ns
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
