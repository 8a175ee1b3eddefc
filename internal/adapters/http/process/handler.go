package process

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	appreconcile "facturacl/ms_facturacion_marketplace/internal/application/reconcile"
	appsync "facturacl/ms_facturacion_marketplace/internal/application/sync"
	"facturacl/ms_facturacion_marketplace/internal/core/order"
	ctxutil "facturacl/ms_facturacion_marketplace/internal/infrastructure/context"
	httperrors "facturacl/ms_facturacion_marketplace/internal/infrastructure/http"
)

// BatchRunner is the reconciliation entry point the handler drives.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, accountID int64, opts appreconcile.BatchOptions) (*appreconcile.BatchResult, error)
}

// CycleRunner runs one full sync cycle across all accounts.
type CycleRunner interface {
	RunCycle(ctx context.Context) appsync.CycleResult
}

// Handler bridges HTTP traffic with the reconciliation engine and the sync
// worker.
type Handler struct {
	runner      BatchRunner
	cycles      CycleRunner
	authEnabled bool
	log         *slog.Logger
}

// NewHandler creates the process HTTP handler. authEnabled controls whether
// the X-Account-ID header is honored: only when authentication is off.
func NewHandler(runner BatchRunner, cycles CycleRunner, authEnabled bool, log *slog.Logger) *Handler {
	return &Handler{
		runner:      runner,
		cycles:      cycles,
		authEnabled: authEnabled,
		log:         log,
	}
}

// OrderPayload is one caller-supplied order in the process request body.
type OrderPayload struct {
	IDVenta       string      `json:"id_venta"`
	Monto         json.Number `json:"monto"`
	TipoDocumento string      `json:"tipo_documento"`
	Platform      string      `json:"platform"`
	DocumentDate  string      `json:"document_date"`
}

// ProcessRequest is the body of POST /api/v1/process.
type ProcessRequest struct {
	Since  string         `json:"since"`
	Retry  bool           `json:"retry"`
	Orders []OrderPayload `json:"orders"`
}

// ProcessResponse mirrors the batch result for API consumers.
type ProcessResponse struct {
	Message   string                    `json:"message"`
	BatchID   string                    `json:"batch_id"`
	Processed int                       `json:"processed"`
	Errors    []appreconcile.OrderError `json:"errors"`
}

// Process handles POST /api/v1/process requests.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	var body ProcessRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, h.log)
			return
		}
	}

	opts := appreconcile.BatchOptions{Retry: body.Retry}
	if body.Since != "" {
		since, err := parseDate(body.Since)
		if err != nil {
			httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"since debe ser una fecha RFC3339 o YYYY-MM-DD"}, h.log)
			return
		}
		opts.Since = since
	}

	opts.ManualOrders = toOrders(body.Orders)

	result, err := h.runner.ProcessBatch(r.Context(), accountID, opts)
	if err != nil {
		h.log.Error("reconciliation batch failed",
			"account_id", accountID,
			"error", err)
		httperrors.WriteError(w, http.StatusInternalServerError, "Error procesando el lote", []string{err.Error()}, h.log)
		return
	}

	httperrors.WriteJSON(w, http.StatusOK, ProcessResponse{
		Message:   "Proceso completado",
		BatchID:   result.BatchID,
		Processed: result.Processed,
		Errors:    result.Errors,
	}, h.log)
}

// SyncSales handles POST /internal/sync-sales: one sync cycle across every
// integrated account. The route bypasses authentication so cron can hit it.
func (h *Handler) SyncSales(w http.ResponseWriter, r *http.Request) {
	result := h.cycles.RunCycle(r.Context())
	httperrors.WriteJSON(w, http.StatusOK, map[string]any{
		"message":   "Sincronización completada",
		"accounts":  result.Accounts,
		"processed": result.Processed,
		"platforms": result.Platforms,
		"errors":    result.Errors,
	}, h.log)
}

// accountID resolves the caller's account: the JWT subject claim when
// authentication is enabled, the X-Account-ID header otherwise.
func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := ctxutil.GetAccountID(r.Context())
	if raw == "" && !h.authEnabled {
		raw = r.Header.Get("X-Account-ID")
	}
	if raw == "" {
		httperrors.WriteError(w, http.StatusUnauthorized, "Cuenta no identificada", []string{"No se pudo determinar la cuenta del solicitante"}, h.log)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El identificador de cuenta no es válido"}, h.log)
		return 0, false
	}
	return id, true
}

// toOrders maps the request payload to engine orders. Malformed fields are
// not rejected here: a missing id or unparseable amount flows through as a
// zero value and the engine reports it per order in the batch result, so one
// bad order never blocks the rest of the request.
func toOrders(payloads []OrderPayload) []order.Order {
	orders := make([]order.Order, 0, len(payloads))
	for _, p := range payloads {
		amount, err := decimal.NewFromString(p.Monto.String())
		if err != nil {
			amount = decimal.Zero
		}
		o := order.Order{
			PlatformID: p.IDVenta,
			ExternalID: p.IDVenta,
			Amount:     amount,
			DocType:    parseDocType(p.TipoDocumento),
			Platform:   parsePlatform(p.Platform),
		}
		if p.DocumentDate != "" {
			if d, err := parseDate(p.DocumentDate); err == nil {
				o.DocumentDate = d
			}
		}
		orders = append(orders, o)
	}
	return orders
}

func parseDocType(raw string) order.DocType {
	if strings.EqualFold(raw, string(order.DocTypeFactura)) {
		return order.DocTypeFactura
	}
	return order.DocTypeBoleta
}

func parsePlatform(raw string) order.Platform {
	switch {
	case strings.EqualFold(raw, string(order.PlatformFalabella)):
		return order.PlatformFalabella
	case strings.EqualFold(raw, string(order.PlatformMercadoLibre)):
		return order.PlatformMercadoLibre
	default:
		return order.PlatformManual
	}
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
