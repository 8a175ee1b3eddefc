package sales

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"facturacl/ms_facturacion_marketplace/internal/core/sale"
	ctxutil "facturacl/ms_facturacion_marketplace/internal/infrastructure/context"
	httperrors "facturacl/ms_facturacion_marketplace/internal/infrastructure/http"
)

// Handler serves the dashboard listing over the sale ledger.
type Handler struct {
	ledger      sale.Ledger
	authEnabled bool
	log         *slog.Logger
}

func NewHandler(ledger sale.Ledger, authEnabled bool, log *slog.Logger) *Handler {
	return &Handler{
		ledger:      ledger,
		authEnabled: authEnabled,
		log:         log,
	}
}

// SaleRow is one dashboard row: the persisted sale plus the derived
// document state the original dashboard displayed.
type SaleRow struct {
	ID              int64      `json:"id"`
	IDVenta         string     `json:"id_venta"`
	Monto           string     `json:"monto"`
	TipoDocumento   string     `json:"tipo_documento"`
	Platform        string     `json:"platform"`
	DocumentDate    *time.Time `json:"document_date"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	UploadedAt      *time.Time `json:"uploaded_at"`
	EstadoDocumento string     `json:"estado_documento"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ListResponse is the paginated dashboard payload.
type ListResponse struct {
	Data    []SaleRow `json:"data"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
}

// List handles GET /api/v1/sales requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := sale.ListFilter{
		Platform:       q.Get("platform"),
		DocumentStatus: strings.ToLower(q.Get("document_status")),
		Search:         q.Get("search"),
		SortBy:         q.Get("sort_by"),
		SortDesc:       strings.EqualFold(q.Get("sort_order"), "desc"),
	}
	if filter.DocumentStatus != "" {
		switch filter.DocumentStatus {
		case "por_emitir", "emitido", "cargado":
		default:
			httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"document_status debe ser por_emitir, emitido o cargado"}, h.log)
			return
		}
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	sales, total, err := h.ledger.List(r.Context(), accountID, filter)
	if err != nil {
		h.log.Error("listing sales",
			"account_id", accountID,
			"error", err)
		httperrors.WriteError(w, http.StatusInternalServerError, "Error consultando ventas", []string{err.Error()}, h.log)
		return
	}

	rows := make([]SaleRow, 0, len(sales))
	for i := range sales {
		rows = append(rows, toRow(&sales[i]))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	httperrors.WriteJSON(w, http.StatusOK, ListResponse{
		Data:    rows,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}, h.log)
}

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

func toRow(s *sale.Sale) SaleRow {
	return SaleRow{
		ID:              s.ID,
		IDVenta:         s.ExternalID,
		Monto:           s.Amount.String(),
		TipoDocumento:   string(s.DocType),
		Platform:        string(s.Platform),
		DocumentDate:    s.DocumentDate,
		Status:          string(s.Status),
		ErrorMessage:    s.ErrorMessage,
		UploadedAt:      s.UploadedAt,
		EstadoDocumento: sale.DocumentState(s),
		CreatedAt:       s.CreatedAt,
	}
}
