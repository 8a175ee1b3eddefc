package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"facturacl/ms_facturacion_marketplace/internal/core/sale"
)

// uniqueViolation is the SQLSTATE for a unique constraint rejection.
const uniqueViolation = "23505"

// Ledger implements the sale.Ledger interface using PostgreSQL. Every
// reconciliation batch runs inside one transaction obtained from Begin.
type Ledger struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewLedger(pool *pgxpool.Pool, log *slog.Logger) *Ledger {
	return &Ledger{pool: pool, log: log}
}

// Begin opens the transactional handle for one batch.
func (l *Ledger) Begin(ctx context.Context) (sale.BatchTx, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &batchTx{tx: tx}, nil
}

type batchTx struct {
	tx pgx.Tx
}

const saleColumns = `id, account_id, external_id, amount, doc_type, platform,
	document_date, status, COALESCE(error_message, ''), uploaded_at,
	COALESCE(upload_response, ''), created_at, updated_at`

func scanSale(row pgx.Row) (*sale.Sale, error) {
	var s sale.Sale
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.ExternalID,
		&s.Amount,
		&s.DocType,
		&s.Platform,
		&s.DocumentDate,
		&s.Status,
		&s.ErrorMessage,
		&s.UploadedAt,
		&s.UploadResponse,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Find returns the Sale for (accountID, externalID), or nil when absent.
func (t *batchTx) Find(ctx context.Context, accountID int64, externalID string) (*sale.Sale, error) {
	query := fmt.Sprintf(`SELECT %s FROM sales WHERE account_id = $1 AND external_id = $2`, saleColumns)

	s, err := scanSale(t.tx.QueryRow(ctx, query, accountID, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find sale: %w", err)
	}
	return s, nil
}

// Insert persists a new Sale. A unique constraint rejection surfaces as
// sale.ErrDuplicate so the engine can re-read instead of failing. The
// statement runs inside a savepoint: a unique violation would otherwise
// abort the whole batch transaction and poison every later statement.
func (t *batchTx) Insert(ctx context.Context, s *sale.Sale) error {
	query := `
		INSERT INTO sales (
			account_id, external_id, amount, doc_type, platform,
			document_date, status, error_message, uploaded_at, upload_response
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert savepoint: %w", err)
	}

	err = sp.QueryRow(ctx, query,
		s.AccountID,
		s.ExternalID,
		s.Amount,
		s.DocType,
		s.Platform,
		s.DocumentDate,
		s.Status,
		s.ErrorMessage,
		s.UploadedAt,
		s.UploadResponse,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		_ = sp.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sale.ErrDuplicate
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return sp.Commit(ctx)
}

func (t *batchTx) Update(ctx context.Context, s *sale.Sale) error {
	query := `
		UPDATE sales SET
			amount = $2,
			doc_type = $3,
			platform = $4,
			document_date = $5,
			status = $6,
			error_message = $7,
			uploaded_at = $8,
			upload_response = $9,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		s.ID,
		s.Amount,
		s.DocType,
		s.Platform,
		s.DocumentDate,
		s.Status,
		s.ErrorMessage,
		s.UploadedAt,
		s.UploadResponse,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update sale %d: %w", s.ID, err)
	}
	return nil
}

// AppendDocument persists one immutable emission record.
func (t *batchTx) AppendDocument(ctx context.Context, d *sale.Document) error {
	query := `
		INSERT INTO documents (account_id, sale_id, pdf_url, xml_url, provider_response)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := t.tx.QueryRow(ctx, query,
		d.AccountID,
		d.SaleID,
		d.PDFURL,
		d.XMLURL,
		d.ProviderResponse,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *batchTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (t *batchTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// sortColumns is the allowlist for dashboard sorting. Anything else falls
// back to created_at.
var sortColumns = map[string]string{
	"created_at":    "created_at",
	"document_date": "document_date",
	"amount":        "amount",
	"external_id":   "external_id",
	"status":        "status",
	"platform":      "platform",
}

// List returns one dashboard page plus the total matching count.
func (l *Ledger) List(ctx context.Context, accountID int64, f sale.ListFilter) ([]sale.Sale, int, error) {
	where := []string{"account_id = $1"}
	args := []interface{}{accountID}

	if f.Platform != "" {
		args = append(args, f.Platform)
		where = append(where, fmt.Sprintf("platform = $%d", len(args)))
	}

	switch f.DocumentStatus {
	case "cargado":
		where = append(where, "uploaded_at IS NOT NULL")
	case "emitido":
		where = append(where, "uploaded_at IS NULL", "status = 'Success'")
	case "por_emitir":
		where = append(where, "uploaded_at IS NULL", "status <> 'Success'")
	}

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("external_id ILIKE $%d", len(args)))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT count(*) FROM sales WHERE %s`, whereClause)
	if err := l.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}

	sortBy, ok := sortColumns[f.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	direction := "ASC"
	if f.SortDesc {
		direction = "DESC"
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	perPage := f.PerPage
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}

	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT %s FROM sales WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		saleColumns, whereClause, sortBy, direction, len(args)-1, len(args))

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var sales []sale.Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate rows: %w", err)
	}

	return sales, total, nil
}
