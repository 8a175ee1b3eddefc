package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"facturacl/ms_facturacion_marketplace/internal/core/account"
)

// Repository implements the account.Repository interface using PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewRepository(pool *pgxpool.Pool, log *slog.Logger) account.Repository {
	return &Repository{pool: pool, log: log}
}

const accountColumns = `id, email,
	COALESCE(haulmer_api_key, ''),
	COALESCE(falabella_user_id, ''),
	COALESCE(falabella_api_key, ''),
	COALESCE(ml_access_token, ''),
	COALESCE(ml_refresh_token, ''),
	COALESCE(ml_user_id, ''),
	created_at`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var a account.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.HaulmerAPIKey,
		&a.FalabellaUserID,
		&a.FalabellaAPIKey,
		&a.MLAccessToken,
		&a.MLRefreshToken,
		&a.MLUserID,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByID returns the account, or nil when it does not exist.
func (r *Repository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1`, accountColumns)

	a, err := scanAccount(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account %d: %w", id, err)
	}
	return a, nil
}

// ListWithIntegrations returns every account the sync worker should visit:
// emission credentials plus at least one marketplace integration.
func (r *Repository) ListWithIntegrations(ctx context.Context) ([]account.Account, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM accounts
		WHERE haulmer_api_key IS NOT NULL AND haulmer_api_key <> ''
		  AND (
			(falabella_user_id IS NOT NULL AND falabella_user_id <> ''
			 AND falabella_api_key IS NOT NULL AND falabella_api_key <> '')
			OR (ml_access_token IS NOT NULL AND ml_access_token <> '')
		  )
		ORDER BY id`, accountColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return accounts, nil
}

// UpdateMLTokens persists a rotated Mercado Libre token pair. Losing a
// rotation invalidates the integration, so failures are logged loudly by
// callers.
func (r *Repository) UpdateMLTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	query := `
		UPDATE accounts
		SET ml_access_token = $2, ml_refresh_token = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, accessToken, refreshToken)
	if err != nil {
		return fmt.Errorf("update ml tokens for account %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update ml tokens: account %d not found", id)
	}
	return nil
}
