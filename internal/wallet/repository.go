package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/marketplace-ledger/internal/money"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/postgres"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// Repository define a interface para operações de banco de dados de saques
type Repository interface {
	// LockVendor serializes balance checks of one vendor until tx ends.
	LockVendor(ctx context.Context, tx txn.Tx, vendorID string) error

	Create(ctx context.Context, tx txn.Tx, p *PayoutRequest) error
	Get(ctx context.Context, id string) (*PayoutRequest, error)
	GetForUpdate(ctx context.Context, tx txn.Tx, id string) (*PayoutRequest, error)
	Update(ctx context.Context, tx txn.Tx, p *PayoutRequest) error
	ListByVendor(ctx context.Context, vendorID string, page, limit int) ([]PayoutRequest, int, error)
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const payoutColumns = `id, vendor_id, amount_cents, status, requested_at, processed_at,
	processed_by, notes, ledger_entry_id`

func (r *PostgresRepository) LockVendor(ctx context.Context, tx txn.Tx, vendorID string) error {
	_, err := postgres.Conn(r.db, tx).Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "wallet:"+vendorID)
	if err != nil {
		return fmt.Errorf("failed to lock vendor wallet: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, tx txn.Tx, p *PayoutRequest) error {
	_, err := postgres.Conn(r.db, tx).Exec(ctx, `
		INSERT INTO payout_requests (id, vendor_id, amount_cents, status, requested_at, processed_at,
			processed_by, notes, ledger_entry_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.VendorID, money.ToCents(p.Amount), p.Status, p.RequestedAt, p.ProcessedAt,
		p.ProcessedBy, p.Notes, p.LedgerEntryID)
	if err != nil {
		return fmt.Errorf("failed to create payout request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*PayoutRequest, error) {
	return r.get(ctx, r.db, id, "")
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx txn.Tx, id string) (*PayoutRequest, error) {
	return r.get(ctx, postgres.Conn(r.db, tx), id, " FOR UPDATE")
}

func (r *PostgresRepository) get(ctx context.Context, q postgres.Querier, id, lock string) (*PayoutRequest, error) {
	row := q.QueryRow(ctx, "SELECT "+payoutColumns+" FROM payout_requests WHERE id = $1"+lock, id)
	p, err := scanPayout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payout request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout request: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Update(ctx context.Context, tx txn.Tx, p *PayoutRequest) error {
	_, err := postgres.Conn(r.db, tx).Exec(ctx, `
		UPDATE payout_requests
		SET status = $1, processed_at = $2, processed_by = $3, notes = $4
		WHERE id = $5
	`, p.Status, p.ProcessedAt, p.ProcessedBy, p.Notes, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payout request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByVendor(ctx context.Context, vendorID string, page, limit int) ([]PayoutRequest, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM payout_requests WHERE vendor_id = $1", vendorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count payout requests: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+payoutColumns+" FROM payout_requests WHERE vendor_id = $1 ORDER BY requested_at DESC, id LIMIT $2 OFFSET $3",
		vendorID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payout requests: %w", err)
	}
	defer rows.Close()

	var payouts []PayoutRequest
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payout request: %w", err)
		}
		payouts = append(payouts, *p)
	}
	return payouts, total, rows.Err()
}

func scanPayout(row pgx.Row) (*PayoutRequest, error) {
	var (
		p     PayoutRequest
		cents int64
	)
	if err := row.Scan(&p.ID, &p.VendorID, &cents, &p.Status, &p.RequestedAt, &p.ProcessedAt,
		&p.ProcessedBy, &p.Notes, &p.LedgerEntryID); err != nil {
		return nil, err
	}
	p.Amount = money.FromCents(cents)
	return &p, nil
}
