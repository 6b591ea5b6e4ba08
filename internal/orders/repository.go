package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/postgres"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// Repository define a interface para operações de banco de dados de pedidos.
// ref is either the order id or its order number.
type Repository interface {
	Get(ctx context.Context, ref string) (*Order, error)

	// GetForUpdate obtém o pedido com lock pessimista (FOR UPDATE)
	GetForUpdate(ctx context.Context, tx txn.Tx, ref string) (*Order, error)

	// Save persists items, payment status and both derived statuses together.
	Save(ctx context.Context, tx txn.Tx, order *Order) error
}

// PostgresRepository implementa Repository usando PostgreSQL. Line items live
// in a JSONB column so the order is always written as one row.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orderColumns = `id, order_number, line_items, payment_status, aggregate_status, legacy_status, created_at, updated_at`

func (r *PostgresRepository) Get(ctx context.Context, ref string) (*Order, error) {
	return r.get(ctx, postgres.Conn(r.db, nil), ref, "")
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx txn.Tx, ref string) (*Order, error) {
	return r.get(ctx, postgres.Conn(r.db, tx), ref, " FOR UPDATE")
}

func (r *PostgresRepository) get(ctx context.Context, q postgres.Querier, ref, lock string) (*Order, error) {
	var (
		o     Order
		items []byte
	)
	err := q.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 OR order_number = $1 LIMIT 1"+lock, ref,
	).Scan(&o.ID, &o.OrderNumber, &items, &o.PaymentStatus, &o.AggregateStatus, &o.LegacyStatus, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	return &o, nil
}

func (r *PostgresRepository) Save(ctx context.Context, tx txn.Tx, order *Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}

	tag, err := postgres.Conn(r.db, tx).Exec(ctx, `
		UPDATE orders
		SET line_items = $1, payment_status = $2, aggregate_status = $3, legacy_status = $4, updated_at = $5
		WHERE id = $6
	`, items, order.PaymentStatus, order.AggregateStatus, order.LegacyStatus, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order", order.ID)
	}
	return nil
}
