package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/postgres"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// Repository define a interface para operações de banco de dados de inventário
type Repository interface {
	// GetStockForUpdate obtém o estoque com lock pessimista (FOR UPDATE).
	// An empty sku addresses the product-level counter.
	GetStockForUpdate(ctx context.Context, tx txn.Tx, productID, sku string) (*StockLevel, error)
	SetStock(ctx context.Context, tx txn.Tx, productID, sku string, stock int) error

	CreateReservation(ctx context.Context, tx txn.Tx, r *Reservation) error
	GetReservation(ctx context.Context, tx txn.Tx, id string) (*Reservation, error)
	GetReservationForUpdate(ctx context.Context, tx txn.Tx, id string) (*Reservation, error)

	// UpdateReservationStatus only writes when the stored status still equals
	// from, and reports whether it did.
	UpdateReservationStatus(ctx context.Context, tx txn.Tx, r *Reservation, from ReservationStatus) (bool, error)

	// ExpiredReservationIDs lists ACTIVE reservations due at now, oldest first.
	ExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	ActiveSubscriptions(ctx context.Context, tx txn.Tx, vendorID, productID, sku string) ([]AlertSubscription, error)
	CreateSubscription(ctx context.Context, sub *AlertSubscription) error
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetStockForUpdate(ctx context.Context, tx txn.Tx, productID, sku string) (*StockLevel, error) {
	q := postgres.Conn(r.db, tx)
	level := StockLevel{ProductID: productID, SKU: sku}

	var err error
	if sku == "" {
		err = q.QueryRow(ctx, `
			SELECT vendor_id, track_inventory, stock
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, productID).Scan(&level.VendorID, &level.TrackInventory, &level.Stock)
	} else {
		err = q.QueryRow(ctx, `
			SELECT p.vendor_id, p.track_inventory, v.stock
			FROM product_variants v
			JOIN products p ON p.id = v.product_id
			WHERE v.product_id = $1 AND v.sku = $2
			FOR UPDATE OF v
		`, productID, sku).Scan(&level.VendorID, &level.TrackInventory, &level.Stock)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("product", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock with lock: %w", err)
	}
	return &level, nil
}

func (r *PostgresRepository) SetStock(ctx context.Context, tx txn.Tx, productID, sku string, stock int) error {
	q := postgres.Conn(r.db, tx)

	var err error
	if sku == "" {
		_, err = q.Exec(ctx, `
			UPDATE products
			SET stock = $1, updated_at = NOW()
			WHERE id = $2
		`, stock, productID)
	} else {
		_, err = q.Exec(ctx, `
			UPDATE product_variants
			SET stock = $1, updated_at = NOW()
			WHERE product_id = $2 AND sku = $3
		`, stock, productID, sku)
	}
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	return nil
}

const reservationColumns = `id, vendor_id, product_id, sku, qty, expires_at, status, created_at, updated_at`

func (r *PostgresRepository) CreateReservation(ctx context.Context, tx txn.Tx, res *Reservation) error {
	_, err := postgres.Conn(r.db, tx).Exec(ctx, `
		INSERT INTO stock_reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, res.ID, res.VendorID, res.ProductID, res.SKU, res.Qty, res.ExpiresAt, res.Status, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetReservation(ctx context.Context, tx txn.Tx, id string) (*Reservation, error) {
	return r.getReservation(ctx, tx, id, "")
}

func (r *PostgresRepository) GetReservationForUpdate(ctx context.Context, tx txn.Tx, id string) (*Reservation, error) {
	return r.getReservation(ctx, tx, id, " FOR UPDATE")
}

func (r *PostgresRepository) getReservation(ctx context.Context, tx txn.Tx, id, lock string) (*Reservation, error) {
	var res Reservation
	err := postgres.Conn(r.db, tx).QueryRow(ctx,
		"SELECT "+reservationColumns+" FROM stock_reservations WHERE id = $1"+lock, id,
	).Scan(&res.ID, &res.VendorID, &res.ProductID, &res.SKU, &res.Qty, &res.ExpiresAt, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

func (r *PostgresRepository) UpdateReservationStatus(ctx context.Context, tx txn.Tx, res *Reservation, from ReservationStatus) (bool, error) {
	tag, err := postgres.Conn(r.db, tx).Exec(ctx, `
		UPDATE stock_reservations
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, res.Status, res.UpdatedAt, res.ID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) ExpiredReservationIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM stock_reservations
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`, ReservationActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reservation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) ActiveSubscriptions(ctx context.Context, tx txn.Tx, vendorID, productID, sku string) ([]AlertSubscription, error) {
	rows, err := postgres.Conn(r.db, tx).Query(ctx, `
		SELECT id, vendor_id, product_id, sku, threshold, active, created_at
		FROM stock_alert_subscriptions
		WHERE vendor_id = $1 AND product_id = $2 AND sku = $3 AND active
	`, vendorID, productID, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []AlertSubscription
	for rows.Next() {
		var s AlertSubscription
		if err := rows.Scan(&s.ID, &s.VendorID, &s.ProductID, &s.SKU, &s.Threshold, &s.Active, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *PostgresRepository) CreateSubscription(ctx context.Context, sub *AlertSubscription) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stock_alert_subscriptions (id, vendor_id, product_id, sku, threshold, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.VendorID, sub.ProductID, sub.SKU, sub.Threshold, sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert subscription: %w", err)
	}
	return nil
}
