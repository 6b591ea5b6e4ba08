package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matheusmosca/marketplace-ledger/internal/money"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/apperr"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/postgres"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

// Repository define a interface para operações de banco de dados do ledger.
// A nil tx means "outside a transaction" for read methods.
type Repository interface {
	// ReferenceExists verifica se um lançamento já existe (para idempotência)
	ReferenceExists(ctx context.Context, tx txn.Tx, reference string) (bool, error)

	// Insert returns apperr.ErrDuplicateLedgerEntry when the reference is taken.
	Insert(ctx context.Context, tx txn.Tx, entry *Entry) error

	GetForUpdate(ctx context.Context, tx txn.Tx, id string) (*Entry, error)

	// UpdateStatus persists a transition already validated on the entity.
	UpdateStatus(ctx context.Context, tx txn.Tx, entry *Entry) error

	Buckets(ctx context.Context, tx txn.Tx, vendorID string) ([]Bucket, error)

	List(ctx context.Context, filter Filter) (*Page, error)
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `id, vendor_id, entry_type, direction, amount_cents, COALESCE(order_id, ''),
	metadata, status, reference, description, created_at, updated_at`

func (r *PostgresRepository) ReferenceExists(ctx context.Context, tx txn.Tx, reference string) (bool, error) {
	var exists bool
	err := postgres.Conn(r.db, tx).QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE reference = $1)", reference,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger reference: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, tx txn.Tx, entry *Entry) error {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode ledger metadata: %w", err)
	}

	// the unique index on reference is the final guard against concurrent posts
	tag, err := postgres.Conn(r.db, tx).Exec(ctx, `
		INSERT INTO ledger_entries (id, vendor_id, entry_type, direction, amount_cents, order_id,
			metadata, status, reference, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
		ON CONFLICT (reference) DO NOTHING
	`, entry.ID, entry.VendorID, entry.Type, entry.Direction, money.ToCents(entry.Amount), entry.OrderID,
		metadata, entry.Status, entry.Reference, entry.Description, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrDuplicateLedgerEntry, entry.Reference)
	}
	return nil
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, tx txn.Tx, id string) (*Entry, error) {
	row := postgres.Conn(r.db, tx).QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1 FOR UPDATE", id)

	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("ledger entry", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry with lock: %w", err)
	}
	return entry, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, tx txn.Tx, entry *Entry) error {
	_, err := postgres.Conn(r.db, tx).Exec(ctx, `
		UPDATE ledger_entries
		SET status = $1, updated_at = $2
		WHERE id = $3
	`, entry.Status, entry.UpdatedAt, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry status: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Buckets(ctx context.Context, tx txn.Tx, vendorID string) ([]Bucket, error) {
	rows, err := postgres.Conn(r.db, tx).Query(ctx, `
		SELECT entry_type, direction, status, COALESCE(SUM(amount_cents), 0)
		FROM ledger_entries
		WHERE vendor_id = $1
		GROUP BY entry_type, direction, status
	`, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		var cents int64
		if err := rows.Scan(&b.Type, &b.Direction, &b.Status, &cents); err != nil {
			return nil, fmt.Errorf("failed to scan ledger bucket: %w", err)
		}
		b.Amount = money.FromCents(cents)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (r *PostgresRepository) List(ctx context.Context, filter Filter) (*Page, error) {
	where := []string{"vendor_id = $1"}
	args := []any{filter.VendorID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("entry_type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	page := &Page{Page: filter.Page, Limit: filter.Limit, Entries: []Entry{}}
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries WHERE "+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	rows, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM ledger_entries WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		entryColumns, clause, len(args)-1, len(args),
	), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		page.Entries = append(page.Entries, *entry)
	}
	return page, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e        Entry
		cents    int64
		metadata []byte
		created  time.Time
		updated  time.Time
	)
	err := row.Scan(&e.ID, &e.VendorID, &e.Type, &e.Direction, &cents, &e.OrderID,
		&metadata, &e.Status, &e.Reference, &e.Description, &created, &updated)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode ledger metadata: %w", err)
		}
	}
	e.Amount = money.FromCents(cents)
	e.CreatedAt = created
	e.UpdatedAt = updated
	return &e, nil
}
