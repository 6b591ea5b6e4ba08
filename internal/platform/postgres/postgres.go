// Package postgres wires the pgx pool, transactions and schema used by the
// repositories.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-ledger/internal/config"
	"github.com/matheusmosca/marketplace-ledger/internal/platform/txn"
)

//go:embed schema.sql
var schema string

// Querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
}

// Open creates the connection pool and waits until the database answers.
func Open(ctx context.Context, cfg config.Database, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime.Duration
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime.Duration
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("✅ Connected to marketplace database", zap.String("database", cfg.Name))
			return pool, nil
		}
		logger.Info("⏳ Waiting for database...", zap.Int("attempt", i+1), zap.Int("of", attempts))

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after %d attempts", attempts)
}

// OpenSQL opens a database/sql handle on the lib/pq driver. It is used where a
// single pinned session is needed, such as session-level advisory locks.
func OpenSQL(cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open sql database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime.Duration)
	return db, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresTx implementa a interface txn.Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Beginner abre transações no pool
type Beginner struct {
	db *pgxpool.Pool
}

// NewBeginner cria uma nova instância de Beginner
func NewBeginner(db *pgxpool.Pool) *Beginner {
	return &Beginner{db: db}
}

// BeginTx inicia uma nova transação
func (b *Beginner) BeginTx(ctx context.Context) (txn.Tx, error) {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &PostgresTx{tx: tx}, nil
}

// Conn returns the transaction behind tx, or the pool when tx is nil.
func Conn(db *pgxpool.Pool, tx txn.Tx) Querier {
	if tx == nil {
		return db
	}
	return tx.(*PostgresTx).tx
}
