package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

const uniqueViolation = "23505"

// querier общий интерфейс pgxpool.Pool и pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository реализует репозитории storefront поверх PostgreSQL.
// Операции ledger выполняются в транзакции с SELECT ... FOR UPDATE по строке sku.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт PostgreSQL репозиторий
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ repository.InventoryRepository   = (*Repository)(nil)
	_ repository.ReservationRepository = (*Repository)(nil)
	_ repository.CartRepository        = (*Repository)(nil)
	_ repository.CatalogRepository     = (*Repository)(nil)
	_ repository.OrderRepository       = (*Repository)(nil)
	_ repository.OutboxRepository      = (*Repository)(nil)
)

// inTx выполняет fn в транзакции. Commit только если fn вернула nil.
func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
