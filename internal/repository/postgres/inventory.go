package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

const itemColumns = `sku, quantity, reserved_quantity, low_stock_threshold, created_at, updated_at`

func scanItem(row pgx.Row) (repository.InventoryItem, error) {
	var it repository.InventoryItem
	err := row.Scan(&it.SKU, &it.Quantity, &it.ReservedQuantity, &it.LowStockThreshold, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.InventoryItem{}, repository.ErrNotFound
	}
	return it, err
}

func (r *Repository) CreateItem(ctx context.Context, item repository.InventoryItem) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO inventory_items (sku, quantity, reserved_quantity, low_stock_threshold)
		 VALUES ($1, $2, $3, $4)`,
		item.SKU, item.Quantity, item.ReservedQuantity, item.LowStockThreshold)
	if isUniqueViolation(err) {
		return repository.ErrAlreadyExists
	}
	return err
}

func (r *Repository) GetItem(ctx context.Context, sku string) (repository.InventoryItem, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku = $1`, sku))
}

func (r *Repository) ListItems(ctx context.Context) ([]repository.InventoryItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]repository.InventoryItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Reserve блокирует строку sku, проверяет available и создаёт резерв в той же транзакции.
func (r *Repository) Reserve(ctx context.Context, res repository.StockReservation) (repository.InventoryItem, error) {
	var item repository.InventoryItem
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		locked, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM inventory_items WHERE sku = $1 FOR UPDATE`, res.SKU))
		if err != nil {
			return err
		}
		if locked.Available() < res.Quantity {
			return &repository.InsufficientStockError{
				SKU:       res.SKU,
				Requested: res.Quantity,
				Available: locked.Available(),
			}
		}

		item, err = scanItem(tx.QueryRow(ctx,
			`UPDATE inventory_items
			 SET reserved_quantity = reserved_quantity + $2, updated_at = now()
			 WHERE sku = $1
			 RETURNING `+itemColumns,
			res.SKU, res.Quantity))
		if err != nil {
			return err
		}

		res.Status = repository.ReservationReserved
		return reservationStore{q: tx}.Create(ctx, res)
	})
	if err != nil {
		return repository.InventoryItem{}, err
	}
	return item, nil
}

// ResolveReservations блокирует резервы по возрастанию id, затем позиции по возрастанию sku.
// Тот же порядок у одиночного Resolve из sweeper, поэтому взаимных блокировок нет.
func (r *Repository) ResolveReservations(ctx context.Context, ids []string, outcome repository.ReservationStatus, at time.Time) ([]repository.Resolution, error) {
	if !outcome.IsTerminal() {
		return nil, repository.ErrInvalidOutcome
	}
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	var out []repository.Resolution
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		store := reservationStore{q: tx}
		locked, err := store.lockMany(ctx, ids)
		if err != nil {
			return err
		}
		if len(locked) != len(ids) {
			return repository.ErrReservationNotFound
		}

		type delta struct{ reserved, quantity int }
		deltas := make(map[string]delta)
		for _, res := range locked {
			if res.Status.IsTerminal() {
				return repository.ErrAlreadyResolved
			}
			d := deltas[res.SKU]
			d.reserved += res.Quantity
			if outcome == repository.ReservationCommitted {
				d.quantity += res.Quantity
			}
			deltas[res.SKU] = d
		}

		skus := make([]string, 0, len(deltas))
		for sku := range deltas {
			skus = append(skus, sku)
		}
		sort.Strings(skus)

		items := make(map[string]repository.InventoryItem, len(skus))
		for _, sku := range skus {
			it, err := scanItem(tx.QueryRow(ctx,
				`SELECT `+itemColumns+` FROM inventory_items WHERE sku = $1 FOR UPDATE`, sku))
			if err != nil {
				return err
			}
			d := deltas[sku]
			if it.ReservedQuantity < d.reserved || it.Quantity < d.quantity {
				return fmt.Errorf("%w: sku %s reserved %d quantity %d, resolving %d",
					repository.ErrLedgerInvariant, sku, it.ReservedQuantity, it.Quantity, d.reserved)
			}
			it, err = scanItem(tx.QueryRow(ctx,
				`UPDATE inventory_items
				 SET reserved_quantity = reserved_quantity - $2,
				     quantity = quantity - $3,
				     updated_at = now()
				 WHERE sku = $1
				 RETURNING `+itemColumns,
				sku, d.reserved, d.quantity))
			if err != nil {
				return err
			}
			items[sku] = it
		}

		out = make([]repository.Resolution, 0, len(locked))
		for _, res := range locked {
			resolved, err := store.Resolve(ctx, res.ID, outcome, at)
			if err != nil {
				return err
			}
			out = append(out, repository.Resolution{Reservation: resolved, Item: items[res.SKU]})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Adjust условный UPDATE: строка меняется, только если quantity останется >= reserved_quantity.
func (r *Repository) Adjust(ctx context.Context, sku string, delta int) (repository.InventoryItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx,
		`UPDATE inventory_items
		 SET quantity = quantity + $2, updated_at = now()
		 WHERE sku = $1 AND quantity + $2 >= reserved_quantity
		 RETURNING `+itemColumns,
		sku, delta))
	if errors.Is(err, repository.ErrNotFound) {
		return repository.InventoryItem{}, r.adjustFailure(ctx, sku)
	}
	return item, err
}

func (r *Repository) SetQuantity(ctx context.Context, sku string, quantity int) (repository.InventoryItem, error) {
	if quantity < 0 {
		return repository.InventoryItem{}, repository.ErrInvalidAdjustment
	}
	item, err := scanItem(r.pool.QueryRow(ctx,
		`UPDATE inventory_items
		 SET quantity = $2, updated_at = now()
		 WHERE sku = $1 AND $2 >= reserved_quantity
		 RETURNING `+itemColumns,
		sku, quantity))
	if errors.Is(err, repository.ErrNotFound) {
		return repository.InventoryItem{}, r.adjustFailure(ctx, sku)
	}
	return item, err
}

// adjustFailure различает отсутствующую позицию и отклонённое изменение
func (r *Repository) adjustFailure(ctx context.Context, sku string) error {
	if _, err := r.GetItem(ctx, sku); err != nil {
		return err
	}
	return repository.ErrInvalidAdjustment
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
