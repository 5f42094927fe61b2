package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

func (r *Repository) CreateCart(ctx context.Context, cart repository.Cart) error {
	status := cart.Status
	if status == "" {
		status = repository.CartActive
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO carts (id, customer_id, status) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO NOTHING`,
			cart.ID, cart.CustomerID, string(status))
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		for _, it := range cart.Items {
			if err := saveItem(ctx, tx, cart.ID, it); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) GetCart(ctx context.Context, id string) (repository.Cart, error) {
	var (
		cart   repository.Cart
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, status, created_at, updated_at FROM carts WHERE id = $1`, id).
		Scan(&cart.ID, &cart.CustomerID, &status, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Cart{}, repository.ErrCartNotFound
		}
		return repository.Cart{}, err
	}
	cart.Status = repository.CartStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT sku, name, quantity, unit_price::text FROM cart_items WHERE cart_id = $1 ORDER BY sku`, id)
	if err != nil {
		return repository.Cart{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    repository.CartItem
			price string
		)
		if err := rows.Scan(&it.SKU, &it.Name, &it.Quantity, &price); err != nil {
			return repository.Cart{}, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return repository.Cart{}, err
		}
		cart.Items = append(cart.Items, it)
	}
	return cart, rows.Err()
}

func (r *Repository) SaveItem(ctx context.Context, cartID string, item repository.CartItem) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := touchCart(ctx, tx, cartID); err != nil {
			return err
		}
		return saveItem(ctx, tx, cartID, item)
	})
}

func saveItem(ctx context.Context, q querier, cartID string, item repository.CartItem) error {
	_, err := q.Exec(ctx,
		`INSERT INTO cart_items (cart_id, sku, name, quantity, unit_price)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cart_id, sku) DO UPDATE SET
		   name = EXCLUDED.name,
		   quantity = EXCLUDED.quantity,
		   unit_price = EXCLUDED.unit_price`,
		cartID, item.SKU, item.Name, item.Quantity, item.UnitPrice.String())
	return err
}

func (r *Repository) DeleteItem(ctx context.Context, cartID, sku string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := touchCart(ctx, tx, cartID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND sku = $2`, cartID, sku)
		return err
	})
}

func (r *Repository) Clear(ctx context.Context, cartID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := touchCart(ctx, tx, cartID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
		return err
	})
}

func (r *Repository) MarkCheckedOut(ctx context.Context, cartID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE carts SET status = 'checked_out', updated_at = $2 WHERE id = $1`, cartID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrCartNotFound
	}
	return nil
}

func touchCart(ctx context.Context, q querier, cartID string) error {
	tag, err := q.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrCartNotFound
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, sku string) (repository.Product, error) {
	var (
		p     repository.Product
		price string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT sku, name, price::text, is_active FROM products WHERE sku = $1`, sku).
		Scan(&p.SKU, &p.Name, &price, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Product{}, repository.ErrProductNotFound
		}
		return repository.Product{}, err
	}
	p.Price, err = decimal.NewFromString(price)
	return p, err
}

func (r *Repository) SaveProduct(ctx context.Context, p repository.Product) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products (sku, name, price, is_active) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, is_active = EXCLUDED.is_active`,
		p.SKU, p.Name, p.Price.String(), p.IsActive)
	return err
}
