package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// CreateOrder сохраняет заказ, строки и события outbox одной транзакцией
func (r *Repository) CreateOrder(ctx context.Context, order repository.Order, events ...repository.OutboxEvent) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO orders (id, order_number, customer_id, cart_id, payment_intent_id, payment_status,
			                     status, receipt_url, subtotal, tax, total, created_at, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			order.ID, order.Number, order.CustomerID, order.CartID, order.PaymentIntentID, order.PaymentStatus,
			order.Status, order.ReceiptURL, order.Subtotal.String(), order.Tax.String(), order.Total.String(),
			order.CreatedAt, order.PaidAt)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrAlreadyExists
			}
			return err
		}

		for _, it := range order.Items {
			_, err = tx.Exec(ctx,
				`INSERT INTO order_items (order_id, sku, name, quantity, price, subtotal)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				order.ID, it.SKU, it.Name, it.Quantity, it.Price.String(), it.Subtotal.String())
			if err != nil {
				return err
			}
		}

		for _, e := range events {
			if err := insertOutbox(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (repository.Order, error) {
	return r.getOrder(ctx, `order_number = $1`, number)
}

func (r *Repository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (repository.Order, error) {
	return r.getOrder(ctx, `payment_intent_id = $1`, paymentIntentID)
}

func (r *Repository) getOrder(ctx context.Context, where string, arg string) (repository.Order, error) {
	var (
		o                    repository.Order
		subtotal, tax, total string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, order_number, customer_id, cart_id, payment_intent_id, payment_status, status, receipt_url,
		        subtotal::text, tax::text, total::text, created_at, paid_at
		 FROM orders WHERE `+where, arg).
		Scan(&o.ID, &o.Number, &o.CustomerID, &o.CartID, &o.PaymentIntentID, &o.PaymentStatus, &o.Status,
			&o.ReceiptURL, &subtotal, &tax, &total, &o.CreatedAt, &o.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrOrderNotFound
		}
		return repository.Order{}, err
	}
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return repository.Order{}, err
	}
	if o.Tax, err = decimal.NewFromString(tax); err != nil {
		return repository.Order{}, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return repository.Order{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT sku, name, quantity, price::text, subtotal::text FROM order_items WHERE order_id = $1 ORDER BY sku`, o.ID)
	if err != nil {
		return repository.Order{}, err
	}
	defer rows.Close()

	o.Items = make([]repository.OrderItem, 0)
	for rows.Next() {
		var (
			it         repository.OrderItem
			price, sub string
		)
		if err := rows.Scan(&it.SKU, &it.Name, &it.Quantity, &price, &sub); err != nil {
			return repository.Order{}, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return repository.Order{}, err
		}
		if it.Subtotal, err = decimal.NewFromString(sub); err != nil {
			return repository.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}
