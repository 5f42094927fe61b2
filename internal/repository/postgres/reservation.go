package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

const reservationColumns = `reservation_id, sku, quantity, cart_id, COALESCE(payment_intent_id, ''),
	status, created_at, expires_at, resolved_at`

// reservationStore операции над stock_reservations. q может быть пулом или транзакцией.
type reservationStore struct {
	q querier
}

func scanReservation(row pgx.Row) (repository.StockReservation, error) {
	var (
		res    repository.StockReservation
		status string
	)
	err := row.Scan(&res.ID, &res.SKU, &res.Quantity, &res.CartID, &res.PaymentIntentID,
		&status, &res.CreatedAt, &res.ExpiresAt, &res.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.StockReservation{}, repository.ErrReservationNotFound
	}
	res.Status = repository.ReservationStatus(status)
	return res, err
}

func collectReservations(rows pgx.Rows, err error) ([]repository.StockReservation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]repository.StockReservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (s reservationStore) Create(ctx context.Context, res repository.StockReservation) error {
	if res.Status == "" {
		res.Status = repository.ReservationReserved
	}
	var intent *string
	if res.PaymentIntentID != "" {
		intent = &res.PaymentIntentID
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO stock_reservations
		   (reservation_id, sku, quantity, cart_id, payment_intent_id, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		res.ID, res.SKU, res.Quantity, res.CartID, intent, string(res.Status), res.CreatedAt, res.ExpiresAt)
	if isUniqueViolation(err) {
		return repository.ErrAlreadyExists
	}
	return err
}

func (s reservationStore) Find(ctx context.Context, id string) (repository.StockReservation, error) {
	return scanReservation(s.q.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM stock_reservations WHERE reservation_id = $1`, id))
}

func (s reservationStore) lockMany(ctx context.Context, ids []string) ([]repository.StockReservation, error) {
	return collectReservations(s.q.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM stock_reservations
		 WHERE reservation_id = ANY($1)
		 ORDER BY reservation_id
		 FOR UPDATE`, ids))
}

func (s reservationStore) Resolve(ctx context.Context, id string, outcome repository.ReservationStatus, at time.Time) (repository.StockReservation, error) {
	if !outcome.IsTerminal() {
		return repository.StockReservation{}, repository.ErrInvalidOutcome
	}
	res, err := scanReservation(s.q.QueryRow(ctx,
		`UPDATE stock_reservations
		 SET status = $2, resolved_at = $3
		 WHERE reservation_id = $1 AND status = 'RESERVED'
		 RETURNING `+reservationColumns,
		id, string(outcome), at))
	if errors.Is(err, repository.ErrReservationNotFound) {
		existing, findErr := s.Find(ctx, id)
		if findErr != nil {
			return repository.StockReservation{}, findErr
		}
		return existing, repository.ErrAlreadyResolved
	}
	return res, err
}

// Методы ReservationRepository на Repository работают через пул

func (r *Repository) Create(ctx context.Context, res repository.StockReservation) error {
	return reservationStore{q: r.pool}.Create(ctx, res)
}

func (r *Repository) Find(ctx context.Context, id string) (repository.StockReservation, error) {
	return reservationStore{q: r.pool}.Find(ctx, id)
}

func (r *Repository) Resolve(ctx context.Context, id string, outcome repository.ReservationStatus, at time.Time) (repository.StockReservation, error) {
	return reservationStore{q: r.pool}.Resolve(ctx, id, outcome, at)
}

func (r *Repository) FindActiveByCart(ctx context.Context, cartID string) ([]repository.StockReservation, error) {
	return collectReservations(r.pool.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM stock_reservations
		 WHERE cart_id = $1 AND status = 'RESERVED'
		 ORDER BY sku, reservation_id`, cartID))
}

func (r *Repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]repository.StockReservation, error) {
	return collectReservations(r.pool.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM stock_reservations
		 WHERE status = 'RESERVED' AND expires_at < $1
		 ORDER BY expires_at
		 LIMIT $2`, now, limit))
}

func (r *Repository) AttachPaymentIntent(ctx context.Context, cartID, paymentIntentID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE stock_reservations SET payment_intent_id = $2
		 WHERE cart_id = $1 AND status = 'RESERVED'`,
		cartID, paymentIntentID)
	return err
}
