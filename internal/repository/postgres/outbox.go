package postgres

import (
	"context"

	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

func insertOutbox(ctx context.Context, q querier, e repository.OutboxEvent) error {
	_, err := q.Exec(ctx,
		`INSERT INTO outbox_events (event_id, aggregate_id, topic, event_type, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.EventID, e.AggregateID, e.Topic, e.EventType, e.Payload)
	return err
}

func (r *Repository) AddOutboxEvent(ctx context.Context, e repository.OutboxEvent) error {
	return insertOutbox(ctx, r.pool, e)
}

func (r *Repository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, aggregate_id, topic, event_type, payload, status, attempts, last_error, created_at, sent_at
		 FROM outbox_events
		 WHERE status = 'pending'
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]repository.OutboxEvent, 0)
	for rows.Next() {
		var e repository.OutboxEvent
		if err := rows.Scan(&e.EventID, &e.AggregateID, &e.Topic, &e.EventType, &e.Payload,
			&e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	return r.execOutbox(ctx,
		`UPDATE outbox_events SET status = 'sent', sent_at = now() WHERE event_id = $1`, eventID)
}

func (r *Repository) MarkOutboxEventFailed(ctx context.Context, eventID, lastError string) error {
	return r.execOutbox(ctx,
		`UPDATE outbox_events SET status = 'failed', attempts = attempts + 1, last_error = $2 WHERE event_id = $1`,
		eventID, lastError)
}

func (r *Repository) ResetOutboxEventPending(ctx context.Context, eventID string) error {
	return r.execOutbox(ctx, `UPDATE outbox_events SET status = 'pending' WHERE event_id = $1`, eventID)
}

func (r *Repository) execOutbox(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
