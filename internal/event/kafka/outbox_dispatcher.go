package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rinta-toyoda/retailer-agent-project/internal/metrics"
	"github.com/rinta-toyoda/retailer-agent-project/internal/repository"
)

// MessageWriter часть kafka.Writer, которая нужна диспетчеру
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DispatcherConfig параметры диспетчера
type DispatcherConfig struct {
	BatchSize  int           // сколько событий выбирать за один проход
	Interval   time.Duration // пауза между проходами
	MaxRetries int           // попыток публикации одного события за проход
	Backoff    time.Duration // базовая пауза между попытками, растёт линейно
}

// OutboxDispatcher публикует pending события outbox в Kafka
type OutboxDispatcher struct {
	logger  *zap.Logger
	repo    repository.OutboxRepository
	writer  MessageWriter
	metrics *metrics.Metrics
	cfg     DispatcherConfig
}

// NewWriter создаёт kafka.Writer; topic берётся из самого сообщения
func NewWriter(brokers []string, writeTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}
}

// NewOutboxDispatcher создаёт диспетчер
func NewOutboxDispatcher(
	logger *zap.Logger,
	repo repository.OutboxRepository,
	writer MessageWriter,
	m *metrics.Metrics,
	cfg DispatcherConfig,
) *OutboxDispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &OutboxDispatcher{
		logger:  logger,
		repo:    repo,
		writer:  writer,
		metrics: m,
		cfg:     cfg,
	}
}

// Start блокируется до отмены ctx
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("max_retries", d.cfg.MaxRetries),
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	if _, err := d.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if _, err := d.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch публикует один батч и возвращает число отправленных событий.
// Ошибка одного события не останавливает остальные.
func (d *OutboxDispatcher) ProcessBatch(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	events, err := d.repo.GetPendingOutboxEvents(ctx, d.cfg.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	d.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := d.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			d.logger.Error("failed to process event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

// processEvent публикует событие с retry. После исчерпания попыток событие
// помечается failed (с текстом ошибки) и возвращается в pending для следующего прохода.
func (d *OutboxDispatcher) processEvent(ctx context.Context, event repository.OutboxEvent) error {
	msg := kafka.Message{
		Topic: event.Topic,
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		err := d.writer.WriteMessages(ctx, msg)
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if markErr := d.repo.MarkOutboxEventSent(ctx, event.EventID); markErr != nil {
				return fmt.Errorf("mark event sent: %w", markErr)
			}
			d.metrics.OutboxPublished("sent")
			d.logger.Info("outbox event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.String("topic", event.Topic),
				zap.String("aggregate_id", event.AggregateID),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		d.logger.Warn("failed to publish outbox event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.String("topic", event.Topic),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", d.cfg.MaxRetries),
		)

		if attempt < d.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.Backoff * time.Duration(attempt)):
			}
		}
	}

	d.metrics.OutboxPublished("failed")
	if ctx.Err() != nil {
		return ctx.Err()
	}

	errMsg := fmt.Sprintf("failed after %d attempts: %v", d.cfg.MaxRetries, lastErr)
	if markErr := d.repo.MarkOutboxEventFailed(ctx, event.EventID, errMsg); markErr != nil {
		return fmt.Errorf("mark event failed: %w", markErr)
	}
	if resetErr := d.repo.ResetOutboxEventPending(ctx, event.EventID); resetErr != nil {
		d.logger.Error("failed to reset event to pending",
			zap.Error(resetErr),
			zap.String("event_id", event.EventID),
		)
	}
	return fmt.Errorf("failed to publish event after %d attempts: %w", d.cfg.MaxRetries, lastErr)
}

// Close закрывает writer
func (d *OutboxDispatcher) Close() error {
	d.logger.Info("closing outbox dispatcher")
	return d.writer.Close()
}
