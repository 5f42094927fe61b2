// Package main читает доменные топики storefront и пишет события в лог.
// Нужен для локальной проверки outbox: checkout.completed и inventory.low_stock.
//
// Настройки берутся из тех же переменных, что и у storefront:
//   - APP_ENV (local|docker) выбирает брокеры по умолчанию
//   - KAFKA_BROKERS, KAFKA_TOPIC_CHECKOUT, KAFKA_TOPIC_INVENTORY, KAFKA_GROUP_ID
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	platformkafka "github.com/rinta-toyoda/retailer-agent-project/platform/kafka"
	platformlogging "github.com/rinta-toyoda/retailer-agent-project/platform/logging"
)

func main() {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "local"
	}

	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "outbox-tail",
		Env:         appEnv,
		Level:       os.Getenv("LOG_LEVEL"),
		AddCaller:   true,
	})
	if err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer platformlogging.Sync(logger)

	cfg, err := platformkafka.Load(appEnv)
	if err != nil {
		logger.Error("failed to load kafka config", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("kafka config loaded",
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics()),
		zap.String("group_id", cfg.GroupID),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics(),
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Error("failed to close kafka reader", zap.Error(err))
		}
	}()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("outbox tail stopped")
				return
			}
			logger.Error("failed to read message", zap.Error(err))
			os.Exit(1)
		}

		fields := []zap.Field{
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
		}
		for _, h := range msg.Headers {
			fields = append(fields, zap.String("header_"+h.Key, string(h.Value)))
		}
		fields = append(fields, zap.ByteString("payload", msg.Value))
		logger.Info("event received", fields...)
	}
}
