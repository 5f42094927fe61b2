package kafka

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config описывает подключение к Kafka и доменные топики storefront.
//   - локальная разработка (go run): localhost:19092
//   - запуск в Docker: kafka:9092
type Config struct {
	Enabled        bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	CheckoutTopic  string        `env:"KAFKA_TOPIC_CHECKOUT" envDefault:"storefront.checkout"`
	InventoryTopic string        `env:"KAFKA_TOPIC_INVENTORY" envDefault:"storefront.inventory"`
	GroupID        string        `env:"KAFKA_GROUP_ID" envDefault:"storefront-outbox-tail"`
	WriteTimeout   time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
}

// DefaultBrokers возвращает брокеры по умолчанию для окружения
func DefaultBrokers(appEnv string) []string {
	if appEnv == "docker" {
		return []string{"kafka:9092"}
	}
	return []string{"localhost:19092"}
}

// Load читает конфигурацию из переменных окружения
func Load(appEnv string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = DefaultBrokers(appEnv)
	}
	return cfg, cfg.Validate()
}

// Topics возвращает все доменные топики
func (c Config) Topics() []string {
	return []string{c.CheckoutTopic, c.InventoryTopic}
}

// Validate проверяет, что брокеры и топики заданы
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) == "" {
			return errors.New("KAFKA_BROKERS contains an empty broker")
		}
	}
	if c.CheckoutTopic == "" || c.InventoryTopic == "" {
		return errors.New("KAFKA_TOPIC_CHECKOUT and KAFKA_TOPIC_INVENTORY are required")
	}
	return nil
}
