package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Manager управляет graceful shutdown сервиса.
// Хуки выполняются в обратном порядке регистрации, каждый со своим таймаутом.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []hook
	once  sync.Once
}

type hook struct {
	name string
	fn   func(context.Context) error
}

// New создаёт Manager с таймаутом на каждый хук
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Add регистрирует хук остановки
func (m *Manager) Add(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Wait блокируется до SIGINT/SIGTERM или отмены ctx, затем вызывает Shutdown.
func (m *Manager) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	m.logger.Info("Received shutdown signal, starting graceful shutdown")
	return m.Shutdown()
}

// Shutdown выполняет хуки один раз. Повторные вызовы ничего не делают.
func (m *Manager) Shutdown() error {
	var errs []error
	m.once.Do(func() {
		m.mu.Lock()
		hooks := make([]hook, len(m.hooks))
		copy(hooks, m.hooks)
		m.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			start := time.Now()
			err := h.fn(ctx)
			cancel()

			if err != nil {
				errs = append(errs, err)
				m.logger.Error("Shutdown hook failed",
					zap.String("name", h.name),
					zap.Error(err),
					zap.Duration("duration", time.Since(start)))
				continue
			}
			m.logger.Info("Shutdown hook completed",
				zap.String("name", h.name),
				zap.Duration("duration", time.Since(start)))
		}
		m.logger.Info("Graceful shutdown completed")
	})
	return errors.Join(errs...)
}

// ShutdownHTTPServer возвращает хук для http.Server
func ShutdownHTTPServer(srv interface {
	Shutdown(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
}

// DisconnectMongo возвращает хук для mongo.Client
func DisconnectMongo(client interface {
	Disconnect(context.Context) error
}) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Disconnect(ctx)
	}
}

// ClosePool возвращает хук для pgxpool.Pool
func ClosePool(pool interface {
	Close()
}) func(context.Context) error {
	return func(context.Context) error {
		pool.Close()
		return nil
	}
}

// CloseFunc возвращает хук для io.Closer (kafka.Writer, redis.Client)
func CloseFunc(c interface {
	Close() error
}) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}
