package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc проверяет одну зависимость (postgres, redis, mongo)
type CheckFunc func(ctx context.Context) error

// Readiness собирает проверки зависимостей и флаг serving.
// При остановке сервиса флаг снимается, и /health начинает отдавать 503.
type Readiness struct {
	timeout time.Duration
	serving atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewReadiness создаёт Readiness в состоянии serving
func NewReadiness(timeout time.Duration) *Readiness {
	r := &Readiness{timeout: timeout, checks: make(map[string]CheckFunc)}
	r.serving.Store(true)
	return r
}

// AddCheck регистрирует проверку зависимости
func (r *Readiness) AddCheck(name string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = fn
}

// SetNotServing переводит сервис в not ready
func (r *Readiness) SetNotServing(context.Context) error {
	r.serving.Store(false)
	return nil
}

// Check выполняет все проверки и возвращает сообщения об ошибках по имени зависимости.
func (r *Readiness) Check(ctx context.Context) (bool, map[string]string) {
	if !r.serving.Load() {
		return false, map[string]string{"service": "shutting down"}
	}

	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		r.mu.RLock()
		fn := r.checks[name]
		r.mu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(cctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}
	return len(failed) == 0, failed
}

// Handler возвращает 200 {"status":"ok"} или 503 {"status":"not ready","failed":{...}}.
func Handler(readiness *Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if readiness != nil {
			if ok, failed := readiness.Check(r.Context()); !ok {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "not ready", "failed": failed})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
