package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPMiddleware_PutsLoggerIntoContext(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	defer shutdown(context.Background())

	base := zap.NewNop()
	r := chi.NewRouter()
	r.Use(HTTPMiddleware("storefront", base))

	var got *zap.Logger
	r.Get("/carts/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = LoggerFromContext(r.Context(), nil)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/carts/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotNil(t, got)
}

func TestInit_EnabledWithoutEndpointFails(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true})
	require.Error(t, err)
}

func TestL_WithoutSpanReturnsBase(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, L(context.Background(), base))
	assert.Empty(t, TraceFields(context.Background()))
}
