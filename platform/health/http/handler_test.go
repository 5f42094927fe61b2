package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(r *Readiness)
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all checks pass",
			setup:      func(r *Readiness) { r.AddCheck("postgres", func(context.Context) error { return nil }) },
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name: "failing dependency",
			setup: func(r *Readiness) {
				r.AddCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") })
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"not ready","failed":{"redis":"dial tcp: refused"}}`,
		},
		{
			name:       "not serving",
			setup:      func(r *Readiness) { _ = r.SetNotServing(context.Background()) },
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"not ready","failed":{"service":"shutting down"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReadiness(time.Second)
			tt.setup(r)

			rec := httptest.NewRecorder()
			Handler(r)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}
