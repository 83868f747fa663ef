package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		path   string
		header map[string]string
		want   int
	}{
		{"disabled", "", "/api/v1/x", nil, http.StatusOK},
		{"missing key", "secret", "/api/v1/x", nil, http.StatusUnauthorized},
		{"wrong key", "secret", "/api/v1/x", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"header key", "secret", "/api/v1/x", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer token", "secret", "/api/v1/x", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"health skipped", "secret", "/healthz", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAPIKey(tt.key).Middleware(okHandler())
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestUnaryInterceptor(t *testing.T) {
	interceptor := NewAPIKey("secret").UnaryInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	tests := []struct {
		name   string
		method string
		md     metadata.MD
		want   codes.Code
	}{
		{"no metadata", "/svc/Call", nil, codes.Unauthenticated},
		{"wrong key", "/svc/Call", metadata.Pairs(APIKeyHeader, "nope"), codes.Unauthenticated},
		{"valid key", "/svc/Call", metadata.Pairs(APIKeyHeader, "secret"), codes.OK},
		{"health check", "/grpc.health.v1.Health/Check", nil, codes.OK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, handler)
			if got := status.Code(err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
