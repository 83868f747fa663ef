// Package auth guards the HTTP and gRPC surfaces with a static API key.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// APIKeyHeader is the header and metadata key for API key authentication
	APIKeyHeader = "x-api-key"

	bearerPrefix = "Bearer "
)

// APIKey checks requests against one configured key. An empty key disables checking.
type APIKey struct {
	key         string
	skipPaths   map[string]bool
	skipMethods map[string]bool
}

// NewAPIKey creates a new API key checker
func NewAPIKey(key string) *APIKey {
	return &APIKey{
		key: key,
		skipPaths: map[string]bool{
			"/healthz": true,
			"/readyz":  true,
		},
		skipMethods: map[string]bool{
			// Health check endpoints
			"/grpc.health.v1.Health/Check": true,
			"/grpc.health.v1.Health/Watch": true,
		},
	}
}

// WithSkipPaths adds HTTP paths that skip authentication
func (a *APIKey) WithSkipPaths(paths ...string) *APIKey {
	for _, p := range paths {
		a.skipPaths[p] = true
	}
	return a
}

// WithSkipMethods adds gRPC methods that skip authentication
func (a *APIKey) WithSkipMethods(methods ...string) *APIKey {
	for _, m := range methods {
		a.skipMethods[m] = true
	}
	return a
}

// Enabled reports whether a key is configured.
func (a *APIKey) Enabled() bool { return a.key != "" }

func (a *APIKey) valid(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(a.key)) == 1
}

// Middleware returns HTTP middleware that rejects requests without the key.
// The key is read from X-API-Key or an Authorization bearer token.
func (a *APIKey) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || a.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
				key = strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
			}
		}

		if key == "" || !a.valid(key) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"signal":  "unauthorized",
				"message": "missing or invalid API key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryInterceptor returns a gRPC unary interceptor for API key validation
func (a *APIKey) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := a.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor for API key validation
func (a *APIKey) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := a.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (a *APIKey) check(ctx context.Context, method string) error {
	if !a.Enabled() || a.skipMethods[method] {
		return nil
	}
	apiKey, err := extractAPIKey(ctx)
	if err != nil {
		return err
	}
	if !a.valid(apiKey) {
		return status.Error(codes.Unauthenticated, "invalid API key")
	}
	return nil
}

// extractAPIKey extracts the API key from gRPC metadata
func extractAPIKey(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get(APIKeyHeader)
	if len(values) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing API key")
	}

	apiKey := strings.TrimSpace(values[0])
	if apiKey == "" {
		return "", status.Error(codes.Unauthenticated, "empty API key")
	}

	return apiKey, nil
}
