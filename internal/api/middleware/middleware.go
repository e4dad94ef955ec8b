// Package middleware provides HTTP middleware for the scanwatch API server:
// request identification, panic recovery, request logging and metrics, and
// bearer-token authentication.
package middleware

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/scanwatch/scanwatch/internal/auth"
	"github.com/scanwatch/scanwatch/internal/logging"
	"github.com/scanwatch/scanwatch/internal/metrics"
)

// ContextKey represents a context key type.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"
	// OwnerIDKey is the context key for the authenticated owner.
	OwnerIDKey ContextKey = "owner_id"

	httpErrorThreshold = 400
	requestIDBytes     = 8
)

// OwnerIDFromContext returns the authenticated owner id, or "" when the
// request was not authenticated (auth disabled).
func OwnerIDFromContext(ctx context.Context) string {
	if ownerID, ok := ctx.Value(OwnerIDKey).(string); ok {
		return ownerID
	}
	return ""
}

// RequestIDFromContext returns the request id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming responses keep
// working through the middleware chain.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the underlying writer; the websocket upgrade needs it.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

// Unwrap exposes the underlying writer to http.ResponseController, which the
// streaming handlers use to lift the server write deadline.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestID assigns a random id to every request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, requestIDBytes)
		if _, err := rand.Read(buf); err == nil {
			ctx := context.WithValue(r.Context(), RequestIDKey, hex.EncodeToString(buf))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// Recovery converts handler panics into 500 responses instead of killing the
// connection.
func Recovery(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()))
					writeAuthError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logging logs each request and records HTTP metrics. reg may be nil.
func Logging(logger *logging.Logger, reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			if reg != nil {
				reg.IncrementHTTPRequests(r.Method, strconv.Itoa(rw.statusCode))
				reg.RecordHTTPDuration(r.Method, duration)
			}

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration", duration,
				"remote_addr", r.RemoteAddr,
				"request_id", RequestIDFromContext(r.Context()),
			}
			if rw.statusCode >= httpErrorThreshold {
				logger.Warn("Request failed", fields...)
			} else {
				logger.Info("Request handled", fields...)
			}
		})
	}
}

// BearerToken extracts the credential a request presents: the Authorization
// header when present, otherwise the "token" query parameter. The query form
// exists for EventSource clients, which cannot set headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Auth authenticates every request against the configured credential set and
// stores the resolved owner id in the request context. With a nil
// authenticator all requests pass unauthenticated.
func Auth(authenticator *auth.Authenticator, logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				next.ServeHTTP(w, r)
				return
			}

			token := BearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing credentials")
				return
			}

			ownerID, ok := authenticator.Authenticate(token)
			if !ok {
				logger.Warn("Rejected credentials",
					"path", r.URL.Path,
					"key_prefix", auth.CreateDisplayPrefix(token),
					"remote_addr", r.RemoteAddr)
				writeAuthError(w, http.StatusUnauthorized, "invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
