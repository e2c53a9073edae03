package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/verdantlab/verdant-core/internal/auth"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// ctxKeyPrincipal holds the resolved caller identity.
const ctxKeyPrincipal contextKey = "principal"

const maxRequestBodySize = 1 << 20 // request bodies above 1 MB are cut off

// loggingMiddleware emits one structured log line per request. The request
// ID comes from chi's RequestID middleware, which runs first.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// recoveryMiddleware converts handler panics into a JSON 500. Aborted
// handlers re-panic so the server closes the connection as intended.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel comparison per net/http docs
				panic(rvr)
			}
			s.logger.Error("panic recovered in HTTP handler",
				"error", rvr,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights and stamps CORS headers for allowed
// origins. An empty allow-list admits every origin, which suits development.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	methods := strings.Join(s.cfg.CORS.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	headers := strings.Join(s.cfg.CORS.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Authorization, Content-Type, X-Request-ID"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// bodySizeLimitMiddleware caps request bodies so a client cannot feed the
// JSON decoder an unbounded payload.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// identityMiddleware resolves the caller's Principal from the Authorization
// header and stores it in the request context. A missing, malformed or expired
// credential degrades to the anonymous principal; the only fatal case is a
// subject that exists in both identity domains.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.resolver.Resolve(r.Context(), bearerToken(r))
		if err != nil {
			// auth.ErrIdentityConflict: the credential is structurally valid
			// but the identity stores disagree. Refuse rather than guess.
			writeUnauthorized(w, "could not establish identity")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePersonMiddleware rejects requests whose caller is not an
// authenticated user account. Management endpoints sit behind this.
func (s *Server) requirePersonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !principalFromContext(r.Context()).IsPerson() {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principalFromContext returns the Principal stored by identityMiddleware.
// Requests that bypassed the middleware resolve to anonymous.
func principalFromContext(ctx context.Context) auth.Principal {
	if p, ok := ctx.Value(ctxKeyPrincipal).(auth.Principal); ok {
		return p
	}
	return auth.Anonymous()
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns the empty string when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
