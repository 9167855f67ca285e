package remotefake

import (
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders = "Authorization, Content-Type, X-Request-ID"
)

func chainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

// handle wraps a route handler for operation op.
func (b *Backend) handle(op string, h http.HandlerFunc) http.HandlerFunc {
	return chainMiddleware(h,
		b.loggingMiddleware(op),
		b.recoverMiddleware,
		b.injectionMiddleware(op),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (b *Backend) loggingMiddleware(op string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next(rec, r)
			log.Debug().
				Str("op", op).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", r.Header.Get("X-Request-ID")).
				Int("status", rec.status).
				Dur("elapsed", time.Since(start)).
				Msg("fake backend")
		}
	}
}

func (b *Backend) recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error().Interface("panic", v).Bytes("stack", debug.Stack()).Str("path", r.URL.Path).Msg("handler panicked")
				writeDetail(w, http.StatusInternalServerError, "Erreur interne du serveur")
			}
		}()
		next(w, r)
	}
}

// injectionMiddleware counts the call and applies any injected delay or failure.
func (b *Backend) injectionMiddleware(op string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			b.lock.Lock()
			b.calls[op]++
			f, failing := b.failures[op]
			b.lock.Unlock()

			if failing && f.Delay > 0 {
				select {
				case <-time.After(f.Delay):
				case <-r.Context().Done():
					return
				}
			}
			if failing && f.Status != 0 {
				writeDetail(w, f.Status, f.Detail)
				return
			}
			next(w, r)
		}
	}
}

// corsMiddleware runs before routing so that preflight requests are answered
// for every path.
func (b *Backend) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		// No Origin header = same-origin request, no CORS headers needed
		if origin == "" || len(b.allowedOrigins) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		isAllowed := slices.Contains(b.allowedOrigins, origin)
		isWildcard := slices.Contains(b.allowedOrigins, "*")
		if isAllowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if isWildcard {
			// Don't set Allow-Credentials with wildcard
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions {
			if isAllowed || isWildcard {
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
