package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"rip-sage/internal/logging"
)

// LoggingMiddleware logs one line per request once it has been served.
func LoggingMiddleware(log *logging.Leveled) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)

			user := "-"
			if claims, ok := GetClaims(r); ok {
				user = claims.Username
			}
			log.Info("http request",
				"remote", r.RemoteAddr,
				"user", user,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration", time.Since(start).Round(time.Microsecond))
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs the stack.
func RecoveryMiddleware(log *logging.Leveled) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := wrap(w)
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic serving request",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()))
					if !rw.written {
						writeError(rw, http.StatusInternalServerError, "internal server error")
					}
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
