package server

import (
	"net/http"
	"time"

	"github.com/justinas/alice"
	"go.uber.org/zap"
)

// recoverMiddleware turns a handler panic into a 500 and a log line.
func recoverMiddleware(logger *zap.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Recovered from handler panic",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogMiddleware logs each request after it completes. The
// ResponseWriter is passed through untouched so WebSocket upgrades can still
// hijack it.
func requestLogMiddleware(logger *zap.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("Request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
