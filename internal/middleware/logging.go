package middleware

import (
	"net/http"
	"time"

	"github.com/mcoach/assessment-engine/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLog writes one structured line per request.
func RequestLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			kv := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if aid, ok := ActorIDFromContext(r.Context()); ok {
				kv = append(kv, "actor_id", aid)
			}
			if rec.status >= 500 {
				log.Error("request failed", kv...)
				return
			}
			log.Debug("request", kv...)
		})
	}
}
