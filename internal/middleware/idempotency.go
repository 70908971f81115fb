package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Strob0t/hitl/internal/port/cache"
)

const (
	headerIdempotencyKey      = "Idempotency-Key"
	headerIdempotencyReplayed = "Idempotency-Replayed"
	maxIdempotencyBody        = 1 << 20 // 1 MB
)

// idempotencyEntry stores a cached HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency returns middleware that deduplicates POST/PUT/DELETE requests
// carrying an Idempotency-Key header. The first response for a
// method+path+key is stored in c for ttl and replayed for repeats; a repeat
// arriving while the first is still running gets 409. 5xx responses are not
// stored so the client can retry.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	var inflight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only apply to mutating methods
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			cacheKey := r.Method + " " + r.URL.Path + " " + key

			if replay(w, r, c, cacheKey) {
				return
			}

			if _, busy := inflight.LoadOrStore(cacheKey, struct{}{}); busy {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"request with this idempotency key is in progress"}`))
				return
			}
			defer inflight.Delete(cacheKey)

			// The first request may have finished between the lookup and the guard.
			if replay(w, r, c, cacheKey) {
				return
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			headers := w.Header().Clone()
			headers.Del(headerRequestID)
			data, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    headers,
				Body:       rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := c.Set(r.Context(), cacheKey, data, ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

// replay writes the stored response for cacheKey, if any, and reports
// whether it did.
func replay(w http.ResponseWriter, r *http.Request, c cache.Cache, cacheKey string) bool {
	data, ok, err := c.Get(r.Context(), cacheKey)
	if err != nil {
		slog.WarnContext(r.Context(), "idempotency: lookup failed", "key", cacheKey, "error", err)
		return false
	}
	if !ok {
		return false
	}
	var cached idempotencyEntry
	if err := json.Unmarshal(data, &cached); err != nil {
		slog.WarnContext(r.Context(), "idempotency: corrupt cache entry", "key", cacheKey)
		return false
	}
	for k, vals := range cached.Headers {
		w.Header()[k] = vals
	}
	w.Header().Set(headerIdempotencyReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
