// Package idempotency deduplicates retried mutations. Clients opt in by
// sending an Idempotency-Key header; within the validity window a replayed
// key returns the original response verbatim without re-executing the
// handler. Records live in Redis with a TTL, which bounds the cache instead
// of letting it grow between expirations.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quartier/community-app/internal/metrics"
)

const (
	// Header is the client-supplied opaque deduplication token.
	Header = "Idempotency-Key"

	// KeyPrefix is the Redis key prefix for cached responses.
	KeyPrefix = "idem:"

	// DefaultTTL is the validity window for cached responses.
	DefaultTTL = 1 * time.Hour
)

// record is the cached outcome of a successful mutation.
type record struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Guard caches successful mutation responses in Redis keyed by the client's
// idempotency token.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGuard creates a Guard. A non-positive ttl falls back to DefaultTTL.
func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{client: client, ttl: ttl}
}

// Middleware wraps a mutation handler. Requests without a token bypass the
// guard entirely: deduplication is opt-in, never inferred from the payload.
// Only 2xx results are cached, so retries of a failed mutation always
// re-execute. Redis errors fail open so an outage never blocks mutations.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(Header)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := KeyPrefix + token
		if rec, ok := g.lookup(r.Context(), key); ok {
			metrics.IdempotentReplays.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.Status)
			_, _ = w.Write(rec.Body)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= 200 && rec.status < 300 {
			g.store(r.Context(), key, record{Status: rec.status, Body: rec.body.Bytes()})
		}
	})
}

// lookup fetches a cached response. A miss, an expired key, or a Redis error
// all report not-found.
func (g *Guard) lookup(ctx context.Context, key string) (record, bool) {
	raw, err := g.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, false
	}
	if err != nil {
		log.Printf("idempotency: redis GET %s: %v (failing open)", key, err)
		return record{}, false
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Printf("idempotency: corrupt record %s: %v", key, err)
		return record{}, false
	}
	return rec, true
}

// store caches a successful response under the token with the guard's TTL.
func (g *Guard) store(ctx context.Context, key string, rec record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		log.Printf("idempotency: marshal record %s: %v", key, err)
		return
	}
	if err := g.client.Set(ctx, key, raw, g.ttl).Err(); err != nil {
		log.Printf("idempotency: redis SET %s: %v", key, err)
	}
}

// recorder tees the response to the client while buffering status and body
// for caching.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
	wrote  bool
}

func (r *recorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.wrote = true
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
