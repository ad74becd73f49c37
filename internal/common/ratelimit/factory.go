package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"laminate/internal/common/errors"
	"laminate/internal/common/logging"
)

// New creates a limiter for config.Type
func New(config Config, redisClient ...RedisInterface) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case BackendRedis:
		if len(redisClient) == 0 || redisClient[0] == nil {
			return nil, fmt.Errorf("redis client is required for distributed rate limiter")
		}
		return NewDistributedLimiter(config, redisClient[0])
	default:
		return NewLocalLimiter(config)
	}
}

// HTTPMiddleware rejects requests over the limit with 429. keyFunc picks
// the bucket; an empty key uses the shared bucket.
func HTTPMiddleware(limiter Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)

			var allowed bool
			if key == "" {
				allowed = limiter.TryAcquire(r.Context())
			} else {
				allowed = limiter.TryAcquireForKey(r.Context(), key)
			}

			if !allowed {
				if rps, ok := limiter.Stats()["requests_per_second"].(int); ok {
					w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rps))
				}
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				appErr := errors.RateLimitError(r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": appErr.Message, "type": string(appErr.Type)})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPKey extracts the client address, preferring proxy headers
func IPKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientKey limits authenticated callers by token subject and everyone
// else by address
func ClientKey(r *http.Request) string {
	if subject, ok := logging.SubjectFromContext(r.Context()); ok {
		return "sub:" + subject
	}
	return "ip:" + IPKey(r)
}
