package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/tastemate/internal/logging"
)

// counterScript atomically increments the window counter and starts
// its expiry on first use.
const counterScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// RateLimiter caps requests per key within a fixed window, counted in
// redis so the limit holds across replicas.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	prefix string
	keyFn  func(r *http.Request) string
	// failOpen lets traffic through when redis is unreachable. Keep it
	// false for endpoints where overuse is costly.
	failOpen bool
}

func NewRateLimiter(redis *redis.Client, limit int64, window time.Duration, prefix string, keyFn func(r *http.Request) string, failOpen bool) *RateLimiter {
	return &RateLimiter{
		redis:    redis,
		limit:    limit,
		window:   window,
		prefix:   prefix,
		keyFn:    keyFn,
		failOpen: failOpen,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		switch rl.check(r) {
		case rateAllowed:
			next.ServeHTTP(w, r)
		case rateExceeded:
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		case rateUnknown:
			if rl.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusServiceUnavailable, "Rate limiting temporarily unavailable")
		}
	})
}

type rateDecision int

const (
	rateAllowed rateDecision = iota
	rateExceeded
	rateUnknown
)

func (rl *RateLimiter) check(r *http.Request) rateDecision {
	suffix := rl.keyFn(r)
	if suffix == "" {
		suffix = GetClientIP(r)
	}
	key := rl.prefix + suffix

	result, err := rl.redis.Eval(r.Context(), counterScript, []string{key}, int64(rl.window.Seconds())).Result()
	if err != nil {
		logging.Error("Rate limit Redis error", map[string]interface{}{"error": err.Error()})
		return rateUnknown
	}

	var count int64
	switch v := result.(type) {
	case int64:
		count = v
	case float64:
		count = int64(v)
	default:
		logging.Error("Rate limit script returned unexpected type", map[string]interface{}{"result": result})
		return rateUnknown
	}

	if count > rl.limit {
		return rateExceeded
	}
	return rateAllowed
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetClientIP resolves the client address, preferring proxy headers
// over RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the originating client.
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
