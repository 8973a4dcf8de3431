// Package ratelimit implements a per-key token-bucket throttle, used by the
// ingestion server to cap sustained POST /ingest volume per app_id
// independent of the per-app processor's channel backpressure (§5).
package ratelimit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Error is returned when a key has exceeded its rate limit. It carries
// structured data an HTTP handler can serialize into a 429 response.
type Error struct {
	Key        string  `json:"key"`
	Rate       float64 `json:"rate"`
	RetryAfter float64 `json:"retry_after"`
	Message    string  `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ToJSON serializes the rate limit error to a JSON body suitable for an HTTP response.
func (e *Error) ToJSON() []byte {
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":        "RATE_LIMITED",
			"message":     e.Message,
			"app_id":      e.Key,
			"retry_after": e.RetryAfter,
		},
	}
	data, _ := json.Marshal(body)
	return data
}

// Limiter enforces a token-bucket rate limit per key (one rate.Limiter per
// app_id). Every key not explicitly configured gets the default rate/burst,
// lazily allocated on first use.
type Limiter struct {
	mu           sync.RWMutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	enabled      bool
}

// New builds a Limiter. If enabled is false, Allow always succeeds.
func New(defaultRate float64, defaultBurst int, enabled bool) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(defaultRate),
		defaultBurst: defaultBurst,
		enabled:      enabled,
	}
}

// Allow consumes one token from key's bucket. It returns nil if the request
// is allowed, or an *Error describing the limit and a retry-after hint.
func (l *Limiter) Allow(key string) error {
	if !l.enabled {
		return nil
	}

	limiter := l.getOrCreateLimiter(key)
	res := limiter.ReserveN(time.Now(), 1)
	if !res.OK() {
		return &Error{
			Key:        key,
			Rate:       float64(l.defaultRate),
			RetryAfter: 1.0,
			Message:    fmt.Sprintf("rate_limited: %q cannot be served by its configured ingest rate limit", key),
		}
	}

	delay := res.Delay()
	if delay <= 0 {
		return nil
	}

	res.Cancel()
	retryAfter := delay.Seconds()
	if retryAfter < 0.1 {
		retryAfter = 0.1
	}
	return &Error{
		Key:        key,
		Rate:       float64(l.defaultRate),
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("rate_limited: %q has exceeded its ingest rate limit of %.1f req/s", key, float64(l.defaultRate)),
	}
}

func (l *Limiter) getOrCreateLimiter(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok = l.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[key] = limiter
	return limiter
}
