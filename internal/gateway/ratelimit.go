package gateway

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps tracked rate-limit keys so rotating source keys
	// cannot exhaust memory.
	maxTrackedKeys = 4096

	rateLimitWindow = 60 * time.Second

	defaultMaxHits = 120
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter bounds per-key webhook request rates over a sliding
// window. Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	entries map[string]*rateLimitEntry
}

// NewWebhookRateLimiter creates a limiter allowing maxPerMinute hits per
// key. Zero or negative uses the default.
func NewWebhookRateLimiter(maxPerMinute int) *WebhookRateLimiter {
	if maxPerMinute <= 0 {
		maxPerMinute = defaultMaxHits
	}
	return &WebhookRateLimiter{
		maxHits: maxPerMinute,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Allow returns true if the key is within rate limits. Stale entries are
// pruned when the table approaches its cap.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
