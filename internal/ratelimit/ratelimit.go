// Package ratelimit throttles the mock API per client and route and reports
// the outcome in the x-ratelimit-* header format the client consumes.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	wrate "github.com/wallstreetcn/rate/redis"
	"golang.org/x/time/rate"
)

// Decision is the outcome of taking one request from a bucket.
type Decision struct {
	Allowed bool
	Limit   int
	// Remaining is -1 when the backend cannot tell.
	Remaining int
	// RetryAt is when the bucket has room again; zero when unknown.
	RetryAt time.Time
}

// WriteHeaders sets x-ratelimit-limit, x-ratelimit-remaining and, when the
// bucket is empty, x-ratelimit-retry-after (Unix seconds).
func (d Decision) WriteHeaders(h http.Header) {
	h.Set("X-Ratelimit-Limit", strconv.Itoa(d.Limit))
	if d.Remaining >= 0 {
		h.Set("X-Ratelimit-Remaining", strconv.Itoa(d.Remaining))
	}
	if !d.RetryAt.IsZero() {
		h.Set("X-Ratelimit-Retry-After", strconv.FormatInt(d.RetryAt.Unix(), 10))
	}
}

// Limiter decides whether a request for key may proceed.
type Limiter interface {
	Take(key string) Decision
}

// Memory is a token-bucket Limiter (x/time/rate) with one bucket per key.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemory allows burst requests per window for every key.
func NewMemory(burst int, window time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		rps:     rate.Every(window / time.Duration(burst)),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// Take consumes one token for key.
func (m *Memory) Take(key string) Decision {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[key]
	if !ok {
		ent = &memoryEntry{lim: rate.NewLimiter(m.rps, m.burst)}
		m.entries[key] = ent
	}
	ent.lastSeen = now

	allowed := ent.lim.AllowN(now, 1)
	tokens := ent.lim.TokensAt(now)
	d := Decision{
		Allowed:   allowed,
		Limit:     m.burst,
		Remaining: int(math.Max(0, math.Floor(tokens))),
	}
	if d.Remaining == 0 {
		wait := time.Duration((1 - tokens) / float64(m.rps) * float64(time.Second))
		d.RetryAt = ceilSecond(now.Add(wait))
	}
	return d
}

// Cleanup drops buckets idle for longer than the idle TTL.
func (m *Memory) Cleanup() {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, ent := range m.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(m.entries, k)
		}
	}
}

// Len reports how many buckets are tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Redis is a Limiter whose buckets live in Redis so several mock instances
// share them. It cannot report the remaining count of an allowed request.
type Redis struct {
	every time.Duration
	burst int
	allow func(key string) bool
	now   func() time.Time
}

// NewRedis connects the shared limiter backend and allows burst requests
// per window for every key.
func NewRedis(host string, port int, auth string, burst int, window time.Duration) (*Redis, error) {
	// Note: This creates a separate Redis connection (rate limiter library limitation)
	if err := wrate.SetRedis(&wrate.ConfigRedis{
		Host: host,
		Port: port,
		Auth: auth,
	}); err != nil {
		return nil, err
	}
	r := &Redis{
		every: window / time.Duration(burst),
		burst: burst,
		now:   time.Now,
	}
	r.allow = func(key string) bool {
		return wrate.NewLimiter(wrate.Every(r.every), r.burst, "mystbin_rl_"+key).Allow()
	}
	return r, nil
}

// Take consumes one token for key.
func (r *Redis) Take(key string) Decision {
	if r.allow(key) {
		return Decision{Allowed: true, Limit: r.burst, Remaining: -1}
	}
	return Decision{
		Allowed:   false,
		Limit:     r.burst,
		Remaining: 0,
		RetryAt:   ceilSecond(r.now().Add(r.every)),
	}
}

func ceilSecond(t time.Time) time.Time {
	tr := t.Truncate(time.Second)
	if tr.Equal(t) {
		return tr
	}
	return tr.Add(time.Second)
}
