// Package ratelimit implements the sliding-window admission limiters used
// on both the data plane and the admin plane. Per-key state lives in a
// github.com/jellydator/ttlcache/v3 cache so idle IPs are evicted without
// a hand-rolled sweep goroutine.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// window is the sliding-window state kept per admitted key. Access is
// guarded by its own mutex so contention on one IP's stream never blocks
// another IP's admission check.
type window struct {
	mu           sync.Mutex
	timestamps   []time.Time
	blockedUntil time.Time
}

func (w *window) purge(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for i < len(w.timestamps) && w.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = w.timestamps[i:]
	}
}

// DataPlaneLimiter admits requests per spec.md §4.4: purge entries older
// than the window, reject at budget, otherwise record and admit.
type DataPlaneLimiter struct {
	cache  *ttlcache.Cache[string, *window]
	budget int
	span   time.Duration
}

// NewDataPlaneLimiter builds a limiter allowing budget admissions per
// span (span defaults to 60s per spec.md if zero).
func NewDataPlaneLimiter(budget int, span time.Duration) *DataPlaneLimiter {
	if span <= 0 {
		span = 60 * time.Second
	}
	cache := ttlcache.New[string, *window](
		ttlcache.WithTTL[string, *window](span * 5),
	)
	go cache.Start()

	return &DataPlaneLimiter{cache: cache, budget: budget, span: span}
}

func (l *DataPlaneLimiter) getOrCreate(ip string) *window {
	item := l.cache.Get(ip)
	if item != nil {
		return item.Value()
	}
	w := &window{}
	l.cache.Set(ip, w, ttlcache.DefaultTTL)
	return w
}

// Admit implements the sliding-window admission check for a single IP.
func (l *DataPlaneLimiter) Admit(ip string, now time.Time) bool {
	w := l.getOrCreate(ip)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(now, l.span)
	if len(w.timestamps) >= l.budget {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Clear drops an IP's admission history, used by the admin plane to
// manually unblock a client.
func (l *DataPlaneLimiter) Clear(ip string) {
	l.cache.Delete(ip)
}

// Stats reports the current window occupancy for an IP.
func (l *DataPlaneLimiter) Stats(ip string, now time.Time) (count int, oldest time.Time, ok bool) {
	item := l.cache.Get(ip)
	if item == nil {
		return 0, time.Time{}, false
	}
	w := item.Value()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(now, l.span)
	if len(w.timestamps) == 0 {
		return 0, time.Time{}, true
	}
	return len(w.timestamps), w.timestamps[0], true
}

// Stop releases the limiter's background eviction goroutine.
func (l *DataPlaneLimiter) Stop() {
	l.cache.Stop()
}

// AdminLimiter implements spec.md §4.5: identical sliding-window
// accounting to the data-plane limiter, keyed on (ip, op_name), with a
// block state entered once the budget is reached within the window.
type AdminLimiter struct {
	cache         *ttlcache.Cache[string, *window]
	budget        int
	span          time.Duration
	blockDuration time.Duration
}

// NewAdminLimiter builds an admin-plane limiter. blockDuration defaults to
// 2x span if zero, per spec.md's default guidance.
func NewAdminLimiter(budget int, span time.Duration, blockDuration time.Duration) *AdminLimiter {
	if span <= 0 {
		span = 5 * time.Minute
	}
	if blockDuration <= 0 {
		blockDuration = 2 * span
	}
	cache := ttlcache.New[string, *window](
		ttlcache.WithTTL[string, *window](blockDuration + span),
	)
	go cache.Start()

	return &AdminLimiter{cache: cache, budget: budget, span: span, blockDuration: blockDuration}
}

func key(ip, op string) string {
	return ip + "|" + op
}

func (l *AdminLimiter) getOrCreate(ip, op string) *window {
	k := key(ip, op)
	item := l.cache.Get(k)
	if item != nil {
		return item.Value()
	}
	w := &window{}
	l.cache.Set(k, w, ttlcache.DefaultTTL)
	return w
}

// Check reports whether (ip, op) may proceed. If the key is presently
// blocked it returns ok=false and the remaining block duration.
func (l *AdminLimiter) Check(ip, op string, now time.Time) (ok bool, blockedFor time.Duration) {
	w := l.getOrCreate(ip, op)
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.blockedUntil.IsZero() && now.Before(w.blockedUntil) {
		return false, w.blockedUntil.Sub(now)
	}
	w.blockedUntil = time.Time{}

	w.purge(now, l.span)
	if len(w.timestamps) >= l.budget {
		w.blockedUntil = now.Add(l.blockDuration)
		return false, l.blockDuration
	}
	w.timestamps = append(w.timestamps, now)
	return true, 0
}

// Clear drops the block state for (ip, op).
func (l *AdminLimiter) Clear(ip, op string) {
	l.cache.Delete(key(ip, op))
}

// Stop releases the limiter's background eviction goroutine.
func (l *AdminLimiter) Stop() {
	l.cache.Stop()
}
