package ratelimit

import (
	"sync"
	"time"

	"github.com/nexus-tools/utac/core"
)

// Algorithm is one admission rule, shared across every tier (tool, user,
// workspace, global) that uses the same configured algorithm name. State is
// keyed by the tier's own composite key string, so one Algorithm instance
// safely serves every scope.
type Algorithm interface {
	Allow(key string, limit core.LimitSpec) (allowed bool, retryAfter time.Duration, err error)
	Reset(key string)
}

func algorithmFor(name string) Algorithm {
	switch name {
	case "sliding-window":
		return newSlidingWindow()
	case "fixed-window":
		return newFixedWindow()
	case "leaky-bucket":
		return newLeakyBucket()
	default:
		return newTokenBucket()
	}
}

// --- token bucket -----------------------------------------------------

type tokenBucketState struct {
	tokens     float64
	lastRefill time.Time
}

type tokenBucket struct {
	mu     sync.Mutex
	states map[string]*tokenBucketState
}

func newTokenBucket() *tokenBucket {
	return &tokenBucket{states: make(map[string]*tokenBucketState)}
}

// Allow refills tokens continuously at limit.Requests per limit.Window, then
// admits if at least one token is available.
func (b *tokenBucket) Allow(key string, limit core.LimitSpec) (bool, time.Duration, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	s, ok := b.states[key]
	if !ok {
		s = &tokenBucketState{tokens: float64(limit.Requests), lastRefill: now}
		b.states[key] = s
	}

	rate := float64(limit.Requests) / limit.Window.Seconds()
	elapsed := now.Sub(s.lastRefill).Seconds()
	s.tokens += elapsed * rate
	if s.tokens > float64(limit.Requests) {
		s.tokens = float64(limit.Requests)
	}
	s.lastRefill = now

	if s.tokens >= 1 {
		s.tokens--
		return true, 0, nil
	}
	deficit := 1 - s.tokens
	retryAfter := time.Duration(deficit/rate*float64(time.Second))
	return false, retryAfter, nil
}

func (b *tokenBucket) Reset(key string) {
	b.mu.Lock()
	delete(b.states, key)
	b.mu.Unlock()
}

// --- sliding window -----------------------------------------------------

type slidingWindowState struct {
	timestamps []time.Time
}

type slidingWindow struct {
	mu     sync.Mutex
	states map[string]*slidingWindowState
}

func newSlidingWindow() *slidingWindow {
	return &slidingWindow{states: make(map[string]*slidingWindowState)}
}

// Allow keeps every admitted timestamp within the trailing window and
// admits while the count in-window is under the limit, mirroring the
// sorted-set sliding window gomind's Redis rate limiter implements.
func (s *slidingWindow) Allow(key string, limit core.LimitSpec) (bool, time.Duration, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	st, ok := s.states[key]
	if !ok {
		st = &slidingWindowState{}
		s.states[key] = st
	}

	cutoff := now.Add(-limit.Window)
	kept := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.timestamps = kept

	if len(st.timestamps) >= limit.Requests {
		retryAfter := st.timestamps[0].Add(limit.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	st.timestamps = append(st.timestamps, now)
	return true, 0, nil
}

func (s *slidingWindow) Reset(key string) {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
}

// --- fixed window -----------------------------------------------------

type fixedWindowState struct {
	windowStart time.Time
	count       int
}

type fixedWindow struct {
	mu     sync.Mutex
	states map[string]*fixedWindowState
}

func newFixedWindow() *fixedWindow {
	return &fixedWindow{states: make(map[string]*fixedWindowState)}
}

func (f *fixedWindow) Allow(key string, limit core.LimitSpec) (bool, time.Duration, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	st, ok := f.states[key]
	if !ok || now.Sub(st.windowStart) >= limit.Window {
		st = &fixedWindowState{windowStart: now, count: 0}
		f.states[key] = st
	}

	if st.count >= limit.Requests {
		retryAfter := st.windowStart.Add(limit.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	st.count++
	return true, 0, nil
}

func (f *fixedWindow) Reset(key string) {
	f.mu.Lock()
	delete(f.states, key)
	f.mu.Unlock()
}

// --- leaky bucket -----------------------------------------------------

type leakyBucketState struct {
	level    float64
	lastLeak time.Time
}

type leakyBucket struct {
	mu     sync.Mutex
	states map[string]*leakyBucketState
}

func newLeakyBucket() *leakyBucket {
	return &leakyBucket{states: make(map[string]*leakyBucketState)}
}

// Allow models a queue that drains at limit.Requests/limit.Window; a request
// is admitted if the bucket has room for one more unit after leaking.
func (l *leakyBucket) Allow(key string, limit core.LimitSpec) (bool, time.Duration, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	s, ok := l.states[key]
	if !ok {
		s = &leakyBucketState{lastLeak: now}
		l.states[key] = s
	}

	leakRate := float64(limit.Requests) / limit.Window.Seconds()
	elapsed := now.Sub(s.lastLeak).Seconds()
	s.level -= elapsed * leakRate
	if s.level < 0 {
		s.level = 0
	}
	s.lastLeak = now

	if s.level+1 <= float64(limit.Requests) {
		s.level++
		return true, 0, nil
	}
	overflow := s.level + 1 - float64(limit.Requests)
	retryAfter := time.Duration(overflow / leakRate * float64(time.Second))
	return false, retryAfter, nil
}

func (l *leakyBucket) Reset(key string) {
	l.mu.Lock()
	delete(l.states, key)
	l.mu.Unlock()
}
