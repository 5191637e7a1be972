package ratelimit

import (
	"sync"
	"time"

	"github.com/nexus-tools/utac/core"
)

// burstPool grants a short-lived extra allowance on top of a tier's normal
// limit, consumed only when the base algorithm has already denied the
// request (§4.3: "burst pool absorbs short spikes without raising the
// sustained limit").
type burstPool struct {
	mu     sync.Mutex
	cfg    core.BurstSpec
	states map[string]*burstState
}

type burstState struct {
	windowStart time.Time
	used        int
}

func newBurstPool(cfg core.BurstSpec) *burstPool {
	return &burstPool{cfg: cfg, states: make(map[string]*burstState)}
}

func (b *burstPool) tryConsume(key string) bool {
	if !b.cfg.Enabled || b.cfg.Requests <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	st, ok := b.states[key]
	if !ok || now.Sub(st.windowStart) >= b.cfg.Window {
		st = &burstState{windowStart: now}
		b.states[key] = st
	}
	if st.used >= b.cfg.Requests {
		return false
	}
	st.used++
	return true
}
