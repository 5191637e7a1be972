package cache

import (
	"sort"
	"time"
)

// Strategy picks which keys to evict when the cache is over capacity.
// SelectVictims must return exactly `count` keys (or all keys, if the map
// has fewer). This is the pluggable-eviction half of §4.1.
type Strategy interface {
	SelectVictims(entries map[string]*Entry, count int) []string
}

func strategyFor(name string) Strategy {
	switch name {
	case "lfu":
		return lfuStrategy{}
	case "adaptive":
		return adaptiveStrategy{}
	default:
		return lruStrategy{}
	}
}

// lruStrategy evicts the entries with the oldest LastAccess timestamp.
type lruStrategy struct{}

func (lruStrategy) SelectVictims(entries map[string]*Entry, count int) []string {
	type scored struct {
		key   string
		order int64
	}
	list := make([]scored, 0, len(entries))
	for k, e := range entries {
		list = append(list, scored{key: k, order: e.LastAccess.UnixNano()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })
	return takeKeys(list, count, func(s scored) string { return s.key })
}

// lfuStrategy evicts the entries with the lowest access count.
type lfuStrategy struct{}

func (lfuStrategy) SelectVictims(entries map[string]*Entry, count int) []string {
	type scored struct {
		key   string
		order int64
	}
	list := make([]scored, 0, len(entries))
	for k, e := range entries {
		list = append(list, scored{key: k, order: e.AccessCount})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })
	return takeKeys(list, count, func(s scored) string { return s.key })
}

// adaptiveStrategy scores by §4.1's formula:
//
//	score = 0.7*(accessCount/ageHours) + 0.3*(lastAccess/1000)
//
// and evicts the lowest scores first.
type adaptiveStrategy struct{}

func (adaptiveStrategy) SelectVictims(entries map[string]*Entry, count int) []string {
	type scored struct {
		key   string
		score float64
	}
	now := nowFn()
	list := make([]scored, 0, len(entries))
	for k, e := range entries {
		ageHours := now.Sub(e.CreatedAt).Hours()
		if ageHours <= 0 {
			ageHours = 1.0 / 3600 // avoid div-by-zero for entries created this instant
		}
		lastAccessTerm := float64(e.LastAccess.UnixMilli()) / 1000
		score := 0.7*(float64(e.AccessCount)/ageHours) + 0.3*lastAccessTerm
		list = append(list, scored{key: k, score: score})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].score < list[j].score })
	return takeKeys(list, count, func(s scored) string { return s.key })
}

func takeKeys[T any](list []T, count int, keyOf func(T) string) []string {
	if count > len(list) {
		count = len(list)
	}
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = keyOf(list[i])
	}
	return out
}

// nowFn is a seam for deterministic tests of adaptiveStrategy; production
// code never overrides it.
var nowFn = defaultNow

func defaultNow() time.Time { return time.Now() }
