package balancer

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// strategy picks one candidate's index. Candidates are always non-empty
// and already breaker-filtered by the caller.
type strategy interface {
	pick(candidates []*Instance, req SelectionRequest, b *loadBalancer) int
}

func strategyFor(name string) strategy {
	switch name {
	case "least-connections":
		return leastConnectionsStrategy{}
	case "random":
		return randomStrategy{}
	case "weighted":
		return weightedStrategy{}
	case "ip-hash":
		return ipHashStrategy{}
	case "geographic":
		return geographicStrategy{}
	default:
		return roundRobinStrategy{}
	}
}

type roundRobinStrategy struct{}

func (roundRobinStrategy) pick(candidates []*Instance, _ SelectionRequest, b *loadBalancer) int {
	return b.next % len(candidates)
}

type leastConnectionsStrategy struct{}

func (leastConnectionsStrategy) pick(candidates []*Instance, _ SelectionRequest, _ *loadBalancer) int {
	best := 0
	bestConns, _, _, _, _ := candidates[0].snapshot()
	for i, inst := range candidates[1:] {
		conns, _, _, _, _ := inst.snapshot()
		if conns < bestConns {
			bestConns = conns
			best = i + 1
		}
	}
	return best
}

type randomStrategy struct{}

func (randomStrategy) pick(candidates []*Instance, _ SelectionRequest, _ *loadBalancer) int {
	return rand.Intn(len(candidates))
}

// weightedStrategy draws proportionally to each instance's performance
// weight from the §4.12 rescoring formula, favoring low-latency,
// high-throughput, low-error instances.
type weightedStrategy struct{}

func (weightedStrategy) pick(candidates []*Instance, _ SelectionRequest, _ *loadBalancer) int {
	total := 0.0
	weights := make([]float64, len(candidates))
	for i, inst := range candidates {
		_, _, _, _, w := inst.snapshot()
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}
	r := rand.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(candidates) - 1
}

// ipHashStrategy consistently maps a client IP to the same instance as
// long as the candidate set is unchanged, without needing session
// affinity bookkeeping.
type ipHashStrategy struct{}

func (ipHashStrategy) pick(candidates []*Instance, req SelectionRequest, _ *loadBalancer) int {
	if req.ClientIP == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.ClientIP))
	return int(h.Sum32()) % len(candidates)
}

// geographicStrategy picks the candidate nearest the client by great-circle
// (Haversine) distance.
type geographicStrategy struct{}

func (geographicStrategy) pick(candidates []*Instance, req SelectionRequest, _ *loadBalancer) int {
	best := 0
	bestDist := haversineKm(req.ClientLat, req.ClientLon, candidates[0].Lat, candidates[0].Lon)
	for i, inst := range candidates[1:] {
		d := haversineKm(req.ClientLat, req.ClientLon, inst.Lat, inst.Lon)
		if d < bestDist {
			bestDist = d
			best = i + 1
		}
	}
	return best
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}
