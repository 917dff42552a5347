// Package metrics tracks per-route request latency with HDR histograms so
// the /api/metrics endpoint can report tail behavior without storing every
// sample.
package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histograms track latencies from 1us to 60s at 3 significant figures.
const (
	minLatencyUs = 1
	maxLatencyUs = 60 * 1000 * 1000
	sigFigs      = 3
)

// Collector aggregates request latencies keyed by route.
type Collector struct {
	mu     sync.Mutex
	routes map[string]*routeStats
	start  time.Time
}

type routeStats struct {
	hist   *hdrhistogram.Histogram
	count  int64
	errors int64
}

func NewCollector() *Collector {
	return &Collector{
		routes: make(map[string]*routeStats),
		start:  time.Now(),
	}
}

// Observe records one request's duration; failed marks error responses.
func (c *Collector) Observe(route string, d time.Duration, failed bool) {
	us := d.Microseconds()
	if us < minLatencyUs {
		us = minLatencyUs
	}
	if us > maxLatencyUs {
		us = maxLatencyUs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.routes[route]
	if !ok {
		rs = &routeStats{hist: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)}
		c.routes[route] = rs
	}
	rs.hist.RecordValue(us)
	rs.count++
	if failed {
		rs.errors++
	}
}

// RouteSnapshot is the reported latency summary for one route, in
// microseconds.
type RouteSnapshot struct {
	Route  string  `json:"route"`
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	MeanUs float64 `json:"mean_us"`
	P50Us  int64   `json:"p50_us"`
	P95Us  int64   `json:"p95_us"`
	P99Us  int64   `json:"p99_us"`
	MaxUs  int64   `json:"max_us"`
}

// Snapshot reports every route's summary plus process uptime.
type Snapshot struct {
	UptimeSeconds float64         `json:"uptime_seconds"`
	Routes        []RouteSnapshot `json:"routes"`
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{UptimeSeconds: time.Since(c.start).Seconds()}
	for route, rs := range c.routes {
		snap.Routes = append(snap.Routes, RouteSnapshot{
			Route:  route,
			Count:  rs.count,
			Errors: rs.errors,
			MeanUs: rs.hist.Mean(),
			P50Us:  rs.hist.ValueAtQuantile(50),
			P95Us:  rs.hist.ValueAtQuantile(95),
			P99Us:  rs.hist.ValueAtQuantile(99),
			MaxUs:  rs.hist.Max(),
		})
	}
	// Stable ordering for clients.
	for i := 1; i < len(snap.Routes); i++ {
		for j := i; j > 0 && snap.Routes[j].Route < snap.Routes[j-1].Route; j-- {
			snap.Routes[j], snap.Routes[j-1] = snap.Routes[j-1], snap.Routes[j]
		}
	}
	return snap
}
