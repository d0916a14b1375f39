// Package stats aggregates per-engine traffic counters and response times.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Counter keys shared by every engine.
const (
	BytesSent       = "bytes_sent"
	BytesReceived   = "bytes_received"
	PacketsSent     = "packets_sent"
	PacketsReceived = "packets_received"
	Errors          = "errors"
	Connections     = "connections"
)

// Engine specific keys.
const (
	ClientsConnected      = "clients_connected"
	RejectedConnections   = "rejected_connections"
	InvalidFrames         = "invalid_frames"
	SuccessfulConnections = "successful_connections"
	ConnectionAttempts    = "connection_attempts"
	Reconnects            = "reconnects"
	FilesSaved            = "files_saved"
)

// Derived latency keys, all in milliseconds except response_count.
const (
	TotalResponseTime = "total_response_time"
	ResponseCount     = "response_count"
	AvgResponseTime   = "avg_response_time"
	MinResponseTime   = "min_response_time"
	MaxResponseTime   = "max_response_time"
	P50ResponseTime   = "p50_response_time"
	P95ResponseTime   = "p95_response_time"
)

// DefaultWindow is how many recent latency samples feed the percentiles.
const DefaultWindow = 1024

// Snapshot is a point-in-time copy of an aggregator, flat key to number.
type Snapshot map[string]float64

// Get returns the value for key or 0.
func (s Snapshot) Get(key string) float64 { return s[key] }

// Int returns the value for key truncated to int64.
func (s Snapshot) Int(key string) int64 { return int64(s[key]) }

// Keys returns the snapshot keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Aggregator is a mutex-guarded counter set. The zero value is not usable;
// call New.
type Aggregator struct {
	mu       sync.Mutex
	counters map[string]int64
	keys     []string

	totalMs float64
	count   int64
	minMs   float64
	maxMs   float64
	window  *queue.Queue
	winSize int
}

// New creates an aggregator whose snapshot always contains keys (at zero if
// never touched), plus the common counters.
func New(keys ...string) *Aggregator {
	a := &Aggregator{
		counters: make(map[string]int64),
		keys:     append([]string{BytesSent, BytesReceived, PacketsSent, PacketsReceived, Errors, Connections}, keys...),
		winSize:  DefaultWindow,
	}
	a.resetLocked()
	return a
}

func (a *Aggregator) resetLocked() {
	for k := range a.counters {
		delete(a.counters, k)
	}
	for _, k := range a.keys {
		a.counters[k] = 0
	}
	a.totalMs = 0
	a.count = 0
	a.minMs = math.Inf(1)
	a.maxMs = 0
	a.window = queue.New()
}

// Reset zeroes every counter and restores the +Inf minimum sentinel.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.resetLocked()
	a.mu.Unlock()
}

// Add increments counter by delta.
func (a *Aggregator) Add(counter string, delta int64) {
	a.mu.Lock()
	a.counters[counter] += delta
	a.mu.Unlock()
}

// Inc is Add(counter, 1).
func (a *Aggregator) Inc(counter string) { a.Add(counter, 1) }

// Set overwrites a gauge-like value.
func (a *Aggregator) Set(gauge string, value int64) {
	a.mu.Lock()
	a.counters[gauge] = value
	a.mu.Unlock()
}

// Sent records one outbound packet carrying n payload bytes.
func (a *Aggregator) Sent(n int) {
	a.mu.Lock()
	a.counters[PacketsSent]++
	a.counters[BytesSent] += int64(n)
	a.mu.Unlock()
}

// Received records one inbound packet carrying n payload bytes.
func (a *Aggregator) Received(n int) {
	a.mu.Lock()
	a.counters[PacketsReceived]++
	a.counters[BytesReceived] += int64(n)
	a.mu.Unlock()
}

// RecordLatency adds one response time sample.
func (a *Aggregator) RecordLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalMs += ms
	a.count++
	if ms < a.minMs {
		a.minMs = ms
	}
	if ms > a.maxMs {
		a.maxMs = ms
	}
	a.window.Add(ms)
	if a.window.Length() > a.winSize {
		a.window.Remove()
	}
}

// Snapshot returns an independent copy with derived latency figures.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := make(Snapshot, len(a.counters)+7)
	for k, v := range a.counters {
		s[k] = float64(v)
	}

	s[TotalResponseTime] = a.totalMs
	s[ResponseCount] = float64(a.count)
	s[MaxResponseTime] = a.maxMs
	if a.count > 0 {
		s[AvgResponseTime] = a.totalMs / float64(a.count)
	} else {
		s[AvgResponseTime] = 0
	}
	if math.IsInf(a.minMs, 1) {
		s[MinResponseTime] = 0
	} else {
		s[MinResponseTime] = a.minMs
	}

	samples := make([]float64, a.window.Length())
	for i := range samples {
		samples[i] = a.window.Get(i).(float64)
	}
	sort.Float64s(samples)
	s[P50ResponseTime] = percentile(samples, 0.50)
	s[P95ResponseTime] = percentile(samples, 0.95)

	return s
}

// percentile uses nearest-rank on sorted samples.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
