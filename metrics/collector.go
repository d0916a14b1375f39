// Package metrics exposes engine statistics to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samaelod/wirebench/engine"
)

// Source is the part of the registry the collector reads.
type Source interface {
	Names() []string
	Get(name string) (engine.Component, bool)
}

var (
	statDesc = prometheus.NewDesc(
		"wirebench_engine_stat",
		"Current value of one engine statistic.",
		[]string{"engine", "kind", "stat"}, nil,
	)
	upDesc = prometheus.NewDesc(
		"wirebench_engine_running",
		"1 while the engine is running.",
		[]string{"engine", "kind"}, nil,
	)
)

// Collector snapshots every engine on each scrape. The source may be nil
// until a profile is loaded.
type Collector struct {
	mu  sync.RWMutex
	src Source
}

func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// SetSource switches the collector to a new registry, e.g. after a reload.
func (c *Collector) SetSource(src Source) {
	c.mu.Lock()
	c.src = src
	c.mu.Unlock()
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- statDesc
	ch <- upDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	src := c.src
	c.mu.RUnlock()
	if src == nil {
		return
	}

	for _, name := range src.Names() {
		comp, ok := src.Get(name)
		if !ok {
			continue
		}
		kind := comp.Kind()
		up := 0.0
		if comp.Running() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, up, name, kind)

		snap := comp.Stats()
		for _, key := range snap.Keys() {
			ch <- prometheus.MustNewConstMetric(statDesc, prometheus.GaugeValue, snap[key], name, kind, key)
		}
	}
}
