package metrics

import (
	"sort"
	"sync"
	"time"
)

// Point is one recorded value
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation summarizes a series
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Collector keeps per-run series such as the fitness of every evaluation
type Collector struct {
	mu sync.RWMutex

	// metric name -> label key -> points
	series map[string]map[string][]Point
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{series: make(map[string]map[string][]Point)}
}

// Record appends a value at the given timestamp
func (c *Collector) Record(name string, value float64, timestamp time.Time, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string][]Point)
	}
	c.series[name][key] = append(c.series[name][key], Point{
		Timestamp: timestamp,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
}

// RecordNow records a value at the current time
func (c *Collector) RecordNow(name string, value float64, labels map[string]string) {
	c.Record(name, value, time.Now(), labels)
}

// Series returns a copy of the points recorded under name and labels
func (c *Collector) Series(name string, labels map[string]string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = p
		out[i].Labels = copyLabels(p.Labels)
	}
	return out
}

// Aggregate summarizes the series under name and labels; nil when empty
func (c *Collector) Aggregate(name string, labels map[string]string) *Aggregation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	if len(points) == 0 {
		return nil
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return aggregate(values)
}

// Names returns every recorded metric name, sorted
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drop forgets every series carrying the given labels
func (c *Collector) Drop(labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	for _, byLabel := range c.series {
		delete(byLabel, key)
	}
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := ""
	for _, k := range keys {
		key += k + "=" + labels[k] + ","
	}
	return key
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func aggregate(values []float64) *Aggregation {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return &Aggregation{
		Count: int64(len(sorted)),
		Sum:   sum,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile interpolates linearly within a sorted slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
