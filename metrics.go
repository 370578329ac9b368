// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a simple atomic counter. It may go down when used as a gauge.
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

// Set stores v.
func (c *Counter) Set(v int64) {
	c.value.Store(v)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	c.value.Store(0)
}

var latencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000} // ms

var latencyLabels = []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s", "+Inf"}

// LatencyHistogram tracks latency distribution.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets []int64 // last bucket counts observations above every bound
	sum     float64
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		buckets: make([]int64, len(latencyBounds)+1),
		min:     -1,
		max:     -1,
	}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range latencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(h.buckets)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, n := range h.buckets {
		stats.Buckets[latencyLabels[i]] = n
	}
	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64            `json:"count"`
	Sum     float64          `json:"sum_ms"`
	Avg     float64          `json:"avg_ms"`
	Min     float64          `json:"min_ms"`
	Max     float64          `json:"max_ms"`
	Buckets map[string]int64 `json:"buckets"`
}

// Metrics holds gateway metrics.
type Metrics struct {
	RequestsTotal       Counter
	RequestsErrors      Counter
	Connects            Counter
	Disconnects         Counter
	ActiveSessions      Counter
	RegisteredNodes     Counter
	ActiveSubscriptions Counter
	ChangeEvents        Counter
	ChangeEventErrors   Counter
	Latency             *LatencyHistogram

	operations sync.Map // string -> *OperationMetrics
}

// OperationMetrics holds metrics for one gateway operation.
type OperationMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Latency: NewLatencyHistogram(),
	}
}

// ForOperation returns metrics for a specific operation.
func (m *Metrics) ForOperation(op string) *OperationMetrics {
	if val, ok := m.operations.Load(op); ok {
		return val.(*OperationMetrics)
	}

	om := &OperationMetrics{
		Latency: NewLatencyHistogram(),
	}
	actual, _ := m.operations.LoadOrStore(op, om)
	return actual.(*OperationMetrics)
}

// observe records one finished operation.
func (m *Metrics) observe(op string, start time.Time, err error) {
	d := time.Since(start)
	om := m.ForOperation(op)

	m.RequestsTotal.Add(1)
	om.Requests.Add(1)
	if err != nil {
		m.RequestsErrors.Add(1)
		om.Errors.Add(1)
	}
	m.Latency.Observe(d)
	om.Latency.Observe(d)
}

// Collect returns all metrics as a map.
func (m *Metrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"requests_total":       m.RequestsTotal.Value(),
		"requests_errors":      m.RequestsErrors.Value(),
		"connects":             m.Connects.Value(),
		"disconnects":          m.Disconnects.Value(),
		"active_sessions":      m.ActiveSessions.Value(),
		"registered_nodes":     m.RegisteredNodes.Value(),
		"active_subscriptions": m.ActiveSubscriptions.Value(),
		"change_events":        m.ChangeEvents.Value(),
		"change_event_errors":  m.ChangeEventErrors.Value(),
		"latency":              m.Latency.Stats(),
	}

	ops := make(map[string]interface{})
	m.operations.Range(func(key, value interface{}) bool {
		om := value.(*OperationMetrics)
		ops[key.(string)] = map[string]interface{}{
			"requests": om.Requests.Value(),
			"errors":   om.Errors.Value(),
			"latency":  om.Latency.Stats(),
		}
		return true
	})
	if len(ops) > 0 {
		result["operations"] = ops
	}

	return result
}

// Reset resets all counters except the live gauges.
func (m *Metrics) Reset() {
	m.RequestsTotal.Reset()
	m.RequestsErrors.Reset()
	m.Connects.Reset()
	m.Disconnects.Reset()
	m.ChangeEvents.Reset()
	m.ChangeEventErrors.Reset()
	m.Latency.Reset()

	m.operations.Range(func(_, value interface{}) bool {
		om := value.(*OperationMetrics)
		om.Requests.Reset()
		om.Errors.Reset()
		om.Latency.Reset()
		return true
	})
}
