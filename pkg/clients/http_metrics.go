package clients

import (
	"sort"
	"sync"
	"time"
)

const maxLatencySamples = 1000

// HTTPMetrics tracks request counts, errors and a ring of recent latencies.
type HTTPMetrics struct {
	totalRequests  int64
	failedRequests int64
	errorsByHost   map[string]int64

	samples     []time.Duration
	sampleIndex int
	sampleCount int

	mu sync.Mutex
}

// NewHTTPMetrics creates an empty tracker.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		errorsByHost: make(map[string]int64),
		samples:      make([]time.Duration, maxLatencySamples),
	}
}

// RecordRequest records one finished request.
func (hm *HTTPMetrics) RecordRequest(method, host string, latency time.Duration, err error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.totalRequests++
	if err != nil {
		hm.failedRequests++
		hm.errorsByHost[host]++
	}

	hm.samples[hm.sampleIndex] = latency
	hm.sampleIndex = (hm.sampleIndex + 1) % maxLatencySamples
	if hm.sampleCount < maxLatencySamples {
		hm.sampleCount++
	}
}

// GetAverageLatency returns the mean of the retained samples.
func (hm *HTTPMetrics) GetAverageLatency() time.Duration {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.sampleCount == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range hm.samples[:hm.sampleCount] {
		total += s
	}
	return total / time.Duration(hm.sampleCount)
}

// GetP95Latency returns the 95th percentile of the retained samples.
func (hm *HTTPMetrics) GetP95Latency() time.Duration {
	return hm.percentile(0.95)
}

// Errors returns failed request counts by host.
func (hm *HTTPMetrics) Errors() map[string]int64 {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	out := make(map[string]int64, len(hm.errorsByHost))
	for k, v := range hm.errorsByHost {
		out[k] = v
	}
	return out
}

func (hm *HTTPMetrics) percentile(p float64) time.Duration {
	hm.mu.Lock()
	sorted := make([]time.Duration, hm.sampleCount)
	copy(sorted, hm.samples[:hm.sampleCount])
	hm.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
