package main

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

var (
	executionCounts   = expvar.NewMap("cloudomate_script_executions_total")
	executionFailures = expvar.NewMap("cloudomate_script_failures_total")
	executionTimes    = expvar.NewMap("cloudomate_script_duration_seconds")
	lastReloadTime    = expvar.NewString("cloudomate_last_reload")
	durationHistsMu   sync.Mutex
	durationHists     = make(map[string]*histogram)
	durationBuckets   = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
)

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: durationBuckets,
		counts:  make([]uint64, len(durationBuckets)+1),
	}
}

func init() {
	lastReloadTime.Set(time.Now().Format(time.RFC3339))
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := sort.SearchFloat64s(h.buckets, v)
	h.counts[idx]++
	h.sum += v
}

func (h *histogram) totalCount() uint64 {
	var c uint64
	for _, n := range h.counts {
		c += n
	}
	return c
}

func (h *histogram) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	data := struct {
		Buckets map[string]uint64 `json:"buckets"`
		Sum     float64           `json:"sum"`
		Count   uint64            `json:"count"`
	}{
		Buckets: make(map[string]uint64),
		Sum:     h.sum,
		Count:   h.totalCount(),
	}
	var cum uint64
	for i, b := range h.buckets {
		cum += h.counts[i]
		data.Buckets[strconv.FormatFloat(b, 'f', -1, 64)] = cum
	}
	cum += h.counts[len(h.buckets)]
	data.Buckets["+Inf"] = cum
	buf, _ := json.Marshal(data)
	return string(buf)
}

func (h *histogram) writeProm(w http.ResponseWriter, script string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var cum uint64
	for i, b := range h.buckets {
		cum += h.counts[i]
		fmt.Fprintf(w, "cloudomate_script_duration_seconds_bucket{script=%q,le=%q} %d\n", script, strconv.FormatFloat(b, 'f', -1, 64), cum)
	}
	cum += h.counts[len(h.buckets)]
	fmt.Fprintf(w, "cloudomate_script_duration_seconds_bucket{script=%q,le=\"+Inf\"} %d\n", script, cum)
	fmt.Fprintf(w, "cloudomate_script_duration_seconds_sum{script=%q} %f\n", script, h.sum)
	fmt.Fprintf(w, "cloudomate_script_duration_seconds_count{script=%q} %d\n", script, cum)
}

func incExecution(script string) {
	executionCounts.Add(script, 1)
}

func incFailure(script string) {
	executionFailures.Add(script, 1)
}

func recordDuration(script string, d time.Duration) {
	durationHistsMu.Lock()
	h, ok := durationHists[script]
	if !ok {
		h = newHistogram()
		durationHists[script] = h
		executionTimes.Set(script, h)
	}
	durationHistsMu.Unlock()
	h.Observe(d.Seconds())
}

func metricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	executionCounts.Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(w, "cloudomate_script_executions_total{script=%q} %s\n", kv.Key, kv.Value.String())
	})
	executionFailures.Do(func(kv expvar.KeyValue) {
		fmt.Fprintf(w, "cloudomate_script_failures_total{script=%q} %s\n", kv.Key, kv.Value.String())
	})
	durationHistsMu.Lock()
	for name, h := range durationHists {
		h.writeProm(w, name)
	}
	durationHistsMu.Unlock()
}
