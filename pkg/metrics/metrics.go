/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package metrics holds the agent's Prometheus collectors. Emission is
// best-effort: every collector has a noop form, so a disabled or
// uninitialized registry never fails a call on the hot path.
package metrics

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "crypto_agent"
)

// Enabled controls whether metrics are collected. Must be set via
// SetEnabled before Init.
var Enabled = false

var (
	once     sync.Once
	registry *prometheus.Registry

	EngineOperationsTotal          CounterVec
	EngineOperationDurationSeconds HistogramVec
	ValuesTransformedTotal         CounterVec
	SentinelHitsTotal              Counter

	SyncTicksTotal       CounterVec
	RegistrationsTotal   CounterVec
	SnapshotAppliesTotal Counter
	PolicyVersion        Gauge
	SchemaPushesTotal    CounterVec

	StoreSaveFailuresTotal Counter

	HTTPRequestsTotal          CounterVec
	HTTPRequestDurationSeconds HistogramVec
	PanicRecoveriesTotal       Counter

	Up          Gauge
	Goroutines  prometheus.GaugeFunc
	MemoryBytes GaugeVec
)

// SetEnabled toggles collection. Call before Init; after Init the choice is
// frozen for the process lifetime.
func SetEnabled(enabled bool) {
	Enabled = enabled
}

// Counter is the incrementing metric surface used by agent code
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec is a labeled family of counters
type CounterVec interface {
	WithLabelValues(lvs ...string) Counter
}

// Gauge is a settable metric surface
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

// GaugeVec is a labeled family of gauges
type GaugeVec interface {
	WithLabelValues(lvs ...string) Gauge
}

// Histogram observes value distributions
type Histogram interface {
	Observe(float64)
}

// HistogramVec is a labeled family of histograms
type HistogramVec interface {
	WithLabelValues(lvs ...string) Histogram
}

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return noopCounter{} }

type noopGauge struct{}

func (noopGauge) Set(float64) {}
func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}

type noopGaugeVec struct{}

func (noopGaugeVec) WithLabelValues(...string) Gauge { return noopGauge{} }

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}

type noopHistogramVec struct{}

func (noopHistogramVec) WithLabelValues(...string) Histogram { return noopHistogram{} }

type promCounterVec struct{ vec *prometheus.CounterVec }

func (v promCounterVec) WithLabelValues(lvs ...string) Counter {
	return v.vec.WithLabelValues(lvs...)
}

type promGaugeVec struct{ vec *prometheus.GaugeVec }

func (v promGaugeVec) WithLabelValues(lvs ...string) Gauge {
	return v.vec.WithLabelValues(lvs...)
}

type promHistogramVec struct{ vec *prometheus.HistogramVec }

func (v promHistogramVec) WithLabelValues(lvs ...string) Histogram {
	return v.vec.WithLabelValues(lvs...).(prometheus.Histogram)
}

// init assigns noop collectors so library code can emit before Init runs
func init() {
	initNoop()
}

func initNoop() {
	EngineOperationsTotal = noopCounterVec{}
	EngineOperationDurationSeconds = noopHistogramVec{}
	ValuesTransformedTotal = noopCounterVec{}
	SentinelHitsTotal = noopCounter{}

	SyncTicksTotal = noopCounterVec{}
	RegistrationsTotal = noopCounterVec{}
	SnapshotAppliesTotal = noopCounter{}
	PolicyVersion = noopGauge{}
	SchemaPushesTotal = noopCounterVec{}

	StoreSaveFailuresTotal = noopCounter{}

	HTTPRequestsTotal = noopCounterVec{}
	HTTPRequestDurationSeconds = noopHistogramVec{}
	PanicRecoveriesTotal = noopCounter{}

	Up = noopGauge{}
	Goroutines = nil
	MemoryBytes = noopGaugeVec{}
}

func newCounterVec(opts prometheus.CounterOpts, labels []string) CounterVec {
	vec := prometheus.NewCounterVec(opts, labels)
	registry.MustRegister(vec)
	return promCounterVec{vec}
}

func newCounter(opts prometheus.CounterOpts) Counter {
	c := prometheus.NewCounter(opts)
	registry.MustRegister(c)
	return c
}

func newGauge(opts prometheus.GaugeOpts) Gauge {
	g := prometheus.NewGauge(opts)
	registry.MustRegister(g)
	return g
}

func newGaugeVec(opts prometheus.GaugeOpts, labels []string) GaugeVec {
	vec := prometheus.NewGaugeVec(opts, labels)
	registry.MustRegister(vec)
	return promGaugeVec{vec}
}

func newHistogramVec(opts prometheus.HistogramOpts, labels []string) HistogramVec {
	vec := prometheus.NewHistogramVec(opts, labels)
	registry.MustRegister(vec)
	return promHistogramVec{vec}
}

func initRegistry() {
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	EngineOperationsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_operations_total",
			Help:      "Total number of Engine data-plane calls",
		},
		[]string{"operation", "status"},
	)

	EngineOperationDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_operation_duration_seconds",
			Help:      "Duration of Engine data-plane calls in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"operation"},
	)

	ValuesTransformedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "values_transformed_total",
			Help:      "Total number of field values encrypted or decrypted",
		},
		[]string{"direction", "mode"},
	)

	SentinelHitsTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentinel_hits_total",
			Help:      "Total number of not-encrypted sentinel responses",
		},
	)

	SyncTicksTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_ticks_total",
			Help:      "Total number of periodic Hub sync ticks by outcome",
		},
		[]string{"outcome"},
	)

	RegistrationsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Total number of Hub instance registrations",
		},
		[]string{"status"},
	)

	SnapshotAppliesTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_applies_total",
			Help:      "Total number of policy snapshots applied",
		},
	)

	PolicyVersion = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_version",
			Help:      "Version of the active policy snapshot",
		},
	)

	SchemaPushesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_pushes_total",
			Help:      "Total number of schema catalog pushes to the Hub",
		},
		[]string{"status"},
	)

	StoreSaveFailuresTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_save_failures_total",
			Help:      "Total number of persistent store write failures",
		},
	)

	HTTPRequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of admin API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of admin API requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"method", "path"},
	)

	PanicRecoveriesTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_recoveries_total",
			Help:      "Total number of panics recovered by middleware",
		},
	)

	Up = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Whether the agent is up",
		},
	)

	Goroutines = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
		func() float64 { return float64(runtime.NumGoroutine()) },
	)
	registry.MustRegister(Goroutines)

	MemoryBytes = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Memory usage by type",
		},
		[]string{"type"},
	)

	Up.Set(1)
}

// Init initializes the metrics registry with all collectors.
// This must be called after SetEnabled() has been called.
func Init() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		if !Enabled {
			return
		}
		initRegistry()
	})

	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}

// UpdateMemoryMetrics updates memory-related metrics
func UpdateMemoryMetrics() {
	if !Enabled {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryBytes.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryBytes.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryBytes.WithLabelValues("stack_inuse").Set(float64(m.StackInuse))
}
