// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package metrics holds the Prometheus collectors shared by gpuhal and its
// backends. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatches counts kernel launches by backend and grid kind
	// (direct, indirect, empty).
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuhal_dispatches_total",
		Help: "Total number of kernel dispatches recorded",
	}, []string{"backend", "grid"})

	// Submissions counts encoders submitted to a queue or stream.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuhal_submissions_total",
		Help: "Total number of encoders submitted",
	}, []string{"backend"})

	// BytesWritten counts bytes copied from the host to the device.
	BytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuhal_buffer_write_bytes_total",
		Help: "Total bytes written from host to device buffers",
	}, []string{"backend"})

	// BytesRead counts bytes copied from the device to the host.
	BytesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuhal_buffer_read_bytes_total",
		Help: "Total bytes read from device buffers to the host",
	}, []string{"backend"})

	// BuffersLive tracks allocated device buffers.
	BuffersLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpuhal_buffers_live",
		Help: "Current number of live device buffers",
	}, []string{"backend"})

	// SyncSeconds observes how long callers wait for device completion.
	SyncSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpuhal_sync_seconds",
		Help:    "Time spent waiting for submitted work to complete",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"backend"})

	// ReadSeconds observes device-to-host reads by operation (ReadBuffer,
	// SlowReadBuffer). Synchronize stays in SyncSeconds.
	ReadSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpuhal_read_seconds",
		Help:    "Time spent reading device buffers back to the host",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"backend", "op"})

	// CompileCacheLookups counts program cache lookups by result
	// (memory, disk, miss, bypass).
	CompileCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpuhal_compile_cache_lookups_total",
		Help: "Total number of compiled program cache lookups",
	}, []string{"result"})
)
