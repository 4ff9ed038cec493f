// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func getMetricValue(m prometheus.Metric) float64 {
	var metric dto.Metric
	if err := m.Write(&metric); err != nil {
		return 0
	}
	if metric.Counter != nil {
		return metric.Counter.GetValue()
	}
	if metric.Gauge != nil {
		return metric.Gauge.GetValue()
	}
	return 0
}

func TestDispatchesByLabel(t *testing.T) {
	c := Dispatches.WithLabelValues("metrics-test", "direct")
	start := getMetricValue(c)
	c.Inc()
	c.Inc()
	if got := getMetricValue(c) - start; got != 2 {
		t.Errorf("dispatch delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(Dispatches.WithLabelValues("metrics-test", "indirect")); got != 0 {
		t.Errorf("indirect = %v, want 0", got)
	}
}

func TestBuffersLiveGauge(t *testing.T) {
	g := BuffersLive.WithLabelValues("metrics-test")
	g.Inc()
	g.Inc()
	g.Dec()
	if got := getMetricValue(g); got != 1 {
		t.Errorf("live buffers = %v, want 1", got)
	}
}

func TestCollectorsRegistered(t *testing.T) {
	SyncSeconds.WithLabelValues("metrics-test").Observe(0.01)
	if n := testutil.CollectAndCount(SyncSeconds, "gpuhal_sync_seconds"); n < 1 {
		t.Errorf("CollectAndCount = %d, want >= 1", n)
	}
}

func TestReadSecondsByOperation(t *testing.T) {
	ReadSeconds.WithLabelValues("metrics-test", "ReadBuffer").Observe(0.01)
	ReadSeconds.WithLabelValues("metrics-test", "SlowReadBuffer").Observe(0.02)
	if n := testutil.CollectAndCount(ReadSeconds, "gpuhal_read_seconds"); n < 2 {
		t.Errorf("CollectAndCount = %d, want >= 2", n)
	}
}
