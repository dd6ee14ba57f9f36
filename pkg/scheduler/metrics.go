// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/devicelab/harness/pkg/device"
)

type metrics struct {
	pendingRequests  prometheus.Gauge
	liveAllocations  prometheus.Gauge
	allocationsTotal prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, dm *device.Manager) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harness",
			Subsystem: "scheduler",
			Name:      "pending_requests",
			Help:      "Number of allocation requests waiting for devices",
		}),
		liveAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "harness",
			Subsystem: "scheduler",
			Name:      "live_allocations",
			Help:      "Number of allocations currently holding devices",
		}),
		allocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "scheduler",
			Name:      "allocations_total",
			Help:      "Total number of satisfied allocation requests",
		}),
	}
	reg.MustRegister(m.pendingRequests, m.liveAllocations, m.allocationsTotal,
		newDeviceStatusCollector(dm))
	return m
}

// deviceStatusCollector exports the per-status device counts. The counts are
// read from the registry at scrape time, there is nothing to keep in sync.
type deviceStatusCollector struct {
	devices *device.Manager
	desc    *prometheus.Desc
}

func newDeviceStatusCollector(dm *device.Manager) *deviceStatusCollector {
	return &deviceStatusCollector{
		devices: dm,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName("harness", "scheduler", "devices"),
			"Number of known devices by status",
			[]string{"status"}, nil,
		),
	}
}

func (c *deviceStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *deviceStatusCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[device.Status]int)
	for _, d := range c.devices.Devices() {
		counts[d.Status]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(status))
	}
}
