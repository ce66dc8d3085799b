// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqpmetrics exports the outcome and call statistics of SQP runs to Prometheus.
package sqpmetrics

import (
	"github.com/curioloop/sqpmethod/sqp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sqp"

// Collector accumulates observed results into Prometheus metrics.
// It is safe for concurrent use.
type Collector struct {
	runs       *prometheus.CounterVec
	iterations prometheus.Histogram
	resets     prometheus.Counter
	skipped    prometheus.Counter
	calls      *prometheus.CounterVec
	seconds    *prometheus.CounterVec
}

// New registers the metrics with reg, prometheus.DefaultRegisterer is used when reg is nil.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		// runs counts finished runs.
		// Labels: status (Converged, QPFailed, ...)
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total finished SQP runs by status",
		}, []string{"status"}),
		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iterations",
			Help:      "Iterations performed per SQP run",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hessian_resets_total",
			Help:      "Total Hessian resets",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_updates_total",
			Help:      "Total skipped quasi-Newton updates",
		}),
		// Labels: kind (objective, gradient, qp, ...)
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total timed calls by kind",
		}, []string{"kind"}),
		seconds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_seconds_total",
			Help:      "Total wall time of timed calls by kind",
		}, []string{"kind"}),
	}
}

// Observe adds the outcome of res.
// The diagnostics of a workspace accumulate across runs,
// so it should be reset before each observed run to avoid double counting.
func (c *Collector) Observe(res *sqp.Result) {
	c.runs.WithLabelValues(res.Status.String()).Inc()
	c.iterations.Observe(float64(res.NumIter))
	c.resets.Add(float64(res.NumResets))
	c.skipped.Add(float64(res.NumSkipped))
	res.Diagnostics.Each(func(k sqp.Kind, s sqp.Stat) {
		if s.Calls == 0 {
			return
		}
		c.calls.WithLabelValues(k.String()).Add(float64(s.Calls))
		c.seconds.WithLabelValues(k.String()).Add(s.Elapsed.Seconds())
	})
}
