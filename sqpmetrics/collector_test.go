// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqpmetrics

import (
	"strings"
	"testing"

	"github.com/curioloop/sqpmethod/problem"
	"github.com/curioloop/sqpmethod/sqp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func solveScenario(t *testing.T, w *sqp.Workspace, o *sqp.Optimizer) *sqp.Result {
	t.Helper()
	w.ResetDiagnostics()
	c, _ := problem.Lookup("scenario")
	res := o.Fit(c.X0, w)
	require.True(t, res.OK, res.Err)
	return res
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	col := New(reg)

	c, ok := problem.Lookup("scenario")
	require.True(t, ok)
	cfg := sqp.DefaultConfig()
	cfg.ExactHessian = true
	prob := c.Problem(cfg)
	o, err := prob.New()
	require.NoError(t, err)
	w := o.Init()

	col.Observe(solveScenario(t, w, o))
	col.Observe(solveScenario(t, w, o))

	require.Equal(t, 2.0, testutil.ToFloat64(col.runs.WithLabelValues("Converged")))
	require.Equal(t, 2.0, testutil.ToFloat64(col.calls.WithLabelValues("qp")))
	require.Equal(t, 4.0, testutil.ToFloat64(col.calls.WithLabelValues("gradient")))
	require.Equal(t, 2.0, testutil.ToFloat64(col.calls.WithLabelValues("mainloop")))
	require.Zero(t, testutil.ToFloat64(col.resets))

	// kinds without calls are not exported
	n, err := testutil.GatherAndCount(reg, "sqp_calls_total")
	require.NoError(t, err)
	require.Equal(t, 8, n)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP sqp_runs_total Total finished SQP runs by status
# TYPE sqp_runs_total counter
sqp_runs_total{status="Converged"} 2
`), "sqp_runs_total")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "sqp_iterations")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCollectorFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := New(reg)

	col.Observe(&sqp.Result{Status: sqp.QPFailed, Summary: sqp.Summary{NumIter: 3, NumResets: 3, NumSkipped: 1}})
	require.Equal(t, 1.0, testutil.ToFloat64(col.runs.WithLabelValues("QPFailed")))
	require.Equal(t, 3.0, testutil.ToFloat64(col.resets))
	require.Equal(t, 1.0, testutil.ToFloat64(col.skipped))
}
