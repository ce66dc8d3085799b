// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/curioloop/sqpmethod/qp"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// quadratic is ½𝐱ᵀ𝐐𝐱 + 𝐜ᵀ𝐱 with linear constraints 𝐀𝐱.
type quadratic struct {
	q *mat.SymDense
	c []float64
	a *mat.Dense
}

func (p *quadratic) Objective(x []float64) (float64, error) {
	xv := mat.NewVecDense(len(x), x)
	return 0.5*mat.Inner(xv, p.q, xv) + floats.Dot(p.c, x), nil
}

func (p *quadratic) ObjectiveGradient(x, grad []float64) error {
	gv := mat.NewVecDense(len(grad), grad)
	gv.MulVec(p.q, mat.NewVecDense(len(x), x))
	floats.Add(grad, p.c)
	return nil
}

func (p *quadratic) Constraints(x, g []float64) error {
	gv := mat.NewVecDense(len(g), g)
	gv.MulVec(p.a, mat.NewVecDense(len(x), x))
	return nil
}

func (p *quadratic) ConstraintJacobian(_ []float64, jac *mat.Dense) error {
	jac.Copy(p.a)
	return nil
}

func (p *quadratic) LagrangianHessian(_, _ []float64, sigma float64, h *mat.SymDense) error {
	h.ScaleSym(sigma, p.q)
	return nil
}

// firstOrder hides the second derivatives of an evaluator.
type firstOrder struct{ Evaluator }

// scenario is (x₁-2)²+(x₂-1)² - 5 s.t. x₁+x₂ ≤ 2.
func scenario() *quadratic {
	return &quadratic{
		q: mat.NewSymDense(2, []float64{2, 0, 0, 2}),
		c: []float64{-4, -2},
		a: mat.NewDense(1, 2, []float64{1, 1}),
	}
}

type countingQP struct {
	QPSolver
	calls int
	err   error
}

func (c *countingQP) Solve(p *qp.Problem, s *qp.Solution) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	return c.QPSolver.Solve(p, s)
}

func TestScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactHessian = true
	cfg.TolPr, cfg.TolDu = 1e-8, 1e-8

	prob := Problem{N: 2, M: 1, Eval: scenario(), UBG: []float64{2}, Config: cfg}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{0, 0}, o.Init())
	require.True(t, res.OK, res.Err)
	require.Equal(t, Converged, res.Status)
	require.NoError(t, res.Err)
	require.LessOrEqual(t, res.NumIter, 3)
	require.InDeltaSlice(t, []float64{1.5, 0.5}, res.X, 1e-8)
	require.InDelta(t, 0, res.PrInf, 1e-8)
	require.InDelta(t, 1, res.LamG[0], 1e-8)
	require.InDelta(t, 2, res.G[0], 1e-8)
	require.InDelta(t, -4.5, res.F, 1e-8)
}

func TestConvexQuadraticExact(t *testing.T) {
	inf := math.Inf(1)
	p := &quadratic{
		q: mat.NewSymDense(3, []float64{
			4, 1, 0,
			1, 3, 1,
			0, 1, 2,
		}),
		c: []float64{1, -2, 3},
		a: mat.NewDense(2, 3, []float64{
			1, 2, 0,
			1, -1, 1,
		}),
	}
	lbg, ubg := []float64{1, -inf}, []float64{1, 0.5}
	lbx, ubx := []float64{-10, -10, -1}, []float64{10, 10, 10}

	cfg := DefaultConfig()
	cfg.ExactHessian = true
	cfg.TolPr, cfg.TolDu = 1e-9, 1e-9

	prob := Problem{N: 3, M: 2, Eval: p, LBX: lbx, UBX: ubx, LBG: lbg, UBG: ubg, Config: cfg}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{0, 0, 0}, o.Init())
	require.True(t, res.OK, res.Err)
	require.LessOrEqual(t, res.NumIter, 2)

	// one QP from the origin yields the unique KKT point
	want := qp.NewSolution(3, 2)
	err = qp.NewDense(3, 2).Solve(&qp.Problem{
		H: p.q, G: p.c, A: p.a,
		LBX: lbx, UBX: ubx, LBA: lbg, UBA: ubg,
	}, want)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.X, res.X, 1e-9)
	require.InDeltaSlice(t, want.DualA, res.LamG, 1e-9)
}

func TestConvexQuadraticNonDominant(t *testing.T) {
	// positive definite but not diagonally dominant
	p := &quadratic{
		q: mat.NewSymDense(2, []float64{1, 2, 2, 5}),
		c: []float64{1, -1},
		a: mat.NewDense(1, 2, []float64{1, 1}),
	}

	cfg := DefaultConfig()
	cfg.ExactHessian = true
	cfg.TolPr, cfg.TolDu = 1e-9, 1e-9
	require.True(t, cfg.Regularize)

	var records []Record
	prob := Problem{N: 2, M: 1, Eval: p, UBG: []float64{10}, Config: cfg, Callback: func(r Record) {
		records = append(records, r)
	}}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{0, 0}, o.Init())
	require.True(t, res.OK, res.Err)
	require.LessOrEqual(t, res.NumIter, 2)
	require.InDeltaSlice(t, []float64{-7, 3}, res.X, 1e-9)
	for _, r := range records {
		require.Zero(t, r.Reg)
	}
}

func TestQuasiNewtonUnconstrained(t *testing.T) {
	p := &quadratic{
		q: mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1}),
		c: []float64{-1, -1},
	}

	cfg := DefaultConfig()
	cfg.TolDu = 1e-8
	cfg.MaxIterLS = 10

	var records []Record
	prob := Problem{N: 2, Eval: firstOrder{p}, Config: cfg, Callback: func(r Record) {
		records = append(records, r)
	}}
	o, err := prob.New()
	require.NoError(t, err)

	w := o.Init()
	res := o.Fit([]float64{0, 0}, w)
	require.True(t, res.OK, res.Err)

	var sol mat.VecDense
	require.NoError(t, sol.SolveVec(p.q, mat.NewVecDense(2, []float64{1, 1})))
	require.InDeltaSlice(t, sol.RawVector().Data, res.X, 1e-7)

	// exact secant pairs of a convex quadratic are never skipped
	require.Zero(t, res.NumSkipped)
	require.Positive(t, minEigen(t, w.hess.b))

	// the approximation reproduces the curvature of 𝐐 along the last step
	var bs, qs mat.VecDense
	sk := mat.NewVecDense(2, w.sk)
	bs.MulVec(w.hess.b, sk)
	qs.MulVec(p.q, sk)
	require.Positive(t, mat.Norm(sk, 2))
	require.True(t, mat.EqualApprox(&bs, &qs, 1e-5*mat.Norm(&qs, 2)), "𝐁𝐬 %v != 𝐐𝐬 %v", bs.RawVector().Data, qs.RawVector().Data)

	require.Len(t, records, res.NumIter+1)
	for k, r := range records {
		require.Equal(t, k, r.Iter)
		require.LessOrEqual(t, r.LSTrials, cfg.MaxIterLS)
		require.True(t, r.LSSuccess)
	}
	require.Equal(t, len(records), res.Diagnostics.Stat(KindCallback).Calls)
}

func TestNonFiniteObjective(t *testing.T) {
	nan := &funcs{f: func([]float64) float64 { return math.NaN() }}
	solver := &countingQP{QPSolver: qp.NewDense(2, 0)}

	prob := Problem{N: 2, Eval: nan, Config: DefaultConfig(), NewQP: func(int, int) QPSolver { return solver }}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{1, 2}, o.Init())
	require.False(t, res.OK)
	require.Equal(t, EvaluationFailed, res.Status)
	require.ErrorIs(t, res.Err, ErrEvaluation)
	require.Zero(t, solver.calls)
	require.Zero(t, res.Diagnostics.Stat(KindQP).Calls)
	require.Zero(t, res.NumIter)

	var f *Failure
	require.ErrorAs(t, res.Err, &f)
	require.Equal(t, []float64{1, 2}, f.X)
	require.Nil(t, f.LastFeasible)
}

func TestEvaluatorPanic(t *testing.T) {
	bad := &funcs{
		f:    func(x []float64) float64 { return x[0] * x[0] },
		grad: func([]float64, []float64) { panic("index out of range") },
	}
	o, err := (&Problem{N: 1, Eval: bad, Config: DefaultConfig()}).New()
	require.NoError(t, err)

	res := o.Fit([]float64{3}, o.Init())
	require.Equal(t, EvaluationFailed, res.Status)
	require.ErrorIs(t, res.Err, ErrEvaluation)
	require.Contains(t, res.Err.Error(), "panicked")
}

func TestQPFailureResets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHessianResets = 2

	solver := &countingQP{err: qp.ErrInfeasible}
	prob := Problem{
		N: 2, M: 1, Eval: scenario(), UBG: []float64{2}, Config: cfg,
		NewQP: func(int, int) QPSolver { return solver },
	}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{0, 0}, o.Init())
	require.Equal(t, QPFailed, res.Status)
	require.ErrorIs(t, res.Err, ErrQP)
	require.ErrorIs(t, res.Err, qp.ErrInfeasible)
	require.Equal(t, 3, solver.calls)
	require.Equal(t, 2, res.NumResets)

	var f *Failure
	require.ErrorAs(t, res.Err, &f)
	require.Equal(t, []float64{0, 0}, f.X)
	require.Equal(t, []float64{0, 0}, f.LastFeasible)
}

// ascentQP returns the gradient as the step.
type ascentQP struct{}

func (ascentQP) Solve(p *qp.Problem, s *qp.Solution) error {
	copy(s.X, p.G)
	clear(s.DualX)
	clear(s.DualA)
	return nil
}

func TestLineSearchFailure(t *testing.T) {
	p := &quadratic{q: mat.NewSymDense(2, []float64{2, 0, 0, 2}), c: []float64{0, 0}}

	var (
		records []Record
		buf     bytes.Buffer
	)
	out := NewPrinter(&buf)
	prob := Problem{
		N: 2, Eval: p, Config: DefaultConfig(),
		NewQP: func(int, int) QPSolver { return ascentQP{} },
		Callback: func(r Record) {
			records = append(records, r)
			out.Print(r)
		},
	}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{1, 1}, o.Init())
	require.Equal(t, LineSearchFailed, res.Status)
	require.ErrorIs(t, res.Err, ErrLineSearch)
	require.Equal(t, 1, res.NumResets)
	require.Zero(t, res.NumIter)
	require.Equal(t, []float64{1, 1}, res.X)
	require.Equal(t, 2*DefaultConfig().MaxIterLS, res.Diagnostics.Stat(KindObjective).Calls-1)

	// the initial record then one record per failed attempt
	require.Len(t, records, 3)
	require.True(t, records[0].LSSuccess)
	for _, r := range records[1:] {
		require.Zero(t, r.Iter)
		require.False(t, r.LSSuccess)
		require.Equal(t, DefaultConfig().MaxIterLS, r.LSTrials)
		require.Zero(t, r.StepNorm)
	}
	require.NoError(t, out.Err())
	require.Equal(t, 2, strings.Count(buf.String(), " 3F\n"))
}

func TestIterationCap(t *testing.T) {
	p := &quadratic{
		q: mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1}),
		c: []float64{-1, -1},
	}
	cfg := DefaultConfig()
	cfg.MaxIter = 1
	cfg.MaxIterLS = 10

	o, err := (&Problem{N: 2, Eval: p, Config: cfg}).New()
	require.NoError(t, err)

	res := o.Fit([]float64{0, 0}, o.Init())
	require.Equal(t, IterationCapExceeded, res.Status)
	require.ErrorIs(t, res.Err, ErrIterationCap)
	require.Equal(t, 1, res.NumIter)
	require.Equal(t, "IterationCapExceeded", res.Status.String())
}

func TestWarmStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactHessian = true

	o, err := (&Problem{N: 2, M: 1, Eval: scenario(), UBG: []float64{2}, Config: cfg}).New()
	require.NoError(t, err)

	w := o.Init()
	res := o.FitStart([]float64{1.5, 0.5}, Start{LamG: []float64{1}}, w)
	require.True(t, res.OK)
	require.Zero(t, res.NumIter)
	require.Zero(t, res.Diagnostics.Stat(KindQP).Calls)

	// the workspace is fully reinitialized by the next run
	res = o.Fit([]float64{0, 0}, w)
	require.True(t, res.OK)
	require.Equal(t, 1, res.NumIter)
	require.InDelta(t, 1, res.LamG[0], 1e-8)
}

func TestDiagnostics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExactHessian = true

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	o, err := (&Problem{N: 2, M: 1, Eval: scenario(), UBG: []float64{2}, Config: cfg, Logger: logger}).New()
	require.NoError(t, err)

	w := o.Init()
	res := o.Fit([]float64{0, 0}, w)
	require.True(t, res.OK)

	d := w.Diagnostics()
	require.Equal(t, 1, d.Stat(KindMainLoop).Calls)
	require.Equal(t, res.NumIter, d.Stat(KindQP).Calls)
	require.Equal(t, res.NumIter, d.Stat(KindHessian).Calls)
	require.Equal(t, res.NumIter+1, d.Stat(KindGradient).Calls)
	require.Equal(t, res.NumIter+1, d.Stat(KindJacobian).Calls)
	require.GreaterOrEqual(t, d.Stat(KindObjective).Calls, res.NumIter+1)
	require.Equal(t, d.Stat(KindObjective).Calls, d.Stat(KindConstraints).Calls)
	require.Zero(t, d.Stat(Kind(-1)).Calls)

	kinds := 0
	d.Each(func(Kind, Stat) { kinds++ })
	require.Equal(t, int(numKinds), kinds)

	// counters accumulate across runs until reset
	o.Fit([]float64{0, 0}, w)
	require.Equal(t, 2, w.Diagnostics().Stat(KindMainLoop).Calls)
	w.ResetDiagnostics()
	require.Zero(t, w.Diagnostics().Stat(KindMainLoop).Calls)

	require.Contains(t, buf.String(), "sqp iteration")
	require.Contains(t, buf.String(), "status=Converged")
}

func TestProblemNew(t *testing.T) {
	eval := scenario()
	cases := []struct {
		name string
		prob Problem
	}{
		{"dimension", Problem{N: 0, Eval: eval, Config: DefaultConfig()}},
		{"constraints", Problem{N: 2, M: -1, Eval: eval, Config: DefaultConfig()}},
		{"evaluator", Problem{N: 2, Config: DefaultConfig()}},
		{"lbx size", Problem{N: 2, Eval: eval, LBX: []float64{0}, Config: DefaultConfig()}},
		{"ubg size", Problem{N: 2, M: 1, Eval: eval, UBG: []float64{0, 1}, Config: DefaultConfig()}},
		{"bound order", Problem{N: 2, Eval: eval, LBX: []float64{1, 0}, UBX: []float64{0, 1}, Config: DefaultConfig()}},
		{"constraint order", Problem{N: 2, M: 1, Eval: eval, LBG: []float64{3}, UBG: []float64{2}, Config: DefaultConfig()}},
		{"config", Problem{N: 2, Eval: eval}},
		{"exact", Problem{N: 2, Eval: firstOrder{eval}, Config: Config{
			MaxIter: 1, MaxIterLS: 1, MinStepSize: 1e-10, LBFGSMemory: 1, C1: 0.1, Beta: 0.5,
			MeritMemsize: 1, Reg: 1, ExactHessian: true,
		}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := c.prob.New()
			require.Error(t, err)
		})
	}

	o, err := (&Problem{N: 2, M: 1, Eval: eval, Config: DefaultConfig()}).New()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), o.Config())
}

func TestFailureError(t *testing.T) {
	cause := errors.New("cause")
	f := &Failure{Status: QPFailed, Iter: 3, PrInf: 1, DuInf: 2, Err: cause}
	require.ErrorIs(t, f, ErrQP)
	require.ErrorIs(t, f, cause)
	require.NotErrorIs(t, f, ErrLineSearch)
	require.Contains(t, f.Error(), "QPFailed at iteration 3")

	require.Nil(t, Converged.Err())
	require.Equal(t, "Status(42)", Status(42).String())
}

// funcs builds an unconstrained evaluator from closures.
type funcs struct {
	f    func(x []float64) float64
	grad func(x, g []float64)
}

func (p *funcs) Objective(x []float64) (float64, error) { return p.f(x), nil }

func (p *funcs) ObjectiveGradient(x, g []float64) error {
	if p.grad != nil {
		p.grad(x, g)
	}
	return nil
}

func (p *funcs) Constraints(_, _ []float64) error { return nil }

func (p *funcs) ConstraintJacobian([]float64, *mat.Dense) error { return nil }

// tinyQP always proposes a step far below the minimum step size.
type tinyQP struct{}

func (tinyQP) Solve(p *qp.Problem, s *qp.Solution) error {
	for i := range s.X {
		s.X[i] = -1e-12
	}
	clear(s.DualX)
	clear(s.DualA)
	return nil
}

func TestStepTooSmall(t *testing.T) {
	linear := &funcs{
		f:    func(x []float64) float64 { return x[0] },
		grad: func(_, g []float64) { g[0] = 1 },
	}
	prob := Problem{
		N: 1, Eval: linear, Config: DefaultConfig(),
		NewQP: func(int, int) QPSolver { return tinyQP{} },
	}
	o, err := prob.New()
	require.NoError(t, err)

	res := o.Fit([]float64{1}, o.Init())
	require.Equal(t, StepTooSmall, res.Status)
	require.ErrorIs(t, res.Err, ErrStepTooSmall)
	require.Equal(t, 2, res.NumIter)
	require.Equal(t, 2, res.NumSkipped)
	require.Less(t, res.X[0], 1.0)
}
