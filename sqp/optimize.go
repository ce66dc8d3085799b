// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/curioloop/sqpmethod/qp"
	"gonum.org/v1/gonum/mat"
)

// Evaluator evaluates the problem functions and their first derivatives at 𝐱 ∈ ℝⁿ.
//   - 𝒇(𝐱) : ℝⁿ → ℝ
//   - 𝜵𝒇(𝐱) : ℝⁿ → ℝⁿ
//   - 𝒈(𝐱) : ℝⁿ → ℝᵐ
//   - 𝜵𝒈(𝐱) : ℝⁿ → ℝᵐˣⁿ
//
// Output buffers are owned by the caller and must be filled completely.
// ConstraintJacobian and Constraints are not called when m = 0.
type Evaluator interface {
	Objective(x []float64) (float64, error)
	ObjectiveGradient(x, grad []float64) error
	Constraints(x, g []float64) error
	ConstraintJacobian(x []float64, jac *mat.Dense) error
}

// HessianEvaluator is implemented by evaluators able to provide
// the Hessian of the Lagrangian 𝛔𝜵²𝒇(𝐱) + ∑𝛌ⱼ𝜵²𝒈ⱼ(𝐱), it is required by Config.ExactHessian.
type HessianEvaluator interface {
	LagrangianHessian(x, lamG []float64, sigma float64, h *mat.SymDense) error
}

// QPSolver solves the quadratic subproblems, it fails with qp.ErrInfeasible, qp.ErrUnbounded or qp.ErrSolver.
type QPSolver interface {
	Solve(p *qp.Problem, s *qp.Solution) error
}

// Problem specifies the problem for SQP optimizer
//
//	𝚖𝚒𝚗 𝒇(𝐱) s.t. 𝐥𝐛𝐠 ≤ 𝒈(𝐱) ≤ 𝐮𝐛𝐠, 𝐥𝐛𝐱 ≤ 𝐱 ≤ 𝐮𝐛𝐱
//
// Infinite bounds are absent and equal bounds describe an equality.
type Problem struct {
	N, M int       // The number of variables and constraints
	Eval Evaluator // The problem functions
	// Optional bounds, nil means unbounded.
	LBX, UBX []float64
	LBG, UBG []float64
	Config   Config
	// Optional QP solver factory, qp.NewDense is used when nil.
	// Each Workspace owns one solver.
	NewQP func(n, m int) QPSolver
	// Optional callback receiving the record of each iteration.
	Callback func(Record)
	// Optional structured logger, nothing is logged when nil.
	Logger *slog.Logger
}

// New creates a new SQP optimizer for given problem.
func (p *Problem) New() (optimizer *Optimizer, err error) {

	n, m, cfg := p.N, p.M, p.Config

	bound := func(b []float64, size int, v float64) []float64 {
		if b == nil {
			b = make([]float64, size)
			for i := range b {
				b[i] = v
			}
			return b
		}
		return slices.Clone(b)
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m < 0:
		err = errors.New("constraint number must not less than 0")
	case p.Eval == nil:
		err = errors.New("evaluator is required")
	case p.LBX != nil && len(p.LBX) != n, p.UBX != nil && len(p.UBX) != n:
		err = errors.New("variable bound size must equal to n")
	case p.LBG != nil && len(p.LBG) != m, p.UBG != nil && len(p.UBG) != m:
		err = errors.New("constraint bound size must equal to m")
	default:
		err = cfg.Validate()
	}
	if err != nil {
		return
	}

	hess, exact := p.Eval.(HessianEvaluator)
	if cfg.ExactHessian && !exact {
		return nil, errors.New("exact hessian requires a HessianEvaluator")
	}

	lbx, ubx := bound(p.LBX, n, math.Inf(-1)), bound(p.UBX, n, math.Inf(1))
	lbg, ubg := bound(p.LBG, m, math.Inf(-1)), bound(p.UBG, m, math.Inf(1))
	for i := range lbx {
		if math.IsNaN(lbx[i]) || math.IsNaN(ubx[i]) || lbx[i] > ubx[i] {
			return nil, fmt.Errorf("variable bound error at %d", i)
		}
	}
	for j := range lbg {
		if math.IsNaN(lbg[j]) || math.IsNaN(ubg[j]) || lbg[j] > ubg[j] {
			return nil, fmt.Errorf("constraint bound error at %d", j)
		}
	}

	newQP := p.NewQP
	if newQP == nil {
		newQP = func(n, m int) QPSolver { return qp.NewDense(n, m) }
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	optimizer = &Optimizer{
		sqpSpec{
			n: n, m: m,
			cfg:  cfg,
			eval: p.Eval, hess: hess,
			lbx: lbx, ubx: ubx,
			lbg: lbg, ubg: ubg,
			newQP:    newQP,
			callback: p.Callback,
			logger:   logger,
		},
	}
	return
}

// Optimizer implemented using the SQP method.
// An Optimizer is immutable and may be shared by goroutines that use their own Workspace.
type Optimizer struct {
	sqpSpec
}

// Config returns the options of the optimizer.
func (o *Optimizer) Config() Config { return o.cfg }

// Workspace contains the state and buffers of the optimization process.
// Given problem dimension n, m and memory K,
// total work space is approximately float64[(K+6)×n + 2×n² + 2×mn + 8×m].
type Workspace struct {
	n, m int
	sqpCtx
}

// ResetDiagnostics clears the accumulated call statistics.
func (w *Workspace) ResetDiagnostics() { w.diag.reset() }

// Diagnostics returns the accumulated call statistics.
func (w *Workspace) Diagnostics() Diagnostics { return w.diag }

// Start holds optional initial multipliers.
type Start struct {
	LamX []float64 // n, nil means zero
	LamG []float64 // m, nil means zero
}

// Result contains the final result of the optimization process.
type Result struct {
	OK     bool    // Whether the optimization was converged.
	Status Status  // Final status.
	F      float64 // Final function value.
	// Final solution, multipliers and constraint values.
	X, LamX, LamG, G []float64
	// Final primal and dual infeasibility.
	PrInf, DuInf float64
	Summary      // Optimization summary.
	// Call statistics of the Workspace after the run.
	Diagnostics Diagnostics
	// A *Failure when the run did not converge.
	Err error
}

// Summary contains a summary of the optimization process.
type Summary struct {
	NumIter    int // Number of iterations performed.
	NumResets  int // Number of Hessian resets.
	NumSkipped int // Number of skipped quasi-Newton updates.
}

// Init allocate the workspace for SQP optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	n, m, cfg := o.n, o.m, o.cfg
	w := &Workspace{n: n, m: m}
	w.sqpCtx = sqpCtx{
		x:     make([]float64, n),
		xOld:  make([]float64, n),
		xCand: make([]float64, n),
		lamX:  make([]float64, n),
		lamG:  make([]float64, m),
		dx:    make([]float64, n),
		sk:    make([]float64, n),
		yk:    make([]float64, n),
		feas:  make([]float64, n),
		cur:   newSnapshot(n, m),
		cand:  newSnapshot(n, m),
		hess:  newHessianApprox(n, cfg.LBFGSMemory, cfg.ExactHessian, cfg.CurvatureEps),
		qpH:   mat.NewSymDense(n, nil),
		qpSol: qp.NewSolution(n, m),
		qpProb: qp.Problem{
			LBX: make([]float64, n), UBX: make([]float64, n),
			LBA: make([]float64, m), UBA: make([]float64, m),
		},
		merit: NewMeritHistory(cfg.MeritMemsize),
		ls: lineSearch{
			c1: cfg.C1, beta: cfg.Beta,
			minStep: cfg.MinStepSize,
			maxIter: cfg.MaxIterLS,
		},
		solver: o.newQP(n, m),
	}
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {
	return o.FitStart(x, Start{}, w)
}

// FitStart runs the optimization process from x with the initial multipliers of start.
func (o *Optimizer) FitStart(x []float64, start Start, w *Workspace) *Result {

	if len(x) != o.n {
		panic("initial x dimension not match problem")
	}
	if start.LamX != nil && len(start.LamX) != o.n || start.LamG != nil && len(start.LamG) != o.m {
		panic("initial multiplier dimension not match problem")
	}
	if w.n != o.n || w.m != o.m {
		panic("workspace dimension not match problem")
	}

	copy(w.x, x)
	clear(w.lamX)
	clear(w.lamG)
	copy(w.lamX, start.LamX)
	copy(w.lamG, start.LamG)

	solver := sqpSolver{
		optimizer: o,
		workspace: w,
	}

	t0 := time.Now()
	status, err := solver.mainLoop()
	w.diag.record(KindMainLoop, t0)

	cur := w.cur
	res := &Result{
		OK:     status == Converged,
		Status: status,
		F:      cur.f,
		X:      slices.Clone(w.x),
		LamX:   slices.Clone(w.lamX),
		LamG:   slices.Clone(w.lamG),
		G:      slices.Clone(cur.g),
		PrInf:  w.prInf,
		DuInf:  w.duInf,
		Summary: Summary{
			NumIter:    w.iter,
			NumResets:  w.numResets,
			NumSkipped: w.hess.numSkipped,
		},
		Diagnostics: w.diag,
	}

	if status != Converged {
		f := &Failure{
			Status: status,
			Iter:   w.iter,
			X:      slices.Clone(w.x),
			PrInf:  w.prInf,
			DuInf:  w.duInf,
			Err:    err,
		}
		if w.feasible {
			f.LastFeasible = slices.Clone(w.feas)
		}
		res.Err = f
	}

	o.logger.Info("sqp finished",
		slog.String("status", status.String()),
		slog.Int("iter", w.iter),
		slog.Float64("f", cur.f),
		slog.Float64("pr_inf", w.prInf),
		slog.Float64("du_inf", w.duInf))

	return res
}
