// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/curioloop/sqpmethod/qp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sqpSolver solve NLP(general constrained NonLinear optimization Problem) with SQP(Sequential Quadratic Programming)
//
// minimize 𝒇(𝐱) subject to
//   - general constraints: 𝐥𝐛𝐠 ≤ 𝒈(𝐱) ≤ 𝐮𝐛𝐠
//   - boundaries: 𝐥𝐛𝐱 ≤ 𝐱 ≤ 𝐮𝐛𝐱
//
// # Direction
//
// The Lagrangian function is ℒ(𝐱,𝛌) = 𝒇(𝐱) + 𝛌ᴳᵀ𝒈(𝐱) + 𝛌ˣᵀ𝐱 whose gradient is
//
//	𝜵ℒ(𝐱,𝛌) = 𝜵𝒇(𝐱) + 𝜵𝒈(𝐱)ᵀ𝛌ᴳ + 𝛌ˣ
//
// where a positive multiplier marks an active upper bound and a negative one an active lower bound.
// Each iteration linearizes the constraints at 𝐱ᵏ and solves the QP sub-problem
//
// minimize ½ 𝐝ᵀ𝐁ᵏ𝐝 + 𝜵𝒇(𝐱ᵏ)ᵀ𝐝 subject to
//   - 𝐥𝐛𝐠 - 𝒈(𝐱ᵏ) ≤ 𝜵𝒈(𝐱ᵏ)𝐝 ≤ 𝐮𝐛𝐠 - 𝒈(𝐱ᵏ)
//   - 𝐥𝐛𝐱 - 𝐱ᵏ ≤ 𝐝 ≤ 𝐮𝐛𝐱 - 𝐱ᵏ
//
// with 𝐁ᵏ either the exact 𝜵²ℒ(𝐱ᵏ,𝛌ᵏ) or a limited-memory BFGS approximation,
// shifted by the Gershgorin regularization when it is not positive definite.
//
// # Step
//
// The step length 𝛂 is found by a non-monotone backtracking line-search on the L1 merit function
//
//	𝟇(𝐱;𝛔) = 𝒇(𝐱) + 𝛔·𝑣𝑖𝑜(𝐱)
//
// where 𝑣𝑖𝑜(𝐱) is the sum of the bound and constraint violations and 𝛔 = 𝚖𝚊𝚡[𝛔, 1.01‖𝛌ᴼᴾ‖∞] never decreases.
// After a step is accepted
//   - 𝐱ᵏ⁺¹ = 𝐱ᵏ + 𝛂𝐝
//   - 𝛌ᵏ⁺¹ = 𝛌ᵏ + 𝛂(𝛌ᴼᴾ - 𝛌ᵏ)
//   - 𝐬 = 𝐱ᵏ⁺¹ - 𝐱ᵏ and 𝐲 = 𝜵ℒ(𝐱ᵏ⁺¹,𝛌ᵏ⁺¹) - 𝜵ℒ(𝐱ᵏ,𝛌ᵏ⁺¹) update 𝐁
//
// # Recovery
//
// A failing QP sub-problem resets 𝐁 up to Config.MaxHessianResets consecutive times,
// a failing line-search resets 𝐁 once per iteration. The iterate is only committed
// once the candidate derivatives have been evaluated successfully.
//
// # Convergence Criteria
//
//   - primal infeasibility : 𝑣𝑖𝑜(𝐱ᵏ) ≤ Config.TolPr
//   - dual infeasibility : ‖𝜵ℒ(𝐱ᵏ,𝛌ᵏ)‖∞ ≤ Config.TolDu
//
// # Reference
//
// J. Nocedal, S.J. Wright: "Numerical Optimization", 2nd edition, Chapter 18.
// Springer, 2006
type sqpSolver struct {
	optimizer *Optimizer
	workspace *Workspace
}

var errNonFinite = errors.New("non-finite value")

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}

// port times a call of the problem functions and converts failures and panics into ErrEvaluation.
func (ss *sqpSolver) port(k Kind, fn func() error) (err error) {
	d := &ss.workspace.diag
	t0 := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrEvaluation, k, r)
		}
		d.record(k, t0)
	}()
	if err = fn(); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrEvaluation, k, err)
	}
	return
}

// evalFunc evaluates 𝒇(𝐱) and 𝒈(𝐱) into s.
func (ss *sqpSolver) evalFunc(x []float64, s *snapshot) error {
	o := ss.optimizer
	err := ss.port(KindObjective, func() (err error) {
		if s.f, err = o.eval.Objective(x); err == nil && !finite(s.f) {
			err = errNonFinite
		}
		return
	})
	if err != nil || o.m == 0 {
		return err
	}
	return ss.port(KindConstraints, func() error {
		if err := o.eval.Constraints(x, s.g); err != nil {
			return err
		}
		if !allFinite(s.g) {
			return errNonFinite
		}
		return nil
	})
}

// evalGrad evaluates 𝜵𝒇(𝐱) and 𝜵𝒈(𝐱) into s.
func (ss *sqpSolver) evalGrad(x []float64, s *snapshot) error {
	o := ss.optimizer
	err := ss.port(KindGradient, func() error {
		if err := o.eval.ObjectiveGradient(x, s.gf); err != nil {
			return err
		}
		if !allFinite(s.gf) {
			return errNonFinite
		}
		return nil
	})
	if err != nil || o.m == 0 {
		return err
	}
	return ss.port(KindJacobian, func() error {
		if err := o.eval.ConstraintJacobian(x, s.jac); err != nil {
			return err
		}
		for j := 0; j < o.m; j++ {
			if !allFinite(s.jac.RawRowView(j)) {
				return errNonFinite
			}
		}
		return nil
	})
}

// lagrangian computes dst = 𝜵𝒇(𝐱) + 𝜵𝒈(𝐱)ᵀ𝛌ᴳ + 𝛌ˣ from the snapshot s.
func (ss *sqpSolver) lagrangian(s *snapshot, lamG, lamX, dst []float64) {
	copy(dst, s.gf)
	for j, l := range lamG {
		floats.AddScaled(dst, l, s.jac.RawRowView(j))
	}
	floats.Add(dst, lamX)
}

// primalInf returns the L1 norm of the bound and constraint violations.
func (s *sqpSpec) primalInf(x, g []float64) (v float64) {
	for i, x := range x {
		v += math.Max(0, s.lbx[i]-x) + math.Max(0, x-s.ubx[i])
	}
	for j, g := range g {
		v += math.Max(0, s.lbg[j]-g) + math.Max(0, g-s.ubg[j])
	}
	return
}

// measure refreshes the Lagrangian gradient and the infeasibility of the committed iterate.
func (ss *sqpSolver) measure() {
	o, w := ss.optimizer, ss.workspace
	ss.lagrangian(w.cur, w.lamG, w.lamX, w.cur.gLag)
	w.prInf = o.primalInf(w.x, w.cur.g)
	w.duInf = floats.Norm(w.cur.gLag, math.Inf(1))
	if w.prInf <= o.cfg.TolPr {
		copy(w.feas, w.x)
		w.feasible = true
	}
}

func (ss *sqpSolver) initCtx() error {
	o, w := ss.optimizer, ss.workspace

	w.iter, w.small, w.bigReg, w.numResets = 0, 0, 0, 0
	w.feasible = false
	w.sigma = o.cfg.Sigma
	w.stepNorm, w.reg, w.lsTrials, w.lsOK = 0, 0, 0, true
	w.prInf, w.duInf = math.NaN(), math.NaN()
	w.hess.initialize()
	w.hess.numSkipped = 0
	w.merit.Clear()

	if err := ss.evalFunc(w.x, w.cur); err != nil {
		return err
	}
	if err := ss.evalGrad(w.x, w.cur); err != nil {
		return err
	}
	ss.measure()
	return nil
}

func (ss *sqpSolver) resetHessian(reason string, err error) {
	o, w := ss.optimizer, ss.workspace
	w.hess.reset()
	w.merit.Clear()
	w.numResets++
	o.logger.Warn("hessian reset",
		slog.Int("iter", w.iter),
		slog.String("reason", reason),
		slog.Any("err", err))
}

// buildQP assembles the QP sub-problem at the committed iterate.
func (ss *sqpSolver) buildQP() error {
	o, w := ss.optimizer, ss.workspace
	cfg, cur := &o.cfg, w.cur

	b, err := w.hess.current(func(h *mat.SymDense) error {
		return ss.port(KindHessian, func() error {
			if err := o.hess.LagrangianHessian(w.x, w.lamG, 1, h); err != nil {
				return err
			}
			for i := 0; i < o.n; i++ {
				for j := i; j < o.n; j++ {
					if !finite(h.At(i, j)) {
						return errNonFinite
					}
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	w.qpH.CopySym(b)
	w.reg = 0
	if cfg.Regularize {
		w.reg = Regularize(w.qpH, cfg.Reg)
		if w.reg > 1e3*cfg.Reg {
			if w.bigReg++; w.bigReg > 1 {
				o.logger.Warn("large regularization",
					slog.Int("iter", w.iter),
					slog.Float64("shift", w.reg),
					slog.Int("consecutive", w.bigReg))
			}
		} else {
			w.bigReg = 0
		}
	}

	p := &w.qpProb
	p.H, p.G, p.A = w.qpH, cur.gf, cur.jac
	for i, x := range w.x {
		p.LBX[i] = o.lbx[i] - x
		p.UBX[i] = o.ubx[i] - x
	}
	for j, g := range cur.g {
		p.LBA[j] = o.lbg[j] - g
		p.UBA[j] = o.ubg[j] - g
	}
	return nil
}

func (ss *sqpSolver) solveQP() error {
	w := ss.workspace
	sol := w.qpSol

	t0 := time.Now()
	err := w.solver.Solve(&w.qpProb, sol)
	w.diag.record(KindQP, t0)

	if err != nil {
		return err
	}
	if !allFinite(sol.X) || !allFinite(sol.DualX) || !allFinite(sol.DualA) {
		return fmt.Errorf("%w: non-finite solution", qp.ErrSolver)
	}
	copy(w.dx, sol.X)
	return nil
}

// searchStep updates the penalty weight and runs the line-search along 𝐝.
// On success xCand and cand hold the accepted candidate.
func (ss *sqpSolver) searchStep() (float64, error) {
	o, w := ss.optimizer, ss.workspace
	cur, cand, sol := w.cur, w.cand, w.qpSol

	// 𝛔 = 𝚖𝚊𝚡[𝛔, 1.01‖𝛌ˣ‖∞, 1.01‖𝛌ᴬ‖∞]
	w.sigma = math.Max(w.sigma, 1.01*floats.Norm(sol.DualX, math.Inf(1)))
	if o.m > 0 {
		w.sigma = math.Max(w.sigma, 1.01*floats.Norm(sol.DualA, math.Inf(1)))
	}

	// 𝐃 = 𝜵𝒇(𝐱ᵏ)ᵀ𝐝 - 𝛔·𝑣𝑖𝑜(𝐱ᵏ)
	merit0 := l1Merit(cur.f, w.sigma, w.prInf)
	dir := floats.Dot(cur.gf, w.dx) - w.sigma*w.prInf

	t0 := time.Now()
	alpha, trials, err := w.ls.search(merit0, dir, w.merit, func(a float64) (float64, error) {
		floats.AddScaledTo(w.xCand, w.x, a, w.dx)
		if err := ss.evalFunc(w.xCand, cand); err != nil {
			if errors.Is(err, errNonFinite) {
				return math.NaN(), nil
			}
			return math.NaN(), err
		}
		return l1Merit(cand.f, w.sigma, o.primalInf(w.xCand, cand.g)), nil
	})
	w.diag.record(KindLineSearch, t0)

	w.lsTrials, w.lsOK = trials, err == nil
	return alpha, err
}

// commit evaluates the derivatives at the accepted candidate then moves the iterate.
func (ss *sqpSolver) commit(alpha float64) error {
	o, w := ss.optimizer, ss.workspace
	sol := w.qpSol

	if err := ss.evalGrad(w.xCand, w.cand); err != nil {
		return err
	}

	// 𝛌ᵏ⁺¹ = 𝛌ᵏ + 𝛂(𝛌ᴼᴾ - 𝛌ᵏ)
	for i, l := range sol.DualX {
		w.lamX[i] += alpha * (l - w.lamX[i])
	}
	for j, l := range sol.DualA {
		w.lamG[j] += alpha * (l - w.lamG[j])
	}

	copy(w.xOld, w.x)
	copy(w.x, w.xCand)
	old := w.cur
	w.cur, w.cand = w.cand, old
	ss.measure()

	if !w.hess.exact {
		// 𝐬 = 𝐱ᵏ⁺¹ - 𝐱ᵏ
		floats.SubTo(w.sk, w.x, w.xOld)
		// 𝐲 = 𝜵ℒ(𝐱ᵏ⁺¹,𝛌ᵏ⁺¹) - 𝜵ℒ(𝐱ᵏ,𝛌ᵏ⁺¹)
		ss.lagrangian(old, w.lamG, w.lamX, w.yk)
		floats.SubTo(w.yk, w.cur.gLag, w.yk)
		if !w.hess.update(w.sk, w.yk) {
			o.logger.Warn("bfgs update skipped", slog.Int("iter", w.iter))
		}
	}
	w.hess.commit()

	w.stepNorm = alpha * floats.Norm(w.dx, math.Inf(1))
	if w.stepNorm < o.cfg.MinStepSize {
		w.small++
	} else {
		w.small = 0
	}
	w.iter++
	return nil
}

// iterate performs one SQP iteration with Hessian resets on recoverable failures.
func (ss *sqpSolver) iterate() (Status, error) {
	cfg := &ss.optimizer.cfg

	resets, retried := 0, false
	for {
		if err := ss.buildQP(); err != nil {
			return EvaluationFailed, err
		}

		if err := ss.solveQP(); err != nil {
			if resets >= cfg.MaxHessianResets {
				return QPFailed, err
			}
			resets++
			ss.resetHessian("qp", err)
			continue
		}

		alpha, err := ss.searchStep()
		if err != nil {
			if errors.Is(err, ErrEvaluation) {
				return EvaluationFailed, err
			}
			// the failed attempt is reported before the retry or the termination
			ss.workspace.stepNorm = 0
			ss.report()
			if retried {
				return LineSearchFailed, err
			}
			retried = true
			ss.resetHessian("line search", err)
			continue
		}

		if err = ss.commit(alpha); err != nil {
			return EvaluationFailed, err
		}
		return Converged, nil
	}
}

// mainLoop drives the iteration until convergence or failure.
func (ss *sqpSolver) mainLoop() (Status, error) {

	o, w := ss.optimizer, ss.workspace
	cfg := &o.cfg

	if err := ss.initCtx(); err != nil {
		return EvaluationFailed, err
	}

	for {
		ss.report()

		switch {
		case w.prInf <= cfg.TolPr && w.duInf <= cfg.TolDu:
			return Converged, nil
		case w.iter >= cfg.MaxIter:
			return IterationCapExceeded, nil
		case w.small >= 2:
			return StepTooSmall, nil
		}

		if status, err := ss.iterate(); err != nil {
			return status, err
		}
	}
}

// report publishes the record of the last iteration.
func (ss *sqpSolver) report() {
	o, w := ss.optimizer, ss.workspace
	r := Record{
		Iter:      w.iter,
		Objective: w.cur.f,
		PrInf:     w.prInf,
		DuInf:     w.duInf,
		StepNorm:  w.stepNorm,
		Reg:       w.reg,
		LSTrials:  w.lsTrials,
		LSSuccess: w.lsOK,
	}

	o.logger.Debug("sqp iteration",
		slog.Int("iter", r.Iter),
		slog.Float64("f", r.Objective),
		slog.Float64("pr_inf", r.PrInf),
		slog.Float64("du_inf", r.DuInf),
		slog.Float64("step", r.StepNorm),
		slog.Float64("reg", r.Reg),
		slog.Int("ls_trials", r.LSTrials))

	if o.callback != nil {
		t0 := time.Now()
		o.callback(r)
		w.diag.record(KindCallback, t0)
	}
}
