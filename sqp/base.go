// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"log/slog"

	"github.com/curioloop/sqpmethod/qp"
	"gonum.org/v1/gonum/mat"
)

type sqpSpec struct {
	// the number of variables
	n int
	// the number of general constraints
	m int

	cfg  Config
	eval Evaluator
	// nil when the evaluator has no second derivatives
	hess HessianEvaluator
	// bounds with ±Inf for the absent ones
	lbx, ubx []float64 // n
	lbg, ubg []float64 // m

	newQP    func(n, m int) QPSolver
	callback func(Record)
	logger   *slog.Logger
}

// snapshot holds the problem functions evaluated at one iterate.
type snapshot struct {
	f    float64
	g    []float64  // m
	gf   []float64  // n : 𝜵𝒇(𝐱)
	gLag []float64  // n : 𝜵𝒇(𝐱) + 𝜵𝒈(𝐱)ᵀ𝛌ᴳ + 𝛌ˣ
	jac  *mat.Dense // m × n, nil when m = 0
}

func newSnapshot(n, m int) *snapshot {
	s := &snapshot{
		g:    make([]float64, m),
		gf:   make([]float64, n),
		gLag: make([]float64, n),
	}
	if m > 0 {
		s.jac = mat.NewDense(m, n, nil)
	}
	return s
}

type sqpCtx struct {
	// the committed iterate and its multipliers
	x    []float64 // n
	lamX []float64 // n
	lamG []float64 // m
	// the previous iterate
	xOld []float64 // n
	// the line-search candidate
	xCand []float64 // n
	// the QP step 𝐝
	dx []float64 // n
	// the secant pair
	sk, yk []float64 // n
	// the last committed feasible iterate
	feas     []float64 // n
	feasible bool

	// problem functions at x and at the candidate, swapped on commit
	cur, cand *snapshot

	hess   *hessianApprox
	qpH    *mat.SymDense
	qpProb qp.Problem
	qpSol  *qp.Solution
	solver QPSolver

	merit *MeritHistory
	ls    lineSearch
	// penalty weight of the merit function
	sigma float64

	// infeasibility of the committed iterate
	prInf, duInf float64
	// the last iteration details
	stepNorm float64
	reg      float64
	lsTrials int
	lsOK     bool

	// iteration counter
	iter int
	// consecutive too small steps
	small int
	// consecutive large regularization shifts
	bigReg int
	// total Hessian resets
	numResets int

	diag Diagnostics
}
