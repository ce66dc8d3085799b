// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qp solves the dense convex quadratic subproblems generated by an SQP iteration:
//
//	𝚖𝚒𝚗 ½𝐝ᵀ𝐇𝐝 + 𝐠ᵀ𝐝
//	s.t. 𝐥𝐛𝐱 ≤ 𝐝 ≤ 𝐮𝐛𝐱
//	     𝐥𝐛𝐀 ≤ 𝐀𝐝 ≤ 𝐮𝐛𝐀
//
// Infinite bounds are ignored and equal bounds describe an equality.
package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInfeasible reports that the linearized constraints admit no solution.
	ErrInfeasible = errors.New("qp: infeasible")
	// ErrUnbounded reports that the Hessian is not positive definite so the subproblem may be unbounded.
	ErrUnbounded = errors.New("qp: unbounded")
	// ErrSolver reports a numerical failure of the solver itself.
	ErrSolver = errors.New("qp: solver error")
)

// Problem holds the data of a quadratic subproblem.
// A is m × n and may be nil when m = 0.
type Problem struct {
	H        *mat.SymDense
	G        []float64
	A        *mat.Dense
	LBX, UBX []float64
	LBA, UBA []float64
}

// Solution holds the primal step and the multipliers of a quadratic subproblem.
// The multipliers satisfy 𝐇𝐝 + 𝐠 + 𝐀ᵀ𝛌ᴬ + 𝛌ˣ = 0 where a positive entry
// marks an active upper bound and a negative entry an active lower bound.
type Solution struct {
	X     []float64 // n
	DualX []float64 // n
	DualA []float64 // m
}

// NewSolution allocates a solution for n variables and m constraints.
func NewSolution(n, m int) *Solution {
	return &Solution{
		X:     make([]float64, n),
		DualX: make([]float64, n),
		DualA: make([]float64, m),
	}
}

type rowKind uint8

const (
	lowerX rowKind = iota
	upperX
	lowerA
	upperA
)

// Dense solves strictly convex subproblems with a dense Cholesky factorization 𝐇 = 𝐔ᵀ𝐔.
// Substituting 𝐳 = 𝐔𝐝 + 𝐔⁻ᵀ𝐠 turns the subproblem into the least distance problem
//
//	𝚖𝚒𝚗 ‖𝐳‖₂ s.t. 𝐂𝐔⁻¹𝐳 ≥ 𝐛 + 𝐂𝐔⁻¹𝐔⁻ᵀ𝐠
//
// where 𝐂𝐝 ≥ 𝐛 stacks every finite bound, which is then solved by NNLS.
//
// A Dense keeps its buffers between calls and must not be shared by goroutines.
type Dense struct {
	// MaxIter is the NNLS iteration limit, 0 selects three times the number of finite bounds.
	MaxIter int

	n, m int

	chol mat.Cholesky
	u    *mat.TriDense
	uinv *mat.TriDense

	rows *mat.Dense // (2n+2m) × n
	ghat mat.Dense
	h    []float64
	kind []rowKind
	ref  []int

	c, z, lam, tmp []float64
	work           ldpWork
}

// NewDense creates a solver for n variables and m general constraints.
func NewDense(n, m int) *Dense {
	if n <= 0 || m < 0 {
		panic(fmt.Sprintf("qp: bad dimension n=%d m=%d", n, m))
	}
	r := 2 * (n + m)
	return &Dense{
		n:    n,
		m:    m,
		u:    mat.NewTriDense(n, mat.Upper, nil),
		uinv: mat.NewTriDense(n, mat.Upper, nil),
		rows: mat.NewDense(r, n, nil),
		h:    make([]float64, r),
		kind: make([]rowKind, r),
		ref:  make([]int, r),
		c:    make([]float64, n),
		z:    make([]float64, n),
		lam:  make([]float64, r),
		tmp:  make([]float64, n),
		work: newLDPWork(r, n),
	}
}

// Solve solves p and writes the step and multipliers into s.
func (d *Dense) Solve(p *Problem, s *Solution) error {
	n := d.n

	if err := d.check(p, s); err != nil {
		return err
	}

	if !d.chol.Factorize(p.H) {
		return fmt.Errorf("%w: hessian is not positive definite", ErrUnbounded)
	}
	d.chol.UTo(d.u)
	if err := d.uinv.InverseTri(d.u); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return fmt.Errorf("%w: %v", ErrSolver, err)
		}
	}

	// 𝐜 = 𝐔⁻ᵀ𝐠
	cv := mat.NewVecDense(n, d.c)
	cv.MulVec(d.uinv.T(), mat.NewVecDense(n, p.G))

	r, err := d.stack(p)
	if err != nil {
		return err
	}

	clear(s.DualX)
	clear(s.DualA)

	if r == 0 {
		clear(d.z)
	} else {
		c := d.rows.Slice(0, r, 0, n).(*mat.Dense)
		d.ghat.Reset()
		d.ghat.Mul(c, d.uinv)

		// 𝐡̂ = 𝐡 + 𝐆̂𝐜
		h := d.h[:r]
		for i := range h {
			h[i] += floats.Dot(d.ghat.RawRowView(i), d.c)
		}
		if _, err := ldp(&d.ghat, h, d.z, d.lam[:r], &d.work, d.MaxIter); err != nil {
			return err
		}

		for i, l := range d.lam[:r] {
			switch j := d.ref[i]; d.kind[i] {
			case lowerX:
				s.DualX[j] -= l
			case upperX:
				s.DualX[j] += l
			case lowerA:
				s.DualA[j] -= l
			case upperA:
				s.DualA[j] += l
			}
		}
	}

	// 𝐝 = 𝐔⁻¹(𝐳 - 𝐜)
	floats.SubTo(d.tmp, d.z, d.c)
	xv := mat.NewVecDense(n, s.X)
	xv.MulVec(d.uinv, mat.NewVecDense(n, d.tmp))

	for i, x := range s.X {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite step", ErrSolver)
		}
		if l := p.LBX[i]; x < l {
			s.X[i] = l
		} else if u := p.UBX[i]; x > u {
			s.X[i] = u
		}
	}
	return nil
}

func (d *Dense) check(p *Problem, s *Solution) error {
	n, m := d.n, d.m
	switch {
	case p.H == nil || p.H.SymmetricDim() != n:
		return fmt.Errorf("%w: hessian must be %d × %d", ErrSolver, n, n)
	case len(p.G) != n || len(p.LBX) != n || len(p.UBX) != n:
		return fmt.Errorf("%w: gradient and bounds must have length %d", ErrSolver, n)
	case len(p.LBA) != m || len(p.UBA) != m:
		return fmt.Errorf("%w: constraint bounds must have length %d", ErrSolver, m)
	case m > 0 && p.A == nil:
		return fmt.Errorf("%w: constraint matrix is required", ErrSolver)
	case len(s.X) != n || len(s.DualX) != n || len(s.DualA) != m:
		return fmt.Errorf("%w: solution must be shaped %d × %d", ErrSolver, n, m)
	}
	if m > 0 {
		if r, c := p.A.Dims(); r != m || c != n {
			return fmt.Errorf("%w: constraint matrix must be %d × %d", ErrSolver, m, n)
		}
	}
	return nil
}

// stack writes every finite bound as a row of 𝐂𝐝 ≥ 𝐛 and returns the number of rows.
func (d *Dense) stack(p *Problem) (int, error) {
	r := 0
	push := func(row []float64, sign, bound float64, k rowKind, j int) {
		dst := d.rows.RawRowView(r)
		for i, v := range row {
			dst[i] = sign * v
		}
		d.h[r] = sign * bound
		d.kind[r] = k
		d.ref[r] = j
		r++
	}
	unit := func(j int, sign, bound float64, k rowKind) {
		dst := d.rows.RawRowView(r)
		clear(dst)
		dst[j] = sign
		d.h[r] = sign * bound
		d.kind[r] = k
		d.ref[r] = j
		r++
	}

	for j := 0; j < d.m; j++ {
		lo, up := p.LBA[j], p.UBA[j]
		if lo > up {
			return 0, fmt.Errorf("%w: constraint bound %d is inverted", ErrInfeasible, j)
		}
		row := p.A.RawRowView(j)
		if !math.IsInf(lo, 0) {
			push(row, 1, lo, lowerA, j)
		}
		if !math.IsInf(up, 0) {
			push(row, -1, up, upperA, j)
		}
	}
	for i := 0; i < d.n; i++ {
		lo, up := p.LBX[i], p.UBX[i]
		if lo > up {
			return 0, fmt.Errorf("%w: variable bound %d is inverted", ErrInfeasible, i)
		}
		if !math.IsInf(lo, 0) {
			unit(i, 1, lo, lowerX)
		}
		if !math.IsInf(up, 0) {
			unit(i, -1, up, upperX)
		}
	}
	return r, nil
}
