// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ldpWork holds the buffers of ldp for at most r rows and n columns.
type ldpWork struct {
	a     []float64 // (n+1) × r column-major copy of [𝐆ᵀ; 𝐡ᵀ]
	b     []float64 // n+1
	z     []float64 // n+1
	u     []float64 // r
	dv    []float64 // r
	index []int     // r
}

func newLDPWork(r, n int) ldpWork {
	return ldpWork{
		a:     make([]float64, r*(n+1)),
		b:     make([]float64, n+1),
		z:     make([]float64, n+1),
		u:     make([]float64, r),
		dv:    make([]float64, r),
		index: make([]int, r),
	}
}

// ldp (Least Distance Programming) solves 𝚖𝚒𝚗 ‖𝐱‖₂ subject to 𝐆𝐱 ≥ 𝐡.
//   - 𝐆 is r × n (row-major), there is no restriction on its rank
//   - 𝐱 ∈ ℝⁿ
//   - 𝐡 ∈ ℝʳ
//
// The problem is mapped onto the NNLS problem 𝚖𝚒𝚗 ‖𝐄𝐮 - 𝐟‖₂ s.t. 𝐮 ≥ 0 where
//
//	𝐄 = ⎡ 𝐆ᵀ ⎤  𝐟 = ⎡ 0 ⎤
//	    ⎣ 𝐡ᵀ ⎦      ⎣ 1 ⎦
//
// and the solution is recovered as 𝐱 = 𝐆ᵀ𝐮 / (1 - 𝐡ᵀ𝐮).
// On success lam holds the multipliers 𝛌 = 𝐮 / (1 - 𝐡ᵀ𝐮) ≥ 0 of 𝐆𝐱 ≥ 𝐡 and ‖𝐱‖₂ is returned.
//
// # References
//
//	C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
//	Chapters 23, Section 3.
func ldp(g *mat.Dense, h, x, lam []float64, work *ldpWork, maxIter int) (float64, error) {

	r, n := g.Dims()
	n1 := n + 1

	a := work.a[:r*n1]
	for j := 0; j < r; j++ {
		col := a[j*n1 : (j+1)*n1]
		copy(col[:n], g.RawRowView(j))
		col[n] = h[j]
	}

	b := work.b[:n1]
	clear(b[:n])
	b[n] = 1

	u := work.u[:r]
	rnorm, err := nnls(n1, r, a, n1, b, u, work.dv[:r], work.z[:n1], work.index[:r], maxIter)
	if err != nil {
		return math.NaN(), err
	}

	if rnorm <= 0 {
		return math.NaN(), fmt.Errorf("%w: incompatible constraints", ErrInfeasible)
	}

	fac := 1 - floats.Dot(h[:r], u)
	if math.IsNaN(fac) || fac < eps {
		return math.NaN(), fmt.Errorf("%w: incompatible constraints", ErrInfeasible)
	}
	fac = 1 / fac

	xv := mat.NewVecDense(n, x[:n])
	xv.MulVec(g.T(), mat.NewVecDense(r, u))
	floats.Scale(fac, x[:n])

	for j := range u {
		lam[j] = u[j] * fac
	}

	return floats.Norm(x[:n], 2), nil
}
