// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// eps is the machine precision.
var eps = math.Nextafter(1, 2) - 1

// nnls (Non-Negative Least-Squares) solves 𝚖𝚒𝚗 ‖ 𝐀𝐱 - 𝐛 ‖₂ subject to 𝐱 ≥ 0 with an active-set method.
//   - 𝐀 is m × n column-major with leading dimension mda, there is no restriction on its rank
//   - 𝐱 ∈ ℝⁿ
//   - 𝐛 ∈ ℝᵐ
//
// Variables are split into the active set ℤ (𝐱ⱼ held at zero) and the passive set ℙ (𝐱ⱼ free).
// Each outer step moves the index with the largest dual 𝐰ⱼ = [𝐀ᵀ(𝐛 - 𝐀𝐱)]ⱼ from ℤ to ℙ,
// solves the unconstrained least-squares problem on ℙ through a Householder QR of 𝐀ᴾ,
// and interpolates back towards feasibility when some coefficient turns non-positive.
//
// On return 𝐀 and 𝐛 hold 𝐐𝐀 and 𝐐𝐛, w holds the dual vector and the residual norm is returned.
//
// # References
//
//	C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
//	Chapters 23, Algorithm 23.10.
func nnls(m, n int, a []float64, mda int, b, x, w, z []float64, index []int, maxIter int) (float64, error) {

	const factor = 0.01

	if m <= 0 || n <= 0 || mda < m ||
		len(a) < mda*n || len(b) < m || len(x) < n || len(w) < n || len(z) < m || len(index) < n {
		return math.NaN(), fmt.Errorf("%w: nnls dimension mismatch", ErrSolver)
	}

	if maxIter <= 0 {
		maxIter = 3 * n
	}

	col := func(j int) []float64 {
		return a[mda*j : mda*j+m : mda*j+m]
	}

	np := 0 // size of ℙ = index[:np]
	z1 := 0 // ℤ = index[z1:]

	index = index[:n]
	for i := range index {
		index[i] = i
	}
	clear(x[:n])

	iter := 0
	term := func() (rnorm float64, err error) {
		if np < m {
			rnorm = floats.Norm(b[np:m], 2) // ‖ 𝐐ᵀ𝐛₂ ‖₂
		} else {
			clear(w[:n])
		}
		if iter > maxIter {
			err = fmt.Errorf("%w: nnls exceeds %d iterations", ErrSolver, maxIter)
		}
		return
	}

	for {
		if z1 >= n || np >= m {
			return term()
		}

		// 𝐰ⱼ = 𝐀ⱼᵀ(𝐛 - 𝐀𝐱) for j ∈ ℤ, reduced to the untransformed rows
		for _, j := range index[z1:] {
			w[j] = floats.Dot(col(j)[np:], b[np:m])
		}

		for {
			wmax, izmax := 0.0, 0
			for i, j := range index[z1:] {
				if w[j] > wmax {
					wmax, izmax = w[j], z1+i
				}
			}

			// Kuhn-Tucker conditions satisfied
			if wmax <= 0 {
				return term()
			}

			j := index[izmax]
			aj := col(j)

			asave := aj[np]
			up := house(np, np+1, aj)

			accept := false
			if unorm := floats.Norm(aj[:np], 2); math.Abs(aj[np])*factor >= unorm*eps {
				copy(z[:m], b[:m])
				applyHouse(np, np+1, aj, up, z[:m])
				accept = z[np]/aj[np] > 0
			}

			if !accept {
				// column j is nearly dependent or would enter with a non-positive value
				aj[np] = asave
				w[j] = 0
				continue
			}

			copy(b[:m], z[:m])

			index[izmax] = index[z1]
			index[z1] = j
			z1++
			np++

			for _, jj := range index[z1:] {
				applyHouse(np-1, np, aj, up, col(jj))
			}
			if np < m {
				clear(aj[np:m])
			}
			w[j] = 0
			break
		}

		for {
			// back substitution 𝐑ₖ𝐳 = 𝐐𝐛 on the passive columns
			for ip, jj := np-1, -1; ip >= 0; ip-- {
				if jj >= 0 {
					floats.AddScaled(z[:ip+1], -z[ip+1], a[jj*mda:jj*mda+ip+1])
				}
				jj = index[ip]
				z[ip] /= a[ip+jj*mda]
			}

			if iter++; iter > maxIter {
				return term()
			}

			// ɑ = 𝚖𝚒𝚗 { 𝐱ⱼ/(𝐱ⱼ-𝐳ⱼ) : 𝐳ⱼ ≤ 0, j ∈ ℙ }
			alpha, jj := 2.0, -1
			for ip, l := range index[:np] {
				if z[ip] <= 0 {
					if t := -x[l] / (z[ip] - x[l]); alpha > t {
						alpha, jj = t, ip
					}
				}
			}

			if jj < 0 {
				for ip, l := range index[:np] {
					x[l] = z[ip]
				}
				break
			}

			for ip, l := range index[:np] {
				x[l] += alpha * (z[ip] - x[l])
			}

			// move index[jj] from ℙ to ℤ and restore the triangular form with Givens rotations
			i := index[jj]
			x[i] = 0
			for k := jj + 1; k < np; k++ {
				ii := index[k]
				ci := a[ii*mda:]
				index[k-1] = ii
				var c, s float64
				c, s, ci[k-1] = givens(ci[k-1], ci[k])
				ci[k] = 0
				for l := 0; l < n; l++ {
					if l != ii {
						cl := a[l*mda:]
						cl[k-1], cl[k] = rotate(c, s, cl[k-1], cl[k])
					}
				}
				b[k-1], b[k] = rotate(c, s, b[k-1], b[k])
			}
			np--
			z1--
			index[z1] = i

			copy(z[:m], b[:m])
		}
	}
}
