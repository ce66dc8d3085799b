// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gershgorin returns the lower bound 𝚖𝚒𝚗ᵢ(𝐇ᵢᵢ - ∑ⱼ≠ᵢ|𝐇ᵢⱼ|) of the eigenvalues of 𝐇.
func Gershgorin(h mat.Symmetric) float64 {
	n := h.SymmetricDim()
	lo := math.Inf(1)
	for i := 0; i < n; i++ {
		r := h.At(i, i)
		for j := 0; j < n; j++ {
			if j != i {
				r -= math.Abs(h.At(i, j))
			}
		}
		lo = math.Min(lo, r)
	}
	return lo
}

// Regularize makes 𝐇 strictly positive definite in place and returns the applied shift.
//
// A positive definite 𝐇 is left untouched and the shift is 0, the Gershgorin bound settles
// diagonally dominant matrices and a Cholesky factorization settles the others.
// Otherwise 𝐇 becomes 𝐇 + (reg - bound)·𝐈 whose Gershgorin bound equals reg.
// The bound covers the whole space, hence every subspace left free by the active constraints.
func Regularize(h *mat.SymDense, reg float64) (shift float64) {
	lo := Gershgorin(h)
	if lo > 0 {
		return 0
	}
	var chol mat.Cholesky
	if chol.Factorize(h) {
		return 0
	}
	shift = reg - lo
	n := h.SymmetricDim()
	for i := 0; i < n; i++ {
		h.SetSym(i, i, h.At(i, i)+shift)
	}
	return shift
}
