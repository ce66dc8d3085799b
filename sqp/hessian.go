// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// hessianApprox maintains the approximation 𝐁 ≈ 𝜵²ℒ(𝐱,𝛌) used by the QP subproblem.
//
// In quasi-Newton mode 𝐁 is built by the BFGS formula
//
//	𝐁ᵏ⁺¹ = 𝐁ᵏ + 𝐲𝐲ᵀ/𝐬ᵀ𝐲 - 𝐁ᵏ𝐬𝐬ᵀ𝐁ᵏ/𝐬ᵀ𝐁ᵏ𝐬
//
// from the initial matrix b0·𝐈 and the K most recent secant pairs (𝐬,𝐲).
// The pairs are kept in a ring of K slots, when the oldest pair is evicted
// 𝐁 is rebuilt from b0·𝐈 by replaying the retained pairs in order.
// The BFGS corrections do not commute so the oldest one cannot be removed alone,
// once the ring is full every accepted pair costs O(K·n²) instead of O(n²).
// A pair is skipped when 𝐬ᵀ𝐲 ≤ ε‖𝐬‖‖𝐲‖ which keeps 𝐁 positive definite.
//
// In exact mode 𝐁 is overwritten by a fresh evaluation on every iteration
// and update is a no-op.
type hessianApprox struct {
	n     int
	exact bool
	b0    float64
	eps   float64

	b *mat.SymDense

	// limited memory of secant pairs, slot k occupies ws[k*n:(k+1)*n] and wy[k*n:(k+1)*n]
	mem     int
	head    int // the oldest pair
	updates int // the number of retained pairs
	ws, wy  []float64
	bs      []float64

	// exact mode only: the next call of current returns b0·𝐈
	fallback bool

	numSkipped int
}

func newHessianApprox(n, memory int, exact bool, eps float64) *hessianApprox {
	return &hessianApprox{
		n:     n,
		exact: exact,
		b0:    1,
		eps:   eps,
		b:     mat.NewSymDense(n, nil),
		mem:   memory,
		ws:    make([]float64, memory*n),
		wy:    make([]float64, memory*n),
		bs:    make([]float64, n),
	}
}

// initialize sets 𝐁 = b0·𝐈 and forgets every secant pair.
func (h *hessianApprox) initialize() {
	h.identity()
	h.head, h.updates = 0, 0
	h.fallback = false
}

func (h *hessianApprox) identity() {
	raw := h.b.RawSymmetric()
	for i := 0; i < h.n; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+h.n]
		clear(row)
		row[i] = h.b0
	}
}

// reset discards the curvature information after a failed QP or line-search.
func (h *hessianApprox) reset() {
	h.initialize()
	if h.exact {
		h.fallback = true
	}
}

// commit marks the end of a committed iteration.
func (h *hessianApprox) commit() {
	h.fallback = false
}

// current returns the approximation for the current iterate.
// In exact mode eval fills 𝐁 with the Hessian of the Lagrangian unless a reset requested the fallback.
func (h *hessianApprox) current(eval func(b *mat.SymDense) error) (*mat.SymDense, error) {
	if h.exact && !h.fallback {
		if err := eval(h.b); err != nil {
			return nil, err
		}
	}
	return h.b, nil
}

// update applies the secant pair (𝐬,𝐲) and reports whether it was accepted.
func (h *hessianApprox) update(s, y []float64) bool {
	if h.exact {
		return false
	}

	n := h.n
	sy := floats.Dot(s, y)
	if sy <= h.eps*floats.Norm(s, 2)*floats.Norm(y, 2) || math.IsNaN(sy) {
		h.numSkipped++
		return false
	}

	var tail int
	evict := h.updates == h.mem
	if evict {
		tail = h.head
		h.head = (h.head + 1) % h.mem
	} else {
		tail = (h.head + h.updates) % h.mem
		h.updates++
	}
	copy(h.ws[tail*n:(tail+1)*n], s)
	copy(h.wy[tail*n:(tail+1)*n], y)

	if !evict {
		h.apply(s, y)
		return true
	}

	h.identity()
	for k := 0; k < h.updates; k++ {
		j := (h.head + k) % h.mem
		h.apply(h.ws[j*n:(j+1)*n], h.wy[j*n:(j+1)*n])
	}
	return true
}

// apply performs the rank-2 correction in place.
func (h *hessianApprox) apply(s, y []float64) {
	n := h.n
	sv, yv, bsv := mat.NewVecDense(n, s), mat.NewVecDense(n, y), mat.NewVecDense(n, h.bs)

	bsv.MulVec(h.b, sv) // 𝐁𝐬
	sBs := floats.Dot(s, h.bs)
	sy := floats.Dot(s, y)
	if sBs <= 0 || sy <= 0 {
		return
	}

	h.b.SymRankOne(h.b, 1/sy, yv)
	h.b.SymRankOne(h.b, -1/sBs, bsv)
}
