// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import "math"

// house constructs a Householder transformation 𝐐 = 𝐈 - b⁻¹𝐮𝐮ᵀ (b = s𝐮ₚ)
// which maps the vector v onto s𝐞ₚ while zeroing v[l:].
//
// On return v[p] holds s and v[l:] holds the tail of 𝐮, the pivot component 𝐮ₚ is returned.
// The transformation is the identity when p ≥ l or l ≥ len(v).
//
// C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
// Chapters 10.
func house(p, l int, v []float64) (up float64) {
	if p < 0 || p >= l || l >= len(v) {
		return
	}

	vmax := math.Abs(v[p])
	for _, t := range v[l:] {
		vmax = math.Max(math.Abs(t), vmax)
	}
	if vmax <= 0 {
		return
	}

	// (vₚ² + ∑vᵢ²)¹ᐟ² computed on the normalized vector
	inv := 1 / vmax
	sum := (v[p] * inv) * (v[p] * inv)
	for _, t := range v[l:] {
		sum += (t * inv) * (t * inv)
	}

	s := vmax * math.Sqrt(sum)
	if v[p] > 0 {
		s = -s
	}

	up = v[p] - s // 𝐮ₚ = vₚ - s
	v[p] = s
	return
}

// applyHouse applies 𝐐c = c + b⁻¹(𝐮ᵀc)𝐮 built by house to the vector c (len(c) == len(u)).
func applyHouse(p, l int, u []float64, up float64, c []float64) {
	if p < 0 || p >= l || l >= len(u) {
		return
	}
	if len(c) < len(u) {
		panic("bound check error")
	}

	b := u[p] * up
	if b >= 0 {
		return
	}

	sm := c[p] * up
	for i, t := range u[l:] {
		sm += c[l+i] * t
	}
	if sm == 0 {
		return
	}

	sm /= b
	c[p] += sm * up
	for i, t := range u[l:] {
		c[l+i] += sm * t
	}
}

// givens computes the rotation
//
//	⎡ c s⎤⎡a⎤ = ⎡r⎤
//	⎣-s c⎦⎣b⎦   ⎣0⎦
//
// with r = (a²+b²)¹ᐟ².
//
// C.L. Lawson, R.J. Hanson, 'Solving least squares problems' Prentice Hall, 1974. (revised 1995 edition)
// Chapters 3.
func givens(a, b float64) (c, s, r float64) {
	xa, xb := math.Abs(a), math.Abs(b)
	switch {
	case xa > xb:
		t := b / a
		y := math.Sqrt(1 + t*t)
		c = math.Copysign(1/y, a)
		s = c * t
		r = xa * y
	case xb > 0:
		t := a / b
		y := math.Sqrt(1 + t*t)
		s = math.Copysign(1/y, b)
		c = s * t
		r = xb * y
	default:
		s = 1
	}
	return
}

// rotate applies the rotation computed by givens to the pair (x, y).
func rotate(c, s, x, y float64) (float64, float64) {
	return c*x + s*y, -s*x + c*y
}
