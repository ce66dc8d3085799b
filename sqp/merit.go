// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"fmt"
	"math"
)

// MeritHistory is a fixed capacity FIFO of recent merit values.
// Pushing into a full history evicts the oldest value.
type MeritHistory struct {
	buf  []float64
	head int
	size int
}

// NewMeritHistory creates an empty history holding at most capacity values.
func NewMeritHistory(capacity int) *MeritHistory {
	if capacity <= 0 {
		panic("merit history capacity must greater than 0")
	}
	return &MeritHistory{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (h *MeritHistory) Push(v float64) {
	c := len(h.buf)
	if h.size < c {
		h.buf[(h.head+h.size)%c] = v
		h.size++
		return
	}
	h.buf[h.head] = v
	h.head = (h.head + 1) % c
}

// Max returns the largest retained value, -Inf when empty.
func (h *MeritHistory) Max() float64 {
	m := math.Inf(-1)
	for k := 0; k < h.size; k++ {
		m = math.Max(m, h.buf[(h.head+k)%len(h.buf)])
	}
	return m
}

// Len returns the number of retained values.
func (h *MeritHistory) Len() int { return h.size }

// Cap returns the capacity.
func (h *MeritHistory) Cap() int { return len(h.buf) }

// AppendTo appends the retained values to dst from the oldest to the newest.
func (h *MeritHistory) AppendTo(dst []float64) []float64 {
	for k := 0; k < h.size; k++ {
		dst = append(dst, h.buf[(h.head+k)%len(h.buf)])
	}
	return dst
}

// Clear drops every value.
func (h *MeritHistory) Clear() {
	h.head, h.size = 0, 0
}

// l1Merit evaluates the exact penalty function 𝟇(𝐱;𝛔) = 𝒇(𝐱) + 𝛔·𝑣𝑖𝑜(𝐱).
func l1Merit(f, sigma, prInf float64) float64 {
	return f + sigma*prInf
}

// lineSearch performs a non-monotone backtracking search on the merit function.
//
// Starting from 𝛂 = 1 the step shrinks by beta until
//
//	𝟇(𝐱ᵏ+𝛂𝐝) ≤ 𝚖𝚊𝚡[𝟇(𝐱ᵏ), 𝚖𝚊𝚡 𝐌] + c1·𝛂·𝐃
//
// where 𝐌 is the merit history and 𝐃 = 𝜵𝒇(𝐱ᵏ)ᵀ𝐝 - 𝛔·𝑣𝑖𝑜(𝐱ᵏ) estimates the directional derivative.
type lineSearch struct {
	c1, beta float64
	minStep  float64
	maxIter  int
}

// search returns the accepted step length and the number of trials.
// eval returns the merit value at 𝐱ᵏ+𝛂𝐝, a non-finite value rejects the trial
// while an error aborts the search. The accepted merit value is pushed into hist.
// When no step is accepted the last tried length is returned with ErrLineSearch.
func (ls *lineSearch) search(merit0, dir float64, hist *MeritHistory, eval func(alpha float64) (float64, error)) (alpha float64, trials int, err error) {
	ref := math.Max(merit0, hist.Max())
	for a := 1.0; trials < ls.maxIter && a >= ls.minStep; a *= ls.beta {
		trials++
		alpha = a
		m, err := eval(a)
		if err != nil {
			return alpha, trials, err
		}
		if !math.IsNaN(m) && !math.IsInf(m, 0) && m <= ref+ls.c1*a*dir {
			hist.Push(m)
			return alpha, trials, nil
		}
	}
	return alpha, trials, fmt.Errorf("%w: no acceptable step after %d trials", ErrLineSearch, trials)
}
