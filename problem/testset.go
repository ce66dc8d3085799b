// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"math"
	"slices"

	"github.com/curioloop/sqpmethod/sqp"
	"gonum.org/v1/gonum/mat"
)

// Case is a test problem with a known solution.
type Case struct {
	Name string
	N, M int
	// New returns a fresh evaluator providing the exact Lagrangian Hessian.
	New func() sqp.Evaluator
	X0  []float64
	// Bounds, nil means unbounded.
	LBX, UBX []float64
	LBG, UBG []float64
	// Known solution.
	WantX []float64
	WantF float64
}

// Problem assembles the sqp.Problem of the case with the given options.
func (c *Case) Problem(cfg sqp.Config) sqp.Problem {
	return sqp.Problem{
		N: c.N, M: c.M,
		Eval: c.New(),
		LBX:  slices.Clone(c.LBX), UBX: slices.Clone(c.UBX),
		LBG: slices.Clone(c.LBG), UBG: slices.Clone(c.UBG),
		Config: cfg,
	}
}

// Cases returns the built-in test problems.
func Cases() []Case {
	return []Case{scenario(), rosenbrock(), basic(), hs071()}
}

// Lookup returns the test problem with the given name.
func Lookup(name string) (Case, bool) {
	for _, c := range Cases() {
		if c.Name == name {
			return c, true
		}
	}
	return Case{}, false
}

func repeat(v float64, n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// (x₁-2)² + (x₂-1)² s.t. x₁+x₂ ≤ 2
func scenario() Case {
	return Case{
		Name: "scenario",
		N:    2, M: 1,
		New: func() sqp.Evaluator {
			return &Hessian{
				Evaluator: &Funcs{
					F: func(x []float64) float64 {
						return (x[0]-2)*(x[0]-2) + (x[1]-1)*(x[1]-1)
					},
					Grad: func(x, d []float64) {
						d[0], d[1] = 2*(x[0]-2), 2*(x[1]-1)
					},
					G: func(x, g []float64) { g[0] = x[0] + x[1] },
					Jac: func(_ []float64, jac *mat.Dense) {
						jac.Set(0, 0, 1)
						jac.Set(0, 1, 1)
					},
				},
				H: func(_, _ []float64, sigma float64, h *mat.SymDense) {
					h.SetSym(0, 0, 2*sigma)
					h.SetSym(1, 1, 2*sigma)
				},
			}
		},
		X0:    []float64{0, 0},
		UBG:   []float64{2},
		WantX: []float64{1.5, 0.5},
		WantF: 0.5,
	}
}

// Case Sources : https://github.com/jacobwilliams/slsqp/blob/master/test/slsqp_test.f90
func rosenbrock() Case {
	return Case{
		Name: "rosenbrock",
		N:    2, M: 1,
		New: func() sqp.Evaluator {
			return &Hessian{
				Evaluator: &Funcs{
					F: func(x []float64) float64 {
						return 100*math.Pow(x[1]-x[0]*x[0], 2) + math.Pow(1-x[0], 2)
					},
					Grad: func(x, d []float64) {
						d[0] = -400*(x[1]-x[0]*x[0])*x[0] - 2*(1-x[0])
						d[1] = 200 * (x[1] - x[0]*x[0])
					},
					G: func(x, g []float64) { g[0] = x[0]*x[0] + x[1]*x[1] },
					Jac: func(x []float64, jac *mat.Dense) {
						jac.Set(0, 0, 2*x[0])
						jac.Set(0, 1, 2*x[1])
					},
				},
				H: func(x, lam []float64, sigma float64, h *mat.SymDense) {
					h.SetSym(0, 0, sigma*(1200*x[0]*x[0]-400*x[1]+2)+2*lam[0])
					h.SetSym(0, 1, sigma*(-400*x[0]))
					h.SetSym(1, 1, sigma*200+2*lam[0])
				},
			}
		},
		X0:    []float64{0.1, 0.1},
		LBX:   []float64{-1, -1},
		UBX:   []float64{1, 1},
		UBG:   []float64{1},
		WantX: []float64{0.7864151509718389, 0.6176983165954114},
		WantF: 0.0456748087191604,
	}
}

// Case Sources : https://github.com/jacobwilliams/slsqp/blob/master/test/slsqp_test_2.f90
func basic() Case {
	return Case{
		Name: "basic",
		N:    3, M: 2,
		New: func() sqp.Evaluator {
			return &Hessian{
				Evaluator: &Funcs{
					F: func(x []float64) float64 {
						return x[0]*x[0] + x[1]*x[1] + x[2]
					},
					Grad: func(x, d []float64) {
						d[0], d[1], d[2] = 2*x[0], 2*x[1], 1
					},
					G: func(x, g []float64) {
						g[0] = x[0]*x[1] - x[2]
						g[1] = x[2]
					},
					Jac: func(x []float64, jac *mat.Dense) {
						jac.SetRow(0, []float64{x[1], x[0], -1})
						jac.SetRow(1, []float64{0, 0, 1})
					},
				},
				H: func(_, lam []float64, sigma float64, h *mat.SymDense) {
					h.SetSym(0, 0, 2*sigma)
					h.SetSym(1, 1, 2*sigma)
					h.SetSym(0, 1, lam[0])
				},
			}
		},
		X0:    []float64{1, 2, 3},
		LBX:   repeat(-10, 3),
		UBX:   repeat(10, 3),
		LBG:   []float64{0, 1},
		UBG:   []float64{0, math.Inf(1)},
		WantX: []float64{1, 1, 1},
		WantF: 3,
	}
}

// Case Sources : https://github.com/jacobwilliams/slsqp/blob/master/test/slsqp_test_71.f90
func hs071() Case {
	return Case{
		Name: "hs071",
		N:    5, M: 2,
		New: func() sqp.Evaluator {
			return &Hessian{
				Evaluator: &Funcs{
					F: func(x []float64) float64 {
						return x[0]*x[3]*(x[0]+x[1]+x[2]) + x[2]
					},
					Grad: func(x, d []float64) {
						d[0] = x[3] * (2*x[0] + x[1] + x[2])
						d[1] = x[0] * x[3]
						d[2] = x[0]*x[3] + 1
						d[3] = x[0] * (x[0] + x[1] + x[2])
						d[4] = 0
					},
					G: func(x, g []float64) {
						g[0] = x[0]*x[1]*x[2]*x[3] - x[4] - 25
						g[1] = x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3] - 40
					},
					Jac: func(x []float64, jac *mat.Dense) {
						jac.SetRow(0, []float64{x[1] * x[2] * x[3], x[0] * x[2] * x[3], x[0] * x[1] * x[3], x[0] * x[1] * x[2], -1})
						jac.SetRow(1, []float64{2 * x[0], 2 * x[1], 2 * x[2], 2 * x[3], 0})
					},
				},
				H: func(x, lam []float64, sigma float64, h *mat.SymDense) {
					l1, l2 := lam[0], lam[1]
					h.SetSym(0, 0, sigma*2*x[3]+2*l2)
					h.SetSym(0, 1, sigma*x[3]+l1*x[2]*x[3])
					h.SetSym(0, 2, sigma*x[3]+l1*x[1]*x[3])
					h.SetSym(0, 3, sigma*(2*x[0]+x[1]+x[2])+l1*x[1]*x[2])
					h.SetSym(1, 1, 2*l2)
					h.SetSym(1, 2, l1*x[0]*x[3])
					h.SetSym(1, 3, sigma*x[0]+l1*x[0]*x[2])
					h.SetSym(2, 2, 2*l2)
					h.SetSym(2, 3, sigma*x[0]+l1*x[0]*x[1])
					h.SetSym(3, 3, 2*l2)
				},
			}
		},
		X0:    []float64{1, 5, 5, 1, -24},
		LBX:   []float64{1, 1, 1, 1, 0},
		UBX:   []float64{5, 5, 5, 5, 1e10},
		LBG:   []float64{0, 0},
		UBG:   []float64{0, 0},
		WantX: []float64{1, 4.7429996586260321, 3.8211499562762130, 1.3794082970345380, 0},
		WantF: 17.0140172891520542,
	}
}
