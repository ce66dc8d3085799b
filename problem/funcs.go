// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problem adapts plain functions to sqp.Evaluator and provides
// a set of classic test problems.
package problem

import (
	"errors"

	"github.com/curioloop/sqpmethod/sqp"
	"gonum.org/v1/gonum/mat"
)

var errMissing = errors.New("problem: function not provided")

// Funcs builds an sqp.Evaluator from closures.
// G and Jac may be nil for unconstrained problems.
type Funcs struct {
	F    func(x []float64) float64
	Grad func(x, grad []float64)
	G    func(x, g []float64)
	Jac  func(x []float64, jac *mat.Dense)
}

func (p *Funcs) Objective(x []float64) (float64, error) {
	if p.F == nil {
		return 0, errMissing
	}
	return p.F(x), nil
}

func (p *Funcs) ObjectiveGradient(x, grad []float64) error {
	if p.Grad == nil {
		return errMissing
	}
	p.Grad(x, grad)
	return nil
}

func (p *Funcs) Constraints(x, g []float64) error {
	if p.G == nil {
		return errMissing
	}
	p.G(x, g)
	return nil
}

func (p *Funcs) ConstraintJacobian(x []float64, jac *mat.Dense) error {
	if p.Jac == nil {
		return errMissing
	}
	jac.Zero()
	p.Jac(x, jac)
	return nil
}

// Hessian equips an evaluator with the Hessian of its Lagrangian.
type Hessian struct {
	sqp.Evaluator
	// H stores 𝛔𝜵²𝒇(𝐱) + ∑𝛌ⱼ𝜵²𝒈ⱼ(𝐱) into the zeroed h.
	H func(x, lamG []float64, sigma float64, h *mat.SymDense)
}

func (p *Hessian) LagrangianHessian(x, lamG []float64, sigma float64, h *mat.SymDense) error {
	if p.H == nil {
		return errMissing
	}
	h.Zero()
	p.H(x, lamG, sigma, h)
	return nil
}

// Quadratic is ½𝐱ᵀ𝐐𝐱 + 𝐜ᵀ𝐱 subject to linear constraints 𝐀𝐱, A is nil when unconstrained.
type Quadratic struct {
	Q *mat.SymDense
	C []float64
	A *mat.Dense
}

func (p *Quadratic) Objective(x []float64) (float64, error) {
	xv := mat.NewVecDense(len(x), x)
	return 0.5*mat.Inner(xv, p.Q, xv) + mat.Dot(mat.NewVecDense(len(p.C), p.C), xv), nil
}

func (p *Quadratic) ObjectiveGradient(x, grad []float64) error {
	gv := mat.NewVecDense(len(grad), grad)
	gv.MulVec(p.Q, mat.NewVecDense(len(x), x))
	gv.AddVec(gv, mat.NewVecDense(len(p.C), p.C))
	return nil
}

func (p *Quadratic) Constraints(x, g []float64) error {
	if p.A == nil {
		return errMissing
	}
	gv := mat.NewVecDense(len(g), g)
	gv.MulVec(p.A, mat.NewVecDense(len(x), x))
	return nil
}

func (p *Quadratic) ConstraintJacobian(_ []float64, jac *mat.Dense) error {
	if p.A == nil {
		return errMissing
	}
	jac.Copy(p.A)
	return nil
}

func (p *Quadratic) LagrangianHessian(_, _ []float64, sigma float64, h *mat.SymDense) error {
	h.ScaleSym(sigma, p.Q)
	return nil
}
