// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"errors"
	"math"

	"github.com/curioloop/sqpmethod/sqp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
	cubeEps = math.Cbrt(math.Nextafter(1, 2) - 1)
)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use central difference in interior points and the second order accuracy
	// forward or backward difference near the boundary.
	Central
)

// stepper holds the step rule and the buffers of one finite difference estimation.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
type stepper struct {
	method   Method
	rel, abs float64
	lb, ub   []float64

	h       []float64
	oneSide []bool
	f0, fx  []float64
}

func (s *stepper) prepare(n, m int) {
	if len(s.h) != n {
		s.h = make([]float64, n)
		s.oneSide = make([]bool, n)
	}
	if len(s.f0) != m {
		s.f0 = make([]float64, m)
		s.fx = make([]float64, 2*m)
	}
}

// absoluteStep sets h = rel·sign(x)·max(1,|x|) unless an explicit step is usable.
func (s *stepper) absoluteStep(x0 []float64) {
	eps := sqrtEps
	if s.method == Central {
		eps = cubeEps
	}
	for i, v := range x0 {
		h := s.abs
		if h == 0 && s.rel != 0 {
			h = math.Copysign(s.rel, v) * math.Abs(v)
		}
		if h == 0 || (v+h)-v == 0 {
			h = math.Copysign(eps, v) * math.Max(1, math.Abs(v))
		}
		s.h[i] = h
	}
}

// adjustToBounds keeps every evaluation point inside the bounds.
// A coordinate outside its bounds is left untouched.
func (s *stepper) adjustToBounds(x0 []float64) {
	h, o := s.h, s.oneSide
	if s.method == Central {
		for i := range h {
			h[i] = math.Abs(h[i])
			o[i] = false
		}
	}
	if s.lb == nil && s.ub == nil {
		return
	}

	for i, x := range x0 {
		lb, ub := math.Inf(-1), math.Inf(1)
		if s.lb != nil {
			lb = s.lb[i]
		}
		if s.ub != nil {
			ub = s.ub[i]
		}
		ld, ud := x-lb, ub-x
		if ld < 0 || ud < 0 {
			continue
		}

		if s.method == Forward {
			fitting := math.Abs(h[i]) < math.Max(ld, ud)
			switch t := x + h[i]; {
			case fitting && (t < lb || t > ub):
				h[i] = -h[i]
			case !fitting && ud >= ld:
				h[i] = ud
			case !fitting:
				h[i] = -ld
			}
			continue
		}

		central := ld >= h[i] && ud >= h[i]
		if !central {
			if ud >= ld {
				h[i] = math.Min(h[i], 0.5*ud)
			} else {
				h[i] = -math.Min(h[i], 0.5*ld)
			}
			o[i] = true
			if minDist := math.Min(ud, ld); math.Abs(h[i]) <= minDist {
				h[i], o[i] = minDist, false
			}
		}
	}
}

// jacobian estimates ∂yⱼ/∂xᵢ of fun: ℝⁿ → ℝᵐ at x0 and passes each entry to set.
// The coordinates of x0 are perturbed in place and restored before returning.
func (s *stepper) jacobian(x0 []float64, m int, fun func(x, y []float64) error, set func(j, i int, v float64)) error {
	s.prepare(len(x0), m)
	s.absoluteStep(x0)
	s.adjustToBounds(x0)

	f0, f1, f2 := s.f0, s.fx[:m], s.fx[m:]
	if err := fun(x0, f0); err != nil {
		return err
	}

	for i, h := range s.h {
		x := x0[i]
		switch {
		case s.method == Forward:
			x0[i] = x + h
			err := fun(x0, f1)
			x0[i] = x
			if err != nil {
				return err
			}
			for j := range f0 {
				set(j, i, (f1[j]-f0[j])/h)
			}
		case s.oneSide[i]:
			x0[i] = x + h
			err := fun(x0, f1)
			if err == nil {
				x0[i] = x + 2*h
				err = fun(x0, f2)
			}
			x0[i] = x
			if err != nil {
				return err
			}
			for j := range f0 {
				set(j, i, (4*f1[j]-3*f0[j]-f2[j])/(2*h))
			}
		default:
			x0[i] = x - h
			err := fun(x0, f1)
			if err == nil {
				x0[i] = x + h
				err = fun(x0, f2)
			}
			x0[i] = x
			if err != nil {
				return err
			}
			for j := range f0 {
				set(j, i, (f2[j]-f1[j])/(2*h))
			}
		}
	}
	return nil
}

// FiniteDiff is an sqp.Evaluator that estimates the derivatives of F and G by finite differences.
// Steps are kept inside LBX and UBX so the functions are never evaluated outside the box.
// A FiniteDiff owns scratch buffers and must not be shared by concurrent runs.
type FiniteDiff struct {
	N, M int
	// Objective and constraint functions, G may be nil when M = 0.
	F func(x []float64) float64
	G func(x, g []float64)
	// Finite difference method to use.
	Method Method
	// Optional bounds limiting the range of function evaluation.
	LBX, UBX []float64
	// Relative step size, the absolute step is h = RelStep·sign(x)·|x|.
	// The step is selected automatically when both RelStep and AbsStep are zero.
	RelStep float64
	// Absolute step size, preferred over RelStep.
	AbsStep float64

	st stepper
	x  []float64
}

// Check validates the dimensions of the adapter.
func (p *FiniteDiff) Check() error {
	switch {
	case p.N <= 0 || p.M < 0:
		return errors.New("negative dimensions")
	case p.Method != Forward && p.Method != Central:
		return errors.New("unknown method")
	case p.F == nil:
		return errors.New("object function is required")
	case p.M > 0 && p.G == nil:
		return errors.New("constraint function is required")
	case p.LBX != nil && len(p.LBX) != p.N, p.UBX != nil && len(p.UBX) != p.N:
		return errors.New("invalid bound dimension")
	}
	return nil
}

func (p *FiniteDiff) steps() *stepper {
	p.st.method, p.st.rel, p.st.abs = p.Method, p.RelStep, p.AbsStep
	p.st.lb, p.st.ub = p.LBX, p.UBX
	if len(p.x) != p.N {
		p.x = make([]float64, p.N)
	}
	return &p.st
}

func (p *FiniteDiff) Objective(x []float64) (float64, error) {
	if p.F == nil {
		return 0, errMissing
	}
	return p.F(x), nil
}

func (p *FiniteDiff) ObjectiveGradient(x, grad []float64) error {
	if err := p.Check(); err != nil {
		return err
	}
	s := p.steps()
	copy(p.x, x)
	return s.jacobian(p.x, 1, func(x, y []float64) error {
		y[0] = p.F(x)
		return nil
	}, func(_, i int, v float64) {
		grad[i] = v
	})
}

func (p *FiniteDiff) Constraints(x, g []float64) error {
	if p.G == nil {
		return errMissing
	}
	p.G(x, g)
	return nil
}

func (p *FiniteDiff) ConstraintJacobian(x []float64, jac *mat.Dense) error {
	if err := p.Check(); err != nil {
		return err
	}
	s := p.steps()
	copy(p.x, x)
	return s.jacobian(p.x, p.M, func(x, y []float64) error {
		p.G(x, y)
		return nil
	}, jac.Set)
}

// Differentiate replaces the first derivatives of ev by finite differences of its
// objective and constraints. A failing evaluation yields NaN which the optimizer rejects.
// The Lagrangian Hessian of ev is kept when ev provides one.
func Differentiate(ev sqp.Evaluator, n, m int, method Method, lbx, ubx []float64) sqp.Evaluator {
	fd := &FiniteDiff{
		N: n, M: m,
		F: func(x []float64) float64 {
			f, err := ev.Objective(x)
			if err != nil {
				return math.NaN()
			}
			return f
		},
		Method: method,
		LBX:    lbx, UBX: ubx,
	}
	if m > 0 {
		fd.G = func(x, g []float64) {
			if err := ev.Constraints(x, g); err != nil {
				for j := range g {
					g[j] = math.NaN()
				}
			}
		}
	}
	if h, ok := ev.(sqp.HessianEvaluator); ok {
		return &exactFiniteDiff{FiniteDiff: fd, hess: h}
	}
	return fd
}

type exactFiniteDiff struct {
	*FiniteDiff
	hess sqp.HessianEvaluator
}

func (p *exactFiniteDiff) LagrangianHessian(x, lamG []float64, sigma float64, h *mat.SymDense) error {
	return p.hess.LagrangianHessian(x, lamG, sigma, h)
}

// FDHessian equips an evaluator with a Lagrangian Hessian estimated by
// differencing its analytic Lagrangian gradient 𝛔𝜵𝒇(𝐱) + 𝜵𝒈(𝐱)ᵀ𝛌.
// The estimate is symmetrized. An FDHessian must not be shared by concurrent runs.
type FDHessian struct {
	sqp.Evaluator
	N, M   int
	Method Method
	// Optional bounds limiting the range of function evaluation.
	LBX, UBX []float64

	st   stepper
	x    []float64
	grad []float64
	jac  *mat.Dense
	d    *mat.Dense
}

func (p *FDHessian) LagrangianHessian(x, lamG []float64, sigma float64, h *mat.SymDense) error {
	n, m := p.N, p.M
	if len(x) != n || len(lamG) != m {
		return errors.New("invalid dimensions")
	}
	if p.d == nil {
		p.x = make([]float64, n)
		p.grad = make([]float64, n)
		p.d = mat.NewDense(n, n, nil)
		if m > 0 {
			p.jac = mat.NewDense(m, n, nil)
		}
	}
	p.st.method, p.st.lb, p.st.ub = p.Method, p.LBX, p.UBX

	copy(p.x, x)
	err := p.st.jacobian(p.x, n, func(x, y []float64) error {
		if err := p.ObjectiveGradient(x, p.grad); err != nil {
			return err
		}
		floats.ScaleTo(y, sigma, p.grad)
		if m == 0 {
			return nil
		}
		if err := p.ConstraintJacobian(x, p.jac); err != nil {
			return err
		}
		for j, l := range lamG {
			floats.AddScaled(y, l, p.jac.RawRowView(j))
		}
		return nil
	}, p.d.Set)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			h.SetSym(i, j, 0.5*(p.d.At(i, j)+p.d.At(j, i)))
		}
	}
	return nil
}
