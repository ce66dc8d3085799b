// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
)

// Status is the terminal state of an SQP run.
type Status int

const (
	// Converged both primal and dual infeasibility meet their tolerances.
	Converged Status = iota
	// EvaluationFailed a problem function failed, panicked or returned a non-finite value.
	EvaluationFailed
	// QPFailed the QP subproblem kept failing after the Hessian resets were exhausted.
	QPFailed
	// LineSearchFailed no acceptable step was found even after a Hessian reset.
	LineSearchFailed
	// IterationCapExceeded the iteration limit was reached before convergence.
	IterationCapExceeded
	// StepTooSmall the accepted steps became too small without convergence.
	StepTooSmall
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "Converged"
	case EvaluationFailed:
		return "EvaluationFailed"
	case QPFailed:
		return "QPFailed"
	case LineSearchFailed:
		return "LineSearchFailed"
	case IterationCapExceeded:
		return "IterationCapExceeded"
	case StepTooSmall:
		return "StepTooSmall"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

var (
	ErrEvaluation   = errors.New("sqp: evaluation failed")
	ErrQP           = errors.New("sqp: qp subproblem failed")
	ErrLineSearch   = errors.New("sqp: line search exhausted")
	ErrIterationCap = errors.New("sqp: iteration cap exceeded")
	ErrStepTooSmall = errors.New("sqp: step too small")
)

// Err returns the sentinel error of the status, nil for Converged.
func (s Status) Err() error {
	switch s {
	case EvaluationFailed:
		return ErrEvaluation
	case QPFailed:
		return ErrQP
	case LineSearchFailed:
		return ErrLineSearch
	case IterationCapExceeded:
		return ErrIterationCap
	case StepTooSmall:
		return ErrStepTooSmall
	}
	return nil
}

// Failure describes an unsuccessful run.
// It matches the sentinel of its Status and its underlying cause with errors.Is.
type Failure struct {
	Status Status
	// Iteration index at which the run stopped.
	Iter int
	// The last committed iterate, never a partially updated one.
	X []float64
	// The most recent committed iterate whose primal infeasibility met the tolerance, nil if none.
	LastFeasible []float64
	// Infeasibility measures of X.
	PrInf, DuInf float64
	// The underlying cause, may be nil.
	Err error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("sqp: %s at iteration %d (pr_inf=%.3e, du_inf=%.3e)", f.Status, f.Iter, f.PrInf, f.DuInf)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, 2)
	if err := f.Status.Err(); err != nil {
		errs = append(errs, err)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}
