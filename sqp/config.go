// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"errors"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable options of the SQP method.
// A Config is copied into the Optimizer by Problem.New and never mutated afterwards.
type Config struct {
	// The iteration stop when the number of iteration exceeds limit.
	MaxIter int `yaml:"max_iter"`
	// The maximum number of line-search trials per iteration.
	MaxIterLS int `yaml:"max_iter_ls"`
	// Stopping tolerance on the primal infeasibility.
	TolPr float64 `yaml:"tol_pr"`
	// Stopping tolerance on the dual infeasibility ‖𝜵ℒ‖∞.
	TolDu float64 `yaml:"tol_du"`
	// The minimum step length of line-search and the threshold of a too small step ‖𝛂𝐝‖∞.
	MinStepSize float64 `yaml:"min_step_size"`
	// The number of secant pairs retained by the quasi-Newton approximation.
	LBFGSMemory int `yaml:"lbfgs_memory"`
	// Use the exact Hessian of the Lagrangian instead of a quasi-Newton approximation.
	ExactHessian bool `yaml:"exact_hessian"`
	// Initial penalty weight of the L1 merit function.
	Sigma float64 `yaml:"sigma"`
	// Armijo sufficient decrease constant.
	C1 float64 `yaml:"c1"`
	// Step reduction factor of the backtracking line-search.
	Beta float64 `yaml:"beta"`
	// Length of the merit history of the non-monotone line-search.
	MeritMemsize int `yaml:"merit_memsize"`
	// Apply the Gershgorin regularization to the QP Hessian.
	Regularize bool `yaml:"regularize"`
	// Lower Gershgorin bound enforced on a regularized Hessian.
	Reg float64 `yaml:"reg"`
	// Consecutive Hessian resets tolerated when the QP subproblem fails.
	MaxHessianResets int `yaml:"max_hessian_resets"`
	// Relative curvature threshold ε: a secant pair is skipped when 𝐬ᵀ𝐲 ≤ ε‖𝐬‖‖𝐲‖.
	CurvatureEps float64 `yaml:"curvature_eps"`
}

// DefaultConfig returns the default options.
func DefaultConfig() Config {
	return Config{
		MaxIter:          50,
		MaxIterLS:        3,
		TolPr:            1e-6,
		TolDu:            1e-6,
		MinStepSize:      1e-10,
		LBFGSMemory:      10,
		Sigma:            0,
		C1:               1e-4,
		Beta:             0.8,
		MeritMemsize:     4,
		Regularize:       true,
		Reg:              1e-6,
		MaxHessianResets: 3,
		CurvatureEps:     1e-8,
	}
}

// Validate reports the first invalid option.
func (c *Config) Validate() (err error) {
	finite := func(v float64) bool {
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	switch {
	case c.MaxIter < 0:
		err = errors.New("max iteration must not less than 0")
	case c.MaxIterLS <= 0:
		err = errors.New("max line-search iteration must greater than 0")
	case !finite(c.TolPr) || c.TolPr < 0:
		err = errors.New("primal tolerance must not less than 0")
	case !finite(c.TolDu) || c.TolDu < 0:
		err = errors.New("dual tolerance must not less than 0")
	case !finite(c.MinStepSize) || c.MinStepSize <= 0 || c.MinStepSize > 1:
		err = errors.New("min step size must in (0, 1]")
	case c.LBFGSMemory <= 0:
		err = errors.New("lbfgs memory must greater than 0")
	case !finite(c.Sigma) || c.Sigma < 0:
		err = errors.New("sigma must not less than 0")
	case !finite(c.C1) || c.C1 <= 0 || c.C1 >= 1:
		err = errors.New("c1 must in (0, 1)")
	case !finite(c.Beta) || c.Beta <= 0 || c.Beta >= 1:
		err = errors.New("beta must in (0, 1)")
	case c.MeritMemsize <= 0:
		err = errors.New("merit memory size must greater than 0")
	case !finite(c.Reg) || c.Reg <= 0:
		err = errors.New("regularization must greater than 0")
	case c.MaxHessianResets < 0:
		err = errors.New("max hessian resets must not less than 0")
	case !finite(c.CurvatureEps) || c.CurvatureEps < 0:
		err = errors.New("curvature epsilon must not less than 0")
	}
	return
}

// LoadConfig decodes a YAML document on top of DefaultConfig and validates the result.
// Unknown keys are rejected and an empty document yields the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
