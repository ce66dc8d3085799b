// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/curioloop/sqpmethod/problem"
	"github.com/curioloop/sqpmethod/sqp"
	"github.com/spf13/cobra"
)

func newSolveCmd(opts *options) *cobra.Command {
	var (
		x0     []float64
		fdGrad bool
		fd     bool
		quiet  bool
		method string
	)
	cmd := &cobra.Command{
		Use:   "solve <problem>",
		Short: "Solve one problem and print the iteration table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := lookup(args[0])
			if err != nil {
				return err
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if x0 == nil {
				x0 = c.X0
			} else if len(x0) != c.N {
				return fmt.Errorf("initial point needs %d values, got %d", c.N, len(x0))
			}

			var m problem.Method
			switch method {
			case "forward":
				m = problem.Forward
			case "central":
				m = problem.Central
			default:
				return fmt.Errorf("unknown finite difference method %q", method)
			}

			prob := c.Problem(cfg)
			prob.Logger = logger
			if fdGrad {
				prob.Eval = problem.Differentiate(prob.Eval, c.N, c.M, m, c.LBX, c.UBX)
			}
			if fd {
				prob.Eval = &problem.FDHessian{
					Evaluator: prob.Eval,
					N:         c.N, M: c.M,
					Method: m,
					LBX:    c.LBX, UBX: c.UBX,
				}
			}

			out := sqp.NewPrinter(cmd.OutOrStdout())
			if !quiet {
				prob.Callback = out.Print
			}

			o, err := prob.New()
			if err != nil {
				return err
			}
			res := o.Fit(x0, o.Init())
			out.Summary(res)
			fmt.Fprintf(cmd.OutOrStdout(), " x: %.10g\n", res.X)
			if err := out.Err(); err != nil {
				return err
			}
			return res.Err
		},
	}
	cmd.Flags().Float64SliceVar(&x0, "x0", nil, "initial point, defaults to the problem's")
	cmd.Flags().BoolVar(&fdGrad, "fd", false, "estimate the gradient and the constraint Jacobian by finite differences")
	cmd.Flags().BoolVar(&fd, "fd-hessian", false, "estimate the exact Hessian by finite differences")
	cmd.Flags().StringVar(&method, "fd-method", "central", "finite difference method (forward, central)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the summary")
	return cmd
}
