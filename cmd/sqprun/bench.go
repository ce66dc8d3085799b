// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/curioloop/sqpmethod/problem"
	"github.com/curioloop/sqpmethod/sqp"
	"github.com/curioloop/sqpmethod/sqpmetrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchRow struct {
	name    string
	res     *sqp.Result
	elapsed time.Duration
}

func newBenchCmd(opts *options) *cobra.Command {
	var (
		repeat   int
		parallel int
		metrics  bool
	)
	cmd := &cobra.Command{
		Use:   "bench [problem...]",
		Short: "Solve problems concurrently and report the outcome of each run",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case repeat <= 0:
				return errors.New("repeat must greater than 0")
			case parallel <= 0:
				return errors.New("parallel must greater than 0")
			}
			cases := problem.Cases()
			if len(args) > 0 {
				cases = cases[:0]
				for _, name := range args {
					c, err := lookup(name)
					if err != nil {
						return err
					}
					cases = append(cases, c)
				}
			}
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			col := sqpmetrics.New(reg)

			rows := make([]benchRow, len(cases)*repeat)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(parallel)
			for k := range rows {
				c := cases[k%len(cases)]
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					prob := c.Problem(cfg)
					prob.Logger = logger.With("problem", c.Name)
					o, err := prob.New()
					if err != nil {
						return fmt.Errorf("%s: %w", c.Name, err)
					}
					t0 := time.Now()
					res := o.Fit(c.X0, o.Init())
					rows[k] = benchRow{name: c.Name, res: res, elapsed: time.Since(t0)}
					col.Observe(res)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			failed := printBench(w, rows)
			if metrics {
				if err := writeMetrics(w, reg); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs did not converge", failed, len(rows))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&repeat, "repeat", "r", 1, "runs per problem")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", runtime.GOMAXPROCS(0), "maximum concurrent runs")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print the collected metrics in Prometheus text format")
	return cmd
}

func printBench(w io.Writer, rows []benchRow) (failed int) {
	fmt.Fprintf(w, "%-12s %-20s %5s %18s %9s %10s\n", "problem", "status", "iter", "objective", "inf_pr", "time")
	for _, r := range rows {
		if !r.res.OK {
			failed++
		}
		fmt.Fprintf(w, "%-12s %-20s %5d %18.10e %9.2e %10s\n",
			r.name, r.res.Status, r.res.NumIter, r.res.F, r.res.PrInf, r.elapsed.Round(time.Microsecond))
	}
	return
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
