// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sqprun solves the built-in test problems with the SQP method.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/curioloop/sqpmethod/problem"
	"github.com/curioloop/sqpmethod/sqp"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	logLevel   string
	exact      bool
}

func (o *options) config() (sqp.Config, error) {
	cfg := sqp.DefaultConfig()
	if o.configPath != "" {
		f, err := os.Open(o.configPath)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if cfg, err = sqp.LoadConfig(f); err != nil {
			return cfg, fmt.Errorf("%s: %w", o.configPath, err)
		}
	}
	if o.exact {
		cfg.ExactHessian = true
	}
	return cfg, nil
}

func (o *options) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func lookup(name string) (problem.Case, error) {
	c, ok := problem.Lookup(name)
	if !ok {
		return c, fmt.Errorf("unknown problem %q, see 'sqprun list'", name)
	}
	return c, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sqprun",
		Short:         "Solve constrained nonlinear test problems with SQP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML file with solver options")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.exact, "exact", false, "use the exact Lagrangian Hessian")

	root.AddCommand(newSolveCmd(opts), newBenchCmd(opts), newListCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
