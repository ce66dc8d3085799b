// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"fmt"
	"io"
	"math"
	"time"
)

// Record describes one iteration.
// The record of iteration k reports the iterate after k committed steps
// together with the step, regularization and line-search that produced it.
// A failed line-search is reported by an extra record of the same Iter
// with LSSuccess false and a zero StepNorm.
type Record struct {
	Iter      int
	Objective float64
	PrInf     float64 // primal infeasibility
	DuInf     float64 // dual infeasibility
	StepNorm  float64 // ‖𝛂𝐝‖∞
	Reg       float64 // regularization shift
	LSTrials  int     // line-search trials
	LSSuccess bool
}

// Printer renders records as an iteration table.
type Printer struct {
	w    io.Writer
	rows int
	err  error
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes one row, the header is repeated every 10 rows.
// It has the signature of Problem.Callback.
func (p *Printer) Print(r Record) {
	if p.err != nil {
		return
	}
	if p.rows%10 == 0 {
		p.printf("%4s %14s %9s %9s %9s %7s %2s\n",
			"iter", "objective", "inf_pr", "inf_du", "||d||", "lg(rg)", "ls")
	}
	p.rows++

	rg := "-"
	if r.Reg > 0 {
		rg = fmt.Sprintf("%.2f", math.Log10(r.Reg))
	}
	flag := ' '
	if !r.LSSuccess {
		flag = 'F'
	}
	p.printf("%4d %14.6e %9.2e %9.2e %9.2e %7s %2d%c\n",
		r.Iter, r.Objective, r.PrInf, r.DuInf, r.StepNorm, rg, r.LSTrials, flag)
}

// Summary writes the final status and the call statistics of res.
func (p *Printer) Summary(res *Result) {
	if p.err != nil {
		return
	}
	p.printf("\n status: %s after %d iterations (%d resets, %d skipped updates)\n",
		res.Status, res.NumIter, res.NumResets, res.NumSkipped)
	p.printf(" objective: %.12e  inf_pr: %.2e  inf_du: %.2e\n\n", res.F, res.PrInf, res.DuInf)
	p.printf(" %-12s %8s %12s %12s\n", "kind", "calls", "total", "per call")
	res.Diagnostics.Each(func(k Kind, s Stat) {
		if s.Calls == 0 {
			return
		}
		p.printf(" %-12s %8d %12s %12s\n", k, s.Calls,
			formatDuration(s.Elapsed), formatDuration(s.Elapsed/time.Duration(s.Calls)))
	})
}

// Err returns the first write error.
func (p *Printer) Err() error { return p.err }

func (p *Printer) printf(format string, a ...any) {
	if p.err == nil {
		_, p.err = fmt.Fprintf(p.w, format, a...)
	}
}

func formatDuration(d time.Duration) string {
	ns := d.Nanoseconds()
	switch {
	case ns >= 1e9: // Convert to seconds
		return fmt.Sprintf("%.2f s", float64(ns)/1e9)
	case ns >= 1e6: // Convert to milliseconds
		return fmt.Sprintf("%.2f ms", float64(ns)/1e6)
	case ns >= 1e3: // Convert to microseconds
		return fmt.Sprintf("%.2f µs", float64(ns)/1e3)
	default: // Keep in nanoseconds
		return fmt.Sprintf("%d ns", ns)
	}
}
