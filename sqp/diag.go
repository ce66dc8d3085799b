// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqp

import (
	"fmt"
	"time"
)

// Kind identifies a timed category of work.
type Kind int

const (
	KindObjective Kind = iota
	KindGradient
	KindConstraints
	KindJacobian
	KindHessian
	KindQP
	KindLineSearch
	KindCallback
	// KindMainLoop covers a whole Fit call.
	KindMainLoop
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindObjective:
		return "objective"
	case KindGradient:
		return "gradient"
	case KindConstraints:
		return "constraints"
	case KindJacobian:
		return "jacobian"
	case KindHessian:
		return "hessian"
	case KindQP:
		return "qp"
	case KindLineSearch:
		return "linesearch"
	case KindCallback:
		return "callback"
	case KindMainLoop:
		return "mainloop"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Stat accumulates the calls and the wall time of one Kind.
type Stat struct {
	Calls   int
	Elapsed time.Duration
}

// Diagnostics holds the per-kind statistics of a Workspace.
// Counters only grow until Workspace.ResetDiagnostics is called.
type Diagnostics struct {
	stats [numKinds]Stat
}

// Stat returns the statistics of kind k.
func (d Diagnostics) Stat(k Kind) Stat {
	if k < 0 || k >= numKinds {
		return Stat{}
	}
	return d.stats[k]
}

// Each calls fn for every kind in declaration order.
func (d Diagnostics) Each(fn func(Kind, Stat)) {
	for k := Kind(0); k < numKinds; k++ {
		fn(k, d.stats[k])
	}
}

func (d *Diagnostics) record(k Kind, start time.Time) {
	s := &d.stats[k]
	s.Calls++
	s.Elapsed += time.Since(start)
}

func (d *Diagnostics) reset() {
	d.stats = [numKinds]Stat{}
}
