// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"time"

	"github.com/gogama/httpflow/request"
)

// A Policy chooses request.Options.Timeout for each attempt of a
// request. The timeout middleware asks it before every attempt,
// passing the Execution of the previous attempt, or an empty Execution
// before the first one. The transfer scheduler then ends the attempt
// once the timeout elapses, and the attempt fails with a timeout error
// which the retry middleware may retry.
//
// Policies are shared by every request sent through a stack and must
// be safe for concurrent use.
type Policy interface {
	// Timeout returns the timeout of the next attempt. A result for
	// which None reports true leaves the attempt without a timeout.
	Timeout(e *request.Execution) time.Duration
}

// DefaultPolicy gives every attempt 5 seconds.
var DefaultPolicy Policy = Fixed(5 * time.Second)

// Infinite never times out.
var Infinite Policy = Fixed(1<<63 - 1)

// Fixed gives every attempt the timeout d.
func Fixed(d time.Duration) Policy {
	return &adaptive{usual: d}
}

// Adaptive gives attempts the timeout usual, unless the previous
// attempt timed out. Then the n-th attempt timeout of the request,
// counting from one, selects after[n-1], and the last element of after
// once they run out.
//
// A short usual timeout cures one-off slow responses by retrying
// quickly, while the longer values of after keep a burst of slowness
// from turning into a retry storm. For example, with
//
//	p := Adaptive(200*time.Millisecond, time.Second, 10*time.Second)
//
// attempts get 200ms, an attempt following the first timeout gets 1s,
// and any attempt following a later timeout gets 10s.
func Adaptive(usual time.Duration, after ...time.Duration) Policy {
	return &adaptive{usual: usual, after: append([]time.Duration(nil), after...)}
}

// None reports whether d, as returned by a Policy, means no timeout.
func None(d time.Duration) bool {
	return d <= 0 || d == 1<<63-1
}

type adaptive struct {
	usual time.Duration
	after []time.Duration
}

func (p *adaptive) Timeout(e *request.Execution) time.Duration {
	if e == nil || !e.Timeout() || len(p.after) == 0 {
		return p.usual
	}
	i := e.AttemptTimeouts - 1
	switch {
	case i < 0:
		return p.usual
	case i >= len(p.after):
		i = len(p.after) - 1
	}
	return p.after[i]
}
