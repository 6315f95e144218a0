// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

// A Policy is the pair of questions the retry middleware asks once an
// attempt settles: should the request be sent again (Decider), and how
// long should the next attempt be delayed (Waiter). The delay becomes
// request.Options.Delay of the next attempt, so the transfer scheduler
// holds the attempt in its queue instead of blocking a goroutine.
//
// Policies are shared by every request sent through a stack and must
// be safe for concurrent use.
//
// Build one with NewPolicy, or use DefaultPolicy or Never. A Policy is
// installed with middleware.Retry(p, p), through Client.RetryPolicy, or
// from the retry section of a config file.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy retries up to DefaultTimes times on 500 and 503
// responses and on transient transport errors, without waiting.
var DefaultPolicy Policy = policy{DefaultDecider, DefaultWaiter}

// Never never retries. Install it to keep the retry middleware in a
// stack while turning retries off.
var Never Policy = policy{Times(0), DefaultWaiter}

type policy struct {
	Decider
	Waiter
}

// NewPolicy pairs d and w into a Policy. Neither may be nil.
func NewPolicy(d Decider, w Waiter) Policy {
	switch {
	case d == nil:
		panic("httpflow/retry: nil decider")
	case w == nil:
		panic("httpflow/retry: nil waiter")
	}
	return policy{d, w}
}
