// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"time"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
	"github.com/gogama/httpflow/retry"
)

// executionKey is the Options key under which Retry stores the
// Execution of the previous attempt for middleware installed inside
// it.
type executionKey struct{}

// previous returns the Execution of the attempt preceding the one
// described by opts, or nil on the initial attempt.
func previous(opts *request.Options) *request.Execution {
	e, _ := opts.Value(executionKey{}).(*request.Execution)
	return e
}

// Retry returns middleware which retries requests according to
// decider and waiter.
//
// After every attempt settles, decider is called with an Execution
// whose Attempt field is the number of retries done so far. If it
// returns false, the outcome of the attempt becomes the outcome of the
// request. Otherwise waiter is called with an Execution whose Attempt
// field is the number of the retry about to be made, and the request
// is sent again with a clone of its options in which Delay is the wait
// returned and Retries is incremented. The returned Future settles only
// when the retries stop.
//
// If waiter is nil, retry.Exponential(time.Second) is used.
func Retry(decider retry.Decider, waiter retry.Waiter) handler.Middleware {
	if decider == nil {
		panic("httpflow/middleware: nil decider")
	}
	if waiter == nil {
		waiter = retry.Exponential(time.Second)
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			r := &retrier{next: next, decider: decider, waiter: waiter, start: time.Now()}
			return r.send(req, optionsOf(opts), 0)
		})
	}
}

type retrier struct {
	next    handler.Handler
	decider retry.Decider
	waiter  retry.Waiter
	start   time.Time
}

func (r *retrier) send(req *request.Request, opts *request.Options, timeouts int) *future.Future {
	return r.next.Send(req, opts).ThenFuture(
		func(resp *request.Response) *future.Future {
			return r.settled(req, opts, timeouts, resp, nil)
		},
		func(err error) *future.Future {
			return r.settled(req, opts, timeouts, nil, err)
		},
	)
}

func (r *retrier) settled(req *request.Request, opts *request.Options, timeouts int, resp *request.Response, err error) *future.Future {
	e := &request.Execution{
		Request:         req,
		Options:         opts,
		Start:           r.start,
		Attempt:         opts.Retries,
		AttemptTimeouts: timeouts,
		Response:        resp,
		Err:             err,
	}
	if err != nil {
		e.Response = responseOf(err)
	}
	if e.Timeout() {
		e.AttemptTimeouts++
	}

	if !r.decider.Decide(e) {
		if err != nil {
			return future.RejectedWith(err)
		}
		return future.FulfilledWith(resp)
	}

	w := *e
	w.Attempt++
	wait := r.waiter.Wait(&w)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	opts2 := opts.Clone()
	opts2.Delay = wait
	opts2.Retries++
	opts2.SetValue(executionKey{}, e)
	return r.send(req, opts2, e.AttemptTimeouts)
}
