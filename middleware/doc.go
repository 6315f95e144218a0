// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package middleware provides the standard middleware which can be
installed in an httpflow.Stack.

Each constructor returns a handler.Middleware, a function wrapping the
next handler of the pipeline:

	s := httpflow.NewStack(&transfer.Scheduler{})
	s.Push(middleware.HTTPErrors(), "http_errors")
	s.Push(middleware.Retry(retry.DefaultDecider, retry.Exponential(time.Second)), "retry")
	s.Push(middleware.Timeout(timeout.DefaultPolicy), "timeout")

The first middleware pushed is the outermost: it sees the request
first and the outcome last. Middleware which needs per-attempt settings
reads them from request.Options, and middleware which changes them
works on a clone.

Only HTTPErrors and Retry change the outcome of a request. Every other
middleware passes responses and errors through unchanged.
*/
package middleware
