// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package handler defines the transport contract shared by the
// transfer backends, the standard middleware and the handler stack.
//
// Most programs use the aliases exported by package httpflow rather
// than importing this package directly.
package handler

import (
	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
)

// A Handler sends a request and returns the Future of its outcome.
//
// Send must not block waiting for the outcome. Settling the Future is
// the business of the backend, which may be the blocking transfer.Sync
// whose futures are settled on return.
//
// Implementations of Handler must be safe for concurrent use by
// multiple goroutines.
type Handler interface {
	Send(req *request.Request, opts *request.Options) *future.Future
}

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as handlers. If f is a function with appropriate
// signature, then HandlerFunc(f) is a Handler that calls f.
type HandlerFunc func(req *request.Request, opts *request.Options) *future.Future

// Send calls f(req, opts).
func (f HandlerFunc) Send(req *request.Request, opts *request.Options) *future.Future {
	return f(req, opts)
}

// A Middleware wraps a Handler into a new Handler which adds some
// behavior before sending the request, after the outcome is known, or
// both.
//
// A Middleware observes and transforms requests on the way in, and
// outcomes on the way out by attaching continuations to the Future
// returned by next. It must pass errors through unless converting
// outcomes is its purpose.
type Middleware func(next Handler) Handler
