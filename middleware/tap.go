// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// Tap returns middleware which calls before with the request and its
// options just before delegating to the next handler, and after with
// the Future the next handler returned. Either callback may be nil.
//
// The after callback runs as soon as the next handler returns, which
// is usually before the Future settles.
func Tap(before func(*request.Request, *request.Options), after func(*request.Request, *request.Options, *future.Future)) handler.Middleware {
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			if before != nil {
				before(req, opts)
			}
			f := next.Send(req, opts)
			if after != nil {
				after(req, opts, f)
			}
			return f
		})
	}
}

// MapRequest returns middleware sending the request returned by fn in
// place of the original.
func MapRequest(fn func(*request.Request) *request.Request) handler.Middleware {
	if fn == nil {
		panic("httpflow/middleware: nil request mapper")
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			return next.Send(fn(req), opts)
		})
	}
}

// MapResponse returns middleware fulfilling with the response returned
// by fn in place of the original. Errors pass through untouched.
func MapResponse(fn func(*request.Response) *request.Response) handler.Middleware {
	if fn == nil {
		panic("httpflow/middleware: nil response mapper")
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			return next.Send(req, opts).Then(func(resp *request.Response) (*request.Response, error) {
				return fn(resp), nil
			}, nil)
		})
	}
}
