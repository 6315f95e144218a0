// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"time"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
	"github.com/gogama/httpflow/timeout"
)

// Timeout returns middleware which sets request.Options.Timeout on
// every attempt according to p.
//
// Install Timeout inside Retry so that p sees the previous attempt of
// each retry, which is what adaptive policies need. Installed outside
// Retry, p is only consulted once per logical request. When p returns
// a value meaning no timeout, the options pass through unchanged.
func Timeout(p timeout.Policy) handler.Middleware {
	if p == nil {
		panic("httpflow/middleware: nil timeout policy")
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			opts = optionsOf(opts)
			e := previous(opts)
			if e == nil {
				e = &request.Execution{Request: req, Options: opts, Start: time.Now()}
			}
			d := p.Timeout(e)
			if timeout.None(d) {
				return next.Send(req, opts)
			}
			opts2 := opts.Clone()
			opts2.Timeout = d
			return next.Send(req, opts2)
		})
	}
}
