// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"errors"

	"golang.org/x/time/rate"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

var errRateBurst = errors.New("request exceeds rate limiter burst")

// RateLimit returns middleware which spaces requests according to l.
//
// Each request takes a reservation from l, and the time until the
// reservation is due becomes the request's Delay, so that no goroutine
// blocks waiting for the limiter. A Delay already set on the request is
// kept if it is longer. Installed inside Retry, every retry takes its
// own reservation.
//
// If l can never grant a reservation, for example because its burst is
// zero, the request is rejected with a request.KindValidation error.
func RateLimit(l *rate.Limiter) handler.Middleware {
	if l == nil {
		panic("httpflow/middleware: nil limiter")
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			r := l.Reserve()
			if !r.OK() {
				return future.RejectedWith(request.NewError(request.KindValidation, req, nil, errRateBurst, ""))
			}
			opts = optionsOf(opts)
			if d := r.Delay(); d > opts.Delay {
				opts = opts.Clone()
				opts.Delay = d
			}
			return next.Send(req, opts)
		})
	}
}
