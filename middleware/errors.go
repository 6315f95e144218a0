// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// HTTPErrors returns middleware which rejects requests receiving an
// error status, when request.Options.HTTPErrors is set.
//
// A 4xx status rejects with a request.KindClient error and a 5xx
// status with a request.KindServer error. The error keeps the response
// in its Response field. Any other status passes through.
func HTTPErrors() handler.Middleware {
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			f := next.Send(req, opts)
			if opts == nil || !opts.HTTPErrors {
				return f
			}
			return f.Then(func(resp *request.Response) (*request.Response, error) {
				switch {
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					return nil, request.NewError(request.KindClient, req, resp, nil, "")
				case resp.StatusCode >= 500 && resp.StatusCode < 600:
					return nil, request.NewError(request.KindServer, req, resp, nil, "")
				default:
					return resp, nil
				}
			}, nil)
		})
	}
}
