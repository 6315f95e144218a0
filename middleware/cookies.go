// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"net/http"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// Cookies returns middleware which handles cookies using the jar in
// request.Options.Cookies. Requests sent without a jar pass through
// untouched.
//
// Before the request is sent, every cookie the jar matches for the
// request URL is added to the Cookie header. When a response arrives,
// every Set-Cookie header it carries is stored in the jar.
func Cookies() handler.Middleware {
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			if opts == nil || opts.Cookies == nil {
				return next.Send(req, opts)
			}
			jar := opts.Cookies
			u := req.URL()
			for _, c := range jar.Match(u) {
				req = req.WithCookie(c)
			}
			return next.Send(req, opts).Then(func(resp *request.Response) (*request.Response, error) {
				if cookies := setCookies(resp); len(cookies) > 0 {
					jar.Update(u, cookies)
				}
				return resp, nil
			}, nil)
		})
	}
}

func setCookies(resp *request.Response) []*http.Cookie {
	if resp == nil || len(resp.Header.Values("Set-Cookie")) == 0 {
		return nil
	}
	hr := http.Response{Header: resp.Header}
	return hr.Cookies()
}
