// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// DefaultIdempotencyHeader is the header set by IdempotencyKey when no
// header name is given.
const DefaultIdempotencyHeader = "Idempotency-Key"

// IdempotencyKey returns middleware which adds a random UUID to the
// named header of requests sent with an unsafe method (POST, PUT, PATCH
// or DELETE), unless the header is already set. An empty header name
// means DefaultIdempotencyHeader.
//
// Install IdempotencyKey outside Retry so that all the attempts of a
// request carry the same key.
func IdempotencyKey(header string) handler.Middleware {
	if header == "" {
		header = DefaultIdempotencyHeader
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			if unsafe(req.Method()) && !req.HasHeader(header) {
				req = req.WithHeader(header, uuid.NewString())
			}
			return next.Send(req, opts)
		})
	}
}

func unsafe(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
