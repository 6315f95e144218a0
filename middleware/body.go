// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"mime"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// sniffLen is the number of body bytes inspected to detect a content
// type.
const sniffLen = 512

// PrepareBody returns middleware which completes the body headers of
// requests with a non-empty body.
//
// A body of known length gets a Content-Length header, and a body of
// unknown length gets Transfer-Encoding: chunked, unless either header
// is already set. A body read from a named file gets a Content-Type
// derived from the file extension or, failing that, from the first
// bytes of the file. When request.Options.ExpectThreshold is positive
// and the body is at least that long, Expect: 100-Continue is added.
func PrepareBody() handler.Middleware {
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			return next.Send(prepareBody(req, optionsOf(opts)), opts)
		})
	}
}

func prepareBody(req *request.Request, opts *request.Options) *request.Request {
	b := req.Body()
	if b.Len() == 0 {
		return req
	}

	if !req.HasHeader("Content-Length") && !req.HasHeader("Transfer-Encoding") {
		if n := b.Len(); n >= 0 {
			req = req.WithHeader("Content-Length", strconv.FormatInt(n, 10))
		} else {
			req = req.WithHeader("Transfer-Encoding", "chunked")
		}
	}

	if !req.HasHeader("Content-Type") {
		if ct := contentType(b); ct != "" {
			req = req.WithHeader("Content-Type", ct)
		}
	}

	if opts.ExpectThreshold > 0 && b.Len() >= opts.ExpectThreshold &&
		!req.HasHeader("Expect") && req.ProtocolVersion() != "1.0" {
		req = req.WithHeader("Expect", "100-Continue")
	}

	return req
}

func contentType(b *request.Body) string {
	name := b.Name()
	if name == "" || !b.Seekable() {
		return ""
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	p, err := b.Peek(sniffLen)
	if err != nil {
		return ""
	}
	return mimetype.Detect(p).String()
}
