// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// Log returns middleware which writes one message to logger for every
// request when it settles. The message is built by f, or by CLF if f is
// nil.
//
// Fulfilled requests are logged at level. Rejected requests are logged
// at zapcore.ErrorLevel, or at level if it is more severe. Besides the
// message, each entry carries the method, URL, status and elapsed time
// as structured fields.
func Log(logger *zap.Logger, f Formatter, level zapcore.Level) handler.Middleware {
	if logger == nil {
		panic("httpflow/middleware: nil logger")
	}
	if f == nil {
		f = CLF
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			start := time.Now()
			return observe(next.Send(req, opts), func(resp *request.Response, err error) {
				elapsed := time.Since(start)
				lvl := level
				if err != nil {
					resp = responseOf(err)
					if lvl < zapcore.ErrorLevel {
						lvl = zapcore.ErrorLevel
					}
				}
				ce := logger.Check(lvl, f.Format(req, resp, err, elapsed))
				if ce == nil {
					return
				}
				fields := []zap.Field{
					zap.String("method", req.Method()),
					zap.String("url", req.URL().Redacted()),
					zap.Duration("elapsed", elapsed),
				}
				if resp != nil {
					fields = append(fields, zap.Int("status", resp.StatusCode))
				}
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				ce.Write(fields...)
			})
		})
	}
}
