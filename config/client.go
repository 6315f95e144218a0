// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gogama/httpflow"
	"github.com/gogama/httpflow/cookie"
	"github.com/gogama/httpflow/internal/logging"
	"github.com/gogama/httpflow/middleware"
	"github.com/gogama/httpflow/request"
	"github.com/gogama/httpflow/retry"
	"github.com/gogama/httpflow/timeout"
	"github.com/gogama/httpflow/transfer"
)

// Options returns the request options described by c.
func (c *Config) Options() *request.Options {
	r := &c.Request
	opts := httpflow.DefaultOptions()
	opts.Timeout = time.Duration(r.Timeout)
	opts.ConnectTimeout = time.Duration(r.ConnectTimeout)
	opts.ReadTimeout = time.Duration(r.ReadTimeout)
	opts.Proxy = r.Proxy
	opts.SkipVerify = r.SkipVerify
	opts.CACertFile = r.CACertFile
	opts.CertFile = r.CertFile
	opts.KeyFile = r.KeyFile
	opts.ForceIPResolve = r.ForceIPResolve
	opts.ExpectThreshold = r.ExpectThreshold
	if r.HTTPErrors != nil {
		opts.HTTPErrors = *r.HTTPErrors
	}
	if r.DecodeContent != nil {
		opts.DecodeContent = *r.DecodeContent
	}
	if r.AllowRedirects != nil {
		opts.AllowRedirects = *r.AllowRedirects
	}
	return opts
}

// RetryPolicy returns the retry policy described by c, or nil if
// retries are disabled.
func (c *Config) RetryPolicy() retry.Policy {
	if c.Retry.Times == 0 {
		return nil
	}
	var w retry.Waiter = retry.DefaultWaiter
	base, ceil := time.Duration(c.Retry.Backoff), time.Duration(c.Retry.MaxBackoff)
	switch {
	case ceil > 0:
		w = retry.NewExpWaiter(base, ceil, time.Now())
	case base > 0:
		w = retry.Exponential(base)
	}
	statuses := []int{500, 503}
	if c.Retry.RetryAfter {
		w = retry.RetryAfter(w)
		statuses = append(statuses, 429)
	}
	d := retry.Times(c.Retry.Times).And(retry.StatusCode(statuses...).Or(retry.TransientErr).Or(retry.ConnectErr))
	return retry.NewPolicy(d, w)
}

// TimeoutPolicy returns the attempt timeout policy described by c, or
// nil if the request timeout alone applies.
func (c *Config) TimeoutPolicy() timeout.Policy {
	if len(c.Retry.Timeouts) == 0 || c.Request.Timeout <= 0 {
		return nil
	}
	after := make([]time.Duration, len(c.Retry.Timeouts))
	for i, d := range c.Retry.Timeouts {
		after[i] = time.Duration(d)
	}
	return timeout.Adaptive(time.Duration(c.Request.Timeout), after...)
}

// Logger builds the logger described by c.Log.
func (c *Config) Logger() (*zap.Logger, error) {
	return logging.New(c.Log.Level, c.Log.File)
}

// Stack builds the middleware stack described by c in front of h. From
// the outermost inwards, it holds:
//
//	log                 when log.requests is set
//	http_errors
//	headers             when headers are configured
//	idempotency_key     when request.idempotency_header is set
//	retry               when retry.times is positive
//	timeout             when retry.timeouts are set
//	rate_limit          when rate.per_second is positive
//	cookies
//	prepare_body
func (c *Config) Stack(h httpflow.Handler, logger *zap.Logger) *httpflow.Stack {
	s := httpflow.NewStack(h)
	if c.Log.Requests && logger != nil {
		s.Push(middleware.Log(logger, middleware.Template(c.Log.Format), zap.InfoLevel), "log")
	}
	s.Push(middleware.HTTPErrors(), "http_errors")
	if len(c.Headers) > 0 {
		header := make(http.Header, len(c.Headers))
		for k, v := range c.Headers {
			header.Set(k, v)
		}
		s.Push(middleware.MapRequest(func(req *request.Request) *request.Request {
			for k, vs := range header {
				if !req.HasHeader(k) {
					req = req.WithHeader(k, vs...)
				}
			}
			return req
		}), "headers")
	}
	if c.Request.IdempotencyHeader != "" {
		s.Push(middleware.IdempotencyKey(c.Request.IdempotencyHeader), "idempotency_key")
	}
	if p := c.RetryPolicy(); p != nil {
		s.Push(middleware.Retry(p, p), "retry")
	}
	if p := c.TimeoutPolicy(); p != nil {
		s.Push(middleware.Timeout(p), "timeout")
	}
	if c.Rate.PerSecond > 0 {
		s.Push(middleware.RateLimit(rate.NewLimiter(rate.Limit(c.Rate.PerSecond), c.Rate.Burst)), "rate_limit")
	}
	s.Push(middleware.Cookies(), "cookies")
	s.Push(middleware.PrepareBody(), "prepare_body")
	return s
}

// Scheduler builds the transfer scheduler described by c.Transfer.
func (c *Config) Scheduler(logger *zap.Logger) *transfer.Scheduler {
	return &transfer.Scheduler{
		Concurrency: c.Transfer.Concurrency,
		PollTimeout: time.Duration(c.Transfer.PollTimeout),
		MaxRewinds:  c.Transfer.MaxRewinds,
		Logger:      logger,
	}
}

// Client builds a client sending requests through the stack described
// by c to a scheduler described by c. The logger may be nil.
func (c *Config) Client(logger *zap.Logger) *httpflow.Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched := c.Scheduler(logger)
	client := &httpflow.Client{
		Handler:  sched,
		Stack:    c.Stack(sched, logger),
		Defaults: c.Options(),
		Logger:   logger,
	}
	if c.Request.Cookies {
		client.Jar = cookie.NewStore()
	}
	return client
}
