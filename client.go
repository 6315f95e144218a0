// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpflow

import (
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/gogama/httpflow/cookie"
	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/middleware"
	"github.com/gogama/httpflow/request"
	"github.com/gogama/httpflow/retry"
	"github.com/gogama/httpflow/timeout"
	"github.com/gogama/httpflow/transfer"
)

// A Client sends requests through a middleware Stack to a transfer
// backend. Its zero value is a valid configuration.
//
// The zero value client sends requests through DefaultStack to a
// transfer.Scheduler with default settings, using DefaultOptions for
// requests sent without options. It neither retries nor sets attempt
// timeouts, and keeps no cookies.
//
// Client's backend typically has an internal state (cached transports
// and their connections) so Client instances should be reused instead
// of created as needed. Client is safe for concurrent use by multiple
// goroutines. The fields must not be changed after the first request.
//
// Every request method of Client comes in two flavors. Send and
// SendAsync return a Future at once, so that many requests can be in
// flight together:
//
//	f1 := client.Send(req1, nil)
//	f2 := client.Send(req2, nil)
//	resp1, err1 := f1.Wait()
//	resp2, err2 := f2.Wait()
//
// Do, Get, Head, Post and PostForm block until the outcome is known,
// in the manner of the Go standard HTTP client.
type Client struct {
	// Handler is the terminal handler of the stack, normally a
	// transfer backend.
	//
	// If Handler is nil, a transfer.Scheduler with default settings and
	// Logger is used.
	Handler Handler

	// Stack is the middleware stack requests are sent through. If the
	// stack has no terminal handler, Handler is set on it.
	//
	// If Stack is nil, DefaultStack is used, extended with the retry
	// and timeout middleware when RetryPolicy or TimeoutPolicy is set.
	Stack *Stack

	// RetryPolicy decides when to retry failed attempts and how long
	// to wait before retrying. It only applies when Stack is nil.
	//
	// If RetryPolicy is nil, requests are not retried.
	RetryPolicy retry.Policy

	// TimeoutPolicy specifies how to set timeouts on individual request
	// attempts. It only applies when Stack is nil.
	//
	// If TimeoutPolicy is nil, attempts have the timeout set in their
	// options.
	TimeoutPolicy timeout.Policy

	// Defaults are the options of requests sent with nil options. They
	// are cloned for every request.
	//
	// If Defaults is nil, DefaultOptions is used.
	Defaults *request.Options

	// Jar is the cookie jar of requests whose options have no jar.
	//
	// If Jar is nil, requests sent without a jar keep no cookies.
	Jar cookie.Jar

	// Logger receives the diagnostics of the default transfer
	// scheduler.
	//
	// If Logger is nil, nothing is logged.
	Logger *zap.Logger

	once     sync.Once
	stack    *Stack
	terminal Handler
}

// DefaultOptions returns the options used by a Client without Defaults:
// HTTP error statuses are turned into errors, response content is
// decoded, and redirects are followed.
func DefaultOptions() *request.Options {
	return &request.Options{
		HTTPErrors:     true,
		DecodeContent:  true,
		AllowRedirects: true,
	}
}

func (c *Client) init() {
	c.once.Do(func() {
		logger := c.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		if c.Stack != nil {
			c.stack = c.Stack
			if c.terminal = c.Stack.terminal(); c.terminal != nil {
				return
			}
		}
		h := c.Handler
		if h == nil {
			h = &transfer.Scheduler{Logger: logger}
		}
		c.terminal = h
		if c.stack != nil {
			c.stack.SetHandler(h)
			return
		}

		c.stack = DefaultStack(h)
		if c.TimeoutPolicy != nil {
			_ = c.stack.After("http_errors", middleware.Timeout(c.TimeoutPolicy), "timeout")
		}
		if c.RetryPolicy != nil {
			_ = c.stack.After("http_errors", middleware.Retry(c.RetryPolicy, c.RetryPolicy), "retry")
		}
	})
}

// options returns the options to send a request with.
func (c *Client) options(opts *request.Options) *request.Options {
	if opts == nil {
		if c.Defaults != nil {
			opts = c.Defaults
		} else {
			opts = DefaultOptions()
		}
	}
	opts = opts.Clone()
	if opts.Cookies == nil && c.Jar != nil {
		opts.Cookies = c.Jar
	}
	return opts
}

// Send sends req through the client's stack and returns the Future of
// its outcome. A request which cannot be sent, for example because opts
// are invalid, gets a rejected Future.
//
// If opts is nil, the client's default options are used. Otherwise a
// copy of opts is used, with the client's Jar if opts has none.
//
// Send implements Handler, so a Client can be the terminal handler of
// another stack.
func (c *Client) Send(req *request.Request, opts *request.Options) *future.Future {
	f, err := c.SendAsync(req, opts)
	if err != nil {
		return future.RejectedWith(err)
	}
	return f
}

// SendAsync is like Send, but reports a request which cannot be sent
// by returning an error, without a Future.
func (c *Client) SendAsync(req *request.Request, opts *request.Options) (*future.Future, error) {
	if req == nil {
		panic("httpflow: nil request")
	}
	c.init()
	opts = c.options(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	h, err := c.stack.Resolve()
	if err != nil {
		return nil, err
	}
	return h.Send(req, opts), nil
}

// Do sends req and waits for its outcome.
//
// An error is returned if the request could not be sent, or if it
// failed after any retries done by the stack. With the default options,
// responses with a 4xx or 5xx status are errors of kind
// request.KindClient or request.KindServer, carrying the response.
func (c *Client) Do(req *request.Request, opts *request.Options) (*request.Response, error) {
	f, err := c.SendAsync(req, opts)
	if err != nil {
		return nil, err
	}
	return f.Wait()
}

// Get issues a GET to the specified URL, using the same policies
// followed by Do.
//
// To make a request with custom headers, use request.New and
// Client.Do.
func (c *Client) Get(url string) (*request.Response, error) {
	return Get(c, url)
}

// Head issues a HEAD to the specified URL, using the same policies
// followed by Do.
//
// To make a request with custom headers, use request.New and
// Client.Do.
func (c *Client) Head(url string) (*request.Response, error) {
	return Head(c, url)
}

// Post issues a POST to the specified URL, using the same policies
// followed by Do.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by request.NewBody.
//
// To make a request with custom headers, use request.New and
// Client.Do.
func (c *Client) Post(url, contentType string, body interface{}) (*request.Response, error) {
	return Post(c, url, contentType, body)
}

// PostForm issues a POST to the specified URL, with data's keys and
// values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
// To set other headers, use request.New and Client.Do.
func (c *Client) PostForm(url string, data url.Values) (*request.Response, error) {
	return PostForm(c, url, data)
}

// CloseIdleConnections invokes the same method on the client's
// terminal handler.
//
// If the handler has no CloseIdleConnections method, this method does
// nothing.
func (c *Client) CloseIdleConnections() {
	c.init()
	if ic, ok := c.terminal.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}
