// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"net/http"
	"time"

	"github.com/gogama/httpflow/transient"
)

// An Execution describes the state of a logical request after one of
// its attempts has settled.
//
// The retry and timeout middleware build an Execution after every
// attempt and hand it to their policies (see packages retry and
// timeout). Policies may set values on an Execution using SetValue and
// read them back using Value, but should treat the exported fields as
// read-only.
type Execution struct {
	// Request is the request sent in the most recent attempt. It is
	// never nil.
	Request *Request

	// Options are the options of the most recent attempt. They are
	// never nil.
	Options *Options

	// Start is the start time of the first attempt.
	Start time.Time

	// End is the time the execution ended. It is zero while further
	// attempts may be made.
	End time.Time

	// Attempt is the zero-based number of the most recent attempt. It
	// is zero on the initial attempt, one on the first retry, and so
	// on.
	Attempt int

	// AttemptTimeouts is the count of the number of attempts which
	// ended in a timeout.
	AttemptTimeouts int

	// Response is the response received in the most recent attempt. It
	// is nil if the attempt ended in an error without a response.
	//
	// Both Response and Err are non-nil when the attempt was rejected
	// because of its status code, for example by the HTTP errors
	// middleware.
	Response *Response

	// Err is the error of the most recent attempt, or nil.
	Err error

	data context.Context
}

// StatusCode returns the status code of the response from the most
// recent attempt. If there is no response, 0 is returned.
func (e *Execution) StatusCode() int {
	if e.Response == nil {
		return 0
	}

	return e.Response.StatusCode
}

// Header returns the response headers from the most recent attempt.
// If there is no response, the nil header is returned.
//
// Note that a nil return value is always safe for read-only operations,
// since http.Header is a map type.
func (e *Execution) Header() http.Header {
	if e.Response == nil {
		var nilHeader http.Header
		return nilHeader
	}

	return e.Response.Header
}

// Duration returns the duration of the execution.
//
// If the execution has not yet started, the duration is zero. If the
// execution has Ended, the duration returned is equal to End minus
// Start. Otherwise, it is equal to the current time minus Start.
func (e *Execution) Duration() time.Duration {
	if !e.Started() {
		return time.Duration(0)
	} else if !e.Ended() {
		return time.Since(e.Start)
	}

	return e.End.Sub(e.Start)
}

// Started indicates whether the execution has started.
func (e *Execution) Started() bool {
	return e.Start != (time.Time{})
}

// Ended indicates whether the execution has ended.
func (e *Execution) Ended() bool {
	return e.End != (time.Time{})
}

// Timeout indicates whether Err currently contains a non-nil value
// which indicates a timeout.
func (e *Execution) Timeout() bool {
	cat := transient.Categorize(e.Err)
	return cat == transient.Timeout
}

// SetValue allows policies to store arbitrary data in the execution.
//
// The key must follow the same rules as the key parameter in
// context.WithValue.
func (e *Execution) SetValue(key, value interface{}) {
	ctx := e.data
	if ctx == nil {
		ctx = context.Background()
	}

	e.data = context.WithValue(ctx, key, value)
}

// Value returns the data value associated with this execution for key,
// or nil if there is no value associated with key.
func (e *Execution) Value(key interface{}) interface{} {
	ctx := e.data
	if ctx == nil {
		return nil
	}

	return ctx.Value(key)
}
