// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"fmt"

	"github.com/gogama/httpflow/transient"
)

// A Kind classifies an Error.
//
// Kind implements error so that it can be used as the target of
// errors.Is:
//
//	if errors.Is(err, request.KindConnect) {
//		// Safe to retry, the request never reached the server.
//	}
type Kind int

const (
	// KindTransport indicates a generic I/O failure during a transfer.
	KindTransport Kind = iota
	// KindConnect indicates a DNS or connection-refused class failure.
	// The request never reached the server, so it is always safe to
	// retry.
	KindConnect
	// KindTooManyRetries indicates that the transfer engine exhausted
	// its rewind-and-retry budget.
	KindTooManyRetries
	// KindUnseekableBody indicates that a retry needed to rewind a
	// request body which cannot be rewound.
	KindUnseekableBody
	// KindClient indicates a 4xx response status.
	KindClient
	// KindServer indicates a 5xx response status.
	KindServer
	// KindValidation indicates malformed input, for example an invalid
	// option value.
	KindValidation
)

var kindNames = [...]string{
	KindTransport:      "transport error",
	KindConnect:        "connect error",
	KindTooManyRetries: "too many retries",
	KindUnseekableBody: "body not seekable",
	KindClient:         "client error",
	KindServer:         "server error",
	KindValidation:     "validation error",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) Error() string {
	return "httpflow: " + k.String()
}

// An Error is the typed failure with which a request future is
// rejected.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Request is the request which failed. It may be nil for
	// validation errors raised before a request exists.
	Request *Request

	// Response is the response which caused the error, if any. It is
	// set for KindClient and KindServer errors.
	Response *Response

	// Err is the underlying cause, if any.
	Err error

	msg string
}

// NewError returns a new Error with an optional message. If msg is
// empty, the message is derived from the kind and cause.
func NewError(kind Kind, req *Request, resp *Response, err error, msg string) *Error {
	return &Error{Kind: kind, Request: req, Response: resp, Err: err, msg: msg}
}

func (e *Error) Error() string {
	msg := e.msg
	if msg == "" {
		msg = e.Kind.String()
		if e.Kind == KindClient || e.Kind == KindServer {
			if e.Response != nil {
				msg = fmt.Sprintf("%s: %d %s", msg, e.Response.StatusCode, e.Response.Reason)
			}
		}
	}
	var prefix string
	if e.Request != nil {
		prefix = e.Request.Method() + " " + e.Request.URL().Redacted() + ": "
	}
	if e.Err != nil {
		return "httpflow: " + prefix + msg + ": " + e.Err.Error()
	}
	return "httpflow: " + prefix + msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Timeout reports whether the underlying cause is a timeout.
func (e *Error) Timeout() bool {
	return transient.Categorize(e.Err) == transient.Timeout
}
