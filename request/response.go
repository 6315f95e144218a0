// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"net/http"
	"strings"
)

// A Response is an immutable HTTP response.
//
// Responses are built by the transfer code, or by middleware which
// explicitly replaces the response flowing through it. Use the With
// methods to derive a modified copy.
type Response struct {
	// StatusCode is the HTTP status code, for example 200.
	StatusCode int

	// Reason is the reason phrase, for example "OK".
	Reason string

	// Proto is the protocol, for example "HTTP/1.1".
	Proto string

	// Header contains the response header fields. It must be treated
	// as read-only.
	Header http.Header

	// Body is the response body. When the request was sent with
	// Options.Stream set, Body reads directly from the connection and
	// is not seekable.
	Body *Body
}

// NewResponse returns a new Response with the standard reason phrase
// for status.
func NewResponse(status int, header http.Header, body *Body) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		StatusCode: status,
		Reason:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		Header:     header,
		Body:       body,
	}
}

// HeaderLine returns all values of the named header joined by ", ".
func (r *Response) HeaderLine(name string) string {
	return strings.Join(r.Header.Values(name), ", ")
}

// WithStatus returns a copy of r with the status code and reason
// phrase changed. An empty reason means the standard phrase.
func (r *Response) WithStatus(status int, reason string) *Response {
	if reason == "" {
		reason = http.StatusText(status)
	}
	r2 := *r
	r2.StatusCode = status
	r2.Reason = reason
	r2.Header = r.Header.Clone()
	return &r2
}

// WithHeader returns a copy of r with the named header replaced.
func (r *Response) WithHeader(name string, values ...string) *Response {
	r2 := *r
	r2.Header = r.Header.Clone()
	if r2.Header == nil {
		r2.Header = make(http.Header)
	}
	r2.Header.Del(name)
	for _, v := range values {
		r2.Header.Add(name, v)
	}
	return &r2
}

// WithBody returns a copy of r with the body replaced.
func (r *Response) WithBody(body *Body) *Response {
	r2 := *r
	r2.Header = r.Header.Clone()
	r2.Body = body
	return &r2
}
