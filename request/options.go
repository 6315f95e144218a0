// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	urlpkg "net/url"
	"time"

	"github.com/gogama/httpflow/cookie"
)

// Options holds the settings for one request attempt.
//
// Options is mutable, but each attempt works on its own copy: layers
// which retry a request Clone the Options they received, change the
// clone, and send it on. The caller's original is never mutated.
//
// The zero value is valid and describes a request sent with no
// timeouts, no proxy, no decoding, and no middleware-specific
// behavior.
type Options struct {
	// Timeout is the total time allowed for an attempt, including
	// reading the response body. Zero means no timeout.
	Timeout time.Duration

	// ConnectTimeout is the time allowed to establish a connection.
	// Zero means no timeout.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum idle time between two reads of the
	// response body. Zero means no timeout.
	ReadTimeout time.Duration

	// Proxy is the URL of the proxy to use, for example
	// "http://proxy:3128" or "socks5://proxy:1080". Empty means no
	// proxy.
	Proxy string

	// SkipVerify disables TLS certificate verification.
	SkipVerify bool

	// CACertFile is the path of a PEM file of certificate authorities
	// trusted in addition to the system pool.
	CACertFile string

	// CertFile and KeyFile are the paths of a PEM client certificate
	// and its key.
	CertFile string
	KeyFile  string

	// DecodeContent enables transparent gzip and deflate decoding of
	// the response body. The original Content-Encoding and
	// Content-Length are kept in the X-Encoded-Content-Encoding and
	// X-Encoded-Content-Length headers.
	DecodeContent bool

	// Sink receives a copy of the response body as it is read.
	Sink io.Writer

	// Stream returns the response as soon as headers arrive, with a
	// body reading directly from the connection.
	Stream bool

	// Progress is called as bytes are transferred. The arguments are
	// the expected download size (-1 if unknown), the bytes downloaded
	// so far, the expected upload size (-1 if unknown) and the bytes
	// uploaded so far. It runs on a transfer goroutine.
	Progress func(dlTotal, dl, ulTotal, ul int64)

	// Debug receives a line for each connection-level event of the
	// attempt. It is written from a transfer goroutine.
	Debug io.Writer

	// OnHeaders is called with the response as soon as its headers are
	// received. A non-nil return value rejects the request with a
	// transport error.
	OnHeaders func(*Response) error

	// OnStats is called exactly once per logical request with its
	// transfer statistics, whatever the outcome.
	OnStats func(*Stats)

	// ForceIPResolve restricts name resolution to "v4" or "v6". Empty
	// means any address family.
	ForceIPResolve string

	// AllowRedirects makes the transfer follow redirects. When false,
	// the redirect response itself is returned.
	AllowRedirects bool

	// Delay is waited before the attempt is started.
	Delay time.Duration

	// ExpectThreshold is the body size at or above which the
	// Expect: 100-Continue header is added. Zero disables the header.
	ExpectThreshold int64

	// ConfigureTransport, if not nil, is called with each transport
	// built for requests using these options. It is the escape hatch
	// for backend settings which have no dedicated field.
	ConfigureTransport func(*http.Transport)

	// HTTPErrors makes the HTTP errors middleware reject 4xx and 5xx
	// responses.
	HTTPErrors bool

	// Cookies is the jar used by the cookies middleware. Nil disables
	// cookie handling.
	Cookies cookie.Jar

	// Retries is the number of retries performed so far by the retry
	// middleware. It is zero on the first attempt.
	Retries int

	data context.Context
}

// Clone returns a shallow copy of o. Values stored with SetValue are
// shared with the copy, but later SetValue calls on either Options are
// not visible to the other.
func (o *Options) Clone() *Options {
	if o == nil {
		return &Options{}
	}
	o2 := *o
	return &o2
}

// SetValue stores arbitrary data in the Options.
//
// The key must follow the same rules as the key parameter in
// context.WithValue, namely it:
//
// • may not be nil;
//
// • must be comparable;
//
// • should not be of type string or any other built-in type to avoid
// collisions between different middleware putting data into the same
// Options.
func (o *Options) SetValue(key, value interface{}) {
	ctx := o.data
	if ctx == nil {
		ctx = context.Background()
	}
	o.data = context.WithValue(ctx, key, value)
}

// Value returns the data value associated with key, or nil if there is
// no value associated with key.
func (o *Options) Value(key interface{}) interface{} {
	if o == nil || o.data == nil {
		return nil
	}
	return o.data.Value(key)
}

// Validate checks o for malformed settings. It returns a KindValidation
// *Error describing the first problem found, or nil.
func (o *Options) Validate() error {
	if o == nil {
		return nil
	}
	switch {
	case o.Timeout < 0:
		return validationErr("negative timeout %s", o.Timeout)
	case o.ConnectTimeout < 0:
		return validationErr("negative connect timeout %s", o.ConnectTimeout)
	case o.ReadTimeout < 0:
		return validationErr("negative read timeout %s", o.ReadTimeout)
	case o.Delay < 0:
		return validationErr("negative delay %s", o.Delay)
	case o.ExpectThreshold < 0:
		return validationErr("negative expect threshold %d", o.ExpectThreshold)
	case o.Retries < 0:
		return validationErr("negative retry count %d", o.Retries)
	}
	switch o.ForceIPResolve {
	case "", "v4", "v6":
	default:
		return validationErr("invalid force IP resolve %q (use \"v4\" or \"v6\")", o.ForceIPResolve)
	}
	if o.Proxy != "" {
		u, err := urlpkg.Parse(o.Proxy)
		if err != nil {
			return &Error{Kind: KindValidation, Err: err, msg: "invalid proxy"}
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return validationErr("unsupported proxy scheme %q", u.Scheme)
		}
	}
	if (o.CertFile == "") != (o.KeyFile == "") {
		return validationErr("client certificate requires both cert file and key file")
	}
	return nil
}

func validationErr(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// Stats describes the transfer of one logical request. It is passed to
// Options.OnStats exactly once.
type Stats struct {
	// Request is the request as last sent.
	Request *Request

	// Response is the response received, or nil on failure.
	Response *Response

	// Err is the failure, or nil on success.
	Err error

	// Elapsed is the time from the first attempt start to the outcome.
	Elapsed time.Duration

	// Attempts is the number of low-level transfers made, including
	// rewind retries.
	Attempts int
}

// Seconds converts fractional seconds into a time.Duration. For
// example Seconds(0.5) is 500 milliseconds.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
