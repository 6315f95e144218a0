// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gogama/httpflow/request"
	"github.com/gogama/httpflow/transient"
)

const (
	rewindFailedMsg   = "cannot rewind body to retry request"
	tooManyRetriesMsg = "retried too many times"
	onHeadersMsg      = "on headers callback failed"
)

// An exchange is one attempt to send a request and receive its
// response. The scheduler and Sync share it: Sync runs its phases back
// to back, while the scheduler runs the blocking phases on transfer
// goroutines and the rest in the goroutine calling Tick.
type exchange struct {
	req     *request.Request
	opts    *request.Options
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	prog    *progress
	hr      *http.Response
	once    sync.Once
}

func newExchange(parent context.Context, req *request.Request, opts *request.Options) *exchange {
	var ctx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	return &exchange{
		req:    req,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		prog:   newProgress(opts.Progress, req.Body().Len()),
	}
}

// send performs the request half of the attempt and leaves the
// response, with its body unread, in x.hr.
func (x *exchange) send(t *transports, custom HTTPDoer) error {
	if err := x.rewind(); err != nil {
		x.close()
		return err
	}
	doer, release, err := t.doer(custom, x.opts)
	if err != nil {
		x.close()
		return urlErrorWrap(x.req, err)
	}
	x.release = release
	hr, err := x.httpRequest()
	if err != nil {
		x.close()
		return urlErrorWrap(x.req, err)
	}
	resp, err := doer.Do(hr)
	if err != nil {
		x.close()
		return urlErrorWrap(x.req, err)
	}
	x.hr = resp
	return nil
}

// rewind repositions a body left touched by an earlier attempt, which
// happens when the request is sent again from outside the exchange,
// for example by retry middleware.
func (x *exchange) rewind() error {
	b := x.req.Body()
	if !b.Touched() {
		return nil
	}
	if !b.Seekable() {
		return request.NewError(request.KindUnseekableBody, x.req, nil, request.ErrNotSeekable, rewindFailedMsg)
	}
	if err := b.Rewind(); err != nil {
		return request.NewError(request.KindUnseekableBody, x.req, nil, err, rewindFailedMsg)
	}
	return nil
}

func (x *exchange) httpRequest() (*http.Request, error) {
	ctx := x.ctx
	if x.opts.Debug != nil {
		ctx = withDebugTrace(ctx, x.opts.Debug)
	}

	b := x.req.Body()
	var body io.Reader
	if b != nil && b.Len() != 0 {
		// net/http closes request bodies. The body belongs to the
		// caller and may be sent again, so it is hidden behind a
		// plain Reader.
		body = struct{ io.Reader }{b}
		if x.opts.Progress != nil {
			body = &countingReader{r: b, n: &x.prog.ul, p: x.prog}
		}
	}

	hr, err := http.NewRequestWithContext(ctx, x.req.Method(), x.req.URL().String(), body)
	if err != nil {
		return nil, err
	}
	hr.Header = x.req.Header()
	if host := hr.Header.Get("Host"); host != "" {
		hr.Host = host
		hr.Header.Del("Host")
	}

	hr.ContentLength = 0
	if body != nil {
		hr.ContentLength = b.Len()
		if b.Seekable() {
			hr.GetBody = func() (io.ReadCloser, error) {
				if err := b.Rewind(); err != nil {
					return nil, err
				}
				return io.NopCloser(b), nil
			}
		}
	}
	if cl := hr.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && body != nil {
			hr.ContentLength = n
		}
		hr.Header.Del("Content-Length")
	}
	if strings.EqualFold(hr.Header.Get("Transfer-Encoding"), "chunked") && body != nil {
		hr.TransferEncoding = []string{"chunked"}
		hr.ContentLength = -1
	}
	hr.Header.Del("Transfer-Encoding")

	if x.req.ProtocolVersion() == "1.0" {
		hr.Proto, hr.ProtoMajor, hr.ProtoMinor = "HTTP/1.0", 1, 0
	}
	if x.opts.DecodeContent && hr.Header.Get("Accept-Encoding") == "" {
		hr.Header.Set("Accept-Encoding", "gzip, deflate")
	}
	return hr, nil
}

// headers builds the response from the received headers and runs the
// OnHeaders callback.
func (x *exchange) headers() (*request.Response, error) {
	x.prog.dlTotal.Store(x.hr.ContentLength)
	resp := responseOf(x.hr)
	if x.opts.OnHeaders != nil {
		if err := x.opts.OnHeaders(resp); err != nil {
			x.close()
			return nil, request.NewError(request.KindTransport, x.req, resp, err, onHeadersMsg)
		}
	}
	return resp, nil
}

func responseOf(hr *http.Response) *request.Response {
	reason := strings.TrimSpace(strings.TrimPrefix(hr.Status, strconv.Itoa(hr.StatusCode)))
	if reason == "" {
		reason = http.StatusText(hr.StatusCode)
	}
	header := hr.Header
	if header == nil {
		header = make(http.Header)
	}
	return &request.Response{
		StatusCode: hr.StatusCode,
		Reason:     reason,
		Proto:      hr.Proto,
		Header:     header,
	}
}

// reader returns the response body reader, and the content coding it
// decodes or "" if it does not decode.
func (x *exchange) reader() (io.Reader, string) {
	var r io.Reader = x.hr.Body
	if x.opts.ReadTimeout > 0 {
		r = &idleReader{r: r, d: x.opts.ReadTimeout, abort: x.cancel}
	}
	if x.opts.Progress != nil {
		r = &countingReader{r: r, n: &x.prog.dl, p: x.prog}
	}
	var enc string
	if x.opts.DecodeContent {
		if ce := x.hr.Header.Get("Content-Encoding"); decodable(ce) {
			enc = ce
			r = newDecodingReader(r, ce)
		}
	}
	if x.opts.Sink != nil {
		r = io.TeeReader(r, x.opts.Sink)
	}
	return r, enc
}

// stream returns resp with a body reading directly from the
// connection. Closing the body ends the attempt.
func (x *exchange) stream(resp *request.Response) *request.Response {
	r, enc := x.reader()
	size := x.hr.ContentLength
	if enc != "" {
		resp = decoded(resp, enc, -1)
		size = -1
	}
	rc := &readCloser{Reader: r, close: func() error {
		x.close()
		return nil
	}}
	return resp.WithBody(request.NewStreamBody(rc, size))
}

// readBody reads the whole response body and ends the attempt.
func (x *exchange) readBody() ([]byte, string, error) {
	defer x.close()
	r, enc := x.reader()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, enc, urlErrorWrap(x.req, err)
	}
	return b, enc, nil
}

// complete attaches the body read by readBody to resp.
func (x *exchange) complete(resp *request.Response, data []byte, enc string) *request.Response {
	if enc != "" {
		resp = decoded(resp, enc, int64(len(data)))
	}
	body, _ := request.NewBody(data)
	return resp.WithBody(body)
}

// decoded moves the content coding headers of resp aside once its
// body is decoded. A negative n means the decoded length is unknown.
func decoded(resp *request.Response, enc string, n int64) *request.Response {
	h := resp.Header.Clone()
	h.Set("X-Encoded-Content-Encoding", enc)
	h.Del("Content-Encoding")
	if cl := h.Get("Content-Length"); cl != "" {
		h.Set("X-Encoded-Content-Length", cl)
	}
	if n >= 0 {
		h.Set("Content-Length", strconv.FormatInt(n, 10))
	} else {
		h.Del("Content-Length")
	}
	r := *resp
	r.Header = h
	return &r
}

// close ends the attempt, releasing its connection and context. It is
// safe to call more than once.
func (x *exchange) close() {
	x.once.Do(func() {
		if x.hr != nil {
			_ = x.hr.Body.Close()
		}
		x.cancel()
		if x.release != nil {
			x.release()
		}
	})
}

// expired reports whether the attempt ran out of Options.Timeout.
func (x *exchange) expired() bool {
	return errors.Is(x.ctx.Err(), context.DeadlineExceeded)
}

// fail decides what happens after the attempt numbered attempt failed
// with err. It returns true if the request body was rewound and the
// request may be sent again. Otherwise it returns the error with which
// to reject the request.
//
// Only connection resets, dropped connections and network timeouts
// are rewound. Running out of Options.Timeout is final.
func (x *exchange) fail(err error, attempt, maxRewinds int) (bool, error) {
	if x.expired() && transient.Categorize(err) != transient.Timeout {
		err = &timeoutError{d: x.opts.Timeout, err: err}
	}
	if maxRewinds == 0 || !x.rewindable(err) {
		return false, classify(x.req, err)
	}
	b := x.req.Body()
	if b.Touched() && !b.Seekable() {
		return false, request.NewError(request.KindUnseekableBody, x.req, nil, err, rewindFailedMsg)
	}
	if attempt >= maxRewinds {
		return false, request.NewError(request.KindTooManyRetries, x.req, nil, err, tooManyRetriesMsg)
	}
	if b.Seekable() {
		if rerr := b.Rewind(); rerr != nil {
			return false, request.NewError(request.KindUnseekableBody, x.req, nil, rerr, rewindFailedMsg)
		}
	}
	return true, nil
}

func (x *exchange) rewindable(err error) bool {
	if x.expired() || errors.Is(err, context.Canceled) {
		return false
	}
	var re *request.Error
	if errors.As(err, &re) {
		return false
	}
	switch transient.Categorize(err) {
	case transient.ConnReset, transient.ConnDied, transient.Timeout:
		return true
	default:
		return false
	}
}

// classify wraps the final failure of a request into a *request.Error.
func classify(req *request.Request, err error) error {
	var re *request.Error
	if errors.As(err, &re) {
		return err
	}
	switch transient.Categorize(err) {
	case transient.DNS, transient.ConnRefused:
		return request.NewError(request.KindConnect, req, nil, err, "")
	default:
		return request.NewError(request.KindTransport, req, nil, err, "")
	}
}

// timeoutError marks a failure caused by the attempt deadline.
type timeoutError struct {
	d   time.Duration
	err error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s: %v", e.d, e.err)
}

func (e *timeoutError) Timeout() bool { return true }

func (e *timeoutError) Unwrap() error { return e.err }

func urlErrorWrap(req *request.Request, err error) error {
	if _, ok := err.(*url.Error); ok {
		return err
	}

	return &url.Error{
		Op:  urlErrorOp(req.Method()),
		URL: req.URL().String(),
		Err: err,
	}
}

// urlErrorOp is lifted verbatim from net/http/client.go
func urlErrorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}
