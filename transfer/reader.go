// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// progress tracks the bytes moved by one attempt and reports them to
// an Options.Progress callback.
type progress struct {
	fn      func(dlTotal, dl, ulTotal, ul int64)
	dlTotal atomic.Int64
	dl      atomic.Int64
	ulTotal atomic.Int64
	ul      atomic.Int64
}

func newProgress(fn func(dlTotal, dl, ulTotal, ul int64), ulTotal int64) *progress {
	p := &progress{fn: fn}
	p.dlTotal.Store(-1)
	p.ulTotal.Store(ulTotal)
	return p
}

func (p *progress) report() {
	if p == nil || p.fn == nil {
		return
	}
	p.fn(p.dlTotal.Load(), p.dl.Load(), p.ulTotal.Load(), p.ul.Load())
}

// countingReader adds every byte read to a counter and reports
// progress.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
	p *progress
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.n.Add(int64(n))
		c.p.report()
	}
	return n, err
}

// readTimeoutError is returned when no response body bytes arrive
// within Options.ReadTimeout.
type readTimeoutError struct {
	d time.Duration
}

func (e *readTimeoutError) Error() string {
	return fmt.Sprintf("read timed out after %s without data", e.d)
}

func (e *readTimeoutError) Timeout() bool   { return true }
func (e *readTimeoutError) Temporary() bool { return true }

// idleReader fails a Read which stays blocked for longer than d by
// aborting the attempt.
type idleReader struct {
	r       io.Reader
	d       time.Duration
	abort   func()
	expired atomic.Bool
}

func (r *idleReader) Read(b []byte) (int, error) {
	timer := time.AfterFunc(r.d, func() {
		r.expired.Store(true)
		r.abort()
	})
	n, err := r.r.Read(b)
	timer.Stop()
	if err != nil && r.expired.Load() {
		return n, &readTimeoutError{d: r.d}
	}
	return n, err
}

// decodable reports whether enc is a content coding the exchange can
// decode.
func decodable(enc string) bool {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "gzip", "x-gzip", "deflate":
		return true
	default:
		return false
	}
}

// decodingReader decodes gzip or deflate content. The decoder is
// created on the first Read, so that building one never blocks on the
// network.
type decodingReader struct {
	src  io.Reader
	enc  string
	once sync.Once
	r    io.Reader
	err  error
}

func newDecodingReader(src io.Reader, enc string) *decodingReader {
	return &decodingReader{src: src, enc: strings.ToLower(strings.TrimSpace(enc))}
}

func (d *decodingReader) Read(b []byte) (int, error) {
	d.once.Do(d.init)
	if d.err != nil {
		return 0, d.err
	}
	return d.r.Read(b)
}

func (d *decodingReader) init() {
	switch d.enc {
	case "gzip", "x-gzip":
		d.r, d.err = gzip.NewReader(d.src)
	case "deflate":
		// Servers disagree on whether deflate means a zlib stream or
		// raw deflate data.
		br := bufio.NewReader(d.src)
		hdr, err := br.Peek(2)
		if err == nil && isZlibHeader(hdr) {
			d.r, d.err = zlib.NewReader(br)
		} else {
			d.r = flate.NewReader(br)
		}
	default:
		d.r = d.src
	}
}

func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}

// readCloser joins a Reader with a close function.
type readCloser struct {
	io.Reader
	close func() error
}

func (rc *readCloser) Close() error {
	return rc.close()
}
