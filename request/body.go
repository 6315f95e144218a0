// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

const badBodyTypeMsg = "httpflow/request: invalid type (for body use nil, " +
	"string, []byte, *Body, io.ReadSeeker or io.Reader)"

// ErrNotSeekable is returned by Body.Rewind when the body cannot be
// repositioned to its start.
var ErrNotSeekable = errors.New("httpflow/request: body is not seekable")

// A Body is a lazily read request or response body.
//
// A Body may have a known length, reported by Len, or an unknown
// length (Len returns -1). It may be seekable, in which case it can be
// rewound to its original start position for a retried attempt, or
// inspected non-destructively with Snapshot.
//
// The nil *Body is a valid empty body: it has length zero, is
// seekable, and reading from it returns io.EOF immediately.
//
// A Body is safe for concurrent use, although concurrent readers will
// of course observe interleaved content.
type Body struct {
	lock    sync.Mutex
	r       io.Reader
	seeker  io.Seeker
	closer  io.Closer
	start   int64
	size    int64
	name    string
	touched bool
}

// NewBody converts a generic body parameter into a Body.
//
// The conversion logic is:
//
// • If v is nil, the nil Body and no error is returned.
//
// • If v is a *Body, it is returned as is.
//
// • If v is a string or []byte, a seekable Body with a known length is
// returned.
//
// • If v is an *os.File, a seekable Body with the file's remaining
// length and the file's name is returned. The name is used for
// Content-Type inference.
//
// • If v is any other io.ReadSeeker, a seekable Body whose length is the
// distance from the current position to the end is returned.
//
// • If v is any other io.Reader, a non-seekable Body of unknown length
// is returned.
//
// • If v is any other type, a nil Body and an error is returned.
func NewBody(v interface{}) (*Body, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *Body:
		return x, nil
	case string:
		return newSeekableBody(strings.NewReader(x), "")
	case []byte:
		return newSeekableBody(bytes.NewReader(x), "")
	case *os.File:
		return newSeekableBody(x, x.Name())
	case io.ReadSeeker:
		return newSeekableBody(x, "")
	case io.Reader:
		return NewStreamBody(x, -1), nil
	default:
		return nil, errors.New(badBodyTypeMsg)
	}
}

// NewStreamBody wraps r into a non-seekable Body. Parameter size is
// the number of bytes r will produce, or -1 if the size is not known.
//
// Stream bodies cannot be rewound once read, so a request with a
// stream body can only be retried if the failed attempt never read
// from it.
func NewStreamBody(r io.Reader, size int64) *Body {
	if r == nil {
		panic("httpflow/request: nil reader")
	}
	if size < -1 {
		size = -1
	}
	b := &Body{r: r, size: size}
	if c, ok := r.(io.Closer); ok {
		b.closer = c
	}
	return b
}

func newSeekableBody(rs io.ReadSeeker, name string) (*Body, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err = rs.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	b := &Body{r: rs, seeker: rs, start: start, size: end - start, name: name}
	if c, ok := rs.(io.Closer); ok {
		b.closer = c
	}
	return b, nil
}

// Read reads from the underlying stream and marks the body as touched.
func (b *Body) Read(p []byte) (int, error) {
	if b == nil {
		return 0, io.EOF
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	b.touched = true
	return b.r.Read(p)
}

// Close closes the underlying stream if it is an io.Closer.
func (b *Body) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Len returns the length of the body in bytes, or -1 if unknown.
func (b *Body) Len() int64 {
	if b == nil {
		return 0
	}
	return b.size
}

// Seekable reports whether the body can be rewound.
func (b *Body) Seekable() bool {
	return b == nil || b.seeker != nil
}

// Touched reports whether any part of the body has been read since it
// was created or last rewound.
func (b *Body) Touched() bool {
	if b == nil {
		return false
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.touched
}

// Name returns the file name backing the body, if any.
func (b *Body) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// Rewind repositions the body at its original start. It returns
// ErrNotSeekable if the body is not seekable.
func (b *Body) Rewind() error {
	if b == nil {
		return nil
	}
	if b.seeker == nil {
		return ErrNotSeekable
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if _, err := b.seeker.Seek(b.start, io.SeekStart); err != nil {
		return err
	}
	b.touched = false
	return nil
}

// Snapshot reads the entire body content, from its original start,
// without disturbing the current read position.
//
// If the body is not seekable, Snapshot returns nil and ErrNotSeekable
// and nothing is read.
func (b *Body) Snapshot() ([]byte, error) {
	if b == nil {
		return []byte{}, nil
	}
	if b.seeker == nil {
		return nil, ErrNotSeekable
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	pos, err := b.seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if _, err = b.seeker.Seek(b.start, io.SeekStart); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	_, err = io.Copy(&buf, b.r)
	if _, seekErr := b.seeker.Seek(pos, io.SeekStart); err == nil {
		err = seekErr
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Peek returns up to n bytes from the start of a seekable body without
// disturbing the current read position. It is a cheaper Snapshot for
// content sniffing.
func (b *Body) Peek(n int) ([]byte, error) {
	if b == nil {
		return []byte{}, nil
	}
	if b.seeker == nil {
		return nil, ErrNotSeekable
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	pos, err := b.seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if _, err = b.seeker.Seek(b.start, io.SeekStart); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	m, err := io.ReadFull(b.r, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if _, seekErr := b.seeker.Seek(pos, io.SeekStart); err == nil {
		err = seekErr
	}
	if err != nil {
		return nil, err
	}
	return p[:m], nil
}
