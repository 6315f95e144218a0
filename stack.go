// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/middleware"
	"github.com/gogama/httpflow/request"
)

var (
	// ErrUnknownMiddleware is returned by Stack methods given the name
	// of a middleware which is not in the stack.
	ErrUnknownMiddleware = errors.New("httpflow: unknown middleware")

	// ErrNoHandler is returned when resolving a Stack which has no
	// terminal handler.
	ErrNoHandler = errors.New("httpflow: no handler set")
)

// A Stack is an ordered list of named middleware in front of a
// terminal handler, usually a transfer backend.
//
// The first middleware in the list is the outermost: it sees requests
// first and outcomes last. After
//
//	s.Push(a, "a")
//	s.Push(b, "b")
//
// requests sent through the resolved stack flow through a, then b,
// then the terminal handler, as if sent to a(b(handler)).
//
// A Stack is safe for concurrent use. The zero value is an empty stack
// without a terminal handler.
type Stack struct {
	lock     sync.Mutex
	handler  Handler
	entries  []stackEntry
	resolved *pipeline
}

type stackEntry struct {
	name string
	m    Middleware
}

// NewStack returns an empty stack in front of h, which may be nil.
func NewStack(h Handler) *Stack {
	return &Stack{handler: h}
}

// DefaultStack returns a stack in front of h with the standard
// middleware every Client uses by default, outermost first:
//
//	http_errors   middleware.HTTPErrors
//	cookies       middleware.Cookies
//	prepare_body  middleware.PrepareBody
func DefaultStack(h Handler) *Stack {
	s := NewStack(h)
	s.Push(middleware.HTTPErrors(), "http_errors")
	s.Push(middleware.Cookies(), "cookies")
	s.Push(middleware.PrepareBody(), "prepare_body")
	return s
}

// SetHandler sets the terminal handler.
func (s *Stack) SetHandler(h Handler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handler = h
	s.resolved = nil
}

// HasHandler reports whether the stack has a terminal handler.
func (s *Stack) HasHandler() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.handler != nil
}

func (s *Stack) terminal() Handler {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.handler
}

// Push adds m to the inner end of the stack, just in front of the
// terminal handler.
func (s *Stack) Push(m Middleware, name string) {
	mustMiddleware(m)
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = append(s.entries, stackEntry{name: name, m: m})
	s.resolved = nil
}

// Unshift adds m to the outer end of the stack.
func (s *Stack) Unshift(m Middleware, name string) {
	mustMiddleware(m)
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = append([]stackEntry{{name: name, m: m}}, s.entries...)
	s.resolved = nil
}

// Before adds m just outside the first middleware named find.
func (s *Stack) Before(find string, m Middleware, name string) error {
	return s.insert(find, m, name, 0)
}

// After adds m just inside the first middleware named find.
func (s *Stack) After(find string, m Middleware, name string) error {
	return s.insert(find, m, name, 1)
}

func (s *Stack) insert(find string, m Middleware, name string, offset int) error {
	mustMiddleware(m)
	s.lock.Lock()
	defer s.lock.Unlock()
	i := s.find(find)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownMiddleware, find)
	}
	i += offset
	s.entries = append(s.entries, stackEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = stackEntry{name: name, m: m}
	s.resolved = nil
	return nil
}

// Remove removes every middleware named name.
func (s *Stack) Remove(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(s.entries) {
		return fmt.Errorf("%w: %q", ErrUnknownMiddleware, name)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = stackEntry{}
	}
	s.entries = kept
	s.resolved = nil
	return nil
}

func (s *Stack) find(name string) int {
	for i, e := range s.entries {
		if e.name == name {
			return i
		}
	}
	return -1
}

// Resolve composes the middleware around the terminal handler and
// returns the resulting Handler. The same Handler is returned until the
// stack is next changed.
func (s *Stack) Resolve() (Handler, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.resolved != nil {
		return s.resolved, nil
	}
	if s.handler == nil {
		return nil, ErrNoHandler
	}
	h := s.handler
	for i := len(s.entries) - 1; i >= 0; i-- {
		h = s.entries[i].m(h)
		if h == nil {
			panic(fmt.Sprintf("httpflow: middleware %q returned nil handler", s.entries[i].name))
		}
	}
	s.resolved = &pipeline{h: h}
	return s.resolved, nil
}

// Send resolves the stack and sends req through it. If the stack
// cannot be resolved, the returned Future is rejected.
func (s *Stack) Send(req *request.Request, opts *request.Options) *future.Future {
	h, err := s.Resolve()
	if err != nil {
		return future.RejectedWith(err)
	}
	return h.Send(req, opts)
}

// String lists the middleware from the outermost inwards, followed by
// the terminal handler.
func (s *Stack) String() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	var b strings.Builder
	for i, e := range s.entries {
		fmt.Fprintf(&b, "%d) %s\n", i+1, e.name)
	}
	if s.handler != nil {
		fmt.Fprintf(&b, "%d) handler: %T\n", len(s.entries)+1, s.handler)
	}
	return b.String()
}

type pipeline struct {
	h Handler
}

func (p *pipeline) Send(req *request.Request, opts *request.Options) *future.Future {
	return p.h.Send(req, opts)
}

func mustMiddleware(m Middleware) {
	if m == nil {
		panic("httpflow: nil middleware")
	}
}
