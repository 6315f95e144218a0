// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package future

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/httpflow/request"
)

// ErrCanceled is the error with which Cancel rejects a pending Future.
var ErrCanceled = errors.New("httpflow/future: canceled")

const (
	nilErrMsg    = "httpflow/future: reject with nil error"
	nilFutureMsg = "httpflow/future: continuation returned nil future"
)

// idleWait bounds how long a derived future waits for its own
// settlement once everything upstream has settled.
const idleWait = 10 * time.Millisecond

// A State is the state of a Future.
type State int32

const (
	// Pending means the outcome is not known yet.
	Pending State = iota
	// Fulfilled means the Future holds a response.
	Fulfilled
	// Rejected means the Future holds an error.
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// A Future is the eventual outcome of one logical request: a
// *request.Response, or an error.
//
// A Future is settled at most once. Once Fulfill or Reject succeeds,
// its state is terminal and later settle attempts are no-ops.
//
// Continuations attached with Then or ThenFuture run in attachment
// order, synchronously within the flow which settles the Future. A
// continuation attached after settlement runs immediately with the
// known outcome.
//
// Wait blocks until the Future is settled. While waiting, it drives
// the step function the Future was created with, which is normally
// the Tick method of the transfer scheduler that owns the request, so
// waiting never deadlocks on progress that only the waiting goroutine
// can make.
type Future struct {
	lock      sync.Mutex
	state     State
	resp      *request.Response
	err       error
	callbacks []func(*request.Response, error)
	draining  bool
	done      chan struct{}

	step   func()
	cancel func()

	parent *Future
	inner  atomic.Pointer[Future]
}

// New returns a pending Future.
//
// Parameter step, if not nil, is called repeatedly by Wait until the
// Future is settled. It should block for a bounded time waiting for
// progress. If step is nil, Wait simply blocks until some other
// goroutine settles the Future.
//
// Parameter cancel, if not nil, is called by Cancel to abort the work
// behind the Future on a best effort basis.
func New(step, cancel func()) *Future {
	return &Future{
		done:   make(chan struct{}),
		step:   step,
		cancel: cancel,
	}
}

// FulfilledWith returns a Future already fulfilled with resp.
func FulfilledWith(resp *request.Response) *Future {
	f := New(nil, nil)
	f.Fulfill(resp)
	return f
}

// RejectedWith returns a Future already rejected with err, which may
// not be nil.
func RejectedWith(err error) *Future {
	f := New(nil, nil)
	f.Reject(err)
	return f
}

// Fulfill settles f with resp. It returns false, and does nothing, if
// f is already settled.
func (f *Future) Fulfill(resp *request.Response) bool {
	return f.settle(Fulfilled, resp, nil)
}

// Reject settles f with err. It returns false, and does nothing, if f
// is already settled. Reject panics if err is nil.
func (f *Future) Reject(err error) bool {
	if err == nil {
		panic(nilErrMsg)
	}
	return f.settle(Rejected, nil, err)
}

// Settle settles f with resp if err is nil, and with err otherwise.
func (f *Future) Settle(resp *request.Response, err error) bool {
	if err != nil {
		return f.Reject(err)
	}
	return f.Fulfill(resp)
}

func (f *Future) settle(state State, resp *request.Response, err error) bool {
	f.lock.Lock()
	if f.state != Pending {
		f.lock.Unlock()
		return false
	}
	f.state = state
	f.resp = resp
	f.err = err
	f.draining = true
	close(f.done)
	f.lock.Unlock()
	f.drain()
	return true
}

func (f *Future) drain() {
	defer func() {
		if r := recover(); r != nil {
			f.lock.Lock()
			f.draining = false
			f.lock.Unlock()
			panic(r)
		}
	}()
	for {
		f.lock.Lock()
		if len(f.callbacks) == 0 {
			f.draining = false
			f.lock.Unlock()
			return
		}
		cb := f.callbacks[0]
		f.callbacks = f.callbacks[1:]
		f.lock.Unlock()
		cb(f.resp, f.err)
	}
}

// onSettle registers cb to run when f settles.
func (f *Future) onSettle(cb func(*request.Response, error)) {
	f.lock.Lock()
	if f.state == Pending || f.draining {
		f.callbacks = append(f.callbacks, cb)
		f.lock.Unlock()
		return
	}
	f.lock.Unlock()
	cb(f.resp, f.err)
}

// State returns the current state of f.
func (f *Future) State() State {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.state
}

// Result returns the response and error held by f. Both are nil while
// f is pending.
func (f *Future) Result() (*request.Response, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.resp, f.err
}

// Done returns a channel which is closed when f is settled.
//
// Note that Done does not drive any progress. Selecting on Done only
// works when some other goroutine drives the scheduler, for example
// one running transfer.Scheduler.Run.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until f is settled, then returns its response or error.
func (f *Future) Wait() (*request.Response, error) {
	f.WaitSettled()
	return f.Result()
}

// WaitSettled blocks until f is settled and returns the final state,
// without surfacing the error.
func (f *Future) WaitSettled() State {
	for {
		if s := f.State(); s != Pending {
			return s
		}
		f.progress()
	}
}

func (f *Future) progress() {
	if f.step != nil {
		f.step()
		return
	}
	<-f.done
}

// Cancel rejects f with ErrCanceled if it is still pending, after
// asking the work behind it to stop. Cancellation is best effort: the
// work may complete anyway, but its outcome is discarded. Cancel
// returns false if f was already settled.
//
// Canceling a Future returned by Then or ThenFuture cancels the
// Futures it depends on, and the rejection flows through the
// continuations as usual.
func (f *Future) Cancel() bool {
	if f.State() != Pending {
		return false
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.Reject(ErrCanceled)
	return true
}

// derive returns a pending Future whose progress is driven through f.
func (f *Future) derive() *Future {
	d := &Future{done: make(chan struct{}), parent: f}
	d.step = d.stepDerived
	d.cancel = func() {
		f.Cancel()
		if in := d.inner.Load(); in != nil {
			in.Cancel()
		}
	}
	return d
}

func (f *Future) stepDerived() {
	if f.parent.State() == Pending {
		f.parent.progress()
		return
	}
	if in := f.inner.Load(); in != nil && in.State() == Pending {
		in.progress()
		return
	}
	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	select {
	case <-f.done:
	case <-timer.C:
	}
}

// Then returns a new Future settled by mapping the outcome of f
// through onFulfilled or onRejected.
//
// A nil callback passes the outcome through unchanged. A callback
// returning a non-nil error rejects the new Future, otherwise it is
// fulfilled with the returned response.
func (f *Future) Then(
	onFulfilled func(*request.Response) (*request.Response, error),
	onRejected func(error) (*request.Response, error),
) *Future {
	d := f.derive()
	f.onSettle(func(resp *request.Response, err error) {
		if err == nil && onFulfilled != nil {
			resp, err = onFulfilled(resp)
		} else if err != nil && onRejected != nil {
			resp, err = onRejected(err)
		}
		d.Settle(resp, err)
	})
	return d
}

// ThenFuture returns a new Future settled with the outcome of the
// Future returned by onFulfilled or onRejected.
//
// A nil callback passes the outcome through unchanged. The callbacks
// may not return nil.
func (f *Future) ThenFuture(
	onFulfilled func(*request.Response) *Future,
	onRejected func(error) *Future,
) *Future {
	d := f.derive()
	f.onSettle(func(resp *request.Response, err error) {
		var next *Future
		if err == nil && onFulfilled != nil {
			next = onFulfilled(resp)
		} else if err != nil && onRejected != nil {
			next = onRejected(err)
		} else {
			d.Settle(resp, err)
			return
		}
		if next == nil {
			panic(nilFutureMsg)
		}
		d.inner.Store(next)
		next.onSettle(func(resp *request.Response, err error) {
			d.Settle(resp, err)
		})
	})
	return d
}
