// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package future

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogama/httpflow/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_Settle(t *testing.T) {
	t.Run("fulfill once", func(t *testing.T) {
		f := New(nil, nil)
		assert.Equal(t, Pending, f.State())
		r1 := request.NewResponse(200, nil, nil)
		r2 := request.NewResponse(201, nil, nil)
		assert.True(t, f.Fulfill(r1))
		assert.False(t, f.Fulfill(r2))
		assert.False(t, f.Reject(errors.New("late")))
		assert.Equal(t, Fulfilled, f.State())
		resp, err := f.Result()
		assert.Same(t, r1, resp)
		assert.NoError(t, err)
		select {
		case <-f.Done():
		default:
			t.Fatal("Done not closed")
		}
	})
	t.Run("reject once", func(t *testing.T) {
		f := New(nil, nil)
		e1 := errors.New("first")
		assert.True(t, f.Reject(e1))
		assert.False(t, f.Reject(errors.New("second")))
		assert.False(t, f.Fulfill(request.NewResponse(200, nil, nil)))
		assert.Equal(t, Rejected, f.State())
		_, err := f.Result()
		assert.Same(t, e1, err)
	})
	t.Run("reject nil panics", func(t *testing.T) {
		assert.PanicsWithValue(t, nilErrMsg, func() {
			New(nil, nil).Reject(nil)
		})
	})
	t.Run("constructors", func(t *testing.T) {
		r := request.NewResponse(204, nil, nil)
		assert.Equal(t, Fulfilled, FulfilledWith(r).State())
		err := errors.New("foo")
		f := RejectedWith(err)
		assert.Equal(t, Rejected, f.State())
		_, err2 := f.Wait()
		assert.Same(t, err, err2)
	})
}

func TestFuture_Then(t *testing.T) {
	t.Run("continuations run in attachment order", func(t *testing.T) {
		f := New(nil, nil)
		var order []int
		for i := 0; i < 5; i++ {
			i := i
			f.Then(func(resp *request.Response) (*request.Response, error) {
				order = append(order, i)
				return resp, nil
			}, nil)
		}
		assert.Empty(t, order)
		f.Fulfill(request.NewResponse(200, nil, nil))
		assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	})
	t.Run("continuation after settlement runs immediately", func(t *testing.T) {
		f := FulfilledWith(request.NewResponse(200, nil, nil))
		ran := false
		g := f.Then(func(resp *request.Response) (*request.Response, error) {
			ran = true
			return resp.WithStatus(201, ""), nil
		}, nil)
		assert.True(t, ran)
		assert.Equal(t, Fulfilled, g.State())
		resp, _ := g.Result()
		assert.Equal(t, 201, resp.StatusCode)
	})
	t.Run("nil callbacks pass through", func(t *testing.T) {
		err := errors.New("boom")
		g := RejectedWith(err).Then(nil, nil)
		_, err2 := g.Wait()
		assert.Same(t, err, err2)
		r := request.NewResponse(200, nil, nil)
		resp, err2 := FulfilledWith(r).Then(nil, nil).Wait()
		assert.NoError(t, err2)
		assert.Same(t, r, resp)
	})
	t.Run("mapping error to response", func(t *testing.T) {
		r := request.NewResponse(200, nil, nil)
		g := RejectedWith(errors.New("boom")).Then(nil, func(err error) (*request.Response, error) {
			return r, nil
		})
		resp, err := g.Wait()
		assert.NoError(t, err)
		assert.Same(t, r, resp)
	})
	t.Run("mapping response to error", func(t *testing.T) {
		e := errors.New("bad")
		g := FulfilledWith(request.NewResponse(500, nil, nil)).Then(func(*request.Response) (*request.Response, error) {
			return nil, e
		}, nil)
		_, err := g.Wait()
		assert.Same(t, e, err)
	})
}

func TestFuture_ThenFuture(t *testing.T) {
	t.Run("async chain", func(t *testing.T) {
		f := New(nil, nil)
		inner := New(nil, nil)
		g := f.ThenFuture(func(*request.Response) *Future {
			return inner
		}, nil)
		f.Fulfill(request.NewResponse(200, nil, nil))
		assert.Equal(t, Pending, g.State())
		r := request.NewResponse(202, nil, nil)
		inner.Fulfill(r)
		assert.Equal(t, Fulfilled, g.State())
		resp, _ := g.Result()
		assert.Same(t, r, resp)
	})
	t.Run("nil future panics", func(t *testing.T) {
		f := New(nil, nil)
		f.ThenFuture(nil, func(error) *Future { return nil })
		assert.PanicsWithValue(t, nilFutureMsg, func() {
			f.Reject(errors.New("x"))
		})
	})
	t.Run("panics propagate to settler", func(t *testing.T) {
		f := New(nil, nil)
		f.Then(func(*request.Response) (*request.Response, error) {
			panic("middleware bug")
		}, nil)
		assert.PanicsWithValue(t, "middleware bug", func() {
			f.Fulfill(nil)
		})
		ran := false
		f.Then(func(resp *request.Response) (*request.Response, error) {
			ran = true
			return resp, nil
		}, nil)
		assert.True(t, ran)
	})
}

// stepper simulates a scheduler which only makes progress when its
// Tick is called.
type stepper struct {
	lock    sync.Mutex
	ticks   int
	pending []func()
}

func (s *stepper) tick() {
	s.lock.Lock()
	s.ticks++
	var next func()
	if len(s.pending) > 0 {
		next = s.pending[0]
		s.pending = s.pending[1:]
	}
	s.lock.Unlock()
	if next != nil {
		next()
	}
}

func (s *stepper) later(fn func()) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pending = append(s.pending, fn)
}

func TestFuture_Wait(t *testing.T) {
	t.Run("drives step until settled", func(t *testing.T) {
		s := &stepper{}
		f := New(s.tick, nil)
		s.later(func() {})
		s.later(func() {})
		s.later(func() { f.Fulfill(request.NewResponse(200, nil, nil)) })
		resp, err := f.Wait()
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, 3, s.ticks)
	})
	t.Run("derived future drives source then inner", func(t *testing.T) {
		s := &stepper{}
		f := New(s.tick, nil)
		var inner *Future
		g := f.ThenFuture(func(*request.Response) *Future {
			inner = New(s.tick, nil)
			s.later(func() { inner.Fulfill(request.NewResponse(202, nil, nil)) })
			return inner
		}, nil).Then(func(resp *request.Response) (*request.Response, error) {
			return resp.WithHeader("X-Chained", "yes"), nil
		}, nil)
		s.later(func() { f.Fulfill(request.NewResponse(200, nil, nil)) })
		resp, err := g.Wait()
		require.NoError(t, err)
		assert.Equal(t, 202, resp.StatusCode)
		assert.Equal(t, "yes", resp.HeaderLine("X-Chained"))
		assert.Equal(t, 2, s.ticks)
	})
	t.Run("no step blocks until settled elsewhere", func(t *testing.T) {
		f := New(nil, nil)
		go func() {
			time.Sleep(5 * time.Millisecond)
			f.Reject(errors.New("from elsewhere"))
		}()
		assert.Equal(t, Rejected, f.WaitSettled())
	})
}

func TestFuture_Cancel(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		var canceled int32
		f := New(nil, func() { atomic.AddInt32(&canceled, 1) })
		assert.True(t, f.Cancel())
		assert.Equal(t, int32(1), canceled)
		_, err := f.Wait()
		assert.Same(t, ErrCanceled, err)
		assert.False(t, f.Cancel())
		assert.Equal(t, int32(1), canceled)
	})
	t.Run("settled", func(t *testing.T) {
		f := FulfilledWith(nil)
		assert.False(t, f.Cancel())
		assert.Equal(t, Fulfilled, f.State())
	})
	t.Run("derived cancels source", func(t *testing.T) {
		f := New(nil, nil)
		g := f.Then(nil, nil)
		assert.True(t, g.Cancel())
		assert.Equal(t, Rejected, f.State())
		_, err := g.Wait()
		assert.Same(t, ErrCanceled, err)
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "fulfilled", Fulfilled.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "unknown", State(9).String())
}
