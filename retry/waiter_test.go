// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"testing"
	"time"

	"github.com/gogama/httpflow/request"
	"github.com/stretchr/testify/assert"
)

func TestDefaultWaiter(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Equal(t, time.Duration(0), DefaultWaiter.Wait(&request.Execution{Attempt: i}))
	}
}

func TestNewFixedWaiter(t *testing.T) {
	w := NewFixedWaiter(3 * time.Second)
	assert.Equal(t, 3*time.Second, w.Wait(&request.Execution{}))
	assert.Equal(t, 3*time.Second, w.Wait(&request.Execution{Attempt: 7}))
}

func TestExponential(t *testing.T) {
	w := Exponential(time.Second)
	expected := []time.Duration{0, 1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, d := range expected {
		assert.Equal(t, d, w.Wait(&request.Execution{Attempt: i}), fmt.Sprintf("attempt %d", i))
	}
	t.Run("overflow", func(t *testing.T) {
		assert.Equal(t, time.Duration(1<<63-1), w.Wait(&request.Execution{Attempt: 200}))
	})
	t.Run("negative unit", func(t *testing.T) {
		assert.PanicsWithValue(t, "httpflow/retry: unit must not be negative", func() {
			Exponential(-1)
		})
	})
}

func TestNewExpWaiter(t *testing.T) {
	base, max := 1*time.Millisecond, 1*time.Hour
	t.Run("invalid base", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(-1), max, nil)
		}, "negative base")
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(0), max, nil)
		}, "zero base")
	})
	t.Run("invalid max", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(time.Duration(2), time.Duration(1), nil)
		}, "max less than base")
	})
	t.Run("invalid jitter", func(t *testing.T) {
		assert.Panics(t, func() {
			NewExpWaiter(base, max, float64(1))
		}, "float64")
		var nilRand *rand.Rand
		assert.Panics(t, func() {
			NewExpWaiter(base, max, nilRand)
		}, "nil *rand.Rand")
	})
	t.Run("no jitter", func(t *testing.T) {
		j := newJitterExpWaiter(t, base, max, nil, "explicit nil")
		assert.Nil(t, j.rand, "explicit nil")
		assert.Equal(t, base, j.Wait(&request.Execution{Attempt: 0}))
		for i := 1; i < 10; i++ {
			ceil := 1 << (i - 1)
			assert.Equal(t, time.Duration(ceil)*time.Millisecond, j.Wait(&request.Execution{Attempt: i}))
		}
		assert.Equal(t, max, j.Wait(&request.Execution{Attempt: 25}))
		assert.Equal(t, max, j.Wait(&request.Execution{Attempt: 1000}))
		assert.Equal(t, max, j.Wait(&request.Execution{Attempt: math.MaxInt64}))
	})
	t.Run("with jitter", func(t *testing.T) {
		jitters := []struct {
			name  string
			value interface{}
		}{
			{"zero time.Time", time.Time{}},
			{"time.Now()", time.Now()},
			{"int", 1},
			{"int64", int64(1)},
			{"rand.Source", rand.NewSource(0)},
			{"*rand.Rand", rand.New(rand.NewSource(0))},
		}
		for i, jitter := range jitters {
			t.Run(fmt.Sprintf("jitters[%d]=%s", i, jitter.name), func(t *testing.T) {
				w := NewExpWaiter(base, max, jitter.value)
				for j := 0; j < 100; j++ {
					d := w.Wait(&request.Execution{Attempt: j})
					assert.GreaterOrEqual(t, d, time.Duration(0))
					assert.LessOrEqual(t, d, max)
				}
			})
		}
	})
	t.Run("concurrent rand.Source usage", func(t *testing.T) {
		n := 200
		w := NewExpWaiter(base, max, 0)
		type sample struct {
			attempt int
			wait    time.Duration
		}
		samples := make(chan sample)
		for i := 0; i < n; i++ {
			go func() {
				for j := 1; j <= 22; j++ {
					samples <- sample{attempt: j, wait: w.Wait(&request.Execution{Attempt: j})}
				}
			}()
		}
		total := time.Duration(0)
		for k := 0; k < n*22; k++ {
			s := <-samples
			ceil := (1 << (s.attempt - 1)) * time.Millisecond
			total += s.wait
			assert.GreaterOrEqual(t, s.wait, time.Duration(0))
			assert.LessOrEqual(t, s.wait, ceil)
		}
		assert.Greater(t, total, time.Duration(0))
	})
}

func TestRetryAfter(t *testing.T) {
	withHeader := func(v string) *request.Execution {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &request.Execution{Attempt: 1, Response: request.NewResponse(503, h, nil)}
	}
	t.Run("seconds", func(t *testing.T) {
		w := RetryAfter(nil)
		assert.Equal(t, 120*time.Second, w.Wait(withHeader("120")))
		assert.Equal(t, time.Duration(0), w.Wait(withHeader("0")))
	})
	t.Run("HTTP date", func(t *testing.T) {
		w := RetryAfter(nil)
		future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
		d := w.Wait(withHeader(future))
		assert.Greater(t, d, 58*time.Minute)
		assert.LessOrEqual(t, d, time.Hour)
		past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
		assert.Equal(t, time.Duration(0), w.Wait(withHeader(past)))
	})
	t.Run("fallback", func(t *testing.T) {
		w := RetryAfter(NewFixedWaiter(time.Minute))
		assert.Equal(t, time.Minute, w.Wait(withHeader("")))
		assert.Equal(t, time.Minute, w.Wait(withHeader("soon")))
		assert.Equal(t, time.Minute, w.Wait(withHeader("-5")))
		assert.Equal(t, time.Minute, w.Wait(&request.Execution{}))
		assert.Equal(t, time.Duration(0), RetryAfter(nil).Wait(&request.Execution{}))
	})
}

func newJitterExpWaiter(t *testing.T, base, max time.Duration, jitter interface{}, message string) *jitterExpWaiter {
	j := NewExpWaiter(base, max, jitter)
	assert.IsType(t, &jitterExpWaiter{}, j, message)
	return j.(*jitterExpWaiter)
}
