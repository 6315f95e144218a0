// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gogama/httpflow/request"
)

// A Waiter specifies how long to wait before retrying a failed attempt.
//
// Implementations of Waiter must be safe for concurrent use by multiple
// goroutines.
//
// The retry middleware only calls the Waiter if the Decider returned
// true. It calls Wait with an Execution whose Attempt field is the
// number of the retry about to be made: one before the first retry,
// two before the second retry, and so on.
//
// This package provides the constructors NewFixedWaiter, NewExpWaiter,
// Exponential and RetryAfter, and DefaultWaiter, which does not wait.
type Waiter interface {
	Wait(e *request.Execution) time.Duration
}

// WaiterFunc is an adapter to allow the use of ordinary functions as
// Waiters.
type WaiterFunc func(e *request.Execution) time.Duration

// Wait returns f(e).
func (f WaiterFunc) Wait(e *request.Execution) time.Duration {
	return f(e)
}

// DefaultWaiter is the default retry wait policy. It retries
// immediately.
var DefaultWaiter = NewFixedWaiter(0)

// NewFixedWaiter constructs a Waiter that always returns the given
// duration.
//
// Use NewFixedWaiter to obtain a constant retry backoff.
func NewFixedWaiter(d time.Duration) Waiter {
	return fixedWaiter(d)
}

type fixedWaiter time.Duration

func (w fixedWaiter) Wait(_ *request.Execution) time.Duration {
	return time.Duration(w)
}

// Exponential constructs a Waiter which doubles the wait on every
// retry, starting from unit: the waits for attempts 0, 1, 2, 3 and 4
// are 0, 1, 2, 4 and 8 units.
func Exponential(unit time.Duration) Waiter {
	if unit < 0 {
		panic("httpflow/retry: unit must not be negative")
	}
	return WaiterFunc(func(e *request.Execution) time.Duration {
		if e.Attempt < 1 {
			return 0
		}
		n := uint(e.Attempt - 1)
		if n > 62 || unit > (1<<63-1)>>n {
			return 1<<63 - 1
		}
		return unit << n
	})
}

// NewExpWaiter constructs a Waiter implementing an exponential backoff
// formula with optional jitter.
//
// The formula implemented is the "Full Jitter" approach described in:
// https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter.
//
// Parameters base and max control the exponential calculation of the
// ceiling:
//
//	ceil := min(base * 2**(attempt-1), max)
//
// Base and max must be positive values, and max must be at least equal
// to base.
//
// Parameter jitter is used to generate a random number between 0 and
// ceil. To make a waiter that does not jitter and simply returns
// ceil on each attempt, pass nil for jitter. Otherwise you may specify
// either a random number generator seed value (as a time.Time, int, or
// int64) or a random number generator (as a rand.Source). If a seed
// value is specified, it is used to seed a random number generator
// for calculating jitter. If a rand.Source is specified, it is used to
// calculate jitter.
func NewExpWaiter(base, max time.Duration, jitter interface{}) Waiter {
	if base < 1 {
		panic("httpflow/retry: base must be positive")
	}
	if max < base {
		panic("httpflow/retry: max must be at least base")
	}
	r := jitterToRand(jitter)
	return &jitterExpWaiter{
		base: base,
		max:  max,
		rand: r,
	}
}

type jitterExpWaiter struct {
	base time.Duration
	max  time.Duration
	rand *rand.Rand
	lock sync.Mutex
}

func (w *jitterExpWaiter) Wait(e *request.Execution) time.Duration {
	n := e.Attempt - 1
	if n < 0 {
		n = 0
	}
	exp := int64(1) << n
	if exp < 1 {
		exp = 1<<63 - 1
	}

	ceil := int64(w.base) * exp
	if ceil/exp != int64(w.base) || int64(w.max) < ceil {
		ceil = int64(w.max)
	}

	duration := ceil
	if ceil > 0 {
		w.lock.Lock()
		defer w.lock.Unlock()
		if w.rand != nil {
			duration = w.rand.Int63n(ceil)
		}
	}

	return time.Duration(duration)
}

func jitterToRand(jitter interface{}) *rand.Rand {
	var s rand.Source
	switch j := jitter.(type) {
	case nil:
		return nil
	case time.Time:
		s = rand.NewSource(j.UnixNano())
	case int:
		s = rand.NewSource(int64(j))
	case int64:
		s = rand.NewSource(j)
	case *rand.Rand:
		if j == nil {
			panic("httpflow/retry: jitter may not be a typed nil")
		}
		return j
	case rand.Source:
		s = j
	default:
		panic("httpflow/retry: invalid jitter type")
	}
	return rand.New(s)
}

// RetryAfter constructs a Waiter honoring the Retry-After header of
// the most recent response, given either as delay seconds or as an
// HTTP date. When the header is absent or invalid, the wait is
// computed by fallback, which may be nil for no wait.
func RetryAfter(fallback Waiter) Waiter {
	return WaiterFunc(func(e *request.Execution) time.Duration {
		if d, ok := parseRetryAfter(e.Header().Get("Retry-After"), time.Now()); ok {
			return d
		}
		if fallback == nil {
			return 0
		}
		return fallback.Wait(e)
	})
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	d := t.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
