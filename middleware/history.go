// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"sync"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/handler"
	"github.com/gogama/httpflow/request"
)

// A Transaction is one settled request recorded by the History
// middleware.
type Transaction struct {
	Request  *request.Request
	Options  *request.Options
	Response *request.Response
	// Err is the error the request was rejected with, or nil. Both
	// Response and Err are set when the rejection carries a response.
	Err error
}

// A Recorder keeps the transactions recorded by History in the order
// they settled. The zero value is empty and ready to use.
type Recorder struct {
	lock sync.Mutex
	txns []Transaction
}

func (r *Recorder) add(t Transaction) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.txns = append(r.txns, t)
}

// Transactions returns a copy of the recorded transactions.
func (r *Recorder) Transactions() []Transaction {
	r.lock.Lock()
	defer r.lock.Unlock()
	txns := make([]Transaction, len(r.txns))
	copy(txns, r.txns)
	return txns
}

// Len returns the number of recorded transactions.
func (r *Recorder) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.txns)
}

// Clear forgets all recorded transactions.
func (r *Recorder) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.txns = nil
}

// History returns middleware recording every request into r when it
// settles. Requests running concurrently are recorded in the order they
// complete, not the order they were sent.
func History(r *Recorder) handler.Middleware {
	if r == nil {
		panic("httpflow/middleware: nil recorder")
	}
	return func(next handler.Handler) handler.Handler {
		return handler.HandlerFunc(func(req *request.Request, opts *request.Options) *future.Future {
			return observe(next.Send(req, opts), func(resp *request.Response, err error) {
				if err != nil {
					resp = responseOf(err)
				}
				r.add(Transaction{Request: req, Options: opts, Response: resp, Err: err})
			})
		})
	}
}
