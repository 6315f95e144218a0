// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"time"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
	"go.uber.org/zap"
)

// Sync performs transfers in the goroutine calling Send, which blocks
// until the outcome is known. Its zero value is a valid configuration.
//
// Sync shares the exchange code of Scheduler, including rewinding and
// resending requests after connection failures, but every Future it
// returns is already settled. It honors Options.Delay by sleeping.
type Sync struct {
	// Doer, if not nil, performs every transfer. See Scheduler.Doer.
	Doer HTTPDoer

	// MaxRewinds is the maximum number of times a request is rewound
	// and resent after a connection failure. Zero means
	// DefaultMaxRewinds, and a negative value disables rewinding.
	MaxRewinds int

	// Logger receives debug logs about transfers. If nil, no logs are
	// written.
	Logger *zap.Logger

	transports transports
}

// Send transfers req with the given options and returns a settled
// Future holding the outcome.
func (s *Sync) Send(req *request.Request, opts *request.Options) *future.Future {
	if opts == nil {
		opts = &request.Options{}
	}
	if err := opts.Validate(); err != nil {
		return future.RejectedWith(err)
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := maxRewinds(s.MaxRewinds)

	start := time.Now()
	if opts.Delay > 0 {
		time.Sleep(opts.Delay)
	}
	var resp *request.Response
	var err error
	attempt := 0
	for {
		logger.Debug("transfer started",
			zap.String("method", req.Method()),
			zap.String("url", req.URL().Redacted()),
			zap.Int("attempt", attempt))
		x := newExchange(context.Background(), req, opts)
		resp, err = s.exchange(x)
		if err == nil {
			break
		}
		cause := err
		var retry bool
		retry, err = x.fail(cause, attempt, limit)
		if !retry {
			break
		}
		logger.Debug("rewinding request", zap.Int("attempt", attempt+1), zap.Error(cause))
		attempt++
		opts = opts.Clone()
	}

	if opts.OnStats != nil {
		opts.OnStats(&request.Stats{
			Request:  req,
			Response: resp,
			Err:      err,
			Elapsed:  time.Since(start),
			Attempts: attempt + 1,
		})
	}
	if err != nil {
		return future.RejectedWith(err)
	}
	return future.FulfilledWith(resp)
}

func (s *Sync) exchange(x *exchange) (*request.Response, error) {
	if err := x.send(&s.transports, s.Doer); err != nil {
		return nil, err
	}
	resp, err := x.headers()
	if err != nil {
		return nil, err
	}
	if x.opts.Stream {
		return x.stream(resp), nil
	}
	data, enc, err := x.readBody()
	if err != nil {
		return nil, err
	}
	return x.complete(resp, data, enc), nil
}

// CloseIdleConnections closes the idle connections of every client
// built by s, and of Doer if it is an IdleCloser.
func (s *Sync) CloseIdleConnections() {
	if ic, ok := s.Doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
	s.transports.closeIdle()
}
