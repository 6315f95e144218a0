// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultConcurrency is the number of transfers a Scheduler runs at
	// the same time when its Concurrency field is zero.
	DefaultConcurrency = 50
	// DefaultPollTimeout is how long a Scheduler waits for transfer
	// activity in one Tick made on behalf of Wait or Drain, when its
	// PollTimeout field is zero.
	DefaultPollTimeout = time.Second
	// DefaultMaxRewinds is the number of times a Scheduler rewinds and
	// resends a request after a connection failure, when its
	// MaxRewinds field is zero.
	DefaultMaxRewinds = 3
)

// A Scheduler runs many HTTP transfers concurrently, each on its own
// goroutine, and settles their futures in the goroutine which drives
// it by calling Tick. Its zero value is a valid configuration.
//
// Send never blocks: it queues the request and starts its transfer if
// fewer than Concurrency transfers are running. Transfer goroutines
// never touch futures. When a transfer produces response headers, a
// response body or an error, it posts an event which the next Tick
// handles. Completion handling, future settlement, and therefore every
// continuation attached to a future, run in the goroutine calling
// Tick, either directly or through Future.Wait.
//
// When a transfer fails because the connection was reset or dropped,
// or because of a network timeout, the Scheduler rewinds the request
// body and sends the request again, at most MaxRewinds times. The
// caller still sees a single outcome. A body which was partially sent
// and cannot be rewound rejects the future with a KindUnseekableBody
// error instead, and exceeding MaxRewinds rejects it with a
// KindTooManyRetries error.
//
// Continuations attached to futures of a Scheduler must not block
// waiting for other futures of the same Scheduler, since they already
// run within a Tick.
type Scheduler struct {
	// Doer, if not nil, performs every transfer. The transport settings
	// of Options (proxy, TLS, connect timeout, address family,
	// redirects and ConfigureTransport) are then ignored, since they
	// are the Doer's business.
	//
	// If Doer is nil, the Scheduler builds and caches one http.Client
	// per distinct combination of transport settings.
	Doer HTTPDoer

	// Concurrency is the maximum number of transfers in progress at
	// any time. Zero means DefaultConcurrency.
	Concurrency int

	// PollTimeout is the longest time one Tick made by Wait, Drain or
	// Run waits for activity. Zero means DefaultPollTimeout.
	PollTimeout time.Duration

	// MaxRewinds is the maximum number of times a request is rewound
	// and resent after a connection failure. Zero means
	// DefaultMaxRewinds, and a negative value disables rewinding.
	MaxRewinds int

	// Logger receives debug logs about transfer progress. If nil, no
	// logs are written.
	Logger *zap.Logger

	initOnce   sync.Once
	tickLock   sync.Mutex
	lock       sync.Mutex
	queue      []*slot
	active     map[*slot]struct{}
	events     []event
	notify     chan struct{}
	transports transports
}

// A job is one logical request, which spans several slots when the
// request is rewound and resent.
type job struct {
	id       string
	future   *future.Future
	ctx      context.Context
	cancel   context.CancelFunc
	start    time.Time
	attempts int
}

// A slot is one attempt of a job.
type slot struct {
	job     *job
	req     *request.Request
	opts    *request.Options
	attempt int
	due     time.Time
	x       *exchange
	resp    *request.Response
}

type eventKind int

const (
	headersEvent eventKind = iota
	bodyEvent
)

type event struct {
	kind eventKind
	slot *slot
	data []byte
	enc  string
	err  error
}

func (s *Scheduler) init() {
	s.initOnce.Do(func() {
		s.active = make(map[*slot]struct{})
		s.notify = make(chan struct{}, 1)
	})
}

func (s *Scheduler) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultConcurrency
}

func (s *Scheduler) pollTimeout() time.Duration {
	if s.PollTimeout > 0 {
		return s.PollTimeout
	}
	return DefaultPollTimeout
}

func (s *Scheduler) maxRewinds() int {
	return maxRewinds(s.MaxRewinds)
}

func maxRewinds(n int) int {
	switch {
	case n > 0:
		return n
	case n < 0:
		return 0
	default:
		return DefaultMaxRewinds
	}
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Send queues req for transfer with the given options and returns the
// Future of its outcome. Send never blocks.
//
// If opts is invalid, the returned Future is already rejected with a
// KindValidation error. Waiting on the returned Future drives the
// Scheduler.
func (s *Scheduler) Send(req *request.Request, opts *request.Options) *future.Future {
	s.init()
	if opts == nil {
		opts = &request.Options{}
	}
	if err := opts.Validate(); err != nil {
		return future.RejectedWith(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
		start:  time.Now(),
	}
	j.future = future.New(s.step, cancel)
	s.logger().Debug("request queued",
		zap.String("slot", j.id),
		zap.String("method", req.Method()),
		zap.String("url", req.URL().Redacted()),
		zap.Duration("delay", opts.Delay))
	s.enqueue(&slot{
		job:  j,
		req:  req,
		opts: opts,
		due:  j.start.Add(opts.Delay),
	})
	return j.future
}

func (s *Scheduler) step() {
	s.Tick(s.pollTimeout())
}

func (s *Scheduler) enqueue(sl *slot) {
	s.lock.Lock()
	s.queue = append(s.queue, sl)
	s.promoteLocked(time.Now())
	s.lock.Unlock()
	s.wake()
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// post hands an event from a transfer goroutine to the next Tick.
func (s *Scheduler) post(ev event) {
	s.lock.Lock()
	s.events = append(s.events, ev)
	s.lock.Unlock()
	s.wake()
}

// promoteLocked starts queued slots which are due, in queue order, up
// to the concurrency limit. Slots of settled jobs are dropped.
func (s *Scheduler) promoteLocked(now time.Time) {
	n := s.concurrency()
	kept := s.queue[:0]
	for _, sl := range s.queue {
		switch {
		case sl.job.future.State() != future.Pending:
			sl.job.cancel()
		case len(s.active) < n && !sl.due.After(now):
			s.startLocked(sl)
		default:
			kept = append(kept, sl)
		}
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
}

func (s *Scheduler) startLocked(sl *slot) {
	s.active[sl] = struct{}{}
	sl.job.attempts++
	sl.x = newExchange(sl.job.ctx, sl.req, sl.opts)
	s.logger().Debug("transfer started",
		zap.String("slot", sl.job.id),
		zap.Int("attempt", sl.attempt))
	go func() {
		err := sl.x.send(&s.transports, s.Doer)
		s.post(event{kind: headersEvent, slot: sl, err: err})
	}()
}

// nextDueLocked returns the time until the earliest delayed slot is
// due, or false if no slot is waiting on a delay. Slots which are due
// but wait for capacity are ignored: a finishing transfer wakes Tick.
func (s *Scheduler) nextDueLocked(now time.Time) (time.Duration, bool) {
	var next time.Time
	for _, sl := range s.queue {
		if !sl.due.After(now) {
			continue
		}
		if next.IsZero() || sl.due.Before(next) {
			next = sl.due
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return next.Sub(now), true
}

// Tick handles transfer activity. It waits up to timeout for a
// transfer event, or for the next delayed request to become due, then
// handles every available event in the calling goroutine and starts
// queued transfers if capacity allows. It returns the number of
// events handled.
//
// Tick is the reactor of the Scheduler. Future.Wait calls it, so most
// programs never call it directly. Concurrent calls are serialized.
func (s *Scheduler) Tick(timeout time.Duration) int {
	s.init()
	s.tickLock.Lock()
	defer s.tickLock.Unlock()

	events := s.take(time.Now())
	if len(events) == 0 && timeout > 0 {
		wait := timeout
		s.lock.Lock()
		if d, ok := s.nextDueLocked(time.Now()); ok && d < wait {
			wait = d
		}
		s.lock.Unlock()
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.notify:
			case <-timer.C:
			}
			timer.Stop()
		}
		events = s.take(time.Now())
	}

	for _, ev := range events {
		s.handle(ev)
	}
	if len(events) > 0 {
		s.lock.Lock()
		s.promoteLocked(time.Now())
		s.lock.Unlock()
	}
	return len(events)
}

func (s *Scheduler) take(now time.Time) []event {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.promoteLocked(now)
	events := s.events
	s.events = nil
	return events
}

func (s *Scheduler) handle(ev event) {
	sl := ev.slot
	if sl.job.future.State() != future.Pending {
		sl.x.close()
		s.release(sl)
		return
	}
	switch ev.kind {
	case headersEvent:
		if ev.err != nil {
			s.failed(sl, ev.err)
			return
		}
		resp, err := sl.x.headers()
		if err != nil {
			s.finish(sl, nil, err)
			return
		}
		if sl.opts.Stream {
			s.finish(sl, sl.x.stream(resp), nil)
			return
		}
		sl.resp = resp
		s.logger().Debug("headers received",
			zap.String("slot", sl.job.id),
			zap.Int("status", resp.StatusCode))
		go func() {
			data, enc, err := sl.x.readBody()
			s.post(event{kind: bodyEvent, slot: sl, data: data, enc: enc, err: err})
		}()
	case bodyEvent:
		if ev.err != nil {
			s.failed(sl, ev.err)
			return
		}
		s.finish(sl, sl.x.complete(sl.resp, ev.data, ev.enc), nil)
	}
}

func (s *Scheduler) failed(sl *slot, cause error) {
	retry, err := sl.x.fail(cause, sl.attempt, s.maxRewinds())
	if !retry {
		s.finish(sl, nil, err)
		return
	}
	s.logger().Debug("rewinding request",
		zap.String("slot", sl.job.id),
		zap.Int("attempt", sl.attempt+1),
		zap.Error(cause))
	s.release(sl)
	s.enqueue(&slot{
		job:     sl.job,
		req:     sl.req,
		opts:    sl.opts.Clone(),
		attempt: sl.attempt + 1,
		due:     time.Now(),
	})
}

// finish settles the job of sl and reports its statistics.
func (s *Scheduler) finish(sl *slot, resp *request.Response, err error) {
	s.release(sl)
	j := sl.job
	if err != nil {
		s.logger().Debug("transfer failed", zap.String("slot", j.id), zap.Error(err))
	} else {
		s.logger().Debug("transfer done", zap.String("slot", j.id), zap.Int("status", resp.StatusCode))
	}
	if !sl.opts.Stream || err != nil {
		defer j.cancel()
	}
	if sl.opts.OnStats != nil {
		sl.opts.OnStats(&request.Stats{
			Request:  sl.req,
			Response: resp,
			Err:      err,
			Elapsed:  time.Since(j.start),
			Attempts: j.attempts,
		})
	}
	j.future.Settle(resp, err)
}

func (s *Scheduler) release(sl *slot) {
	s.lock.Lock()
	delete(s.active, sl)
	s.lock.Unlock()
}

// Wait drives the Scheduler until f is settled, then returns its
// outcome. It works for any Future, including ones derived from
// futures of the Scheduler with Then or ThenFuture.
func (s *Scheduler) Wait(f *future.Future) (*request.Response, error) {
	for f.State() == future.Pending {
		s.Tick(s.pollTimeout())
	}
	return f.Result()
}

// Drain drives the Scheduler until no request is queued or in
// progress. Requests sent by continuations while draining are drained
// too.
func (s *Scheduler) Drain() {
	for s.Pending() > 0 {
		s.Tick(s.pollTimeout())
	}
}

// Run drives the Scheduler until ctx is done, and returns ctx.Err().
//
// Run is optional. Programs which prefer to select on Future.Done
// instead of calling Future.Wait run it on a background goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.Tick(s.pollTimeout())
	}
}

// Pending returns the number of requests queued or in progress.
func (s *Scheduler) Pending() int {
	s.init()
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.queue) + len(s.active)
}

// Active returns the number of transfers in progress.
func (s *Scheduler) Active() int {
	s.init()
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.active)
}

// CloseIdleConnections closes the idle connections of every client
// built by the Scheduler, and of Doer if it is an IdleCloser.
func (s *Scheduler) CloseIdleConnections() {
	if ic, ok := s.Doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
	s.transports.closeIdle()
}
