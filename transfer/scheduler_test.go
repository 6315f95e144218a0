// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler_Servers(t *testing.T) {
	for _, server := range servers {
		server := server
		t.Run(serverName(server), func(t *testing.T) {
			t.Parallel()
			s := &Scheduler{Doer: server.Client()}
			inst := serverInstruction{
				StatusCode: 200,
				Body: []bodyChunk{
					{Data: []byte("foo")},
					{Data: []byte("bar")},
				},
			}
			f := s.Send(inst.toRequest("POST", server), nil)
			resp, err := f.Wait()
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
			assert.Equal(t, "OK", resp.Reason)
			b, err := resp.Body.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, "foobar", string(b))
			assert.Equal(t, 0, s.Pending())
			assert.Equal(t, 0, s.Active())
		})
	}
}

func TestScheduler_BuiltTransport(t *testing.T) {
	s := &Scheduler{}
	inst := serverInstruction{StatusCode: 204}
	resp, err := s.Send(inst.toRequest("GET", httpServer), &request.Options{}).Wait()
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
	s.CloseIdleConnections()
}

func TestScheduler_Concurrency(t *testing.T) {
	var running, peak int32
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).
		Run(func(_ mock.Arguments) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}).
		Return(func(_ *http.Request) *http.Response { return newResponse(200, "ok") }, nil).
		Times(6)

	s := &Scheduler{Doer: doer, Concurrency: 2, PollTimeout: 50 * time.Millisecond}
	futures := make([]*future.Future, 6)
	for i := range futures {
		futures[i] = s.Send(newRequest(t, "GET", nil), nil)
	}
	assert.Equal(t, 6, s.Pending())
	assert.Equal(t, 2, s.Active())
	s.Drain()
	for _, f := range futures {
		assert.Equal(t, future.Fulfilled, f.State())
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	doer.AssertExpectations(t)
}

func TestScheduler_Delay(t *testing.T) {
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).Return(func(_ *http.Request) *http.Response { return newResponse(200, "") }, nil).Twice()
	s := &Scheduler{Doer: doer, PollTimeout: time.Second}

	start := time.Now()
	delayed := s.Send(newRequest(t, "GET", nil), &request.Options{Delay: 100 * time.Millisecond})
	immediate := s.Send(newRequest(t, "GET", nil), nil)
	assert.Equal(t, 1, s.Active())

	_, err := immediate.Wait()
	require.NoError(t, err)
	assert.Equal(t, future.Pending, delayed.State())

	_, err = delayed.Wait()
	require.NoError(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 900*time.Millisecond)
}

func TestScheduler_Rewind(t *testing.T) {
	t.Run("too many retries", func(t *testing.T) {
		var bodies []string
		var lock sync.Mutex
		doer := newMockHTTPDoer(t)
		doer.On("Do", mock.Anything).
			Run(func(args mock.Arguments) {
				b, _ := io.ReadAll(args.Get(0).(*http.Request).Body)
				lock.Lock()
				bodies = append(bodies, string(b))
				lock.Unlock()
			}).
			Return(nil, syscall.ECONNRESET).
			Times(4)
		var stats []*request.Stats
		s := &Scheduler{Doer: doer}
		f := s.Send(newRequest(t, "PUT", "payload"), &request.Options{
			OnStats: func(st *request.Stats) { stats = append(stats, st) },
		})
		_, err := f.Wait()
		require.Error(t, err)
		assert.ErrorIs(t, err, request.KindTooManyRetries)
		assert.Contains(t, err.Error(), "retried too many times")
		assert.ErrorIs(t, err, syscall.ECONNRESET)
		assert.Equal(t, []string{"payload", "payload", "payload", "payload"}, bodies)
		require.Len(t, stats, 1)
		assert.Equal(t, 4, stats[0].Attempts)
		assert.Same(t, err, stats[0].Err)
		doer.AssertExpectations(t)
	})
	t.Run("succeeds after rewind", func(t *testing.T) {
		doer := newMockHTTPDoer(t)
		doer.On("Do", mock.Anything).Return(nil, io.ErrUnexpectedEOF).Twice()
		doer.On("Do", mock.Anything).Return(newResponse(201, "created"), nil).Once()
		var stats []*request.Stats
		s := &Scheduler{Doer: doer}
		resp, err := s.Send(newRequest(t, "POST", "x"), &request.Options{
			OnStats: func(st *request.Stats) { stats = append(stats, st) },
		}).Wait()
		require.NoError(t, err)
		assert.Equal(t, 201, resp.StatusCode)
		require.Len(t, stats, 1)
		assert.Equal(t, 3, stats[0].Attempts)
		assert.Same(t, resp, stats[0].Response)
		doer.AssertExpectations(t)
	})
	t.Run("disabled", func(t *testing.T) {
		doer := newMockHTTPDoer(t)
		doer.On("Do", mock.Anything).Return(nil, syscall.ECONNRESET).Once()
		s := &Scheduler{Doer: doer, MaxRewinds: -1}
		_, err := s.Send(newRequest(t, "GET", nil), nil).Wait()
		assert.ErrorIs(t, err, request.KindTransport)
		assert.ErrorIs(t, err, syscall.ECONNRESET)
		doer.AssertExpectations(t)
	})
	t.Run("unseekable body", func(t *testing.T) {
		doer := newMockHTTPDoer(t)
		doer.On("Do", mock.Anything).
			Run(func(args mock.Arguments) {
				p := make([]byte, 2)
				_, _ = args.Get(0).(*http.Request).Body.Read(p)
			}).
			Return(nil, syscall.ECONNRESET).
			Once()
		s := &Scheduler{Doer: doer}
		body := request.NewStreamBody(strings.NewReader("streamed"), -1)
		_, err := s.Send(newRequest(t, "POST", body), nil).Wait()
		require.Error(t, err)
		assert.ErrorIs(t, err, request.KindUnseekableBody)
		doer.AssertExpectations(t)
	})
	t.Run("untouched stream body", func(t *testing.T) {
		doer := newMockHTTPDoer(t)
		doer.On("Do", mock.Anything).Return(nil, syscall.ECONNRESET).Once()
		doer.On("Do", mock.Anything).Return(newResponse(200, ""), nil).Once()
		s := &Scheduler{Doer: doer}
		body := request.NewStreamBody(strings.NewReader("streamed"), 8)
		resp, err := s.Send(newRequest(t, "POST", body), nil).Wait()
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		doer.AssertExpectations(t)
	})
}

func TestScheduler_RewindDroppedConnection(t *testing.T) {
	bodies := map[string]func(t *testing.T) interface{}{
		"string": func(t *testing.T) interface{} { return "payload" },
		"file":   func(t *testing.T) interface{} { return openFile(t, "payload") },
	}
	for name, body := range bodies {
		body := body
		t.Run(name, func(t *testing.T) {
			server := newDroppingServer(t, 2)
			v := body(t)
			req, err := request.New("POST", server.URL, v)
			require.NoError(t, err)
			var stats *request.Stats
			s := &Scheduler{}

			resp, err := s.Send(req, &request.Options{
				OnStats: func(st *request.Stats) { stats = st },
			}).Wait()

			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
			b, err := resp.Body.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, "payload", string(b))
			assert.Equal(t, []string{"payload", "payload", "payload"}, server.received())
			require.NotNil(t, stats)
			assert.Equal(t, 3, stats.Attempts)
			if f, ok := v.(*os.File); ok {
				_, err = f.Seek(0, io.SeekStart)
				assert.NoError(t, err, "file body must stay open")
			}
		})
	}
}

func TestScheduler_SendAgain(t *testing.T) {
	t.Run("seekable body", func(t *testing.T) {
		server := newDroppingServer(t, 0)
		req, err := request.New("PUT", server.URL, openFile(t, "again"))
		require.NoError(t, err)
		s := &Scheduler{}

		for i := 0; i < 2; i++ {
			resp, err := s.Send(req, nil).Wait()
			require.NoError(t, err)
			assert.Equal(t, 200, resp.StatusCode)
		}
		assert.Equal(t, []string{"again", "again"}, server.received())
	})
	t.Run("consumed stream body", func(t *testing.T) {
		server := newDroppingServer(t, 0)
		req, err := request.New("PUT", server.URL, request.NewStreamBody(strings.NewReader("once"), 4))
		require.NoError(t, err)
		s := &Scheduler{}

		_, err = s.Send(req, nil).Wait()
		require.NoError(t, err)
		_, err = s.Send(req, nil).Wait()

		assert.ErrorIs(t, err, request.KindUnseekableBody)
		assert.Equal(t, []string{"once"}, server.received())
	})
}

func TestScheduler_Failures(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind request.Kind
	}{
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, request.KindConnect},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, request.KindConnect},
		{"attempt failed", errors.New("a connection attempt failed"), request.KindConnect},
		{"other", errors.New("tls: bad certificate"), request.KindTransport},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			doer := newMockHTTPDoer(t)
			doer.On("Do", mock.Anything).Return(nil, testCase.err).Once()
			s := &Scheduler{Doer: doer}
			_, err := s.Send(newRequest(t, "GET", nil), nil).Wait()
			require.Error(t, err)
			assert.ErrorIs(t, err, testCase.kind)
			var re *request.Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, testCase.kind, re.Kind)
			assert.NotNil(t, re.Request)
			doer.AssertExpectations(t)
		})
	}
}

func TestScheduler_Validation(t *testing.T) {
	doer := newMockHTTPDoer(t)
	s := &Scheduler{Doer: doer}
	f := s.Send(newRequest(t, "GET", nil), &request.Options{Timeout: -time.Second})
	assert.Equal(t, future.Rejected, f.State())
	_, err := f.Result()
	assert.ErrorIs(t, err, request.KindValidation)
	assert.Equal(t, 0, s.Pending())
	doer.AssertNotCalled(t, "Do", mock.Anything)
}

func TestScheduler_OnHeaders(t *testing.T) {
	closed := false
	resp := newResponse(200, "body")
	resp.Body = &readCloser{Reader: strings.NewReader("body"), close: func() error {
		closed = true
		return nil
	}}
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).Return(resp, nil).Once()
	s := &Scheduler{Doer: doer}
	boom := errors.New("boom")
	var seen *request.Response
	_, err := s.Send(newRequest(t, "GET", nil), &request.Options{
		OnHeaders: func(r *request.Response) error {
			seen = r
			return boom
		},
	}).Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, request.KindTransport)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, seen)
	assert.Equal(t, 200, seen.StatusCode)
	assert.True(t, closed)
}

func TestScheduler_DecodeContent(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("hello, gzip"))
	require.NoError(t, zw.Close())
	encoded := buf.Bytes()

	newGzipResponse := func(_ *http.Request) *http.Response {
		r := newResponse(200, string(encoded))
		r.Header.Set("Content-Encoding", "gzip")
		return r
	}

	t.Run("decode", func(t *testing.T) {
		doer := newMockHTTPDoer(t)
		var acceptEncoding string
		doer.On("Do", mock.Anything).
			Run(func(args mock.Arguments) {
				acceptEncoding = args.Get(0).(*http.Request).Header.Get("Accept-Encoding")
			}).
			Return(newGzipResponse, nil).
			Once()
		var sink bytes.Buffer
		s := &Scheduler{Doer: doer}
		resp, err := s.Send(newRequest(t, "GET", nil), &request.Options{DecodeContent: true, Sink: &sink}).Wait()
		require.NoError(t, err)
		b, err := resp.Body.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, "hello, gzip", string(b))
		assert.Equal(t, "hello, gzip", sink.String())
		assert.Equal(t, "gzip, deflate", acceptEncoding)
		assert.Equal(t, "gzip", resp.Header.Get("X-Encoded-Content-Encoding"))
		assert.Equal(t, "", resp.Header.Get("Content-Encoding"))
		assert.Equal(t, "11", resp.Header.Get("Content-Length"))
	})
	t.Run("no decode", func(t *testing.T) {
		doer := newMockHTTPDoer(t)
		doer.On("Do", mock.Anything).Return(newGzipResponse, nil).Once()
		s := &Scheduler{Doer: doer}
		resp, err := s.Send(newRequest(t, "GET", nil), nil).Wait()
		require.NoError(t, err)
		b, err := resp.Body.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, encoded, b)
		assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	})
}

func TestScheduler_Stream(t *testing.T) {
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).Return(newResponse(200, "streamed"), nil).Once()
	s := &Scheduler{Doer: doer}
	resp, err := s.Send(newRequest(t, "GET", nil), &request.Options{Stream: true}).Wait()
	require.NoError(t, err)
	assert.False(t, resp.Body.Seekable())
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(b))
	assert.NoError(t, resp.Body.Close())
}

func TestScheduler_Progress(t *testing.T) {
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = io.ReadAll(args.Get(0).(*http.Request).Body)
		}).
		Return(newResponse(200, "0123456789"), nil).
		Once()
	var lock sync.Mutex
	var last [4]int64
	s := &Scheduler{Doer: doer}
	_, err := s.Send(newRequest(t, "POST", "abc"), &request.Options{
		Progress: func(dlTotal, dl, ulTotal, ul int64) {
			lock.Lock()
			last = [4]int64{dlTotal, dl, ulTotal, ul}
			lock.Unlock()
		},
	}).Wait()
	require.NoError(t, err)
	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, [4]int64{10, 10, 3, 3}, last)
}

func TestScheduler_Cancel(t *testing.T) {
	release := make(chan struct{})
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case <-args.Get(0).(*http.Request).Context().Done():
			case <-release:
			}
		}).
		Return(nil, context.Canceled).
		Once()
	s := &Scheduler{Doer: doer, PollTimeout: 10 * time.Millisecond}
	f := s.Send(newRequest(t, "GET", nil), nil)
	assert.True(t, f.Cancel())
	_, err := f.Wait()
	assert.ErrorIs(t, err, future.ErrCanceled)
	close(release)
	s.Drain()
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Run(t *testing.T) {
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).Return(func(_ *http.Request) *http.Response { return newResponse(200, "") }, nil)
	s := &Scheduler{Doer: doer, PollTimeout: 10 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()
	f := s.Send(newRequest(t, "GET", nil), nil)
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future not settled by Run")
	}
	assert.Equal(t, future.Fulfilled, f.State())
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_Continuations(t *testing.T) {
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).Return(func(_ *http.Request) *http.Response { return newResponse(200, "") }, nil).Twice()
	s := &Scheduler{Doer: doer}
	f := s.Send(newRequest(t, "GET", nil), nil).ThenFuture(func(_ *request.Response) *future.Future {
		return s.Send(newRequest(t, "GET", nil), nil)
	}, nil)
	resp, err := s.Wait(f)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	doer.AssertExpectations(t)
}

func TestScheduler_Timeouts(t *testing.T) {
	t.Run("attempt timeout", func(t *testing.T) {
		s := &Scheduler{Doer: httpServer.Client()}
		inst := serverInstruction{StatusCode: 200, HeaderPause: 500 * time.Millisecond}
		start := time.Now()
		_, err := s.Send(inst.toRequest("GET", httpServer), &request.Options{Timeout: 50 * time.Millisecond}).Wait()
		require.Error(t, err)
		assert.ErrorIs(t, err, request.KindTransport)
		var re *request.Error
		require.ErrorAs(t, err, &re)
		assert.True(t, re.Timeout())
		assert.Less(t, time.Since(start), 400*time.Millisecond)
	})
	t.Run("read timeout", func(t *testing.T) {
		s := &Scheduler{Doer: httpServer.Client(), MaxRewinds: -1}
		inst := serverInstruction{
			StatusCode: 200,
			Body:       []bodyChunk{{Pause: 500 * time.Millisecond, Data: []byte("x")}},
		}
		_, err := s.Send(inst.toRequest("GET", httpServer), &request.Options{ReadTimeout: 50 * time.Millisecond}).Wait()
		require.Error(t, err)
		var re *request.Error
		require.ErrorAs(t, err, &re)
		assert.True(t, re.Timeout())
	})
}

func TestScheduler_Logger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	doer := newMockHTTPDoer(t)
	doer.On("Do", mock.Anything).Return(newResponse(200, ""), nil).Once()
	s := &Scheduler{Doer: doer, Logger: zap.New(core)}
	_, err := s.Send(newRequest(t, "GET", nil), nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("request queued").Len())
	assert.Equal(t, 1, logs.FilterMessage("transfer started").Len())
	assert.Equal(t, 1, logs.FilterMessage("transfer done").Len())
	for _, entry := range logs.All() {
		assert.NotEmpty(t, entry.ContextMap()["slot"])
	}
}

type mockHTTPDoer struct {
	mock.Mock
}

func newMockHTTPDoer(t *testing.T) *mockHTTPDoer {
	m := &mockHTTPDoer{}
	m.Test(t)
	return m
}

func (m *mockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	err := args.Error(1)
	switch x := args.Get(0).(type) {
	case *http.Response:
		return x, err
	case func(*http.Request) *http.Response:
		return x(req), err
	}
	return nil, err
}

func newRequest(t *testing.T, method string, body interface{}) *request.Request {
	req, err := request.New(method, "http://example.com/path", body)
	require.NoError(t, err)
	return req
}

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Length": {strconv.Itoa(len(body))}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
