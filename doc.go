// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package httpflow provides an asynchronous HTTP client which runs many
requests concurrently through a pipeline of middleware.

Create a Client to begin making requests.

	client := &httpflow.Client{}
	resp, err := client.Get("https://www.example.com")
	...
	resp, err := client.Post("https://www.example.com/upload",
		"application/json", &buf)
	...
	resp, err := client.PostForm("http://example.com/form",
		url.Values{"key": {"Value"}, "id": {"123"}})

To have many requests in flight at once, send them without waiting
and wait on the futures afterwards:

	var futures []*future.Future
	for _, u := range urls {
		req, _ := request.New("GET", u, nil)
		futures = append(futures, client.Send(req, nil))
	}
	for _, f := range futures {
		resp, err := f.Wait()
		...
	}

For control over the client's retry decisions and timing, set a retry
policy using components from package retry, and for control over
attempt timeouts, set a timeout policy from package timeout:

	client := &httpflow.Client{
		RetryPolicy:   retry.NewPolicy(retry.DefaultDecider, retry.Exponential(100*time.Millisecond)),
		TimeoutPolicy: timeout.Fixed(10 * time.Second),
	}

For full control over the pipeline, build a Stack from the middleware
in package middleware, in front of a backend from package transfer:

	s := httpflow.NewStack(&transfer.Scheduler{Concurrency: 10})
	s.Push(middleware.HTTPErrors(), "http_errors")
	s.Push(middleware.Log(logger, middleware.CLF, zapcore.InfoLevel), "log")
	client := &httpflow.Client{Stack: s}

Package httpflow provides basic interfaces for each blocking method of
the client (Doer, Getter, Header, Poster, FormPoster, and IdleCloser); a
combined interface that composes all the basic methods (Executor); and
utility functions for working with a Doer (Inflate, Get, Head, Post,
and PostForm).
*/
package httpflow
