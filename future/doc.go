// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package future provides Future, the eventual outcome of one logical
HTTP request.

Every httpflow Handler returns a *Future. Middleware chains work onto
it with Then (synchronous mapping) and ThenFuture (asynchronous
continuation, for example resending the request), and callers block on
it with Wait:

	f := handler.Send(req, opts)
	f = f.Then(func(resp *request.Response) (*request.Response, error) {
		return resp.WithHeader("X-Seen", "1"), nil
	}, nil)
	resp, err := f.Wait()

Futures created by the transfer scheduler carry a step function which
advances the scheduler, so Wait drives the transfers it is waiting for
even when no other goroutine is running the scheduler.
*/
package future
