// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transfer provides the backends which actually move requests
// and responses over the network.
//
// Scheduler is the concurrent backend. It runs up to Concurrency
// transfers at a time, each on its own goroutine, and settles their
// futures in whichever goroutine drives it by calling Tick, which is
// normally a goroutine waiting on one of the futures:
//
//	s := &transfer.Scheduler{Concurrency: 10}
//	var futures []*future.Future
//	for _, req := range reqs {
//		futures = append(futures, s.Send(req, &request.Options{Timeout: 5 * time.Second}))
//	}
//	for _, f := range futures {
//		resp, err := f.Wait()
//		...
//	}
//
// Sync is the blocking backend. It shares the exchange code of
// Scheduler but performs each transfer in the goroutine calling Send.
//
// Both backends implement the transport contract expected by
// httpflow.Stack, and both honor the transfer settings of
// request.Options: timeouts, proxies, TLS settings, content decoding,
// sinks, streaming, progress and debug callbacks, and the OnHeaders
// and OnStats hooks. Requests which fail because the connection was
// reset or dropped are rewound and resent a bounded number of times.
package transfer
