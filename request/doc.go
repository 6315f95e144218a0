// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the value types which flow through an httpflow
pipeline: Request, Body, Response, Options and Error, plus Execution,
the per-attempt state handed to retry and timeout policies.

A Request is immutable. Create one with New and derive modified copies
with the With methods:

	r, err := request.New("POST", "https://example.com/upload", file)
	...
	r = r.WithHeader("X-Trace", "abc")

The body is a Body, a lazily read stream which may be seekable. Seekable
bodies can be rewound for a retried attempt and inspected with Snapshot
without losing their position. Non-seekable bodies are never read for
inspection, and a request whose non-seekable body was partially sent
cannot be retried.

Options holds the settings for one attempt: timeouts, proxy and TLS
settings, hooks such as OnHeaders and OnStats, and fields used by
middleware. Each attempt works on its own copy made with Clone.

Failures are reported as *Error values carrying a Kind. Test for a kind
with errors.Is:

	if errors.Is(err, request.KindConnect) {
		...
	}
*/
package request
