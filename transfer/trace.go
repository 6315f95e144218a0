// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http/httptrace"
	"sync"
)

// debugTrace writes one line per connection-level event to w.
type debugTrace struct {
	lock sync.Mutex
	w    io.Writer
}

func (d *debugTrace) printf(format string, args ...interface{}) {
	d.lock.Lock()
	defer d.lock.Unlock()
	_, _ = fmt.Fprintf(d.w, format+"\n", args...)
}

func withDebugTrace(ctx context.Context, w io.Writer) context.Context {
	d := &debugTrace{w: w}
	return httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			d.printf("* Getting connection to %s", hostPort)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			d.printf("* Connected to %s (reused: %t)", info.Conn.RemoteAddr(), info.Reused)
		},
		DNSStart: func(info httptrace.DNSStartInfo) {
			d.printf("* Resolving %s", info.Host)
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			if info.Err != nil {
				d.printf("* Could not resolve host: %v", info.Err)
				return
			}
			d.printf("* Resolved %d address(es)", len(info.Addrs))
		},
		ConnectStart: func(network, addr string) {
			d.printf("*   Trying %s (%s)", addr, network)
		},
		ConnectDone: func(network, addr string, err error) {
			if err != nil {
				d.printf("* Failed to connect to %s: %v", addr, err)
			}
		},
		TLSHandshakeStart: func() {
			d.printf("* TLS handshake started")
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			if err != nil {
				d.printf("* TLS handshake failed: %v", err)
				return
			}
			d.printf("* TLS handshake done (%s, ALPN %q)", tls.VersionName(state.Version), state.NegotiatedProtocol)
		},
		WroteHeaders: func() {
			d.printf("> Request headers sent")
		},
		Wait100Continue: func() {
			d.printf("> Waiting for 100-continue")
		},
		Got100Continue: func() {
			d.printf("< 100 Continue")
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				d.printf("> Request write failed: %v", info.Err)
				return
			}
			d.printf("> Request sent")
		},
		GotFirstResponseByte: func() {
			d.printf("< First response byte received")
		},
	})
}
