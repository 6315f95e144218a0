// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// A Category is the transience category of a particular error, as
// reported by function Categorize().
//
// The category Not means the error is not transient from the perspective
// of completing an HTTP request attempt successfully, or in other words
// that a retry after encountering this error is very unlikely to succeed.
//
// All other categories indicate the error is transient from the
// perspective of completing an HTTP request attempt successfully, or in
// other words that a retry after encountering this error has some
// prospect of success.
type Category int

const (
	// Not indicates any non-transient error.
	Not Category = iota
	// Timeout indicates a client-side timeout. The server may be going
	// through a temporary period of slowness, or the client may succeed
	// on a future attempt waiting longer (increasing its timeout).
	//
	// Function Categorize() will return Timeout if the error or any of
	// its wrapped causes has a Timeout() function that reports true.
	Timeout
	// ConnRefused indicates the remote host refused the connection, and
	// corresponds to the POSIX error code ECONNREFUSED.
	//
	// Although connection refusal may be a permanent condition, it is
	// classified as transient because it can happen if the service
	// running on the remote host is in the process of starting or
	// restarting.
	ConnRefused
	// ConnReset indicates the remote host returned an RST packet on a
	// previously active TCP connection, and corresponds to the POSIX
	// error code ECONNRESET.
	//
	// Connection reset tends to indicate a high probability of success
	// on retry.
	ConnReset
	// DNS indicates that the host name could not be resolved. The
	// request never left the client.
	//
	// Function Categorize() will return DNS if the error is not a
	// Timeout, and the error or any of its wrapped causes is a
	// *net.DNSError.
	DNS
	// ConnDied indicates the connection was lost in the middle of an
	// exchange: the server closed it early (unexpected EOF) or the
	// client could no longer write to it (EPIPE, ECONNABORTED).
	ConnDied
)

func (c Category) String() string {
	switch c {
	case Not:
		return "not transient"
	case Timeout:
		return "timeout"
	case ConnRefused:
		return "connection refused"
	case ConnReset:
		return "connection reset"
	case DNS:
		return "dns"
	case ConnDied:
		return "connection died"
	default:
		return "unknown"
	}
}

// Categorize returns the transience category of the given error. All
// non-nil transient errors result in a transience category other than
// Not. A nil error, and an error that is not transient from the
// perspective of completing an HTTP request attempt, both produce the
// return value Not.
//
// In assessing transience, Categorize looks at wrapped cause errors
// contained within err, not just err itself. However, Categorize never
// checks if an error has a Temporary() function that returns true, as
// the semantics of Temporary() aren't entirely clear.
func Categorize(err error) Category {
	if err == nil {
		return Not
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		return Timeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return ConnReset
		case syscall.ECONNREFUSED:
			return ConnRefused
		case syscall.EPIPE, syscall.ECONNABORTED:
			return ConnDied
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return DNS
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ConnDied
	}

	// Some platforms only surface these failures as text.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset by peer"):
		return ConnReset
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection attempt failed"):
		return ConnRefused
	case strings.Contains(msg, "getaddrinfo"),
		strings.Contains(msg, "no such host"):
		return DNS
	case strings.Contains(msg, "server closed idle connection"):
		return ConnDied
	}

	return Not
}

type hasTimeout interface {
	Timeout() bool
}
