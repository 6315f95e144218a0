// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transfer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gogama/httpflow/request"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// An HTTPDoer implements a Do method in the same manner as the GoLang
// standard library http.Client from the net/http package.
//
// An HTTPDoer is the low-level transfer primitive of the package: the
// scheduler runs one Do call per attempt on its own goroutine.
type HTTPDoer interface {
	// Do sends an HTTP request and returns an HTTP response following
	// policy (such as redirects, cookies, auth) configured on the
	// HTTPDoer.
	//
	// The Do method must follow the contract documented on the GoLang
	// standard library http.Client from the net/http package.
	Do(r *http.Request) (*http.Response, error)
}

// An IdleCloser has the ability to close idle connections. The
// standard library type http.Client implements IdleCloser.
type IdleCloser interface {
	// CloseIdleConnections closes any connections which were previously
	// connected from previous requests but are now sitting idle in a
	// "keep-alive" state. It does not interrupt any connections
	// currently in use.
	CloseIdleConnections()
}

// transportKey identifies the transport settings of an Options value.
// Attempts whose Options have equal keys share one cached client.
type transportKey struct {
	proxy          string
	skipVerify     bool
	caCertFile     string
	certFile       string
	keyFile        string
	forceIP        string
	connectTimeout time.Duration
	allowRedirects bool
}

func keyOf(opts *request.Options) transportKey {
	return transportKey{
		proxy:          opts.Proxy,
		skipVerify:     opts.SkipVerify,
		caCertFile:     opts.CACertFile,
		certFile:       opts.CertFile,
		keyFile:        opts.KeyFile,
		forceIP:        opts.ForceIPResolve,
		connectTimeout: opts.ConnectTimeout,
		allowRedirects: opts.AllowRedirects,
	}
}

// transports is a cache of clients built from Options. The zero value
// is an empty cache.
type transports struct {
	lock    sync.Mutex
	clients map[transportKey]*http.Client
}

// doer returns the HTTPDoer to use for an attempt with the given
// Options, and a function to call once the attempt is over.
//
// A non-nil custom doer is always used as is. Options with a
// ConfigureTransport hook get a dedicated client whose idle
// connections are closed when the attempt ends.
func (c *transports) doer(custom HTTPDoer, opts *request.Options) (HTTPDoer, func(), error) {
	if custom != nil {
		return custom, noop, nil
	}
	k := keyOf(opts)
	if opts.ConfigureTransport != nil {
		cl, err := buildClient(k, opts.ConfigureTransport)
		if err != nil {
			return nil, nil, err
		}
		return cl, cl.CloseIdleConnections, nil
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if cl, ok := c.clients[k]; ok {
		return cl, noop, nil
	}
	cl, err := buildClient(k, nil)
	if err != nil {
		return nil, nil, err
	}
	if c.clients == nil {
		c.clients = make(map[transportKey]*http.Client)
	}
	c.clients[k] = cl
	return cl, noop, nil
}

// closeIdle closes the idle connections of every cached client.
func (c *transports) closeIdle() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, cl := range c.clients {
		cl.CloseIdleConnections()
	}
}

func noop() {}

func buildClient(k transportKey, configure func(*http.Transport)) (*http.Client, error) {
	t, err := buildTransport(k)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		configure(t)
	}
	cl := &http.Client{Transport: t}
	if !k.allowRedirects {
		cl.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return cl, nil
}

func buildTransport(k transportKey) (*http.Transport, error) {
	network := "tcp"
	switch k.forceIP {
	case "v4":
		network = "tcp4"
	case "v6":
		network = "tcp6"
	}
	dialer := &net.Dialer{
		Timeout:   k.connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Content decoding is done by the exchange when requested.
		DisableCompression: true,
	}

	tlsConfig, err := buildTLSConfig(k)
	if err != nil {
		return nil, err
	}
	t.TLSClientConfig = tlsConfig

	if k.proxy != "" {
		u, err := url.Parse(k.proxy)
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case "http", "https":
			t.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			d, err := proxy.FromURL(u, dialer)
			if err != nil {
				return nil, err
			}
			t.Proxy = nil
			if cd, ok := d.(proxy.ContextDialer); ok {
				t.DialContext = cd.DialContext
			} else {
				t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return d.Dial(network, addr)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	if err = http2.ConfigureTransport(t); err != nil {
		return nil, err
	}
	return t, nil
}

func buildTLSConfig(k transportKey) (*tls.Config, error) {
	c := &tls.Config{
		InsecureSkipVerify: k.skipVerify,
	}
	if k.caCertFile != "" {
		pem, err := os.ReadFile(k.caCertFile)
		if err != nil {
			return nil, err
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in " + k.caCertFile)
		}
		c.RootCAs = pool
	}
	if k.certFile != "" {
		cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
		if err != nil {
			return nil, err
		}
		c.Certificates = []tls.Certificate{cert}
	}
	return c, nil
}
