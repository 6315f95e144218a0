// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"encoding/base64"
	"fmt"
	"net/http"
	urlpkg "net/url"
	"strings"
)

// A Request is an immutable logical HTTP request.
//
// A Request is never modified after construction. Every With method
// returns a new Request and leaves the receiver untouched, so callers
// must always use the returned value. Header maps are cloned on the
// way in and on the way out and are never shared between two Request
// values.
//
// The body is the one exception to value semantics: it is a stream,
// and two Request values derived from one another share the same
// *Body. Layers which read the body only for inspection restore its
// position (see Body.Snapshot).
type Request struct {
	method  string
	url     *urlpkg.URL
	header  http.Header
	body    *Body
	version string
}

// New returns a new Request given a method, URL, and optional body.
//
// An empty method means GET. The body parameter is converted with
// NewBody, so it may be nil, a string, a []byte, a *Body, an
// io.ReadSeeker, or an io.Reader.
func New(method, url string, body interface{}) (*Request, error) {
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		return nil, fmt.Errorf("httpflow/request: invalid method %q", method)
	}
	u, err := urlpkg.Parse(url)
	if err != nil {
		return nil, err
	}
	u.Host = removeEmptyPort(u.Host)
	b, err := NewBody(body)
	if err != nil {
		return nil, err
	}
	return &Request{
		method:  method,
		url:     u,
		header:  make(http.Header),
		body:    b,
		version: "1.1",
	}, nil
}

// Method returns the HTTP method.
func (r *Request) Method() string {
	return r.method
}

// URL returns a copy of the target URL.
func (r *Request) URL() *urlpkg.URL {
	u := *r.url
	if r.url.User != nil {
		user := *r.url.User
		u.User = &user
	}
	return &u
}

// Header returns a copy of the request header.
func (r *Request) Header() http.Header {
	return r.header.Clone()
}

// HeaderLine returns all values of the named header joined by ", ",
// or the empty string if the header is absent.
func (r *Request) HeaderLine(name string) string {
	return strings.Join(r.header.Values(name), ", ")
}

// HasHeader reports whether the named header is present.
func (r *Request) HasHeader(name string) bool {
	_, ok := r.header[http.CanonicalHeaderKey(name)]
	return ok
}

// Body returns the request body. The nil *Body means no body.
func (r *Request) Body() *Body {
	return r.body
}

// ProtocolVersion returns the HTTP protocol version, for example
// "1.1".
func (r *Request) ProtocolVersion() string {
	return r.version
}

func (r *Request) clone() *Request {
	r2 := *r
	r2.header = r.header.Clone()
	if r2.header == nil {
		r2.header = make(http.Header)
	}
	return &r2
}

// WithMethod returns a copy of r with its method changed. It panics if
// the method is not a valid HTTP token.
func (r *Request) WithMethod(method string) *Request {
	if method == "" {
		method = "GET"
	}
	if !validMethod(method) {
		panic(fmt.Sprintf("httpflow/request: invalid method %q", method))
	}
	r2 := r.clone()
	r2.method = method
	return r2
}

// WithURL returns a copy of r targeting u. If preserveHost is false
// and u has a host, any Host header is replaced with u's host.
func (r *Request) WithURL(u *urlpkg.URL, preserveHost bool) *Request {
	if u == nil {
		panic("httpflow/request: nil URL")
	}
	r2 := r.clone()
	u2 := *u
	u2.Host = removeEmptyPort(u2.Host)
	r2.url = &u2
	if !preserveHost && u2.Host != "" && r2.header.Get("Host") != "" {
		r2.header.Set("Host", u2.Host)
	}
	return r2
}

// WithHeader returns a copy of r with the named header replaced by
// values.
func (r *Request) WithHeader(name string, values ...string) *Request {
	r2 := r.clone()
	r2.header.Del(name)
	for _, v := range values {
		r2.header.Add(name, v)
	}
	return r2
}

// WithAddedHeader returns a copy of r with values appended to the
// named header, preserving any existing values.
func (r *Request) WithAddedHeader(name string, values ...string) *Request {
	r2 := r.clone()
	for _, v := range values {
		r2.header.Add(name, v)
	}
	return r2
}

// WithoutHeader returns a copy of r without the named header.
func (r *Request) WithoutHeader(name string) *Request {
	if !r.HasHeader(name) {
		return r
	}
	r2 := r.clone()
	r2.header.Del(name)
	return r2
}

// WithBody returns a copy of r with the given body.
func (r *Request) WithBody(body *Body) *Request {
	r2 := r.clone()
	r2.body = body
	return r2
}

// WithProtocolVersion returns a copy of r with the given protocol
// version. It panics on versions other than "1.0", "1.1" and "2.0".
func (r *Request) WithProtocolVersion(version string) *Request {
	switch version {
	case "1.0", "1.1", "2.0":
	default:
		panic(fmt.Sprintf("httpflow/request: invalid protocol version %q", version))
	}
	r2 := r.clone()
	r2.version = version
	return r2
}

// WithCookie returns a copy of r with the cookie added to the Cookie
// header. Per RFC 6265 section 5.4, all cookies are written into the
// same header line, separated by semicolons.
//
// WithCookie only sanitizes c's name and value, and does not sanitize
// a Cookie header already present in the request.
func (r *Request) WithCookie(c *http.Cookie) *Request {
	c2 := &http.Cookie{Name: c.Name, Value: c.Value}
	s := c2.String()
	if h := r.header.Get("Cookie"); h != "" {
		return r.WithHeader("Cookie", h+"; "+s)
	}
	return r.WithHeader("Cookie", s)
}

// WithBasicAuth returns a copy of r whose Authorization header uses
// HTTP Basic Authentication with the provided username and password.
//
// With HTTP Basic Authentication the provided username and password
// are not encrypted.
func (r *Request) WithBasicAuth(username, password string) *Request {
	return r.WithHeader("Authorization", "Basic "+basicAuth(username, password))
}

// String returns the request line, for example "GET http://x/ HTTP/1.1".
func (r *Request) String() string {
	return r.method + " " + r.url.String() + " HTTP/" + r.version
}

// basicAuth is lifted verbatim from net/http/client.go.
//
// See 2 (end of page 4) https://www.ietf.org/rfc/rfc2617.txt
// "To receive authorization, the client sends the userid and password,
// separated by a single colon (":") character, within a base64
// encoded string in the credentials."
// It is not meant to be urlencoded.
func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func validMethod(method string) bool {
	/*
	     Method         = "OPTIONS"                ; Section 9.2
	                    | "GET"                    ; Section 9.3
	                    | "HEAD"                   ; Section 9.4
	                    | "POST"                   ; Section 9.5
	                    | "PUT"                    ; Section 9.6
	                    | "DELETE"                 ; Section 9.7
	                    | "TRACE"                  ; Section 9.8
	                    | "CONNECT"                ; Section 9.9
	                    | extension-method
	   extension-method = token
	     token          = 1*<any CHAR except CTLs or separators>
	*/
	return method != "" && strings.IndexFunc(method, isNotToken) == -1
}

func isNotToken(r rune) bool {
	return !isTokenRune(r)
}

// isTokenRune is lifted from x/net/http/httpguts/httplex.go. It
// classifies a rune as being valid for a token as defined in
// https://tools.ietf.org/html/rfc7230#section-3.2.6
func isTokenRune(r rune) bool {
	i := int(r)
	return i < len(isTokenTable) && isTokenTable[i]
}

var isTokenTable = [127]bool{
	'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true,
	'*': true, '+': true, '-': true, '.': true, '^': true, '_': true,
	'`': true, '|': true, '~': true,
	'0': true, '1': true, '2': true, '3': true, '4': true,
	'5': true, '6': true, '7': true, '8': true, '9': true,
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
	'G': true, 'H': true, 'I': true, 'J': true, 'K': true, 'L': true,
	'M': true, 'N': true, 'O': true, 'P': true, 'Q': true, 'R': true,
	'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
	'Y': true, 'Z': true,
	'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true,
	'g': true, 'h': true, 'i': true, 'j': true, 'k': true, 'l': true,
	'm': true, 'n': true, 'o': true, 'p': true, 'q': true, 'r': true,
	's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
	'y': true, 'z': true,
}

// hasPort is lifted from net/http/http.go. Given a string of the form
// "host", "host:port", or "[ipv6::address]:port", it returns true if
// the string includes a port.
func hasPort(s string) bool { return strings.LastIndex(s, ":") > strings.LastIndex(s, "]") }

// removeEmptyPort strips the empty port in ":port" to "" as mandated
// by RFC 3986 Section 6.2.3.
func removeEmptyPort(host string) string {
	if hasPort(host) {
		return strings.TrimSuffix(host, ":")
	}
	return host
}
