// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpflow

import (
	"net/url"

	"github.com/gogama/httpflow/request"
)

// Doer is the interface that wraps the basic Do method.
//
// Do sends a request with the given options, which may be nil, and
// returns the final response (and error, if any). Client implements
// the Doer interface, and any other Doer implementation must behave
// substantially the same as Client.Do.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Doer interface {
	Do(req *request.Request, opts *request.Options) (*request.Response, error)
}

// Getter is the interface that wraps the basic Get method.
//
// Get issues a GET to the specified URL and returns the final response
// (and error, if any). Client implements the Getter interface, and any
// other Getter implementation must behave substantially the same as
// Client.Get.
//
// Any Doer can be used to emulate a Getter via the Get function.
type Getter interface {
	Get(url string) (*request.Response, error)
}

// Header is the interface that wraps the basic Head method.
//
// Head issues a HEAD to the specified URL and returns the final
// response (and error, if any). Client implements the Header interface,
// and any other Header implementation must behave substantially the
// same as Client.Head.
//
// Any Doer can be used to emulate a Header via the Head function.
type Header interface {
	Head(url string) (*request.Response, error)
}

// Poster is the interface that wraps the basic Post method.
//
// Post issues a POST to the specified URL and returns the final
// response (and error, if any). Client implements the Poster interface,
// and any other Poster implementation must behave substantially the
// same as Client.Post.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by request.NewBody.
//
// Any Doer can be used to emulate a Poster via the Post function.
type Poster interface {
	Post(url, contentType string, body interface{}) (*request.Response, error)
}

// FormPoster is the interface that wraps the basic PostForm method.
//
// PostForm issues a form POST to the specified URL and returns the
// final response (and error, if any). Client implements the FormPoster
// interface, and any other FormPoster implementation must behave
// substantially the same as Client.PostForm.
//
// The request body is set to the URL-encoded keys and values from
// data, and the content type is set to application/x-www-form-urlencoded.
//
// Any Doer can be used to emulate a FormPoster via the PostForm
// function.
type FormPoster interface {
	PostForm(url string, data url.Values) (*request.Response, error)
}

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// If the underlying implementation supports it, CloseIdleConnections
// closes any connections which were previously connected from previous
// requests but are now sitting idle in a "keep-alive" state. It does
// not interrupt any connections currently in use.
//
// If the underlying implementation does not support this ability,
// CloseIdleConnections does nothing.
type IdleCloser interface {
	CloseIdleConnections()
}

// Executor is the interface that groups the basic Do, Get, Head, Post,
// PostForm, and CloseIdleConnections methods.
//
// Any Doer can be converted into an Executor via the Inflate function.
type Executor interface {
	Doer
	Getter
	Header
	Poster
	FormPoster
	IdleCloser
}

// Get uses the specified Doer to issue a GET to the specified URL,
// using the same policies as d.Do with nil options.
//
// To make a request with custom headers, use request.New and d.Do.
func Get(d Doer, url string) (*request.Response, error) {
	req, err := request.New("GET", url, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(req, nil)
}

// Head uses the specified Doer to issue a HEAD to the specified URL,
// using the same policies as d.Do with nil options.
//
// To make a request with custom headers, use request.New and d.Do.
func Head(d Doer, url string) (*request.Response, error) {
	req, err := request.New("HEAD", url, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(req, nil)
}

// Post uses the specified Doer to issue a POST to the specified URL,
// using the same policies as d.Do with nil options.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by request.NewBody.
//
// To make a request with custom headers, use request.New and d.Do.
func Post(d Doer, url, contentType string, body interface{}) (*request.Response, error) {
	req, err := request.New("POST", url, body)
	if err != nil {
		return nil, err
	}
	return d.Do(req.WithHeader("Content-Type", contentType), nil)
}

// PostForm uses the specified Doer to issue a POST to the specified URL,
// with data's keys and values URL-encoded as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
// To set other headers, use request.New and d.Do.
func PostForm(d Doer, url string, data url.Values) (*request.Response, error) {
	return Post(d, url, "application/x-www-form-urlencoded", data.Encode())
}

// Inflate converts any non-nil Doer into an Executor. This may be
// helpful for interop across library boundaries, i.e. if code that only
// has access to a Doer needs to call a function that requires an
// Executor.
func Inflate(d Doer) Executor {
	if d == nil {
		panic("httpflow: nil doer")
	}

	if e, ok := d.(Executor); ok {
		return e
	}

	return inflated{d}
}

type inflated struct {
	doer Doer
}

func (i inflated) Do(req *request.Request, opts *request.Options) (*request.Response, error) {
	return i.doer.Do(req, opts)
}

func (i inflated) Get(url string) (*request.Response, error) {
	return Get(i.doer, url)
}

func (i inflated) Head(url string) (*request.Response, error) {
	return Head(i.doer, url)
}

func (i inflated) Post(url, contentType string, body interface{}) (*request.Response, error) {
	return Post(i.doer, url, contentType, body)
}

func (i inflated) PostForm(url string, data url.Values) (*request.Response, error) {
	return PostForm(i.doer, url, data)
}

func (i inflated) CloseIdleConnections() {
	if ic, ok := i.doer.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
}
