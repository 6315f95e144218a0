// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
)

type mockHandler struct {
	mock.Mock
}

func newMockHandler(t *testing.T) *mockHandler {
	m := &mockHandler{}
	m.Test(t)
	return m
}

func (m *mockHandler) Send(req *request.Request, opts *request.Options) *future.Future {
	args := m.Called(req, opts)
	return args.Get(0).(*future.Future)
}

// sent returns the request and options of the i-th call to Send.
func (m *mockHandler) sent(i int) (*request.Request, *request.Options) {
	args := m.Calls[i].Arguments
	return args.Get(0).(*request.Request), args.Get(1).(*request.Options)
}

func newRequest(t *testing.T, method, url string, body interface{}) *request.Request {
	req, err := request.New(method, url, body)
	require.NoError(t, err)
	return req
}

func newResponse(status int, header ...string) *request.Response {
	h := make(http.Header)
	for i := 0; i+1 < len(header); i += 2 {
		h.Add(header[i], header[i+1])
	}
	return request.NewResponse(status, h, nil)
}
