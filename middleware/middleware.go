// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"errors"

	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
)

func optionsOf(opts *request.Options) *request.Options {
	if opts == nil {
		return &request.Options{}
	}
	return opts
}

// responseOf returns the response carried by err, if any. Errors raised
// by HTTPErrors keep the response which caused them.
func responseOf(err error) *request.Response {
	var re *request.Error
	if errors.As(err, &re) {
		return re.Response
	}
	return nil
}

// observe calls fn once f settles, without changing the outcome.
func observe(f *future.Future, fn func(*request.Response, error)) *future.Future {
	return f.Then(
		func(resp *request.Response) (*request.Response, error) {
			fn(resp, nil)
			return resp, nil
		},
		func(err error) (*request.Response, error) {
			fn(nil, err)
			return nil, err
		},
	)
}
