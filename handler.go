// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpflow

import (
	"github.com/gogama/httpflow/handler"
)

// A Handler sends a request and returns the Future of its outcome. It
// is the transport contract implemented by the transfer backends, by
// every middleware, and by a resolved Stack.
type Handler = handler.Handler

// The HandlerFunc type is an adapter to allow the use of ordinary
// functions as handlers.
type HandlerFunc = handler.HandlerFunc

// A Middleware wraps the next Handler of a pipeline. Package middleware
// provides the standard set.
type Middleware = handler.Middleware
