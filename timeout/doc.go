// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package timeout defines flexible policies for setting attempt
// timeouts on a logical HTTP request, including on retries. A generic
// interface for timeout policies is provided, Policy, along with
// several useful policy generating functions and built-in policies.
//
// Policies are applied by the timeout middleware, which sees the state
// of the previous attempt when it is installed inside the retry
// middleware.
package timeout
