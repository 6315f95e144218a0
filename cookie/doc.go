// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package cookie defines the Jar consulted and updated by the cookies
// middleware, and Store, an in-memory Jar safe for concurrent use.
//
// Set-Cookie header parsing is left to net/http: the cookies middleware
// parses response headers with (*http.Response).Cookies and hands the
// result to Jar.Update.
package cookie
