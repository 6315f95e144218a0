// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient classifies errors from HTTP transfers as transient
// or non-transient. The transfer engine uses it to decide whether a
// failed attempt may be rewound and retried, and whether a failure is
// a connect failure. It is also handy for writing retry policies, and
// for other purposes such as bucketing error metrics.
//
// Package transient depends only on the standard library, so it
// doesn't bring any significant dependencies when imported as a
// standalone package.
package transient
