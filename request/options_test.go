// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Clone(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		o := (*Options)(nil).Clone()
		require.NotNil(t, o)
		assert.Equal(t, Options{}, *o)
	})
	t.Run("independent copy", func(t *testing.T) {
		o := &Options{Timeout: time.Second, Retries: 1, HTTPErrors: true}
		o.SetValue(funKey{}, "shared")
		o2 := o.Clone()
		assert.NotSame(t, o, o2)
		o2.Retries++
		o2.Timeout = 2 * time.Second
		assert.Equal(t, 1, o.Retries)
		assert.Equal(t, time.Second, o.Timeout)
		assert.Equal(t, "shared", o2.Value(funKey{}))
		o2.SetValue(funkyKey{}, "clone only")
		assert.Nil(t, o.Value(funkyKey{}))
		assert.Equal(t, "clone only", o2.Value(funkyKey{}))
	})
}

func TestOptions_Value(t *testing.T) {
	var o *Options
	assert.Nil(t, o.Value(funKey{}))
	o = &Options{}
	assert.Nil(t, o.Value(funKey{}))
	o.SetValue(funKey{}, 1)
	o.SetValue(funKey{}, 2)
	assert.Equal(t, 2, o.Value(funKey{}))
}

func TestOptions_Validate(t *testing.T) {
	testCases := []struct {
		name string
		opts *Options
		msg  string
	}{
		{name: "nil", opts: nil},
		{name: "zero", opts: &Options{}},
		{name: "valid", opts: &Options{Timeout: time.Second, Proxy: "socks5://localhost:1080", ForceIPResolve: "v4", CertFile: "c", KeyFile: "k"}},
		{name: "negative timeout", opts: &Options{Timeout: -1}, msg: "negative timeout"},
		{name: "negative connect timeout", opts: &Options{ConnectTimeout: -1}, msg: "negative connect timeout"},
		{name: "negative read timeout", opts: &Options{ReadTimeout: -1}, msg: "negative read timeout"},
		{name: "negative delay", opts: &Options{Delay: -1}, msg: "negative delay"},
		{name: "negative expect threshold", opts: &Options{ExpectThreshold: -1}, msg: "negative expect threshold"},
		{name: "negative retries", opts: &Options{Retries: -1}, msg: "negative retry count"},
		{name: "bad force IP resolve", opts: &Options{ForceIPResolve: "v5"}, msg: "invalid force IP resolve"},
		{name: "bad proxy URL", opts: &Options{Proxy: "http://[::1"}, msg: "invalid proxy"},
		{name: "bad proxy scheme", opts: &Options{Proxy: "ftp://proxy"}, msg: "unsupported proxy scheme"},
		{name: "cert without key", opts: &Options{CertFile: "c"}, msg: "client certificate"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := testCase.opts.Validate()
			if testCase.msg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, KindValidation))
			assert.Contains(t, err.Error(), testCase.msg)
		})
	}
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Seconds(0.5))
	assert.Equal(t, 2*time.Second, Seconds(2))
	assert.Equal(t, 250*time.Millisecond, Seconds(0.25))
	assert.NotEqual(t, 50*time.Millisecond, Seconds(0.5), "fractional seconds are not hundred-thousandths")
	assert.Equal(t, time.Duration(0), Seconds(0))
}
