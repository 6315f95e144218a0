// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads httpflow client settings from YAML files and
// the environment.
//
// A configuration file looks like this:
//
//	transfer:
//	  concurrency: 20
//	  max_rewinds: 3
//	request:
//	  timeout: 10        # seconds, or a duration such as "1m30s"
//	  connect_timeout: 2.5
//	  proxy: socks5://localhost:1080
//	  http_errors: true
//	  cookies: true
//	  idempotency_header: Idempotency-Key
//	headers:
//	  User-Agent: httpflow/1.0
//	retry:
//	  times: 3
//	  backoff: 0.25
//	  max_backoff: 5
//	  retry_after: true
//	  timeouts: [20, 40]
//	rate:
//	  per_second: 10
//	  burst: 5
//	log:
//	  level: info
//	  file: /var/log/httpflow.log
//	  requests: true
//	  format: '{method} {uri} {code} {elapsed}'
//
// Environment variables named HTTPFLOW_* override the file, see
// ApplyEnv.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogama/httpflow/internal/logging"
	"github.com/gogama/httpflow/request"
)

// Defaults of settings left unset.
const (
	DefaultLogLevel = "info"
	DefaultFormat   = `{method} {uri} {code} {elapsed}`
)

// Config is the root of a configuration file.
type Config struct {
	Transfer Transfer          `yaml:"transfer"`
	Request  Request           `yaml:"request"`
	Headers  map[string]string `yaml:"headers"`
	Retry    Retry             `yaml:"retry"`
	Rate     Rate              `yaml:"rate"`
	Log      Log               `yaml:"log"`
}

// Transfer holds the settings of the transfer scheduler. Zero values
// mean the scheduler defaults.
type Transfer struct {
	Concurrency int      `yaml:"concurrency"`
	PollTimeout Duration `yaml:"poll_timeout"`
	MaxRewinds  int      `yaml:"max_rewinds"`
}

// Request holds the default options of every request.
type Request struct {
	Timeout           Duration `yaml:"timeout"`
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	ReadTimeout       Duration `yaml:"read_timeout"`
	Proxy             string   `yaml:"proxy"`
	SkipVerify        bool     `yaml:"skip_verify"`
	CACertFile        string   `yaml:"ca_cert_file"`
	CertFile          string   `yaml:"cert_file"`
	KeyFile           string   `yaml:"key_file"`
	ForceIPResolve    string   `yaml:"force_ip_resolve"`
	ExpectThreshold   int64    `yaml:"expect_threshold"`
	HTTPErrors        *bool    `yaml:"http_errors"`
	DecodeContent     *bool    `yaml:"decode_content"`
	AllowRedirects    *bool    `yaml:"allow_redirects"`
	Cookies           bool     `yaml:"cookies"`
	IdempotencyHeader string   `yaml:"idempotency_header"`
}

// Retry holds the retry policy. Times zero disables retries.
type Retry struct {
	Times int `yaml:"times"`
	// Backoff is the wait before the first retry. The wait doubles on
	// every further retry, up to MaxBackoff if it is set, in which case
	// waits are also jittered.
	Backoff    Duration `yaml:"backoff"`
	MaxBackoff Duration `yaml:"max_backoff"`
	// RetryAfter honors the Retry-After header of responses.
	RetryAfter bool `yaml:"retry_after"`
	// Timeouts are the attempt timeouts used after the first, second,
	// and further attempt timeouts.
	Timeouts []Duration `yaml:"timeouts"`
}

// Rate holds the request rate limit. PerSecond zero means no limit.
type Rate struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Log holds the logging settings.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	// Requests logs one entry per request, formatted with Format.
	Requests bool   `yaml:"requests"`
	Format   string `yaml:"format"`
}

// A Duration is a time.Duration read from YAML either as a number of
// seconds, which may be fractional, or as a duration string such as
// "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a number or a string", value.Line)
	}
	v, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = v
	return nil
}

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(request.Seconds(f)), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(v), nil
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the configuration file at path, applies the environment
// overrides and fills in defaults. A missing file, or an empty path,
// yields the default configuration with the environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return fromData(nil)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fromData(nil)
	} else if err != nil {
		return nil, fmt.Errorf("httpflow/config: %w", err)
	}
	c, err := fromData(data)
	if err != nil {
		return nil, fmt.Errorf("httpflow/config: %s: %w", path, err)
	}
	return c, nil
}

// Parse parses configuration YAML, applies the environment overrides
// and fills in defaults.
func Parse(data []byte) (*Config, error) {
	c, err := fromData(data)
	if err != nil {
		return nil, fmt.Errorf("httpflow/config: %w", err)
	}
	return c, nil
}

func fromData(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, err
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultFormat
	}
	if c.Rate.PerSecond > 0 && c.Rate.Burst == 0 {
		c.Rate.Burst = 1
	}
}

// ApplyEnv overrides settings with the environment variables found by
// lookup:
//
//	HTTPFLOW_CONCURRENCY   transfer.concurrency
//	HTTPFLOW_MAX_REWINDS   transfer.max_rewinds
//	HTTPFLOW_TIMEOUT       request.timeout
//	HTTPFLOW_PROXY         request.proxy
//	HTTPFLOW_SKIP_VERIFY   request.skip_verify
//	HTTPFLOW_RETRIES       retry.times
//	HTTPFLOW_RATE          rate.per_second
//	HTTPFLOW_LOG_LEVEL     log.level
//	HTTPFLOW_LOG_FILE      log.file
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := func(name string) (string, bool) {
		v, ok := lookup("HTTPFLOW_" + name)
		return v, ok && v != ""
	}
	if v, ok := env("CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("CONCURRENCY", v)
		}
		c.Transfer.Concurrency = n
	}
	if v, ok := env("MAX_REWINDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("MAX_REWINDS", v)
		}
		c.Transfer.MaxRewinds = n
	}
	if v, ok := env("TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			return envErr("TIMEOUT", v)
		}
		c.Request.Timeout = d
	}
	if v, ok := env("PROXY"); ok {
		c.Request.Proxy = v
	}
	if v, ok := env("SKIP_VERIFY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envErr("SKIP_VERIFY", v)
		}
		c.Request.SkipVerify = b
	}
	if v, ok := env("RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envErr("RETRIES", v)
		}
		c.Retry.Times = n
	}
	if v, ok := env("RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envErr("RATE", v)
		}
		c.Rate.PerSecond = f
	}
	if v, ok := env("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := env("LOG_FILE"); ok {
		c.Log.File = v
	}
	return nil
}

func envErr(name, value string) error {
	return fmt.Errorf("invalid HTTPFLOW_%s %q", name, value)
}

// Validate checks c for settings which cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Transfer.Concurrency < 0:
		return errors.New("transfer.concurrency must not be negative")
	case c.Transfer.PollTimeout < 0:
		return errors.New("transfer.poll_timeout must not be negative")
	case c.Retry.Times < 0:
		return errors.New("retry.times must not be negative")
	case c.Retry.Backoff < 0:
		return errors.New("retry.backoff must not be negative")
	case c.Retry.MaxBackoff != 0 && c.Retry.MaxBackoff < c.Retry.Backoff:
		return errors.New("retry.max_backoff must be at least retry.backoff")
	case c.Retry.MaxBackoff != 0 && c.Retry.Backoff == 0:
		return errors.New("retry.max_backoff requires retry.backoff")
	case c.Rate.PerSecond < 0:
		return errors.New("rate.per_second must not be negative")
	case c.Rate.Burst < 0:
		return errors.New("rate.burst must not be negative")
	}
	for _, d := range c.Retry.Timeouts {
		if d <= 0 {
			return errors.New("retry.timeouts must be positive")
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Options().Validate()
}
