// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/gogama/httpflow/config"
	"github.com/gogama/httpflow/future"
	"github.com/gogama/httpflow/request"
)

type fetchFlags struct {
	config       string
	method       string
	headers      []string
	data         string
	concurrency  int
	retries      int
	timeout      time.Duration
	selector     string
	logLevel     string
	logFile      string
	noHTTPErrors bool
}

func newFetchCmd() *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch [flags] URL...",
		Short: "Send a request to every URL concurrently",
		Long: `Fetch sends one request to every URL, all at once, and prints one
line per URL in the order given: the status code and elapsed time, the
value selected from the JSON response body with --select, or the error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return fetch(cmd.OutOrStdout(), cfg, logger, f, args)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&f.method, "method", "X", "GET", "request method")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, `request header as "Name: value", repeatable`)
	fs.StringVarP(&f.data, "data", "d", "", "request body, or @file to send a file")
	fs.IntVar(&f.concurrency, "concurrency", 0, "maximum transfers in flight (0 for the default)")
	fs.IntVar(&f.retries, "retries", 0, "maximum retries per request")
	fs.DurationVar(&f.timeout, "timeout", 0, "attempt timeout (0 for none)")
	fs.StringVarP(&f.selector, "select", "s", "", "gjson path to print from each JSON response body")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFile, "log-file", "", "write JSON logs to a rotated file instead of standard error")
	fs.BoolVar(&f.noHTTPErrors, "no-http-errors", false, "treat 4xx and 5xx responses as successes")
	return cmd
}

// load reads the configuration and applies the flags set on cmd.
func (f *fetchFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("concurrency") {
		cfg.Transfer.Concurrency = f.concurrency
	}
	if changed("retries") {
		cfg.Retry.Times = f.retries
	}
	if changed("timeout") {
		cfg.Request.Timeout = config.Duration(f.timeout)
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if f.noHTTPErrors {
		off := false
		cfg.Request.HTTPErrors = &off
	}
	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("httpflow/config: %w", err)
	}
	return cfg, nil
}

// request builds the request sent to url.
func (f *fetchFlags) request(url string) (*request.Request, io.Closer, error) {
	var body interface{}
	var closer io.Closer
	switch {
	case strings.HasPrefix(f.data, "@"):
		file, err := os.Open(f.data[1:])
		if err != nil {
			return nil, nil, err
		}
		body, closer = file, file
	case f.data != "":
		body = f.data
	}
	req, err := request.New(strings.ToUpper(f.method), url, body)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, fmt.Errorf("invalid header %q", h)
		}
		req = req.WithAddedHeader(name, strings.TrimSpace(value))
	}
	return req, closer, nil
}

type result struct {
	url     string
	elapsed time.Duration
	resp    *request.Response
	err     error
}

// fetch sends a request to every URL, then prints their outcomes in
// order. It fails if any request failed.
func fetch(w io.Writer, cfg *config.Config, logger *zap.Logger, f *fetchFlags, urls []string) error {
	client := cfg.Client(logger)
	defer client.CloseIdleConnections()

	results := make([]*result, len(urls))
	futures := make([]*future.Future, len(urls))
	for i, url := range urls {
		r := &result{url: url}
		results[i] = r
		req, closer, err := f.request(url)
		if err != nil {
			futures[i] = future.RejectedWith(err)
			continue
		}
		if closer != nil {
			defer closer.Close()
		}
		start := time.Now()
		futures[i] = client.Send(req, nil).Then(
			func(resp *request.Response) (*request.Response, error) {
				r.elapsed = time.Since(start)
				return resp, nil
			},
			func(err error) (*request.Response, error) {
				r.elapsed = time.Since(start)
				return nil, err
			},
		)
	}
	logger.Debug("requests sent", zap.Int("count", len(urls)))

	var failed int
	for i, fut := range futures {
		r := results[i]
		r.resp, r.err = fut.Wait()
		if r.err != nil {
			failed++
		}
		if err := r.print(w, f.selector); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(urls))
	}
	return nil
}

func (r *result) print(w io.Writer, selector string) error {
	var line string
	switch {
	case r.err != nil:
		line = fmt.Sprintf("%s error %v", r.url, r.err)
	case selector != "":
		b, err := readBody(r.resp)
		if err != nil {
			line = fmt.Sprintf("%s error %v", r.url, err)
			break
		}
		if !gjson.ValidBytes(b) {
			line = fmt.Sprintf("%s error %v", r.url, errNotJSON)
			break
		}
		line = fmt.Sprintf("%s %s", r.url, gjson.GetBytes(b, selector).String())
	default:
		line = fmt.Sprintf("%s %d %s", r.url, r.resp.StatusCode, r.elapsed.Round(time.Millisecond))
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

var errNotJSON = errors.New("response body is not JSON")

func readBody(resp *request.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
