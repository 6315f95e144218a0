// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"bytes"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gogama/httpflow/request"
)

// A Formatter turns a settled request into a log message.
type Formatter interface {
	// Format describes req and its outcome. At most one of resp and err
	// is normally nil; both are set when an error carries a response.
	// Parameter elapsed is the time the request took.
	Format(req *request.Request, resp *request.Response, err error, elapsed time.Duration) string
}

// A Template is a Formatter replacing placeholders in braces with
// details of the request:
//
//	{request}            full request line, headers and body
//	{response}           full status line, headers and body
//	{ts}, {date_iso_8601} ISO 8601 date in UTC
//	{date_common_log}    Apache common log date in local time
//	{host}               request host
//	{hostname}           host name of this machine
//	{method}             request method
//	{uri}, {url}         request URL
//	{target}             request target (path and query)
//	{version}, {req_version}, {res_version} protocol versions
//	{req_headers}, {res_headers} header blocks
//	{req_body}, {res_body} bodies
//	{code}, {phrase}     response status code and reason phrase
//	{error}              error message
//	{elapsed}            time taken by the request
//	{req_header_Name}, {res_header_Name} value of the named header
//
// Bodies which cannot be read without consuming them are replaced by
// the empty string. Placeholders without a value, such as {code} when
// there is no response, are replaced by the empty string too. Unknown
// placeholders are left as is.
type Template string

const (
	// CLF is the Apache common log format.
	CLF Template = `{hostname} {req_header_User-Agent} - [{date_common_log}] "{method} {target} HTTP/{version}" {code} {res_header_Content-Length}`
	// Short logs the request line and status.
	Short Template = `[{ts}] "{method} {target} HTTP/{version}" {code}`
	// Debug logs the full request and response.
	Debug Template = ">>>>>>>>\n{request}\n<<<<<<<<\n{response}\n--------\n{error}"
)

var placeholder = regexp.MustCompile(`\{\s*([A-Za-z_\-\.0-9]+)\s*\}`)

// Format implements Formatter.
func (t Template) Format(req *request.Request, resp *request.Response, err error, elapsed time.Duration) string {
	cache := make(map[string]string)
	return placeholder.ReplaceAllStringFunc(string(t), func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := cache[name]; ok {
			return v
		}
		v, ok := value(name, req, resp, err, elapsed)
		if !ok {
			return m
		}
		cache[name] = v
		return v
	})
}

func value(name string, req *request.Request, resp *request.Response, err error, elapsed time.Duration) (string, bool) {
	switch name {
	case "request":
		return requestLine(req) + "\r\n" + headerBlock(req.Header()) + "\r\n\r\n" + bodyOf(req.Body()), true
	case "response":
		if resp == nil {
			return "", true
		}
		return statusLine(resp) + "\r\n" + headerBlock(resp.Header) + "\r\n\r\n" + bodyOf(resp.Body), true
	case "req_headers":
		return requestLine(req) + "\r\n" + headerBlock(req.Header()), true
	case "res_headers":
		if resp == nil {
			return "NULL", true
		}
		return statusLine(resp) + "\r\n" + headerBlock(resp.Header), true
	case "req_body":
		return bodyOf(req.Body()), true
	case "res_body":
		if resp == nil {
			return "NULL", true
		}
		return bodyOf(resp.Body), true
	case "ts", "date_iso_8601":
		return time.Now().UTC().Format(time.RFC3339), true
	case "date_common_log":
		return time.Now().Format("02/Jan/2006:15:04:05 -0700"), true
	case "method":
		return req.Method(), true
	case "version", "req_version":
		return req.ProtocolVersion(), true
	case "res_version":
		if resp == nil {
			return "NULL", true
		}
		return strings.TrimPrefix(resp.Proto, "HTTP/"), true
	case "uri", "url":
		return req.URL().String(), true
	case "target":
		return req.URL().RequestURI(), true
	case "host":
		if h := req.Header().Get("Host"); h != "" {
			return h, true
		}
		return req.URL().Host, true
	case "hostname":
		h, _ := os.Hostname()
		return h, true
	case "code":
		if resp == nil {
			return "NULL", true
		}
		return strconv.Itoa(resp.StatusCode), true
	case "phrase":
		if resp == nil {
			return "NULL", true
		}
		return resp.Reason, true
	case "error":
		if err == nil {
			return "NULL", true
		}
		return err.Error(), true
	case "elapsed":
		return elapsed.String(), true
	}

	switch {
	case strings.HasPrefix(name, "req_header_"):
		return req.HeaderLine(name[len("req_header_"):]), true
	case strings.HasPrefix(name, "res_header_"):
		if resp == nil {
			return "NULL", true
		}
		return resp.HeaderLine(name[len("res_header_"):]), true
	}
	return "", false
}

func requestLine(req *request.Request) string {
	return req.Method() + " " + req.URL().RequestURI() + " HTTP/" + req.ProtocolVersion()
}

func statusLine(resp *request.Response) string {
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	return proto + " " + strconv.Itoa(resp.StatusCode) + " " + resp.Reason
}

// headerBlock renders h with sorted keys, one header field per line.
func headerBlock(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			buf.WriteString("\r\n")
		}
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(strings.Join(h[k], ", "))
	}
	return buf.String()
}

// bodyOf returns the content of b without moving its read position.
// Bodies which are not seekable are never read.
func bodyOf(b *request.Body) string {
	if !b.Seekable() {
		return ""
	}
	p, err := b.Snapshot()
	if err != nil {
		return ""
	}
	return string(p)
}
