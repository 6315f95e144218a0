// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cookie

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

var errNoHost = errors.New("httpflow/cookie: no host")

// A Jar stores cookies received in responses and selects the cookies
// to send with a request.
//
// Implementations must be safe for concurrent use, since one Jar is
// typically shared by every in-flight request of a client.
type Jar interface {
	// Match returns the cookies to send in a request for u.
	Match(u *url.URL) []*http.Cookie
	// Update stores the cookies received in a response for u. A cookie
	// with a negative MaxAge or a past expiry removes any stored cookie
	// with the same name, domain and path.
	Update(u *url.URL, cookies []*http.Cookie)
}

// A Store is the standard Jar implementation, keeping cookies in
// memory.
//
// Cookies are identified by name, domain and path. Domain cookies are
// rejected when their domain is a public suffix (for example "com" or
// "co.uk") according to golang.org/x/net/publicsuffix, unless the
// domain is the request host itself.
//
// The zero value is an empty jar ready to use.
type Store struct {
	lock    sync.Mutex
	entries map[key]*entry
	seq     uint64
	now     func() time.Time
}

type key struct {
	name   string
	domain string
	path   string
}

type entry struct {
	cookie   http.Cookie
	hostOnly bool
	expires  time.Time
	created  time.Time
	seq      uint64
}

// NewStore returns a new, empty Store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Match returns the unexpired cookies whose domain, path and secure
// attribute match u. Cookies with longer paths are listed first, and
// cookies with equal path lengths are listed in creation order.
func (s *Store) Match(u *url.URL) []*http.Cookie {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}
	host, err := canonicalHost(u.Host)
	if err != nil {
		return nil
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	secure := u.Scheme == "https"

	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock()
	selected := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.expires.IsZero() && !e.expires.After(now) {
			delete(s.entries, k)
			continue
		}
		if e.cookie.Secure && !secure {
			continue
		}
		if !domainMatch(host, k.domain, e.hostOnly) || !pathMatch(path, k.path) {
			continue
		}
		selected = append(selected, e)
	}
	sort.Slice(selected, func(i, j int) bool {
		if len(selected[i].cookie.Path) != len(selected[j].cookie.Path) {
			return len(selected[i].cookie.Path) > len(selected[j].cookie.Path)
		}
		return selected[i].seq < selected[j].seq
	})
	cookies := make([]*http.Cookie, len(selected))
	for i, e := range selected {
		cookies[i] = &http.Cookie{Name: e.cookie.Name, Value: e.cookie.Value}
	}
	return cookies
}

// Update adds, replaces or removes cookies received from u.
func (s *Store) Update(u *url.URL, cookies []*http.Cookie) {
	if u == nil || len(cookies) == 0 {
		return
	}
	host, err := canonicalHost(u.Host)
	if err != nil {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	now := s.clock()
	for _, c := range cookies {
		domain, hostOnly, ok := cookieDomain(host, c.Domain)
		if !ok {
			continue
		}
		path := c.Path
		if path == "" || path[0] != '/' {
			path = defaultPath(u.Path)
		}
		k := key{name: c.Name, domain: domain, path: path}

		var expires time.Time
		switch {
		case c.MaxAge < 0:
			delete(s.entries, k)
			continue
		case c.MaxAge > 0:
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			if !c.Expires.After(now) {
				delete(s.entries, k)
				continue
			}
			expires = c.Expires
		}

		if s.entries == nil {
			s.entries = make(map[key]*entry)
		}
		e := &entry{cookie: *c, hostOnly: hostOnly, expires: expires, created: now}
		e.cookie.Domain = domain
		e.cookie.Path = path
		if old, ok := s.entries[k]; ok {
			e.created = old.created
			e.seq = old.seq
		} else {
			s.seq++
			e.seq = s.seq
		}
		s.entries[k] = e
	}
}

// Len returns the number of cookies stored, including expired cookies
// not yet evicted.
func (s *Store) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.entries)
}

// All returns a copy of every stored cookie, with Domain and Path set,
// in creation order.
func (s *Store) All() []*http.Cookie {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	cookies := make([]*http.Cookie, len(entries))
	for i, e := range entries {
		c := e.cookie
		cookies[i] = &c
	}
	return cookies
}

// Clear removes every stored cookie.
func (s *Store) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries = nil
}

func canonicalHost(host string) (string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", errNoHost
	}
	return host, nil
}

// cookieDomain returns the domain under which a cookie received from
// host is stored, and whether the cookie is host-only.
func cookieDomain(host, domain string) (string, bool, bool) {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" {
		return host, true, true
	}
	if net.ParseIP(host) != nil {
		// IP hosts only accept host-only cookies.
		return host, true, domain == host
	}
	if domain == host {
		return host, false, true
	}
	if ps, _ := publicsuffix.PublicSuffix(domain); ps == domain {
		return "", false, false
	}
	if !strings.HasSuffix(host, "."+domain) {
		return "", false, false
	}
	return domain, false, true
}

func domainMatch(host, domain string, hostOnly bool) bool {
	if host == domain {
		return true
	}
	return !hostOnly && strings.HasSuffix(host, "."+domain)
}

func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if strings.HasPrefix(requestPath, cookiePath) {
		if cookiePath[len(cookiePath)-1] == '/' {
			return true
		}
		return requestPath[len(cookiePath)] == '/'
	}
	return false
}

// defaultPath is the RFC 6265 section 5.1.4 default cookie path.
func defaultPath(path string) string {
	if path == "" || path[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(path, "/")
	if i == 0 {
		return "/"
	}
	return path[:i]
}
