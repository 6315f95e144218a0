// Copyright 2021 The httpflow Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package cookie

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func parseSetCookie(t *testing.T, lines ...string) []*http.Cookie {
	resp := &http.Response{Header: http.Header{"Set-Cookie": lines}}
	cookies := resp.Cookies()
	require.Len(t, cookies, len(lines))
	return cookies
}

func names(cookies []*http.Cookie) []string {
	s := make([]string, len(cookies))
	for i, c := range cookies {
		s[i] = c.String()
	}
	return s
}

func TestStore(t *testing.T) {
	var _ Jar = &Store{}

	t.Run("domain cookie", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://foo.com/"), parseSetCookie(t, "name=value; Domain=foo.com"))
		assert.Equal(t, 1, s.Len())
		assert.Equal(t, []string{"name=value"}, names(s.Match(mustURL(t, "http://foo.com/x"))))
		assert.Equal(t, []string{"name=value"}, names(s.Match(mustURL(t, "http://www.foo.com/x"))))
		assert.Empty(t, s.Match(mustURL(t, "http://bar.com/")))
	})
	t.Run("host-only cookie", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://foo.com/"), parseSetCookie(t, "a=1"))
		assert.Len(t, s.Match(mustURL(t, "http://foo.com/")), 1)
		assert.Empty(t, s.Match(mustURL(t, "http://www.foo.com/")))
	})
	t.Run("public suffix rejected", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://foo.co.uk/"), parseSetCookie(t, "a=1; Domain=co.uk", "b=2; Domain=bar.com"))
		assert.Equal(t, 0, s.Len())
	})
	t.Run("path", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://foo.com/docs/index.html"), parseSetCookie(t, "deep=1; Path=/docs/api", "dflt=2", "root=3; Path=/"))
		assert.Equal(t, []string{"dflt=2", "root=3"}, names(s.Match(mustURL(t, "http://foo.com/docs"))))
		assert.Equal(t, []string{"deep=1", "dflt=2", "root=3"}, names(s.Match(mustURL(t, "http://foo.com/docs/api/v1"))))
		assert.Equal(t, []string{"root=3"}, names(s.Match(mustURL(t, "http://foo.com/docsx"))))
	})
	t.Run("secure", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "https://foo.com/"), parseSetCookie(t, "s=1; Secure"))
		assert.Empty(t, s.Match(mustURL(t, "http://foo.com/")))
		assert.Len(t, s.Match(mustURL(t, "https://foo.com/")), 1)
	})
	t.Run("replace by name domain and path", func(t *testing.T) {
		s := NewStore()
		u := mustURL(t, "http://foo.com/")
		s.Update(u, parseSetCookie(t, "a=1", "b=2"))
		s.Update(u, parseSetCookie(t, "a=3"))
		assert.Equal(t, 2, s.Len())
		assert.Equal(t, []string{"a=3", "b=2"}, names(s.Match(u)))
	})
	t.Run("expire", func(t *testing.T) {
		s := NewStore()
		now := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return now }
		u := mustURL(t, "http://foo.com/")
		s.Update(u, parseSetCookie(t, "a=1", "b=2; Max-Age=60", "c=3"))
		require.Equal(t, 3, s.Len())
		s.Update(u, parseSetCookie(t, "a=gone; Max-Age=0"))
		s.Update(u, []*http.Cookie{{Name: "c", Expires: now.Add(-time.Hour)}})
		assert.Equal(t, []string{"b=2"}, names(s.Match(u)))
		now = now.Add(2 * time.Minute)
		assert.Empty(t, s.Match(u))
		assert.Equal(t, 0, s.Len())
	})
	t.Run("IP host", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://127.0.0.1:8080/"), []*http.Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2", Domain: "0.0.1"}})
		assert.Equal(t, []string{"a=1"}, names(s.Match(mustURL(t, "http://127.0.0.1:9090/"))))
	})
	t.Run("non-HTTP scheme", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://foo.com/"), parseSetCookie(t, "a=1"))
		assert.Nil(t, s.Match(mustURL(t, "ftp://foo.com/")))
	})
	t.Run("All and Clear", func(t *testing.T) {
		s := NewStore()
		s.Update(mustURL(t, "http://foo.com/a/b"), parseSetCookie(t, "a=1", "b=2; Domain=foo.com; Path=/"))
		all := s.All()
		require.Len(t, all, 2)
		assert.Equal(t, "foo.com", all[0].Domain)
		assert.Equal(t, "/a", all[0].Path)
		assert.Equal(t, "/", all[1].Path)
		s.Clear()
		assert.Equal(t, 0, s.Len())
	})
}

func TestStore_Concurrent(t *testing.T) {
	s := &Store{}
	u := mustURL(t, "http://foo.com/")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update(u, []*http.Cookie{{Name: fmt.Sprintf("c%d", i), Value: "v"}})
			s.Match(u)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
	assert.Len(t, s.Match(u), 50)
}
