package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

func TestSecondGetHitsCache(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("<html><body>macOS Sequoia 15.3</body></html>"))
	}))
	defer srv.Close()

	c, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	b1, mod, err := c.Get(ctx, srv.URL+"/index", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !mod {
		t.Error("first fetch should report modified")
	}
	b2, mod, err := c.Get(ctx, srv.URL+"/index", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if mod {
		t.Error("second fetch should not report modified")
	}
	if string(b1) != string(b2) {
		t.Error("bodies differ between fetches")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("got %d outbound requests, want 1", got)
	}
}

func TestNotModifiedServesCache(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	const body = "<html><body>iOS 18.2</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", "Wed, 11 Dec 2024 10:00:00 GMT")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	url := srv.URL + "/page"
	if _, _, err := c.Get(ctx, url, Options{}); err != nil {
		t.Fatal(err)
	}
	// VerifyContent forces a revalidation past the in-process seen
	// set; the 304 must serve cached bytes.
	got, mod, err := c.Get(ctx, url, Options{VerifyContent: true})
	if err != nil {
		t.Fatal(err)
	}
	if mod {
		t.Error("304 must not report modified")
	}
	if string(got) != body {
		t.Errorf("got: %q", got)
	}
}

func TestNotModifiedWithoutCachedBodyRetries(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	const body = "<html><body>watchOS 11.2</body></html>"
	var unconditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		unconditional.Add(1)
		w.Header().Set("Last-Modified", "Wed, 11 Dec 2024 10:00:00 GMT")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c, err := New(dir, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	url := srv.URL + "/page"
	if _, _, err := c.Get(ctx, url, Options{}); err != nil {
		t.Fatal(err)
	}
	// Simulate a lost raw body with surviving metadata.
	if err := os.Remove(filepath.Join(dir, "raw", Key(url)+".html")); err != nil {
		t.Fatal(err)
	}
	got, _, err := c.Get(ctx, url, Options{VerifyContent: true})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Errorf("got: %q", got)
	}
	if unconditional.Load() != 2 {
		t.Errorf("expected an unconditional retry, got %d", unconditional.Load())
	}
}

func TestNotModifiedRetryRejectsErrorPage(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case calls.Add(1) == 1:
			w.Header().Set("Last-Modified", "Wed, 11 Dec 2024 10:00:00 GMT")
			w.Write([]byte("<html><body>visionOS 2.2</body></html>"))
		case r.Header.Get("If-Modified-Since") != "":
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("<html><body>Service Unavailable</body></html>"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	c, err := New(dir, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	url := srv.URL + "/page"
	if _, _, err := c.Get(ctx, url, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dir, "raw", Key(url)+".html")); err != nil {
		t.Fatal(err)
	}
	// The 304 has no cached body behind it, so Get refetches
	// unconditionally; the error page that comes back must not be
	// stored or returned as content.
	_, _, err = c.Get(ctx, url, Options{VerifyContent: true})
	if sofa.KindOf(err) != sofa.ErrNetworkUnavailable {
		t.Errorf("want network-unavailable, got: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "raw", Key(url)+".html")); !os.IsNotExist(err) {
		t.Error("error page cached as content")
	}
}

func TestNetworkErrorFallsBackToCache(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	const body = "<html><body>tvOS 18.2</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))

	c, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	url := srv.URL + "/page"
	if _, _, err := c.Get(ctx, url, Options{}); err != nil {
		t.Fatal(err)
	}
	srv.Close()
	got, mod, err := c.Get(ctx, url, Options{ForceRefresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if mod {
		t.Error("fallback must not report modified")
	}
	if string(got) != body {
		t.Errorf("got: %q", got)
	}
}

func TestContentHashIgnoresScriptChurn(t *testing.T) {
	a := []byte(`<html><head><script>var t=1;</script></head><body>Safari  18.2</body></html>`)
	b := []byte(`<html><head><script>var t=2;</script></head><body>Safari 18.2</body></html>`)
	if ContentHash(a) != ContentHash(b) {
		t.Error("script and whitespace churn must not change the hash")
	}
	c := []byte(`<html><body>Safari 18.2.1</body></html>`)
	if ContentHash(a) == ContentHash(c) {
		t.Error("text change must change the hash")
	}
}

func TestParsedRoundTrip(t *testing.T) {
	c, err := New(t.TempDir(), http.DefaultClient)
	if err != nil {
		t.Fatal(err)
	}
	type derived struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	const url = "https://support.apple.com/en-us/100100"
	ok, err := c.GetParsed(url, &derived{})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unexpected parsed hit")
	}
	if err := c.PutParsed(url, derived{Name: "index", N: 3}); err != nil {
		t.Fatal(err)
	}
	var got derived
	ok, err = c.GetParsed(url, &got)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.Name != "index" || got.N != 3 {
		t.Errorf("got: %+v", got)
	}
}

func TestCleanAndStat(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>x</body></html>"))
	}))
	defer srv.Close()

	c, err := New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	url := srv.URL + "/a"
	if _, _, err := c.Get(ctx, url, Options{}); err != nil {
		t.Fatal(err)
	}
	s, err := c.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if s.Entries != 1 || s.RawBytes == 0 {
		t.Errorf("got: %+v", s)
	}
	if err := c.Clean(url); err != nil {
		t.Fatal(err)
	}
	s, err = c.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if s.Entries != 0 {
		t.Errorf("got: %+v", s)
	}
}
