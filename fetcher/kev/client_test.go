package kev

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quay/zlog"

	"github.com/macadmins/sofa"
)

const catalogFixture = `{
  "title": "CISA Catalog of Known Exploited Vulnerabilities",
  "catalogVersion": "2025.01.27",
  "dateReleased": "2025-01-27T00:00:00.0000Z",
  "count": 2,
  "vulnerabilities": [
    {"cveID": "CVE-2024-44308", "vendorProject": "Apple", "product": "Multiple Products",
     "dateAdded": "2024-11-21", "shortDescription": "JavaScriptCore code execution."},
    {"cveID": "CVE-2024-23222", "vendorProject": "Apple", "product": "Multiple Products",
     "dateAdded": "2024-01-23", "shortDescription": "WebKit type confusion."}
  ]
}`

func TestFetchAndSet(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogFixture))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL}, srv.Client(), t.TempDir())
	if err := c.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	set, err := c.Set(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 2 {
		t.Errorf("got %d entries, want 2", set.Len())
	}
	if !set.Contains("CVE-2024-44308") {
		t.Error("missing CVE-2024-44308")
	}
	if set.Contains("CVE-2020-0001") {
		t.Error("unexpected membership")
	}
	e, ok := set.Entry("CVE-2024-23222")
	if !ok || e.DateAdded != "2024-01-23" {
		t.Errorf("got: %+v", e)
	}
}

func TestFallbackToSnapshot(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogFixture))
	}))

	c := New(Config{URL: srv.URL}, srv.Client(), t.TempDir())
	if err := c.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	srv.Close()
	// Unreachable endpoint with a snapshot present is absorbed.
	if err := c.Fetch(ctx); err != nil {
		t.Fatalf("expected snapshot fallback, got: %v", err)
	}
}

func TestNoSnapshotFails(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	c := New(Config{URL: "http://127.0.0.1:1/kev.json"}, http.DefaultClient, t.TempDir())
	err := c.Fetch(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if sofa.KindOf(err) != sofa.ErrNetworkUnavailable {
		t.Errorf("wrong kind: %v", err)
	}
}

func TestDisabled(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	c := New(Config{Disabled: true}, http.DefaultClient, t.TempDir())
	if err := c.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	set, err := c.Set(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 0 {
		t.Errorf("disabled set should be empty, got %d", set.Len())
	}
}
