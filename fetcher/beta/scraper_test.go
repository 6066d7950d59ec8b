package beta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/macadmins/sofa/internal/httpcache"
)

func pageFixture(t *testing.T, dates ...string) string {
	t.Helper()
	if len(dates) != 3 {
		t.Fatal("need three dates")
	}
	return `<html><body>
<article class="article">
  <p class="article-date">` + dates[0] + `</p>
  <h2>iOS 18.3 beta 2 (22D5044e)</h2>
  <a href="/go/?id=ios-18.3-rn">View release notes</a>
  <a href="/download/">Downloads</a>
</article>
<article class="article">
  <p class="article-date">` + dates[1] + `</p>
  <h2>macOS Sequoia 15.3 beta 2 (24D5055b)</h2>
</article>
<article class="article">
  <p class="article-date">` + dates[2] + `</p>
  <h2>watchOS 11.1 (22R585)</h2>
</article>
<article class="article">
  <p class="article-date">` + dates[0] + `</p>
  <h2>Xcode 16.2 beta</h2>
</article>
</body></html>`
}

func TestParsePage(t *testing.T) {
	fixture := pageFixture(t, "January 21, 2025", "January 21, 2025", "October 28, 2024")
	got, err := ParsePage([]byte(fixture), "u")
	if err != nil {
		t.Fatal(err)
	}
	want := []Release{
		{
			Platform:        "iOS",
			Version:         "18.3",
			Build:           "22D5044e",
			Released:        "2025-01-21T00:00:00Z",
			Title:           "iOS 18.3 beta 2 (22D5044e)",
			ReleaseNotesURL: "/go/?id=ios-18.3-rn",
			DownloadsURL:    "/download/",
		},
		{
			Platform: "macOS",
			Version:  "15.3",
			Build:    "24D5055b",
			Released: "2025-01-21T00:00:00Z",
			Title:    "macOS Sequoia 15.3 beta 2 (24D5055b)",
		},
		{
			Platform: "watchOS",
			Version:  "11.1",
			Build:    "22R585",
			Released: "2024-10-28T00:00:00Z",
			Title:    "watchOS 11.1 (22R585)",
		},
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestFetchWindowAndHistory(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	now := time.Now().UTC()
	recent := now.AddDate(0, 0, -5).Format("January 2, 2006")
	old := now.AddDate(0, 0, -200).Format("January 2, 2006")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(pageFixture(t, recent, recent, old)))
	}))
	defer srv.Close()

	resourceDir := t.TempDir()
	cache, err := httpcache.New(t.TempDir(), srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	s := New(cache, Config{URL: srv.URL}, resourceDir)
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(s.feedPath)
	if err != nil {
		t.Fatal(err)
	}
	var feed Feed
	if err := json.Unmarshal(raw, &feed); err != nil {
		t.Fatal(err)
	}
	// The 200-day-old watchOS seed falls outside the window.
	if len(feed.Releases) != 2 {
		t.Fatalf("got %d releases, want 2: %+v", len(feed.Releases), feed.Releases)
	}
	if feed.UpdateHash == "" || feed.WindowDays != DefaultWindowDays {
		t.Errorf("feed header: %+v", feed)
	}

	// A second fetch must not duplicate history entries.
	if err := s.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	raw, err = os.ReadFile(s.historyPath)
	if err != nil {
		t.Fatal(err)
	}
	var hist History
	if err := json.Unmarshal(raw, &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Releases) != 2 {
		t.Errorf("got %d history entries, want 2", len(hist.Releases))
	}
}
