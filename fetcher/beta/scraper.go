// Package beta scrapes Apple's developer releases page for beta and
// release-candidate seeds and maintains a cumulative history archive.
package beta

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/net/html"

	"github.com/macadmins/sofa"
	"github.com/macadmins/sofa/internal/httpcache"
	"github.com/macadmins/sofa/pkg/tmp"
)

// DefaultURL is the developer releases page.
const DefaultURL = "https://developer.apple.com/news/releases/"

// DefaultWindowDays bounds how far back the feed file reaches.
const DefaultWindowDays = 90

// Config configures the scraper.
type Config struct {
	URL        string `toml:"url"`
	WindowDays int    `toml:"window_days"`
}

// Release is one seed announcement.
type Release struct {
	Platform        string `json:"platform"`
	Version         string `json:"version"`
	Build           string `json:"build,omitempty"`
	Released        string `json:"released"`
	Title           string `json:"title"`
	ReleaseNotesURL string `json:"release_notes_url,omitempty"`
	DownloadsURL    string `json:"downloads_url,omitempty"`
}

// key identifies a release for deduplication.
func (r *Release) key() string {
	return r.Platform + "/" + r.Version + "/" + r.Build
}

// Feed is the windowed apple_beta_os_feed.json shape.
type Feed struct {
	UpdateHash  string    `json:"UpdateHash"`
	GeneratedAt string    `json:"generated_at"`
	WindowDays  int       `json:"window_days"`
	Releases    []Release `json:"releases"`
}

// History is the cumulative apple_beta_os_history.json shape.
type History struct {
	UpdatedAt string    `json:"updated_at"`
	Releases  []Release `json:"releases"`
}

// Scraper fetches and parses the releases page.
type Scraper struct {
	cache       *httpcache.Cache
	cfg         Config
	feedPath    string
	historyPath string
	now         func() time.Time
}

// New builds a Scraper writing its artifacts under resourceDir.
func New(c *httpcache.Cache, cfg Config, resourceDir string) *Scraper {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = DefaultWindowDays
	}
	return &Scraper{
		cache:       c,
		cfg:         cfg,
		feedPath:    filepath.Join(resourceDir, "apple_beta_os_feed.json"),
		historyPath: filepath.Join(resourceDir, "apple_beta_os_history.json"),
		now:         time.Now,
	}
}

// Name implements fetcher.Fetcher.
func (s *Scraper) Name() string { return "beta_releases" }

// versionRe pulls the numeric version out of a seed title after the
// platform token.
var versionRe = regexp.MustCompile(`\b(\d+(?:\.\d+)*)\b`)

// ParsePage extracts seed announcements from the releases page.
func ParsePage(raw []byte, pageURL string) ([]Release, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, sofa.NewError("beta/ParsePage", sofa.ErrParse, pageURL, err)
	}
	var out []Release
	var walkArticles func(*html.Node)
	walkArticles = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "article" {
			if r, ok := parseArticle(n); ok {
				out = append(out, r)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkArticles(c)
		}
	}
	walkArticles(doc)
	return out, nil
}

func parseArticle(n *html.Node) (Release, bool) {
	var r Release
	var title, date string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h2":
				if title == "" {
					title = text(n)
				}
			case "time":
				if date == "" {
					date = text(n)
				}
			case "p":
				if date == "" && hasClass(n, "article-date") {
					date = text(n)
				}
			case "a":
				label := strings.ToLower(text(n))
				href := href(n)
				switch {
				case strings.Contains(label, "release notes"):
					r.ReleaseNotesURL = href
				case strings.Contains(label, "download"):
					r.DownloadsURL = href
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	p := sofa.DetectPlatform(title)
	if p == sofa.PlatformUnknown {
		return r, false
	}
	r.Platform = p.String()
	r.Title = title
	if m := versionRe.FindString(title); m != "" {
		r.Version = m
	}
	if builds := sofa.FindBuilds(title); len(builds) > 0 {
		r.Build = builds[0]
	}
	if t, err := sofa.ParseAppleDate(date); err == nil {
		r.Released = sofa.FormatISO(t)
	}
	if r.Version == "" || r.Released == "" {
		return r, false
	}
	return r, true
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" && strings.Contains(a.Val, class) {
			return true
		}
	}
	return false
}

func href(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "href" {
			return a.Val
		}
	}
	return ""
}

// Fetch refreshes the windowed feed and merges new seeds into the
// history archive.
func (s *Scraper) Fetch(ctx context.Context) error {
	const op = "beta/Scraper.Fetch"
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/beta/Scraper.Fetch")
	body, _, err := s.cache.Get(ctx, s.cfg.URL, httpcache.Options{})
	if err != nil {
		return err
	}
	releases, err := ParsePage(body, s.cfg.URL)
	if err != nil {
		return err
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.WindowDays)
	var windowed []Release
	for _, r := range releases {
		t, err := time.Parse(time.RFC3339, r.Released)
		if err != nil || t.Before(cutoff) {
			continue
		}
		windowed = append(windowed, r)
	}
	sortReleases(windowed)

	feed := Feed{
		GeneratedAt: s.now().UTC().Format(time.RFC3339),
		WindowDays:  s.cfg.WindowDays,
		Releases:    windowed,
	}
	hash, err := sofa.ComputeUpdateHash(&feed)
	if err != nil {
		return err
	}
	feed.UpdateHash = hash
	if err := writeJSON(s.feedPath, &feed); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, s.feedPath, err)
	}

	if err := s.mergeHistory(windowed); err != nil {
		return err
	}
	zlog.Info(ctx).
		Int("parsed", len(releases)).
		Int("in_window", len(windowed)).
		Msg("beta releases scraped")
	return nil
}

// mergeHistory appends unseen (platform, version, build) triples to
// the archive.
func (s *Scraper) mergeHistory(fresh []Release) error {
	const op = "beta/Scraper.Fetch"
	var hist History
	if raw, err := os.ReadFile(s.historyPath); err == nil {
		if err := json.Unmarshal(raw, &hist); err != nil {
			return sofa.NewError(op, sofa.ErrCacheCorrupt, s.historyPath, err)
		}
	}
	seen := make(map[string]struct{}, len(hist.Releases))
	for _, r := range hist.Releases {
		seen[r.key()] = struct{}{}
	}
	added := 0
	for _, r := range fresh {
		if _, dup := seen[r.key()]; dup {
			continue
		}
		seen[r.key()] = struct{}{}
		hist.Releases = append(hist.Releases, r)
		added++
	}
	if added == 0 && hist.UpdatedAt != "" {
		return nil
	}
	sortReleases(hist.Releases)
	hist.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := writeJSON(s.historyPath, &hist); err != nil {
		return sofa.NewError(op, sofa.ErrCacheWriteFailed, s.historyPath, err)
	}
	return nil
}

// sortReleases orders newest first, then platform and version for a
// stable serialization.
func sortReleases(rs []Release) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Released != rs[j].Released {
			return rs[i].Released > rs[j].Released
		}
		if rs[i].Platform != rs[j].Platform {
			return rs[i].Platform < rs[j].Platform
		}
		return sofa.CompareVersions(rs[i].Version, rs[j].Version) > 0
	})
}

func writeJSON(path string, v any) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return tmp.WriteFile(path, enc, 0o644)
}
