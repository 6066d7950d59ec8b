// Package fetcher defines the contract shared by all source
// fetchers. A fetcher pulls one upstream source through the HTTP
// cache and leaves a parsed artifact behind; the Process stage reads
// only those artifacts.
package fetcher

import "context"

// Fetcher is one upstream source.
type Fetcher interface {
	// Name identifies the source in logs and stage accounting.
	Name() string
	// Fetch refreshes the source. Implementations absorb transient
	// network errors when a usable cached copy exists and return an
	// error only when the source is unusable for this run.
	Fetch(ctx context.Context) error
}

// IndexPage is one configured Apple security-release index page.
type IndexPage struct {
	// Name is a short label, e.g. "current" or "2022-2023".
	Name string `toml:"name"`
	URL  string `toml:"url"`
	// Enabled pages are fetched; disabled pages stay configured for
	// occasional backfills.
	Enabled bool `toml:"enabled"`
}

// DefaultIndexPages is the shipped page set. Older archives exist but
// stay disabled by default to keep runs fast.
func DefaultIndexPages() []IndexPage {
	return []IndexPage{
		{Name: "current", URL: "https://support.apple.com/en-ca/100100", Enabled: true},
		{Name: "2022-2023", URL: "https://support.apple.com/en-ca/121012", Enabled: true},
		{Name: "2020-2021", URL: "https://support.apple.com/en-ca/120989", Enabled: false},
		{Name: "2018-2019", URL: "https://support.apple.com/en-ca/103179", Enabled: false},
	}
}
