// Package securityindex fetches and parses Apple's security-release
// index pages and the per-release detail pages they link.
package securityindex

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/macadmins/sofa"
)

// Row is one release row from an index page.
type Row struct {
	Name      string `json:"name"`
	Date      string `json:"date"`
	OSType    string `json:"os_type"`
	DetailURL string `json:"detail_url,omitempty"`
}

// ParsedIndex is the cached derivative of one index page.
type ParsedIndex struct {
	URL       string `json:"url"`
	FetchedAt string `json:"fetched_at"`
	Rows      []Row  `json:"rows"`
}

// CVEEntry is the per-CVE block harvested from a detail page.
type CVEEntry struct {
	Component    string `json:"component"`
	AvailableFor string `json:"available_for,omitempty"`
	Impact       string `json:"impact,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Detail is the cached derivative of one detail page.
type Detail struct {
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	ReleaseDate string              `json:"release_date,omitempty"`
	Builds      []string            `json:"builds,omitempty"`
	CVEs        []string            `json:"cves,omitempty"`
	Entries     map[string]CVEEntry `json:"entries,omitempty"`
}

func nodeText(n *html.Node) string {
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

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findAll collects descendant elements with the given tag in document
// order.
func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// ParseIndex walks an index page's release table. Header rows and
// rows naming no supported platform still appear in the output with
// an empty os_type so callers can count skips.
func ParseIndex(raw []byte, pageURL string) (*ParsedIndex, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, sofa.NewError("securityindex/ParseIndex", sofa.ErrParse, pageURL, err)
	}
	out := &ParsedIndex{URL: pageURL}
	for _, tr := range findAll(doc, "tr") {
		cells := findAll(tr, "td")
		if len(cells) < 2 {
			// Header row or decoration.
			continue
		}
		row := Row{Name: nodeText(cells[0])}
		if row.Name == "" {
			continue
		}
		// Last cell is the release date; a middle cell, when
		// present, lists availability.
		row.Date = nodeText(cells[len(cells)-1])
		if as := findAll(cells[0], "a"); len(as) > 0 {
			if href := attr(as[0], "href"); href != "" {
				row.DetailURL = CanonicalURL(href)
			}
		}
		if p := sofa.DetectPlatform(row.Name); p != sofa.PlatformUnknown {
			row.OSType = p.Key()
		}
		out.Rows = append(out.Rows, row)
	}
	if len(out.Rows) == 0 {
		return nil, sofa.NewError("securityindex/ParseIndex", sofa.ErrParse,
			"no release rows found: "+pageURL, nil)
	}
	return out, nil
}

// ParseDetail walks a security-content detail page. Component
// sections are headings followed by "Available for:", "Impact:", and
// "Description:" paragraphs; CVE identifiers may appear in any of
// them.
func ParseDetail(raw []byte, pageURL string) (*Detail, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, sofa.NewError("securityindex/ParseDetail", sofa.ErrParse, pageURL, err)
	}
	d := &Detail{URL: pageURL, Entries: map[string]CVEEntry{}}
	if h1 := findAll(doc, "h1"); len(h1) > 0 {
		d.Title = nodeText(h1[0])
	}

	// Linearize headings and paragraphs in document order, then fold
	// paragraphs into the section opened by the last heading.
	type block struct {
		heading bool
		text    string
	}
	var blocks []block
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h2", "h3":
				blocks = append(blocks, block{heading: true, text: nodeText(n)})
				return
			case "p", "li":
				blocks = append(blocks, block{text: nodeText(n)})
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var section string
	var entry CVEEntry
	var pending []string
	flush := func() {
		for _, cve := range pending {
			e := entry
			e.Component = section
			d.Entries[cve] = e
			d.CVEs = append(d.CVEs, cve)
		}
		pending = nil
		entry = CVEEntry{}
	}
	for _, b := range blocks {
		if b.heading {
			flush()
			section = b.text
			continue
		}
		text := b.text
		switch {
		case strings.HasPrefix(text, "Released "):
			if d.ReleaseDate == "" {
				if t, err := sofa.ParseAppleDate(text); err == nil {
					d.ReleaseDate = sofa.FormatISO(t)
				}
			}
		case strings.HasPrefix(text, "Available for:"):
			// A new "Available for:" opens the next entry group even
			// when the component heading is not repeated.
			flush()
			entry.AvailableFor = strings.TrimSpace(strings.TrimPrefix(text, "Available for:"))
		case strings.HasPrefix(text, "Impact:"):
			entry.Impact = strings.TrimSpace(strings.TrimPrefix(text, "Impact:"))
		case strings.HasPrefix(text, "Description:"):
			entry.Description = strings.TrimSpace(strings.TrimPrefix(text, "Description:"))
		}
		if ids := sofa.FindCVEs(text); len(ids) > 0 {
			pending = append(pending, ids...)
		}
	}
	flush()

	d.CVEs = sofa.SortCVEs(d.CVEs)
	d.Builds = sofa.FindBuilds(d.Title)
	if len(d.Builds) == 0 {
		// Some pages only name the build in body text.
		d.Builds = sofa.FindBuilds(nodeText(doc))
	}
	if d.Title == "" {
		return nil, sofa.NewError("securityindex/ParseDetail", sofa.ErrParse,
			"no title found: "+pageURL, nil)
	}
	return d, nil
}
