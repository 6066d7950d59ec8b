package feed

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/macadmins/sofa"
)

// itemsPerOSVersion caps the RSS items drawn from one OSVersion block.
const itemsPerOSVersion = 20

type rssDoc struct {
	XMLName  xml.Name     `xml:"rss"`
	Version  string       `xml:"version,attr"`
	Channels []rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link,omitempty"`
	Description string  `xml:"description"`
	PubDate     string  `xml:"pubDate"`
	GUID        rssGUID `xml:"guid"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// BuildRSS renders one channel per platform over the retained release
// lists. Item order follows the feed order: newest major first,
// newest release first within each major.
func BuildRSS(records map[sofa.Platform][]*sofa.ReleaseRecord) ([]byte, error) {
	doc := rssDoc{Version: "2.0"}
	for _, p := range sofa.Platforms() {
		recs, ok := records[p]
		if !ok {
			continue
		}
		ch := rssChannel{
			Title:       p.String() + " Security Releases",
			Link:        "https://support.apple.com/en-us/100100",
			Description: "Security updates for " + p.String(),
		}
		for _, g := range groupByMajor(p, recs) {
			n := len(g.recs)
			if n > itemsPerOSVersion {
				n = itemsPerOSVersion
			}
			for _, r := range g.recs[:n] {
				ch.Items = append(ch.Items, rssItem{
					Title:       r.Title,
					Link:        r.URL,
					Description: itemDescription(r),
					PubDate:     r.ReleaseDate.Format(time.RFC1123Z),
					GUID: rssGUID{
						IsPermaLink: "false",
						Value: fmt.Sprintf("%s-%s-%s", p, r.Version,
							r.ReleaseDate.Format("2006-01-02")),
					},
				})
			}
		}
		doc.Channels = append(doc.Channels, ch)
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// itemDescription is the plain-text summary: CVE count plus the
// exploited list when any CVE is under active attack.
func itemDescription(r *sofa.ReleaseRecord) string {
	exploited := r.ExploitedCVEs()
	switch {
	case len(r.CVEs) == 0:
		return "No published CVE entries."
	case len(exploited) == 0:
		return fmt.Sprintf("%d vulnerabilities addressed.", len(r.CVEs))
	}
	return fmt.Sprintf("%d vulnerabilities addressed, %d actively exploited: %s",
		len(r.CVEs), len(exploited), strings.Join(exploited, ", "))
}
