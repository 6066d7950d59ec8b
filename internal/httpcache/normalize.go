package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/net/html"
)

// NormalizeText reduces an HTML document to its visible text:
// script, style, and noscript subtrees are dropped and all whitespace
// runs collapse to single spaces. Non-HTML input falls back to plain
// whitespace collapsing.
func NormalizeText(raw []byte) string {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return collapseWhitespace(string(raw))
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContentHash returns the hex SHA-256 of the normalized text of raw.
// Whitespace and script churn do not change the hash.
func ContentHash(raw []byte) string {
	sum := sha256.Sum256([]byte(NormalizeText(raw)))
	return hex.EncodeToString(sum[:])
}
