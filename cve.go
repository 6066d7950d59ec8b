package sofa

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var cveRegexp = regexp.MustCompile(`\bCVE-\d{4}-\d{4,7}\b`)

// FindCVEs extracts every CVE identifier from free text, deduplicated
// and in canonical order.
func FindCVEs(text string) []string {
	found := cveRegexp.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	return SortCVEs(found)
}

// SortCVEs deduplicates and orders CVE identifiers by year ascending,
// then sequence number ascending.
func SortCVEs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		yi, si := cveParts(out[i])
		yj, sj := cveParts(out[j])
		if yi != yj {
			return yi < yj
		}
		if si != sj {
			return si < sj
		}
		return out[i] < out[j]
	})
	return out
}

func cveParts(id string) (year, seq int) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) != 3 {
		return 0, 0
	}
	year, _ = strconv.Atoi(parts[1])
	seq, _ = strconv.Atoi(parts[2])
	return year, seq
}

// MergeCVEs unions two CVE lists, preserving canonical order.
func MergeCVEs(a, b []string) []string {
	if len(b) == 0 {
		return SortCVEs(a)
	}
	return SortCVEs(append(append([]string{}, a...), b...))
}
