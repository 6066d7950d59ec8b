package sofa

import (
	"regexp"
	"sort"
	"strconv"
)

// Apple build identifiers look like 22D50 or 21G93a: a two-digit year
// code, an uppercase train letter, one to five digits, and an optional
// lowercase suffix. The year range 18-29 covers builds shipped
// 2018-2029 and rejects five-digit article numbers; the ceiling needs
// raising when 30-prefixed builds ship.
var buildRegexp = regexp.MustCompile(`\b(1[89]|2[0-9])[A-Z]\d{1,5}[a-z]?\b`)

// FindBuilds extracts Apple build numbers from free text, deduplicated
// in first-seen order.
func FindBuilds(text string) []string {
	found := buildRegexp.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(found))
	out := make([]string, 0, len(found))
	for _, b := range found {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}

// IsBuildNumber reports whether s is exactly one Apple build number.
func IsBuildNumber(s string) bool {
	m := buildRegexp.FindString(s)
	return m == s && m != ""
}

// SortBuilds returns a deduplicated copy of builds in shipping order:
// year code, train letter, numeric build, then the lowercase suffix.
// The numeric compare matters across digit-count boundaries, where
// lexical order would put 22F761 before 22F82. Strings outside the
// build grammar sort lexically after well-formed builds.
func SortBuilds(builds []string) []string {
	seen := make(map[string]struct{}, len(builds))
	out := make([]string, 0, len(builds))
	for _, b := range builds {
		if b == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return buildLess(out[i], out[j]) })
	return out
}

var buildPartsRegexp = regexp.MustCompile(`^(\d{2})([A-Z])(\d{1,5})([a-z]?)$`)

type buildParts struct {
	year   int
	train  byte
	num    int
	suffix string
}

func splitBuild(s string) (buildParts, bool) {
	m := buildPartsRegexp.FindStringSubmatch(s)
	if m == nil {
		return buildParts{}, false
	}
	year, _ := strconv.Atoi(m[1])
	num, _ := strconv.Atoi(m[3])
	return buildParts{year: year, train: m[2][0], num: num, suffix: m[4]}, true
}

func buildLess(a, b string) bool {
	pa, oka := splitBuild(a)
	pb, okb := splitBuild(b)
	switch {
	case oka && okb:
		switch {
		case pa.year != pb.year:
			return pa.year < pb.year
		case pa.train != pb.train:
			return pa.train < pb.train
		case pa.num != pb.num:
			return pa.num < pb.num
		}
		return pa.suffix < pb.suffix
	case oka:
		return true
	case okb:
		return false
	}
	return a < b
}
