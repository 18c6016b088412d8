package extract

import (
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"kgindex/internal/graph"
)

var (
	semverRe  = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)
	ordinalRe = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])v(\d{1,3})(?:[^0-9]|$)`)
	bareIntRe = regexp.MustCompile(`^\s*[vV]?(\d{1,3})(?:\.0+)*\s*$`)
	amountRe  = regexp.MustCompile(`(?i)\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(k|m|b|thousand|million|billion|mm|bn)?\b`)
	cweRe     = regexp.MustCompile(`(?i)\bCWE-\d+\b`)
	urlRe     = regexp.MustCompile(`https?://[^\s)>\]"']+`)
	leadNumRe = regexp.MustCompile(`^\d+[-_ ]+`)
)

var dateLayouts = []string{
	graph.ReleaseDateLayout,
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// parseOrdinal reads "3", "v3" or "V3.0".
func parseOrdinal(s string) (int, bool) {
	m := bareIntRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// ordinalFromName finds a "v<N>" token in a file name or title.
func ordinalFromName(s string) (int, bool) {
	m := ordinalRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// ParseLossUSD reads amounts such as "$60M", "$1.2 billion", "611,000,000".
func ParseLossUSD(s string) (int64, bool) {
	m := amountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k", "thousand":
		f *= 1e3
	case "m", "mm", "million":
		f *= 1e6
	case "b", "bn", "billion":
		f *= 1e9
	}
	if f < 0 || f > math.MaxInt64/2 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// parseReleaseDate normalizes a date to graph.ReleaseDateLayout.
func parseReleaseDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[4] == '-' && s[7] == '-' {
		s = s[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(graph.ReleaseDateLayout), true
		}
	}
	return "", false
}

// upperLabel normalizes labels such as severity or difficulty: "High" and
// "**HIGH**" both become "HIGH".
func upperLabel(s string) (string, bool) {
	s = strings.Trim(strings.TrimSpace(s), "*_`")
	if f := strings.Fields(s); len(f) > 0 {
		s = strings.TrimRight(f[0], ".,;:")
	}
	if s == "" {
		return "", false
	}
	return strings.ToUpper(s), true
}

func splitList(s string) []string {
	sep := ","
	if !strings.Contains(s, ",") && strings.Contains(s, ";") {
		sep = ";"
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), "`*_")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stem returns the file name without directory or extension.
func stem(relPath string) string {
	base := path.Base(relPath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// humanize turns "integer_overflow" or "01-reentrancy-attacks" into
// "Integer Overflow" / "Reentrancy Attacks".
func humanize(s string) string {
	s = leadNumRe.ReplaceAllString(s, "")
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func firstURL(s string) (string, bool) {
	if m := urlRe.FindString(s); m != "" {
		return strings.TrimRight(m, ".,;"), true
	}
	return "", false
}

func optString(s string, ok bool) *string {
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return graph.Ptr(strings.TrimSpace(s))
}

func optInt(n int, ok bool) *int {
	if !ok {
		return nil
	}
	return graph.Ptr(n)
}

func optInt64(n int64, ok bool) *int64 {
	if !ok {
		return nil
	}
	return graph.Ptr(n)
}
