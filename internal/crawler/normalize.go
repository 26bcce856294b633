package crawler

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// priorityPattern pairs a regex against the URL with the priority it
// assigns, checked in table order (§4.5's priority table).
type priorityPattern struct {
	pattern  *regexp.Regexp
	priority int
}

var defaultPriorityPatterns = []priorityPattern{
	{regexp.MustCompile(`(?i)(login|signin|auth)`), PriorityCritical},
	{regexp.MustCompile(`(?i)(checkout|payment|purchase)`), PriorityCritical},
	{regexp.MustCompile(`(?i)(register|signup)`), PriorityCritical},
	{regexp.MustCompile(`(?i)(dashboard|admin|account)`), PriorityHigh},
	{regexp.MustCompile(`(?i)(home|index|main)`), PriorityHigh},
	{regexp.MustCompile(`(?i)(search|product|item)`), PriorityMedium},
	{regexp.MustCompile(`(?i)(about|contact|help|faq)`), PriorityLow},
	{regexp.MustCompile(`(?i)(terms|privacy|legal)`), PriorityDeferred},
	{regexp.MustCompile(`(?i)\.(pdf|doc|zip|exe)$`), PriorityDeferred},
}

// blockedExtensions are never admitted regardless of include patterns.
var blockedExtensions = map[string]bool{
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true, "zip": true, "exe": true, "dmg": true,
}

// classifyPriority assigns a priority to url by checking the default
// pattern table in order, falling back to Low when nothing matches.
func classifyPriority(url string) int {
	for _, p := range defaultPriorityPatterns {
		if p.pattern.MatchString(url) {
			return p.priority
		}
	}
	return PriorityLow
}

// Normalize canonicalizes a URL per §4.5: strip fragment, lowercase
// host, collapse a trailing slash in the path (except root), and sort
// query parameters lexicographically by key. Two URLs with the same
// normalization are considered the same URL.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte('&')
			}
			vals := values[k]
			sort.Strings(vals)
			for j, v := range vals {
				if j > 0 {
					sb.WriteByte('&')
				}
				sb.WriteString(k)
				sb.WriteByte('=')
				sb.WriteString(v)
			}
		}
		u.RawQuery = sb.String()
	}

	return u.String()
}

// extension returns the lowercase file extension (without dot) of a
// URL's path, or "" if none.
func extension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := u.Path
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[idx+1:])
}

// sameHost reports whether candidate shares a host with seed.
func sameHost(seedHost, candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), seedHost)
}
