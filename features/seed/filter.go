package seed

import (
	"net/url"
	"strings"
)

// Filter narrows sitemap URLs to the pages worth ingesting.
type Filter struct {
	// PathPattern must appear in the URL path. Empty keeps every path.
	PathPattern string
	// Exclusions drop any URL containing one of them, e.g. "/es/".
	Exclusions []string
	// Hosts restricts URLs to these hosts when non-empty.
	Hosts []string
}

// Apply normalizes, filters and deduplicates urls, keeping first-seen order.
func (f Filter) Apply(urls []string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" {
			continue
		}
		if len(f.Hosts) > 0 && !f.allowedHost(u.Host) {
			continue
		}

		// Fragments never change the served page.
		u.Fragment = ""
		normalized := u.String()

		if f.PathPattern != "" && !strings.Contains(u.Path, f.PathPattern) {
			continue
		}
		if f.excluded(normalized) {
			continue
		}

		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

func (f Filter) allowedHost(host string) bool {
	for _, h := range f.Hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func (f Filter) excluded(u string) bool {
	for _, ex := range f.Exclusions {
		if ex != "" && strings.Contains(u, ex) {
			return true
		}
	}
	return false
}
