package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoRoute = errors.New("no extractor matches domain")

// DomainRoute binds a host substring (e.g. "irs.gov") to an extractor.
type DomainRoute struct {
	Domain    string
	Extractor Extractor
}

// Route is the routing decision for a single URL.
type Route struct {
	Extractor Extractor
	Source    string
	Endpoint  string
}

// Router picks an extractor by inspecting a URL's host. Routes are tried in
// the order given.
type Router struct {
	routes []DomainRoute
}

func NewRouter(routes ...DomainRoute) *Router {
	return &Router{routes: routes}
}

// NewSourceRouter wires the two supported tax sites.
func NewSourceRouter(irsBaseURL, craBaseURL string, f PageFetcher) *Router {
	return NewRouter(
		DomainRoute{Domain: "irs.gov", Extractor: NewIRS(irsBaseURL, f)},
		DomainRoute{Domain: "canada.ca", Extractor: NewCRA(craBaseURL, f)},
	)
}

func (r *Router) Route(rawURL string) (Route, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Route{}, fmt.Errorf("%w: unparseable url %q", ErrNoRoute, rawURL)
	}
	host := strings.ToLower(u.Hostname())

	for _, dr := range r.routes {
		if !strings.Contains(host, dr.Domain) {
			continue
		}
		return Route{
			Extractor: dr.Extractor,
			Source:    dr.Extractor.Source(),
			Endpoint:  endpointFor(rawURL, u, dr.Extractor.BaseURL()),
		}, nil
	}
	return Route{}, fmt.Errorf("%w: %s", ErrNoRoute, host)
}

// endpointFor strips the extractor's base URL. URLs on a sibling host (irs.gov
// vs www.irs.gov) fall back to the request URI so they resolve against base.
func endpointFor(rawURL string, u *url.URL, baseURL string) string {
	if baseURL != "" && strings.HasPrefix(rawURL, baseURL) {
		return strings.TrimPrefix(rawURL, baseURL)
	}
	return u.RequestURI()
}
