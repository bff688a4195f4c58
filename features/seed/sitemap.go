package seed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrSitemap     = errors.New("sitemap error")
	ErrMaxDepth    = errors.New("sitemap index nesting too deep")
	ErrUnknownRoot = errors.New("unknown sitemap root element")
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxDepth    = 3
	DefaultConcurrency = 4
	maxSitemapBytes    = 50 << 20
)

type sitemapDoc struct {
	XMLName  xml.Name
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// Crawler walks sitemap indexes down to their url sets.
type Crawler struct {
	client      *http.Client
	userAgent   string
	maxDepth    int
	concurrency int
}

type CrawlerOption func(*Crawler)

func WithHTTPClient(c *http.Client) CrawlerOption {
	return func(cr *Crawler) { cr.client = c }
}

func WithUserAgent(ua string) CrawlerOption {
	return func(cr *Crawler) { cr.userAgent = ua }
}

func WithMaxDepth(d int) CrawlerOption {
	return func(cr *Crawler) { cr.maxDepth = d }
}

func WithConcurrency(n int) CrawlerOption {
	return func(cr *Crawler) {
		if n > 0 {
			cr.concurrency = n
		}
	}
}

func NewCrawler(opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		client:      &http.Client{Timeout: DefaultTimeout},
		maxDepth:    DefaultMaxDepth,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns every <loc> reachable from sitemapURL, in document order.
// Child sitemaps of an index are fetched concurrently; any failure aborts the
// whole crawl.
func (c *Crawler) Collect(ctx context.Context, sitemapURL string) ([]string, error) {
	return c.collect(ctx, sitemapURL, 0)
}

func (c *Crawler) collect(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > c.maxDepth {
		return nil, fmt.Errorf("%w: %s", ErrMaxDepth, sitemapURL)
	}

	doc, err := c.fetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	switch doc.XMLName.Local {
	case "urlset":
		urls := make([]string, 0, len(doc.URLs))
		for _, u := range doc.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
		slog.DebugContext(ctx, "sitemap url set parsed", "sitemap", sitemapURL, "count", len(urls))
		return urls, nil

	case "sitemapindex":
		children := make([][]string, len(doc.Sitemaps))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for i, sm := range doc.Sitemaps {
			loc := strings.TrimSpace(sm.Loc)
			if loc == "" {
				continue
			}
			g.Go(func() error {
				urls, err := c.collect(gctx, loc, depth+1)
				if err != nil {
					return err
				}
				children[i] = urls
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var all []string
		for _, urls := range children {
			all = append(all, urls...)
		}
		return all, nil
	}

	return nil, fmt.Errorf("%w: %q in %s", ErrUnknownRoot, doc.XMLName.Local, sitemapURL)
}

func (c *Crawler) fetch(ctx context.Context, sitemapURL string) (*sitemapDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %s: %v", ErrSitemap, sitemapURL, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/xml,text/xml;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrSitemap, sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrSitemap, sitemapURL, resp.StatusCode)
	}

	var doc sitemapDoc
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxSitemapBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrSitemap, sitemapURL, err)
	}
	return &doc, nil
}
