package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	SourceIRS = "IRS"
	SourceCRA = "CRA"
)

// PageFetcher is the shared fetch primitive every extractor builds on.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Extractor pulls the main textual content out of one source site.
//
// Extract returns ("", nil) when the page was fetched but the expected content
// region is missing. Fetch problems come back as errors wrapping ErrFetch.
type Extractor interface {
	Source() string
	BaseURL() string
	Extract(ctx context.Context, endpoint string) (string, error)
}

type site struct {
	baseURL string
	fetcher PageFetcher
}

func (s site) BaseURL() string { return s.baseURL }

func (s site) fetch(ctx context.Context, endpoint string) (*goquery.Document, error) {
	return s.fetcher.Fetch(ctx, s.baseURL+endpoint)
}

// IRS extracts the Drupal body field used across irs.gov article pages.
type IRS struct{ site }

func NewIRS(baseURL string, f PageFetcher) *IRS {
	return &IRS{site{baseURL: strings.TrimSuffix(baseURL, "/"), fetcher: f}}
}

func (e *IRS) Source() string { return SourceIRS }

func (e *IRS) Extract(ctx context.Context, endpoint string) (string, error) {
	doc, err := e.fetch(ctx, endpoint)
	if err != nil {
		return "", err
	}
	return paragraphs(doc.Find("div.field--name-body").First()), nil
}

// CRA extracts the <main> landmark that canada.ca pages wrap content in.
type CRA struct{ site }

func NewCRA(baseURL string, f PageFetcher) *CRA {
	return &CRA{site{baseURL: strings.TrimSuffix(baseURL, "/"), fetcher: f}}
}

func (e *CRA) Source() string { return SourceCRA }

func (e *CRA) Extract(ctx context.Context, endpoint string) (string, error) {
	doc, err := e.fetch(ctx, endpoint)
	if err != nil {
		return "", err
	}
	return paragraphs(doc.Find("main").First()), nil
}

// paragraphs joins the trimmed text of every <p> under region with newlines.
// An empty selection yields "".
func paragraphs(region *goquery.Selection) string {
	if region.Length() == 0 {
		return ""
	}
	var parts []string
	region.Find("p").Each(func(_ int, p *goquery.Selection) {
		parts = append(parts, strings.TrimSpace(p.Text()))
	})
	return strings.Join(parts, "\n")
}
