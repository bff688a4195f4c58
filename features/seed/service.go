package seed

import (
	"context"
	"fmt"
	"log/slog"
)

// Seeder inserts URLs as pending work, ignoring ones already queued.
type Seeder interface {
	Seed(ctx context.Context, urls []string) (int, error)
}

type URLCollector interface {
	Collect(ctx context.Context, sitemapURL string) ([]string, error)
}

type Result struct {
	Discovered int `json:"discovered"`
	Eligible   int `json:"eligible"`
	Inserted   int `json:"inserted"`
}

type Service struct {
	crawler URLCollector
	queue   Seeder
	filter  Filter
}

func NewService(crawler URLCollector, queue Seeder, filter Filter) *Service {
	return &Service{crawler: crawler, queue: queue, filter: filter}
}

// Run crawls each sitemap, filters the union and seeds it in one call.
func (s *Service) Run(ctx context.Context, sitemapURLs ...string) (Result, error) {
	var res Result
	var all []string
	for _, sm := range sitemapURLs {
		if sm == "" {
			continue
		}
		urls, err := s.crawler.Collect(ctx, sm)
		if err != nil {
			return res, err
		}
		slog.InfoContext(ctx, "sitemap crawled", "sitemap", sm, "urls", len(urls))
		all = append(all, urls...)
	}
	res.Discovered = len(all)

	eligible := s.filter.Apply(all)
	res.Eligible = len(eligible)
	if len(eligible) == 0 {
		slog.WarnContext(ctx, "no eligible urls to seed", "discovered", res.Discovered)
		return res, nil
	}

	inserted, err := s.queue.Seed(ctx, eligible)
	if err != nil {
		return res, fmt.Errorf("failed to seed queue: %w", err)
	}
	res.Inserted = inserted

	slog.InfoContext(ctx, "queue seeded", "discovered", res.Discovered, "eligible", res.Eligible, "inserted", res.Inserted)
	return res, nil
}
