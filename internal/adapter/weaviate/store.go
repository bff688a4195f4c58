package weaviate

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"taxrag/apps/ingestor/internal/worker"
)

// Store keeps embedding points in one Weaviate class.
type Store struct {
	client    *weaviate.Client
	className string
}

func NewStore(client *weaviate.Client, className string) *Store {
	return &Store{client: client, className: className}
}

// Upsert writes all points in a single batch request. Weaviate reports
// failures per object, so any object-level error fails the whole call.
func (s *Store) Upsert(ctx context.Context, points []worker.EmbeddingPoint) error {
	if len(points) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(points))
	for i, p := range points {
		objects[i] = &models.Object{
			Class: s.className,
			ID:    strfmt.UUID(p.ID),
			Properties: map[string]interface{}{
				"text":   p.Payload.Text,
				"source": p.Payload.Source,
				"url":    p.Payload.URL,
			},
			Vector: p.Vector,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert: %w", err)
	}

	var msgs []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			msgs = append(msgs, fmt.Sprintf("%s: %s", r.ID, e.Message))
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("batch upsert: %d object errors: %s", len(msgs), strings.Join(msgs, "; "))
	}
	return nil
}

// Count returns the number of points in the class.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.aggregateCount(ctx, nil)
}

// CountByURL returns the number of points carrying url in their payload.
func (s *Store) CountByURL(ctx context.Context, url string) (int, error) {
	return s.aggregateCount(ctx, urlFilter(url))
}

func (s *Store) aggregateCount(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	agg := s.client.GraphQL().Aggregate().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if where != nil {
		agg = agg.WithWhere(where)
	}

	res, err := agg.Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	data, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := data[s.className].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

// PointsByURL reads back the payloads stored for url, up to limit.
func (s *Store) PointsByURL(ctx context.Context, url string, limit int) ([]worker.PointPayload, error) {
	fields := []graphql.Field{
		{Name: "text"},
		{Name: "source"},
		{Name: "url"},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithWhere(urlFilter(url)).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var payloads []worker.PointPayload
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	rows, _ := data[s.className].([]interface{})
	for _, r := range rows {
		props, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		var p worker.PointPayload
		p.Text, _ = props["text"].(string)
		p.Source, _ = props["source"].(string)
		p.URL, _ = props["url"].(string)
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func urlFilter(url string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"url"}).
		WithOperator(filters.Equal).
		WithValueString(url)
}
