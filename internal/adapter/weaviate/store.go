package weaviate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"bhoomi/internal/index"
	"bhoomi/internal/vector"
)

// Store mirrors index records into Weaviate so external tools can search
// the knowledge base. The local index stays authoritative.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewSchemaAdapter(s.client))
}

// Reset deletes every mirrored chunk.
func (s *Store) Reset(ctx context.Context) error {
	res, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"source"}).
			WithOperator(filters.Like).
			WithValueString("*")).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate reset: %w", err)
	}
	if res != nil && res.Results != nil {
		slog.InfoContext(ctx, "mirror reset", "deleted", res.Results.Successful, "failed", res.Results.Failed)
	}
	return nil
}

// Upsert writes records keyed by their index id, so re-sending a record
// replaces it.
func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		objects[i] = &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(r.ID),
			Properties: map[string]interface{}{
				"content": r.Chunk.Text,
				"source":  r.Chunk.Source,
				"page":    r.Chunk.Page,
				"offset":  r.Chunk.Offset,
			},
			Vector: models.C11yVector(r.Vector),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate upsert: %w", err)
	}

	failed := 0
	var first string
	for _, o := range resp {
		if o.Result != nil && o.Result.Errors != nil && len(o.Result.Errors.Error) > 0 {
			if failed == 0 && o.Result.Errors.Error[0] != nil {
				first = o.Result.Errors.Error[0].Message
			}
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("weaviate upsert: %d of %d objects failed: %s", failed, len(objects), first)
	}
	return nil
}

// Count returns the number of mirrored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}
