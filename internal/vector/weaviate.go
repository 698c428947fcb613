// Package vector adapts a Weaviate instance to the similarity-index
// contract used by history retrieval.
package vector

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Malowking/mcp-sentinel/internal/history"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"
)

// ClassName is the Weaviate class holding question embeddings.
const ClassName = "QuestionCase"

// Index stores question embeddings in Weaviate keyed by audit record id.
type Index struct {
	client  *weaviate.Client
	logger  *zap.Logger
	counter atomic.Int64
}

// NewIndex connects to Weaviate and ensures the QuestionCase class exists.
// Vectors are supplied by the caller, so the class uses no vectorizer.
func NewIndex(ctx context.Context, host, scheme string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("NewIndex: %w", err)
	}
	ix := &Index{client: client, logger: logger}
	if err := ix.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("NewIndex: %w", err)
	}
	return ix, nil
}

func (ix *Index) ensureSchema(ctx context.Context) error {
	_, err := ix.client.Schema().ClassGetter().WithClassName(ClassName).Do(ctx)
	if err == nil {
		return nil
	}
	class := &models.Class{
		Class:      ClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "record_id", DataType: []string{"text"}},
		},
	}
	if err := ix.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating %s class: %w", ClassName, err)
	}
	ix.logger.Info("created similarity index class", zap.String("class", ClassName))
	return nil
}

// Add stores a question embedding keyed by the audit record's request id
// and returns a monotonically increasing local id.
func (ix *Index) Add(ctx context.Context, vec []float32, associatedID string) (int64, error) {
	_, err := ix.client.Data().Creator().
		WithClassName(ClassName).
		WithProperties(map[string]any{"record_id": associatedID}).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("Add: %w", err)
	}
	return ix.counter.Add(1), nil
}

// Search returns up to k nearest stored embeddings with their distances.
// Malformed hits are skipped so a partially bad response still yields the
// usable neighbors.
func (ix *Index) Search(ctx context.Context, vec []float32, k int) ([]history.Neighbor, error) {
	nearVector := ix.client.GraphQL().NearVectorArgBuilder().WithVector(vec)
	fields := []graphql.Field{
		{Name: "record_id"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	resp, err := ix.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("Search: %s", resp.Errors[0].Message)
	}

	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	objects, ok := get[ClassName].([]any)
	if !ok {
		return nil, nil
	}

	neighbors := make([]history.Neighbor, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		recordID, ok := m["record_id"].(string)
		if !ok || recordID == "" {
			continue
		}
		additional, ok := m["_additional"].(map[string]any)
		if !ok {
			continue
		}
		distance, ok := additional["distance"].(float64)
		if !ok {
			continue
		}
		neighbors = append(neighbors, history.Neighbor{AssociatedID: recordID, Distance: distance})
	}
	return neighbors, nil
}
