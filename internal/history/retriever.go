// Package history retrieves similar past decisions from the similarity
// index and record store and summarizes their outcomes.
//
// Every retrieval failure degrades to an empty result: callers must treat
// "no history" as an explicit unknown signal, never as evidence of safety.
package history

import (
	"context"
	"sort"

	"github.com/Malowking/mcp-sentinel/internal/store"
	"go.uber.org/zap"
)

// StoreFailureID is the sentinel returned by StoreQuestionEmbedding when
// the embedding could not be indexed.
const StoreFailureID = int64(-1)

// Embedder computes fixed-dimension embeddings. model.Provider satisfies it.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Neighbor is one similarity-index hit.
type Neighbor struct {
	AssociatedID string
	Distance     float64
}

// Index is the narrow similarity-index contract. An unready index returns
// empty results, not an error.
type Index interface {
	Add(ctx context.Context, vector []float32, associatedID string) (int64, error)
	Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
}

// CaseStore fetches full audit records for index hits.
type CaseStore interface {
	GetRecordsByRequestIDs(ctx context.Context, requestIDs []string) ([]*store.ToolCallRecord, error)
}

// Case pairs a past record with its similarity to the current question.
type Case struct {
	Record     *store.ToolCallRecord
	Similarity float64
	Distance   float64
}

// Config tunes retrieval.
type Config struct {
	TopK                int     // default 5
	SimilarityThreshold float64 // default 0.75
}

// DefaultConfig returns the retrieval defaults.
func DefaultConfig() Config {
	return Config{TopK: 5, SimilarityThreshold: 0.75}
}

// Retriever finds similar past decisions.
type Retriever struct {
	embedder Embedder
	index    Index
	cases    CaseStore
	cfg      Config
	logger   *zap.Logger
}

// NewRetriever creates a retriever over the given collaborators.
func NewRetriever(embedder Embedder, index Index, cases CaseStore, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.75
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, index: index, cases: cases, cfg: cfg, logger: logger}
}

// RetrieveSimilarCases returns up to TopK past cases similar to the
// question, most similar first. Distance d maps to similarity 1/(1+d),
// bounded in (0, 1] and strictly decreasing in distance. When userID is
// non-empty only that user's history is considered.
func (r *Retriever) RetrieveSimilarCases(ctx context.Context, question, userID string) []Case {
	vector, err := r.embedder.GetEmbedding(ctx, question)
	if err != nil {
		r.logger.Warn("question embedding failed, skipping history", zap.Error(err))
		return nil
	}

	// Over-fetch so threshold and user filtering still leave TopK.
	neighbors, err := r.index.Search(ctx, vector, r.cfg.TopK*2)
	if err != nil {
		r.logger.Warn("similarity search failed, skipping history", zap.Error(err))
		return nil
	}
	if len(neighbors) == 0 {
		return nil
	}

	ids := make([]string, 0, len(neighbors))
	distances := make(map[string]float64, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.AssociatedID)
		if _, seen := distances[n.AssociatedID]; !seen {
			distances[n.AssociatedID] = n.Distance
		}
	}

	records, err := r.cases.GetRecordsByRequestIDs(ctx, ids)
	if err != nil {
		r.logger.Warn("record fetch failed, skipping history", zap.Error(err))
		return nil
	}

	cases := make([]Case, 0, len(records))
	for _, rec := range records {
		distance, ok := distances[rec.RequestID]
		if !ok {
			continue
		}
		similarity := 1.0 / (1.0 + distance)
		if similarity < r.cfg.SimilarityThreshold {
			continue
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		cases = append(cases, Case{Record: rec, Similarity: similarity, Distance: distance})
	}

	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].Similarity > cases[j].Similarity
	})
	if len(cases) > r.cfg.TopK {
		cases = cases[:r.cfg.TopK]
	}

	r.logger.Debug("retrieved similar cases",
		zap.Int("count", len(cases)),
		zap.Float64("threshold", r.cfg.SimilarityThreshold),
	)
	return cases
}

// StoreQuestionEmbedding indexes the question keyed to the audit record's
// request id. Returns the index's internal id, or StoreFailureID on any
// failure.
func (r *Retriever) StoreQuestionEmbedding(ctx context.Context, question, requestID string) int64 {
	vector, err := r.embedder.GetEmbedding(ctx, question)
	if err != nil {
		r.logger.Warn("embedding for storage failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return StoreFailureID
	}
	id, err := r.index.Add(ctx, vector, requestID)
	if err != nil {
		r.logger.Warn("index insert failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return StoreFailureID
	}
	return id
}
