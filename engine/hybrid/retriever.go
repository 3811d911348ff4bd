// Package hybrid merges dense vector similarity and sparse lexical scoring
// into one ranked candidate list, with an optional cross-encoder rerank
// stage on the truncated result.
package hybrid

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/engine/embed"
	"github.com/StratumAI/stratum-mvp/pkg/fn"
	"github.com/StratumAI/stratum-mvp/pkg/resilience"
)

// Defaults for retrieval parameters left zero on a Query.
const (
	DefaultDenseTopK     = 20
	DefaultSparseTopK    = 20
	DefaultMaxCandidates = 20
	DefaultDenseWeight   = 0.6
	DefaultSparseWeight  = 0.4
	DefaultSearchTimeout = 5 * time.Second
)

// DenseSearcher is the vector-store capability the retriever needs.
type DenseSearcher interface {
	SearchFiltered(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.RetrievalCandidate, error)
}

// SparseSearcher is the lexical-index capability. In-process, infallible.
type SparseSearcher interface {
	Retrieve(query string, docIDs []string, topK int) []domain.RetrievalCandidate
}

// Reranker re-scores candidates jointly with the query. Implementations
// must tolerate empty input and return candidates carrying replacement
// relevance scores.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error)
}

// Opts configures a Retriever. Zero weights fall back to 0.6/0.4; the two
// weights should sum to 1.0 by convention but this is not enforced.
type Opts struct {
	DenseWeight   float64
	SparseWeight  float64
	SearchTimeout time.Duration
}

// Query is one retrieval request. Zero limits use the package defaults.
// An empty DocIDs searches every indexed document.
type Query struct {
	Text          string
	DocIDs        []string
	DenseTopK     int
	SparseTopK    int
	MaxCandidates int
	// RerankTopN enables the rerank stage when positive and a reranker is
	// configured.
	RerankTopN int
}

func (q Query) withDefaults() Query {
	if q.DenseTopK <= 0 {
		q.DenseTopK = DefaultDenseTopK
	}
	if q.SparseTopK <= 0 {
		q.SparseTopK = DefaultSparseTopK
	}
	if q.MaxCandidates <= 0 {
		q.MaxCandidates = DefaultMaxCandidates
	}
	return q
}

// Retriever runs hybrid retrieval. Stateless per call.
type Retriever struct {
	embedder embed.Embedder
	dense    DenseSearcher
	sparse   SparseSearcher
	reranker Reranker
	breaker  *resilience.Breaker
	opts     Opts
	log      *slog.Logger
}

// New builds a Retriever. reranker may be nil; when set, its calls run
// through a circuit breaker so a failing rerank backend degrades fast.
func New(embedder embed.Embedder, dense DenseSearcher, sparse SparseSearcher, reranker Reranker, opts Opts, log *slog.Logger) *Retriever {
	if opts.DenseWeight == 0 && opts.SparseWeight == 0 {
		opts.DenseWeight = DefaultDenseWeight
		opts.SparseWeight = DefaultSparseWeight
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Retriever{
		embedder: embedder,
		dense:    dense,
		sparse:   sparse,
		reranker: reranker,
		opts:     opts,
		log:      log,
	}
	if reranker != nil {
		r.breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return r
}

// ranked pairs a candidate with its per-set ranks for deterministic
// tie-breaking. A rank of -1 means the candidate missed that set.
type ranked struct {
	cand       domain.RetrievalCandidate
	score      float64
	denseRank  int
	sparseRank int
}

// Retrieve issues dense and sparse search in parallel, merges the two sets
// with min-max normalized weighted scores, and optionally reranks the
// truncated union. The returned ordering is deterministic for fixed inputs.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]domain.RetrievalCandidate, error) {
	q = q.withDefaults()
	if q.Text == "" {
		return nil, domain.NewValidationError("query", "", domain.ErrMissingField)
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()

	results := fn.FanOut(
		func() fn.Result[[]domain.RetrievalCandidate] {
			return fn.FromPair(r.denseSearch(searchCtx, q))
		},
		func() fn.Result[[]domain.RetrievalCandidate] {
			return fn.Ok(r.sparse.Retrieve(q.Text, q.DocIDs, q.SparseTopK))
		},
	)
	denseSet, err := results[0].Unwrap()
	if err != nil {
		return nil, err
	}
	sparseSet, _ := results[1].Unwrap()

	merged := mergeSets(denseSet, sparseSet, r.opts.DenseWeight, r.opts.SparseWeight)
	if len(merged) > q.MaxCandidates {
		merged = merged[:q.MaxCandidates]
	}

	if r.reranker == nil || q.RerankTopN <= 0 || len(merged) == 0 {
		return merged, nil
	}
	return r.rerank(ctx, q, merged)
}

func (r *Retriever) denseSearch(ctx context.Context, q Query) ([]domain.RetrievalCandidate, error) {
	vectors, err := r.embedder.EmbedBatch(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("hybrid: embed query: %w", err)
	}
	var filters map[string]string
	if len(q.DocIDs) == 1 {
		filters = map[string]string{"doc_id": q.DocIDs[0]}
	}
	out, err := r.dense.SearchFiltered(ctx, vectors[0], q.DenseTopK, filters)
	if err != nil {
		return nil, err
	}
	// Multi-doc scoping is applied client-side; the store filter only
	// expresses a single exact match.
	if len(q.DocIDs) > 1 {
		allowed := make(map[string]bool, len(q.DocIDs))
		for _, id := range q.DocIDs {
			allowed[id] = true
		}
		out = fn.Filter(out, func(c domain.RetrievalCandidate) bool {
			return allowed[c.Metadata["doc_id"]]
		})
	}
	return out, nil
}

func (r *Retriever) rerank(ctx context.Context, q Query, merged []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	var rescored []domain.RetrievalCandidate
	err := r.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		rescored, err = r.reranker.Rerank(ctx, q.Text, merged)
		return err
	})
	if err != nil {
		return nil, domain.NewProviderError("reranker", true, err)
	}
	sort.SliceStable(rescored, func(i, j int) bool {
		if rescored[i].Score != rescored[j].Score {
			return rescored[i].Score > rescored[j].Score
		}
		return rescored[i].ChunkID < rescored[j].ChunkID
	})
	if len(rescored) > q.RerankTopN {
		rescored = rescored[:q.RerankTopN]
	}
	return rescored, nil
}

// mergeSets unions the two candidate sets by chunk id with weighted
// min-max normalized scores and sorts them deterministically.
func mergeSets(dense, sparse []domain.RetrievalCandidate, denseWeight, sparseWeight float64) []domain.RetrievalCandidate {
	denseNorm := normalize(dense)
	sparseNorm := normalize(sparse)

	union := make(map[string]*ranked)
	order := make([]string, 0, len(dense)+len(sparse))
	for i, c := range dense {
		union[c.ChunkID] = &ranked{
			cand:      c,
			score:     denseWeight * denseNorm[i],
			denseRank: i,
			// not seen in the sparse set until proven otherwise
			sparseRank: -1,
		}
		order = append(order, c.ChunkID)
	}
	for i, c := range sparse {
		if entry, ok := union[c.ChunkID]; ok {
			entry.score += sparseWeight * sparseNorm[i]
			entry.sparseRank = i
			continue
		}
		union[c.ChunkID] = &ranked{
			cand:       c,
			score:      sparseWeight * sparseNorm[i],
			denseRank:  -1,
			sparseRank: i,
		}
		order = append(order, c.ChunkID)
	}

	entries := make([]*ranked, 0, len(order))
	for _, id := range order {
		entries = append(entries, union[id])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.denseRank != b.denseRank {
			return rankLess(a.denseRank, b.denseRank)
		}
		if a.sparseRank != b.sparseRank {
			return rankLess(a.sparseRank, b.sparseRank)
		}
		return a.cand.ChunkID < b.cand.ChunkID
	})

	out := make([]domain.RetrievalCandidate, len(entries))
	for i, e := range entries {
		c := e.cand
		c.Score = e.score
		c.RetrievalType = domain.RetrievalHybrid
		out[i] = c
	}
	return out
}

// rankLess orders present ranks (smaller is better) before absent ones.
func rankLess(a, b int) bool {
	if a == -1 {
		return false
	}
	if b == -1 {
		return true
	}
	return a < b
}

// normalize min-max scales a result set's scores to [0,1] within the set.
// A singleton set, or a set where every score is equal, normalizes to 1.0.
func normalize(set []domain.RetrievalCandidate) []float64 {
	out := make([]float64, len(set))
	if len(set) == 0 {
		return out
	}
	min, max := set[0].Score, set[0].Score
	for _, c := range set[1:] {
		if c.Score < min {
			min = c.Score
		}
		if c.Score > max {
			max = c.Score
		}
	}
	for i, c := range set {
		if max == min {
			out[i] = 1.0
			continue
		}
		out[i] = (c.Score - min) / (max - min)
	}
	return out
}
