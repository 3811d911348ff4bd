// Package embed converts chunk or query text into fixed-dimension dense
// vectors. Provider failures degrade to zero vectors rather than aborting
// ingestion, preserving 1:1 alignment between inputs and outputs.
package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/pkg/fn"
	"github.com/StratumAI/stratum-mvp/pkg/metrics"
)

// DefaultBatchSize is the max texts per provider request.
const DefaultBatchSize = 100

// batchRetry retries transient provider failures before the per-item
// degradation kicks in. Permanent failures (auth, bad request) skip straight
// to degradation.
var batchRetry = fn.RetryOpts{
	MaxAttempts: 2,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     time.Second,
	Jitter:      true,
	Retryable:   domain.IsRetryable,
}

// Embedder converts a batch of texts into dense vectors. Implementations
// must return exactly one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ZeroVector returns the deterministic substitute used when a provider call
// fails for an item.
func ZeroVector(dims int) []float32 {
	return make([]float32, dims)
}

// Resilient wraps a provider Embedder with the degraded-mode fallback: a
// failed batch is retried item by item, and any item that still fails gets a
// zero vector in its slot. EmbedBatch therefore never drops an item and
// never returns a provider error.
type Resilient struct {
	inner     Embedder
	batchSize int
	log       *slog.Logger
	fallbacks *metrics.Counter
}

// NewResilient wraps inner. fallbacks may be nil.
func NewResilient(inner Embedder, batchSize int, log *slog.Logger, fallbacks *metrics.Counter) *Resilient {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resilient{inner: inner, batchSize: batchSize, log: log, fallbacks: fallbacks}
}

// Dimension returns the provider's fixed vector dimension.
func (r *Resilient) Dimension() int { return r.inner.Dimension() }

// EmbedBatch embeds texts in provider-sized batches. The returned slice is
// always len(texts) long and index-aligned with the input.
func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += r.batchSize {
		end := start + r.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := fn.Retry(ctx, batchRetry, func(ctx context.Context) fn.Result[[][]float32] {
			return fn.FromPair(r.inner.EmbedBatch(ctx, batch))
		}).Unwrap()
		if err == nil && len(vectors) == len(batch) {
			copy(out[start:], vectors)
			continue
		}
		if err != nil {
			r.log.Warn("embed: batch failed, degrading to per-item calls",
				"batch_start", start, "batch_len", len(batch), "err", err)
		} else {
			r.log.Warn("embed: provider returned misaligned batch, degrading",
				"want", len(batch), "got", len(vectors))
		}

		for i, text := range batch {
			single, err := r.inner.EmbedBatch(ctx, []string{text})
			if err != nil || len(single) != 1 {
				out[start+i] = ZeroVector(r.Dimension())
				if r.fallbacks != nil {
					r.fallbacks.Inc()
				}
				r.log.Warn("embed: zero-vector fallback", "index", start+i, "err", err)
				continue
			}
			out[start+i] = single[0]
		}
	}
	return out, nil
}
