// Package ingest runs documents through the processing pipeline:
// validate, normalize, chunk, embed, store. Stages compose via pkg/fn and
// are traced individually; the NATS consumer drives the pipeline with
// retry and dead-letter handling.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/StratumAI/stratum-mvp/engine/catalog"
	"github.com/StratumAI/stratum-mvp/engine/chunker"
	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/engine/embed"
	"github.com/StratumAI/stratum-mvp/engine/normalize"
	"github.com/StratumAI/stratum-mvp/engine/semantic"
	"github.com/StratumAI/stratum-mvp/pkg/fn"
	"github.com/StratumAI/stratum-mvp/pkg/metrics"
)

// VectorWriter is the vector-store capability the pipeline needs.
type VectorWriter interface {
	Upsert(ctx context.Context, records []domain.EmbeddingRecord) (semantic.UpsertStats, error)
	DeleteByDocID(ctx context.Context, docID string) error
}

// SparseIndexer is the lexical-index capability.
type SparseIndexer interface {
	Build(docID string, chunks []domain.Chunk)
	Delete(docID string)
}

// DocumentRegistry is the catalog capability. Optional: a nil registry
// disables dedup and supersede tracking.
type DocumentRegistry interface {
	Register(ctx context.Context, e catalog.Entry) error
	ExistsByHash(ctx context.Context, fileHash string) (string, bool, error)
	Get(ctx context.Context, docID string) (catalog.Entry, error)
	MarkSuperseded(ctx context.Context, docID string) error
}

// Metrics are the ingestion series, resolved once from the registry.
type Metrics struct {
	Documents *metrics.Counter
	Chunks    *metrics.Counter
	Failures  *metrics.Counter
	Degraded  *metrics.Counter
	Duration  *metrics.Histogram
}

func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		Documents: reg.Counter("ingest_documents_total", "Documents successfully ingested"),
		Chunks:    reg.Counter("ingest_chunks_total", "Chunks produced by ingestion"),
		Failures:  reg.Counter("ingest_failures_total", "Documents that failed the pipeline"),
		Degraded:  reg.Counter("normalize_degraded_pages_total", "Pages whose cleanup dropped more than the allowed character ratio"),
		Duration:  reg.Histogram("ingest_duration_seconds", "End-to-end pipeline duration", nil),
	}
}

// ArtifactWriter persists the chunk-set and embeddings JSON for downstream
// consumers. Optional: a nil writer skips emission.
type ArtifactWriter interface {
	WriteChunkSet(ctx context.Context, a ChunkSetArtifact) error
	WriteEmbeddings(ctx context.Context, a EmbeddingsArtifact) error
}

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Normalizer *normalize.Normalizer
	Chunker    *chunker.Builder
	Embedder   embed.Embedder
	Vectors    VectorWriter
	Sparse     SparseIndexer
	Catalog    DocumentRegistry
	Artifacts  ArtifactWriter
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Report summarizes one successful pipeline run.
type Report struct {
	DocID          string `json:"doc_id"`
	Chunks         int    `json:"chunks"`
	PointsUpserted int    `json:"points_upserted"`
	Batches        int    `json:"batches"`
}

// --- Pipeline Stages ---

// Validate rejects structurally broken documents before any work happens.
var Validate fn.Stage[domain.Document, domain.Document] = func(_ context.Context, doc domain.Document) fn.Result[domain.Document] {
	if err := domain.ValidateDocument(doc); err != nil {
		return fn.Err[domain.Document](err)
	}
	return fn.Ok(doc)
}

// NewNormalize cleans every page's text in place. Pages whose cleanup
// dropped an excessive share of characters are counted on the degraded
// counter; a nil counter only loses the series, not the cleanup.
func NewNormalize(n *normalize.Normalizer, degraded *metrics.Counter) fn.Stage[domain.Document, domain.Document] {
	return func(_ context.Context, doc domain.Document) fn.Result[domain.Document] {
		for i, p := range doc.Pages {
			res := n.CleanPage(doc.DocID, p.PageNumber, p.Text)
			doc.Pages[i].Text = res.Text
			if res.Degraded && degraded != nil {
				degraded.Inc()
			}
		}
		return fn.Ok(doc)
	}
}

// NewChunk carves the cleaned document into chunks.
func NewChunk(b *chunker.Builder) fn.Stage[domain.Document, ChunkedDoc] {
	return func(ctx context.Context, doc domain.Document) fn.Result[ChunkedDoc] {
		chunks, err := b.ChunkDocument(ctx, doc)
		if err != nil {
			return fn.Err[ChunkedDoc](err)
		}
		return fn.Ok(ChunkedDoc{Doc: doc, Chunks: chunks})
	}
}

// NewEmbed embeds every chunk and builds the aligned records. The resilient
// embedder keeps 1:1 alignment by degrading failures to zero vectors, so
// this stage only fails on programming errors.
func NewEmbed(e embed.Embedder) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		texts := fn.Map(doc.Chunks, func(c domain.Chunk) string { return c.Text })
		vectors, err := e.EmbedBatch(ctx, texts)
		if err != nil {
			return fn.Err[EmbeddedDoc](fmt.Errorf("embed chunks: %w", err))
		}
		if len(vectors) != len(doc.Chunks) {
			return fn.Err[EmbeddedDoc](fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(doc.Chunks)))
		}
		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Records: BuildRecords(doc.Chunks, vectors)})
	}
}

// NewStore upserts the records into the vector store, (re)builds the
// document's sparse index, and persists the chunk-set and embeddings
// artifacts when a writer is configured.
func NewStore(vs VectorWriter, sp SparseIndexer, aw ArtifactWriter) fn.Stage[EmbeddedDoc, Report] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[Report] {
		stats, err := vs.Upsert(ctx, doc.Records)
		if err != nil {
			return fn.Err[Report](fmt.Errorf("vector upsert: %w", err))
		}
		sp.Build(doc.Doc.DocID, doc.Chunks)
		if aw != nil {
			cs := ChunkSetArtifact{
				DocID:        doc.Doc.DocID,
				DocumentName: doc.Doc.DocumentName,
				Chunks:       doc.Chunks,
			}
			if len(doc.Chunks) > 0 {
				cs.ChunkStrategy = string(doc.Chunks[0].Strategy)
			}
			if err := aw.WriteChunkSet(ctx, cs); err != nil {
				return fn.Err[Report](fmt.Errorf("chunk-set artifact: %w", err))
			}
			em := EmbeddingsArtifact{DocID: doc.Doc.DocID, Embeddings: doc.Records}
			if err := aw.WriteEmbeddings(ctx, em); err != nil {
				return fn.Err[Report](fmt.Errorf("embeddings artifact: %w", err))
			}
		}
		return fn.Ok(Report{
			DocID:          doc.Doc.DocID,
			Chunks:         len(doc.Chunks),
			PointsUpserted: stats.PointsUpserted,
			Batches:        stats.Batches,
		})
	}
}

// NewPipeline composes the full ingestion pipeline with traced stages.
func NewPipeline(deps Deps) fn.Stage[domain.Document, Report] {
	var degraded *metrics.Counter
	if deps.Metrics != nil {
		degraded = deps.Metrics.Degraded
	}
	validated := fn.TracedStage("ingest.validate", Validate)
	normalized := fn.TracedStage("ingest.normalize", NewNormalize(deps.Normalizer, degraded))
	chunked := fn.TracedStage("ingest.chunk", NewChunk(deps.Chunker))
	embedded := fn.TracedStage("ingest.embed", NewEmbed(deps.Embedder))
	stored := fn.TracedStage("ingest.store", NewStore(deps.Vectors, deps.Sparse, deps.Artifacts))

	return fn.Then(fn.Then(fn.Then(fn.Then(validated, normalized), chunked), embedded), stored)
}

// BuildRecords pairs chunks with their vectors as flat-payload records.
// char_range is flattened into char_start/char_end; page numbers become a
// comma-joined string since the payload is strictly flat.
func BuildRecords(chunks []domain.Chunk, vectors [][]float32) []domain.EmbeddingRecord {
	records := make([]domain.EmbeddingRecord, len(chunks))
	for i, c := range chunks {
		pages := make([]string, len(c.PageNumbers))
		for j, p := range c.PageNumbers {
			pages[j] = strconv.Itoa(p)
		}
		payload := map[string]any{
			"doc_id":        c.DocID,
			"chunk_id":      c.ChunkID,
			"chunk_index":   c.ChunkIndex,
			"text":          c.Text,
			"char_start":    c.CharRange.Start,
			"char_end":      c.CharRange.End,
			"position":      c.Position,
			"total_chunks":  c.TotalChunks,
			"chunk_size":    c.ChunkSize,
			"strategy":      string(c.Strategy),
			"document_name": c.DocumentName,
			"page_numbers":  strings.Join(pages, ","),
		}
		if c.Meta.Source != "" {
			payload["source"] = c.Meta.Source
		}
		if c.Meta.FileType != "" {
			payload["file_type"] = c.Meta.FileType
		}
		if c.Meta.FileHash != "" {
			payload["file_hash"] = c.Meta.FileHash
		}
		if c.Meta.ExtractionVersion != "" {
			payload["extraction_version"] = c.Meta.ExtractionVersion
		}
		if c.Meta.IngestionTimestamp != "" {
			payload["ingestion_timestamp"] = c.Meta.IngestionTimestamp
		}
		records[i] = domain.EmbeddingRecord{
			ID:      c.ChunkID,
			Vector:  vectors[i],
			Text:    c.Text,
			Payload: payload,
		}
	}
	return records
}
