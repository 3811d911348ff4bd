// Package domain holds the core data model shared by the ingestion and
// retrieval packages: documents, pages, segments, chunks, and the error
// taxonomy used across the engine.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxChunkChars is the hard upper bound on chunk text length. No chunk
// produced by any strategy may exceed it.
const MaxChunkChars = 1250

// Strategy identifies which chunking algorithm produced a chunk.
type Strategy string

const (
	StrategySemanticPercentile Strategy = "semantic_percentile"
	StrategySimilarityCluster  Strategy = "similarity_cluster"
)

// Valid reports whether s is a known strategy tag.
func (s Strategy) Valid() bool {
	return s == StrategySemanticPercentile || s == StrategySimilarityCluster
}

// Page is one page of extracted document text. Pages are immutable once
// produced by upstream extraction.
type Page struct {
	PageNumber int               `json:"page_number"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DocumentMeta carries optional file-level metadata copied verbatim onto
// every chunk for denormalized retrieval.
type DocumentMeta struct {
	ExtractionVersion  string `json:"extraction_version,omitempty"`
	IngestionTimestamp string `json:"ingestion_timestamp,omitempty"`
	Source             string `json:"source,omitempty"`
	FileType           string `json:"file_type,omitempty"`
	FileSize           int64  `json:"file_size,omitempty"`
	FileHash           string `json:"file_hash,omitempty"`
}

// Document is the ingestion input: cleaned upstream extraction output for
// one long-form document.
type Document struct {
	DocID        string       `json:"doc_id"`
	DocumentName string       `json:"document_name"`
	Pages        []Page       `json:"pages"`
	Meta         DocumentMeta `json:"metadata"`
}

// Segment is a contiguous span of a page's cleaned text with exact character
// offsets. Segments tile their source text: end-start == len(text), and
// consecutive segments share a boundary.
type Segment struct {
	Text       string
	StartChar  int
	EndChar    int
	PageNumber int
}

// CharRange is a [start, end] span into the page-concatenated text of a
// chunk's originating page group.
type CharRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk is the atomic retrieval unit: a bounded span of document text plus
// denormalized document metadata. Chunks are never mutated after creation; a
// reprocessing run supersedes them with a new set.
type Chunk struct {
	ChunkID      string       `json:"chunk_id"`
	DocID        string       `json:"doc_id"`
	Text         string       `json:"text"`
	Strategy     Strategy     `json:"strategy"`
	PageNumbers  []int        `json:"page_numbers"`
	CharRange    CharRange    `json:"char_range"`
	Position     int          `json:"position"`
	ChunkIndex   int          `json:"chunk_index"`
	TotalChunks  int          `json:"total_chunks"`
	ChunkSize    int          `json:"chunk_size"`
	DocumentName string       `json:"document_name,omitempty"`
	Meta         DocumentMeta `json:"metadata,omitempty"`
}

// ChunkID derives the deterministic chunk identifier for a span. The same
// document, strategy, and character range always yield the same id, so
// re-ingesting unchanged input overwrites vector-store points in place.
func ChunkID(docID string, strategy Strategy, r CharRange) string {
	name := fmt.Sprintf("%s|%s|%d-%d", docID, strategy, r.Start, r.End)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// EmbeddingRecord pairs a chunk with its dense vector and the flat payload
// persisted alongside it in the vector store.
type EmbeddingRecord struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
}

// RetrievalType tags which retrieval path produced a candidate.
type RetrievalType string

const (
	RetrievalDense  RetrievalType = "dense"
	RetrievalSparse RetrievalType = "sparse"
	RetrievalHybrid RetrievalType = "hybrid"
)

// RetrievalCandidate is a per-query scored chunk reference, reduced by the
// hybrid merge and optional rerank.
type RetrievalCandidate struct {
	ChunkID       string            `json:"chunk_id"`
	Text          string            `json:"text"`
	Score         float64           `json:"score"`
	RetrievalType RetrievalType     `json:"retrieval_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
