package ingest

import "github.com/StratumAI/stratum-mvp/engine/domain"

// RawDocument is the upstream-extraction contract: cleaned-enough page text
// with per-document metadata, delivered over the ingest subject.
type RawDocument struct {
	DocID    string    `json:"doc_id"`
	Filename string    `json:"filename"`
	Strategy string    `json:"chunk_strategy,omitempty"`
	Pages    []RawPage `json:"pages"`
	Metadata RawMeta   `json:"metadata"`
}

type RawPage struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

type RawMeta struct {
	ExtractionVersion string `json:"extraction_version,omitempty"`
	Source            string `json:"source,omitempty"`
	FileType          string `json:"file_type,omitempty"`
	FileSize          int64  `json:"file_size,omitempty"`
	FileHash          string `json:"file_hash,omitempty"`
}

// ChunkedDoc pairs a validated document with its produced chunks.
type ChunkedDoc struct {
	Doc    domain.Document
	Chunks []domain.Chunk
}

// EmbeddedDoc adds the aligned embedding records.
type EmbeddedDoc struct {
	ChunkedDoc
	Records []domain.EmbeddingRecord
}

// ChunkSetArtifact is the chunk-set JSON shape persisted for downstream
// consumers.
type ChunkSetArtifact struct {
	DocID         string         `json:"doc_id"`
	DocumentName  string         `json:"document_name"`
	ChunkStrategy string         `json:"chunk_strategy"`
	Chunks        []domain.Chunk `json:"chunks"`
}

// EmbeddingsArtifact is the embeddings JSON shape persisted for downstream
// consumers.
type EmbeddingsArtifact struct {
	DocID      string                   `json:"doc_id"`
	Embeddings []domain.EmbeddingRecord `json:"embeddings"`
}

func (d RawDocument) toDomain() domain.Document {
	doc := domain.Document{
		DocID:        d.DocID,
		DocumentName: d.Filename,
		Meta: domain.DocumentMeta{
			ExtractionVersion: d.Metadata.ExtractionVersion,
			Source:            d.Metadata.Source,
			FileType:          d.Metadata.FileType,
			FileSize:          d.Metadata.FileSize,
			FileHash:          d.Metadata.FileHash,
		},
	}
	for _, p := range d.Pages {
		doc.Pages = append(doc.Pages, domain.Page{PageNumber: p.PageNumber, Text: p.Text})
	}
	return doc
}
