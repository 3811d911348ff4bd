package domain

import (
	"errors"
	"strings"
	"testing"
)

func validDoc() Document {
	return Document{
		DocID:        "doc-1",
		DocumentName: "manual.pdf",
		Pages: []Page{
			{PageNumber: 1, Text: "Some extracted text."},
		},
		Meta: DocumentMeta{FileType: "pdf", FileHash: "abc"},
	}
}

func TestValidateDocument_Valid(t *testing.T) {
	if err := ValidateDocument(validDoc()); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateDocument_MissingDocID(t *testing.T) {
	doc := validDoc()
	doc.DocID = ""
	err := ValidateDocument(doc)
	if !errors.Is(err, ErrMissingDocID) {
		t.Fatalf("expected ErrMissingDocID, got %v", err)
	}
	var se *StructuralError
	if !errors.As(err, &se) {
		t.Fatal("expected StructuralError")
	}
}

func TestValidateDocument_NoPages(t *testing.T) {
	doc := validDoc()
	doc.Pages = nil
	if err := ValidateDocument(doc); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}

func TestValidateDocument_AllPagesBlank(t *testing.T) {
	doc := validDoc()
	doc.Pages = []Page{{PageNumber: 1, Text: "   \n\t"}}
	if err := ValidateDocument(doc); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestValidateChunk_HardCap(t *testing.T) {
	c := Chunk{
		DocID:       "doc-1",
		Text:        strings.Repeat("x", MaxChunkChars+1),
		Strategy:    StrategySemanticPercentile,
		PageNumbers: []int{1},
	}
	if err := ValidateChunk(c); !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
	c.Text = strings.Repeat("x", MaxChunkChars)
	if err := ValidateChunk(c); err != nil {
		t.Fatalf("chunk at exactly the cap should pass: %v", err)
	}
}

func TestValidateChunk_Strategy(t *testing.T) {
	c := Chunk{DocID: "d", Text: "t", Strategy: "fixed_window", PageNumbers: []int{1}}
	if err := ValidateChunk(c); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestValidateRecord(t *testing.T) {
	good := EmbeddingRecord{
		ID:     "chunk-1",
		Vector: make([]float32, 8),
		Payload: map[string]any{
			"doc_id":      "doc-1",
			"chunk_id":    "chunk-1",
			"chunk_index": 0,
			"text":        "hello",
		},
	}

	tests := []struct {
		name    string
		mutate  func(*EmbeddingRecord)
		wantErr error
	}{
		{"valid", func(r *EmbeddingRecord) {}, nil},
		{"empty id", func(r *EmbeddingRecord) { r.ID = "" }, ErrEmptyRecordID},
		{"wrong dims", func(r *EmbeddingRecord) { r.Vector = make([]float32, 7) }, ErrBadVector},
		{"missing doc_id", func(r *EmbeddingRecord) { delete(r.Payload, "doc_id") }, ErrMissingField},
		{"missing chunk_index", func(r *EmbeddingRecord) { delete(r.Payload, "chunk_index") }, ErrMissingField},
		{"empty text", func(r *EmbeddingRecord) { r.Payload["text"] = "" }, ErrMissingText},
		{"missing text", func(r *EmbeddingRecord) { delete(r.Payload, "text") }, ErrMissingText},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := good
			r.Payload = make(map[string]any, len(good.Payload))
			for k, v := range good.Payload {
				r.Payload[k] = v
			}
			tc.mutate(&r)
			err := ValidateRecord(r, 8)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	r := CharRange{Start: 10, End: 250}
	a := ChunkID("doc-1", StrategySemanticPercentile, r)
	b := ChunkID("doc-1", StrategySemanticPercentile, r)
	if a != b {
		t.Fatalf("chunk id not stable: %s vs %s", a, b)
	}
	c := ChunkID("doc-1", StrategySimilarityCluster, r)
	if a == c {
		t.Fatal("different strategies must yield different ids")
	}
	d := ChunkID("doc-2", StrategySemanticPercentile, r)
	if a == d {
		t.Fatal("different documents must yield different ids")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := NewProviderError("embedder", true, errors.New("timeout"))
	if !IsRetryable(retryable) {
		t.Fatal("expected retryable")
	}
	fatal := NewProviderError("embedder", false, errors.New("bad request"))
	if IsRetryable(fatal) {
		t.Fatal("expected not retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatal("plain errors are not retryable provider errors")
	}
}
