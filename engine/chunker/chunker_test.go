package chunker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/engine/segment"
)

// stubEmbedder returns canned vectors keyed by trimmed segment text.
// Unknown texts get zero vectors; err simulates provider failure.
type stubEmbedder struct {
	dims int
	vecs map[string][]float32
	err  error
}

func (s *stubEmbedder) Dimension() int {
	if s.dims == 0 {
		return 4
	}
	return s.dims
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := s.vecs[strings.TrimSpace(t)]; ok {
			out[i] = v
		} else {
			out[i] = make([]float32, s.Dimension())
		}
	}
	return out, nil
}

func docWith(pages ...string) domain.Document {
	doc := domain.Document{
		DocID:        "doc-1",
		DocumentName: "service-manual.pdf",
		Meta: domain.DocumentMeta{
			Source:   "upload",
			FileType: "pdf",
			FileHash: "deadbeef",
		},
	}
	for i, text := range pages {
		doc.Pages = append(doc.Pages, domain.Page{PageNumber: i + 1, Text: text})
	}
	return doc
}

func TestClusterStrategy_Scenario(t *testing.T) {
	text := "A cat sat.\n\nA cat sat on a mat.\n\nDogs bark loudly at night."
	emb := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"A cat sat.":                 {1, 0},
		"A cat sat on a mat.":        {0.9, 0.1},
		"Dogs bark loudly at night.": {0, 1},
	}}
	b := New(Config{
		Strategy:            domain.StrategySimilarityCluster,
		SimilarityThreshold: 0.75,
		MinTokens:           1,
		MaxTokens:           100,
		SegmentMode:         segment.ModeParagraph,
	}, emb, nil)

	chunks, err := b.ChunkDocument(context.Background(), docWith(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %#v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0].Text, "A cat sat on a mat.") {
		t.Fatalf("near-duplicate paragraphs should cluster together, got %q", chunks[0].Text)
	}
	if chunks[1].Text != "Dogs bark loudly at night." {
		t.Fatalf("chunk 1 = %q", chunks[1].Text)
	}
	for i, c := range chunks {
		if c.Strategy != domain.StrategySimilarityCluster {
			t.Errorf("chunk %d strategy = %q", i, c.Strategy)
		}
		if c.ChunkIndex != i || c.Position != i || c.TotalChunks != 2 {
			t.Errorf("chunk %d ordinals = (%d,%d,%d)", i, c.Position, c.ChunkIndex, c.TotalChunks)
		}
	}
}

func TestForcedSplit_OversizedParagraph(t *testing.T) {
	big := strings.Repeat("x", 3000)
	for _, strategy := range []domain.Strategy{
		domain.StrategySemanticPercentile,
		domain.StrategySimilarityCluster,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			b := New(Config{Strategy: strategy}, &stubEmbedder{}, nil)
			chunks, err := b.ChunkDocument(context.Background(), docWith(big))
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) != 3 {
				t.Fatalf("expected 3 forced sub-chunks, got %d", len(chunks))
			}
			wantSizes := []int{1250, 1250, 500}
			for i, c := range chunks {
				if len(c.Text) != wantSizes[i] {
					t.Errorf("chunk %d size = %d, want %d", i, len(c.Text), wantSizes[i])
				}
				if c.Text == "" {
					t.Errorf("chunk %d is empty", i)
				}
				if c.ChunkSize != len(c.Text) {
					t.Errorf("chunk %d chunk_size = %d", i, c.ChunkSize)
				}
			}
		})
	}
}

func TestForcedSplit_MultiByteText(t *testing.T) {
	// 1000 euro signs are 3000 bytes: the cap boundary lands mid-rune and
	// must back off instead of slicing the encoding apart.
	big := strings.Repeat("€", 1000)
	for _, strategy := range []domain.Strategy{
		domain.StrategySemanticPercentile,
		domain.StrategySimilarityCluster,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			b := New(Config{Strategy: strategy}, &stubEmbedder{}, nil)
			chunks, err := b.ChunkDocument(context.Background(), docWith(big))
			if err != nil {
				t.Fatal(err)
			}
			var rebuilt strings.Builder
			for i, c := range chunks {
				if !utf8.ValidString(c.Text) {
					t.Errorf("chunk %d text is invalid UTF-8 (len=%d)", i, len(c.Text))
				}
				if len(c.Text) > domain.MaxChunkChars {
					t.Errorf("chunk %d size %d exceeds cap", i, len(c.Text))
				}
				rebuilt.WriteString(c.Text)
			}
			if rebuilt.String() != big {
				t.Fatal("forced split lost or altered text")
			}
		})
	}
}

func TestHardCapInvariant(t *testing.T) {
	// Many mid-sized paragraphs with no semantic signal: every produced
	// chunk must stay at or under the cap.
	var pages []string
	para := strings.Repeat("word ", 60) // ~300 chars
	pages = append(pages,
		strings.Repeat(para+"\n\n", 10),
		strings.Repeat(para+"\n\n", 7),
	)
	for _, strategy := range []domain.Strategy{
		domain.StrategySemanticPercentile,
		domain.StrategySimilarityCluster,
	} {
		b := New(Config{Strategy: strategy, MinTokens: 10, MaxTokens: 500}, &stubEmbedder{}, nil)
		chunks, err := b.ChunkDocument(context.Background(), docWith(pages...))
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) == 0 {
			t.Fatal("expected chunks")
		}
		for i, c := range chunks {
			if len(c.Text) > domain.MaxChunkChars {
				t.Errorf("%s chunk %d exceeds cap: %d chars", strategy, i, len(c.Text))
			}
		}
	}
}

func TestPercentileStrategy_SemanticBreak(t *testing.T) {
	text := "Alpha one.\n\nAlpha two.\n\nBeta one.\n\nBeta two."
	emb := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"Alpha one.": {1, 0},
		"Alpha two.": {1, 0},
		"Beta one.":  {0, 1},
		"Beta two.":  {0, 1},
	}}
	b := New(Config{
		Strategy:   domain.StrategySemanticPercentile,
		MinTokens:  1,
		MaxTokens:  1000,
		Percentile: 25,
	}, emb, nil)

	chunks, err := b.ChunkDocument(context.Background(), docWith(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected a single semantic break, got %d chunks", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Alpha two.") || strings.Contains(chunks[0].Text, "Beta") {
		t.Fatalf("chunk 0 = %q", chunks[0].Text)
	}
}

func TestPercentileStrategy_MinTokensHoldsBreaks(t *testing.T) {
	// The semantic break between paragraphs is real, but min_tokens is
	// higher than either side, so the break is suppressed.
	text := "Alpha one.\n\nBeta one."
	emb := &stubEmbedder{dims: 2, vecs: map[string][]float32{
		"Alpha one.": {1, 0},
		"Beta one.":  {0, 1},
	}}
	b := New(Config{
		Strategy:  domain.StrategySemanticPercentile,
		MinTokens: 50,
		MaxTokens: 1000,
	}, emb, nil)

	chunks, err := b.ChunkDocument(context.Background(), docWith(text))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestMetadataPropagation(t *testing.T) {
	doc := docWith("First page paragraph.\n\nAnother paragraph.", "Second page text.")
	b := New(Config{Strategy: domain.StrategySimilarityCluster, MinTokens: 1, MaxTokens: 4}, &stubEmbedder{}, nil)

	chunks, err := b.ChunkDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	concat := doc.Pages[0].Text + doc.Pages[1].Text
	for i, c := range chunks {
		if c.DocID != doc.DocID || c.DocumentName != doc.DocumentName {
			t.Errorf("chunk %d lost document identity", i)
		}
		if c.Meta != doc.Meta {
			t.Errorf("chunk %d metadata = %+v, want %+v", i, c.Meta, doc.Meta)
		}
		if len(c.PageNumbers) == 0 {
			t.Errorf("chunk %d has no pages", i)
		}
		for _, p := range c.PageNumbers {
			if p != 1 && p != 2 {
				t.Errorf("chunk %d references unknown page %d", i, p)
			}
		}
		span := concat[c.CharRange.Start:c.CharRange.End]
		if strings.TrimSpace(span) != c.Text {
			t.Errorf("chunk %d char_range does not match text:\nspan %q\ntext %q", i, span, c.Text)
		}
	}
}

func TestDegradedMode_EmbedderFailure(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("provider down")}
	text := strings.Repeat("Words in a paragraph here.\n\n", 20)
	b := New(Config{Strategy: domain.StrategySemanticPercentile, MinTokens: 5, MaxTokens: 20}, emb, nil)

	chunks, err := b.ChunkDocument(context.Background(), docWith(text))
	if err != nil {
		t.Fatalf("embedding failure must not abort chunking: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected positional splits in degraded mode, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) > domain.MaxChunkChars {
			t.Errorf("chunk %d exceeds cap in degraded mode", i)
		}
	}
}

func TestChunkDocument_RejectsEmpty(t *testing.T) {
	b := New(Config{}, &stubEmbedder{}, nil)
	_, err := b.ChunkDocument(context.Background(), domain.Document{DocID: "d", Pages: []domain.Page{{PageNumber: 1, Text: "  "}}})
	if !errors.Is(err, domain.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestChunkIDs_StableAcrossRuns(t *testing.T) {
	doc := docWith("Stable paragraph one.\n\nStable paragraph two.")
	b := New(Config{Strategy: domain.StrategySimilarityCluster, MinTokens: 1, MaxTokens: 100}, &stubEmbedder{}, nil)

	first, err := b.ChunkDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.ChunkDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("runs disagree on chunk count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID {
			t.Errorf("chunk %d id changed between runs", i)
		}
	}
}
