// Package chunker merges segmented page text into bounded, semantically
// coherent chunks. Two strategies share one contract: percentile-based
// semantic-shift splitting and similarity-threshold clustering. Both respect
// the hard character cap, preserve page spans, and stamp document metadata
// onto every chunk.
package chunker

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/engine/embed"
	"github.com/StratumAI/stratum-mvp/engine/segment"
)

// Config tunes chunk construction. Zero values fall back to defaults.
type Config struct {
	Strategy domain.Strategy
	// MinTokens / MaxTokens are soft word-count bounds; MaxChunkChars in
	// the domain package is the hard cap.
	MinTokens int
	MaxTokens int
	// Percentile of the sequential semantic-distance distribution used as
	// the breakpoint threshold by the percentile strategy.
	Percentile float64
	// SimilarityThreshold for the clustering strategy's running-centroid
	// absorption rule.
	SimilarityThreshold float64
	// SegmentMode selects paragraph or sentence units for clustering; the
	// percentile strategy always works on paragraphs.
	SegmentMode segment.Mode
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = domain.StrategySemanticPercentile
	}
	if c.MinTokens <= 0 {
		c.MinTokens = 64
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 256
	}
	if c.Percentile <= 0 {
		c.Percentile = 25
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.75
	}
	if c.SegmentMode == "" {
		c.SegmentMode = segment.ModeParagraph
	}
	return c
}

// Builder chunks documents with a fixed strategy and configuration.
type Builder struct {
	cfg      Config
	embedder embed.Embedder
	log      *slog.Logger
}

// New creates a Builder. The embedder supplies segment vectors; when it
// fails the builder degrades to positional splitting rather than aborting.
func New(cfg Config, embedder embed.Embedder, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{cfg: cfg.withDefaults(), embedder: embedder, log: log}
}

// Strategy returns the strategy tag this builder stamps onto chunks.
func (b *Builder) Strategy() domain.Strategy { return b.cfg.Strategy }

// ChunkDocument carves a cleaned document into ordered chunks. Pages must
// already be normalized; offsets are relative to the concatenation of the
// document's cleaned pages.
func (b *Builder) ChunkDocument(ctx context.Context, doc domain.Document) ([]domain.Chunk, error) {
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, err
	}

	segs, err := b.collectSegments(doc)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, domain.NewStructuralError(doc.DocID, domain.ErrEmptyDocument)
	}

	var groups [][]unit
	switch b.cfg.Strategy {
	case domain.StrategySemanticPercentile:
		groups, err = b.percentileGroups(ctx, doc.DocID, segs)
	case domain.StrategySimilarityCluster:
		groups, err = b.clusterGroups(ctx, doc.DocID, segs)
	default:
		return nil, domain.NewValidationError("strategy", string(b.cfg.Strategy), domain.ErrUnknownStrategy)
	}
	if err != nil {
		return nil, err
	}

	chunks := b.assemble(doc, groups)
	for i := range chunks {
		if err := domain.ValidateChunk(chunks[i]); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// unit is one segment plus its derived weight in soft-bound arithmetic.
type unit struct {
	seg    domain.Segment
	tokens int
}

// collectSegments segments every page and shifts offsets into the
// page-concatenated coordinate space.
func (b *Builder) collectSegments(doc domain.Document) ([]unit, error) {
	mode := b.cfg.SegmentMode
	if b.cfg.Strategy == domain.StrategySemanticPercentile {
		mode = segment.ModeParagraph
	}

	var units []unit
	offset := 0
	for _, page := range doc.Pages {
		segs, err := segment.Split(mode, page.Text, page.PageNumber)
		if err != nil {
			return nil, err
		}
		for _, s := range segs {
			s.StartChar += offset
			s.EndChar += offset
			if strings.TrimSpace(s.Text) == "" {
				continue
			}
			units = append(units, unit{seg: s, tokens: wordCount(s.Text)})
		}
		offset += len(page.Text)
	}
	return units, nil
}

// embedUnits returns one vector per unit. On provider failure every unit
// gets a zero vector, which degrades both strategies to purely positional
// splitting; this is logged as degraded mode, never hidden.
func (b *Builder) embedUnits(ctx context.Context, docID string, units []unit) [][]float32 {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.seg.Text
	}
	vecs, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vecs) != len(units) {
		b.log.Warn("chunker: embedding unavailable, degrading to positional splits",
			"doc_id", docID, "segments", len(units), "err", err)
		vecs = make([][]float32, len(units))
		for i := range vecs {
			vecs[i] = embed.ZeroVector(b.embedder.Dimension())
		}
	}
	return vecs
}

// assemble turns contiguous segment groups into final chunks, enforcing the
// hard character cap and assigning ordinals after any forced re-splitting.
func (b *Builder) assemble(doc domain.Document, groups [][]unit) []domain.Chunk {
	var chunks []domain.Chunk
	for _, group := range groups {
		for _, piece := range enforceCap(group) {
			chunks = append(chunks, b.buildChunk(doc, piece))
		}
	}
	for i := range chunks {
		chunks[i].Position = i
		chunks[i].ChunkIndex = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// piece is a run of text destined for exactly one chunk: either whole
// segments or a character slice of one oversized segment.
type piece struct {
	text  string
	r     domain.CharRange
	pages []int
}

// enforceCap re-splits a group at segment boundaries so no resulting chunk
// text exceeds the hard cap. A single segment larger than the cap is split
// at exact character positions.
func enforceCap(group []unit) []piece {
	var out []piece
	var cur []unit

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, pieceFromUnits(cur))
		cur = nil
	}

	for _, u := range group {
		if len(strings.TrimSpace(u.seg.Text)) > domain.MaxChunkChars {
			flush()
			out = append(out, splitOversized(u.seg)...)
			continue
		}
		if len(cur) > 0 {
			joined := joinedLen(append(cur, u))
			if joined > domain.MaxChunkChars {
				flush()
			}
		}
		cur = append(cur, u)
	}
	flush()
	return out
}

func pieceFromUnits(units []unit) piece {
	first, last := units[0].seg, units[len(units)-1].seg
	var b strings.Builder
	pages := make([]int, 0, 2)
	seen := make(map[int]bool)
	for _, u := range units {
		b.WriteString(u.seg.Text)
		if !seen[u.seg.PageNumber] {
			seen[u.seg.PageNumber] = true
			pages = append(pages, u.seg.PageNumber)
		}
	}
	return piece{
		text:  strings.TrimSpace(b.String()),
		r:     domain.CharRange{Start: first.StartChar, End: last.EndChar},
		pages: pages,
	}
}

// joinedLen is the trimmed length of the units' concatenated text.
func joinedLen(units []unit) int {
	var b strings.Builder
	for _, u := range units {
		b.WriteString(u.seg.Text)
	}
	return len(strings.TrimSpace(b.String()))
}

// splitOversized slices one segment into cap-sized pieces. A 3000-character
// segment with a 1250 cap yields pieces of 1250, 1250, and 500 characters.
// Boundaries back off to the nearest rune start so multi-byte text is never
// cut mid-rune.
func splitOversized(seg domain.Segment) []piece {
	lead := len(seg.Text) - len(strings.TrimLeft(seg.Text, " \t\n"))
	text := strings.TrimSpace(seg.Text)
	base := seg.StartChar + lead

	var out []piece
	for start := 0; start < len(text); {
		end := start + domain.MaxChunkChars
		if end >= len(text) {
			end = len(text)
		} else {
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		out = append(out, piece{
			text:  text[start:end],
			r:     domain.CharRange{Start: base + start, End: base + end},
			pages: []int{seg.PageNumber},
		})
		start = end
	}
	return out
}

func (b *Builder) buildChunk(doc domain.Document, p piece) domain.Chunk {
	return domain.Chunk{
		ChunkID:      domain.ChunkID(doc.DocID, b.cfg.Strategy, p.r),
		DocID:        doc.DocID,
		Text:         p.text,
		Strategy:     b.cfg.Strategy,
		PageNumbers:  p.pages,
		CharRange:    p.r,
		ChunkSize:    len(p.text),
		DocumentName: doc.DocumentName,
		Meta:         doc.Meta,
	}
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
