// Package sparse provides in-process lexical retrieval over chunk text.
// Each document gets its own Okapi BM25 index, built once at ingestion and
// queried by natural-language text tokenized the same way as at index time.
// Scores are unbounded and only comparable within one result set; the hybrid
// layer normalizes them before merging with dense scores.
package sparse

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/StratumAI/stratum-mvp/engine/domain"
)

const (
	k1 = 1.5
	b  = 0.75
)

type indexedChunk struct {
	chunkID  string
	text     string
	length   int
	freq     map[string]int
	metadata map[string]string
}

// docIndex holds the BM25 statistics for one document's chunk corpus.
type docIndex struct {
	chunks []indexedChunk
	// df counts, per term, how many chunks of this document contain it.
	df     map[string]int
	avgLen float64
}

// Index is a registry of per-document lexical indexes. Safe for concurrent
// use: builds replace a document's entry atomically under the write lock,
// queries share the read lock.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*docIndex
	log  *slog.Logger
}

func NewIndex(log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{docs: make(map[string]*docIndex), log: log}
}

// Build indexes a document's chunks, replacing any previous index for the
// same doc id. Chunks with no extractable terms are kept but never match.
func (ix *Index) Build(docID string, chunks []domain.Chunk) {
	di := &docIndex{df: make(map[string]int)}
	var total int
	for _, c := range chunks {
		terms := Tokenize(c.Text)
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		for t := range freq {
			di.df[t]++
		}
		total += len(terms)
		di.chunks = append(di.chunks, indexedChunk{
			chunkID: c.ChunkID,
			text:    c.Text,
			length:  len(terms),
			freq:    freq,
			metadata: map[string]string{
				"doc_id":        c.DocID,
				"document_name": c.DocumentName,
				"chunk_index":   strconv.Itoa(c.ChunkIndex),
			},
		})
	}
	if len(di.chunks) > 0 {
		di.avgLen = float64(total) / float64(len(di.chunks))
	}

	ix.mu.Lock()
	ix.docs[docID] = di
	ix.mu.Unlock()
	ix.log.Debug("sparse index built", "doc_id", docID, "chunks", len(di.chunks), "terms", len(di.df))
}

// Delete drops a document's index. Unknown ids are a no-op.
func (ix *Index) Delete(docID string) {
	ix.mu.Lock()
	delete(ix.docs, docID)
	ix.mu.Unlock()
}

// Retrieve scores every chunk of the selected documents against the query
// and returns the topK best as sparse candidates. An empty docIDs slice
// searches all indexed documents. Chunks with zero score are omitted.
func (ix *Index) Retrieve(query string, docIDs []string, topK int) []domain.RetrievalCandidate {
	terms := Tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	ix.mu.RLock()
	selected := make([]*docIndex, 0, len(docIDs))
	if len(docIDs) == 0 {
		for _, di := range ix.docs {
			selected = append(selected, di)
		}
	} else {
		for _, id := range docIDs {
			if di, ok := ix.docs[id]; ok {
				selected = append(selected, di)
			}
		}
	}
	ix.mu.RUnlock()

	var out []domain.RetrievalCandidate
	for _, di := range selected {
		for _, c := range di.chunks {
			score := di.score(terms, c)
			if score <= 0 {
				continue
			}
			out = append(out, domain.RetrievalCandidate{
				ChunkID:       c.chunkID,
				Text:          c.text,
				Score:         score,
				RetrievalType: domain.RetrievalSparse,
				Metadata:      c.metadata,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// score computes the Okapi BM25 sum for one chunk against the query terms.
func (di *docIndex) score(terms []string, c indexedChunk) float64 {
	n := float64(len(di.chunks))
	var score float64
	for _, t := range terms {
		tf := float64(c.freq[t])
		if tf == 0 {
			continue
		}
		df := float64(di.df[t])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := 1 - b + b*float64(c.length)/di.avgLen
		score += idf * tf * (k1 + 1) / (tf + k1*norm)
	}
	return score
}
