package chunker

import (
	"context"

	"github.com/StratumAI/stratum-mvp/engine/domain"
)

// clusterGroups implements the similarity-cluster strategy. Starting from
// the first unclustered segment, forward neighbors are absorbed while their
// cosine similarity to the cluster's running centroid stays at or above the
// threshold and the accumulated token count stays under the soft maximum;
// the cluster closes at the first rejection.
//
// A standalone segment larger than the hard cap is split before clustering
// so it is never emitted whole.
func (b *Builder) clusterGroups(ctx context.Context, docID string, units []unit) ([][]unit, error) {
	units = presplitOversized(units)

	if len(units) == 1 {
		return [][]unit{units}, nil
	}

	vecs := b.embedUnits(ctx, docID, units)

	var groups [][]unit
	i := 0
	for i < len(units) {
		cur := []unit{units[i]}
		tokens := units[i].tokens
		cen := newCentroid(vecs[i])

		j := i + 1
		for j < len(units) {
			if tokens+units[j].tokens > b.cfg.MaxTokens {
				break
			}
			if cen.similarity(vecs[j]) < b.cfg.SimilarityThreshold {
				break
			}
			cur = append(cur, units[j])
			tokens += units[j].tokens
			cen.add(vecs[j])
			j++
		}
		groups = append(groups, cur)
		i = j
	}
	return groups, nil
}

// presplitOversized replaces any unit whose text exceeds the hard cap with
// character-split sub-units, keeping offsets exact.
func presplitOversized(units []unit) []unit {
	var out []unit
	for _, u := range units {
		if len(u.seg.Text) <= domain.MaxChunkChars {
			out = append(out, u)
			continue
		}
		for _, p := range splitOversized(u.seg) {
			sub := domain.Segment{
				Text:       p.text,
				StartChar:  p.r.Start,
				EndChar:    p.r.End,
				PageNumber: u.seg.PageNumber,
			}
			out = append(out, unit{seg: sub, tokens: wordCount(p.text)})
		}
	}
	return out
}
