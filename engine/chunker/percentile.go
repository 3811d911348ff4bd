package chunker

import "context"

// percentileGroups implements the semantic-percentile strategy: embed every
// paragraph, measure the sequential semantic distance (1 - cosine) between
// neighbors, and start a new chunk wherever the distance to the next
// paragraph exceeds the configured percentile of the distance distribution,
// provided the current chunk already meets the soft minimum.
func (b *Builder) percentileGroups(ctx context.Context, docID string, units []unit) ([][]unit, error) {
	if len(units) == 1 {
		return [][]unit{units}, nil
	}

	vecs := b.embedUnits(ctx, docID, units)

	distances := make([]float64, len(units)-1)
	for i := 0; i < len(units)-1; i++ {
		distances[i] = 1 - cosine(vecs[i], vecs[i+1])
	}
	threshold := percentile(distances, b.cfg.Percentile)

	var groups [][]unit
	var cur []unit
	tokens := 0
	for i, u := range units {
		cur = append(cur, u)
		tokens += u.tokens

		last := i == len(units)-1
		semanticBreak := !last && distances[i] > threshold && tokens >= b.cfg.MinTokens
		positionalBreak := tokens >= b.cfg.MaxTokens

		if last || semanticBreak || positionalBreak {
			groups = append(groups, cur)
			cur = nil
			tokens = 0
		}
	}
	return groups, nil
}
