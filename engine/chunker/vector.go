package chunker

import (
	"math"
	"sort"
)

// cosine returns the cosine similarity of a and b. Two zero vectors compare
// as identical (1.0) so that degraded zero-vector mode yields uniform
// similarity; a zero vector against a real one compares as unrelated (0.0).
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 && nb == 0 {
		return 1
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// percentile returns the p-th percentile (0–100) of values using linear
// interpolation between closest ranks. Deterministic for a fixed input.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// centroid maintains a running mean vector over absorbed members.
type centroid struct {
	sum []float64
	n   int
}

func newCentroid(v []float32) *centroid {
	sum := make([]float64, len(v))
	for i, x := range v {
		sum[i] = float64(x)
	}
	return &centroid{sum: sum, n: 1}
}

func (c *centroid) add(v []float32) {
	for i, x := range v {
		c.sum[i] += float64(x)
	}
	c.n++
}

// similarity is the cosine between the centroid mean and v. The mean and
// the sum point in the same direction, so the sum is used directly.
func (c *centroid) similarity(v []float32) float64 {
	var dot, na, nb float64
	for i := range c.sum {
		dot += c.sum[i] * float64(v[i])
		na += c.sum[i] * c.sum[i]
		nb += float64(v[i]) * float64(v[i])
	}
	if na == 0 && nb == 0 {
		return 1
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
