package plagiarism

import (
	"math"
	"sort"
)

// Vector is a sparse feature vector keyed by feature index.
type Vector map[int]float64

// Indices returns the feature indices of v in ascending order. Sums over a
// vector follow this order so that results do not depend on map iteration.
func (v Vector) Indices() []int {
	indices := make([]int, 0, len(v))
	for idx := range v {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

// Norm returns the euclidean length of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, idx := range v.Indices() {
		sum += v[idx] * v[idx]
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of v and other.
func (v Vector) Dot(other Vector) float64 {
	small, large := v, other
	if len(small) > len(large) {
		small, large = large, small
	}

	var dot float64
	for _, idx := range small.Indices() {
		dot += small[idx] * large[idx]
	}
	return dot
}

// Cosine returns the cosine similarity of a and b, zero when either is empty.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	normA, normB := a.Norm(), b.Norm()
	if normA == 0 || normB == 0 {
		return 0
	}

	return a.Dot(b) / (normA * normB)
}

// termFrequency is the vectorizer used when no fitted model is loaded.
// Terms are indexed as they are first seen, so one instance must serve all
// texts compared within a single scoring call.
type termFrequency struct {
	index map[string]int
}

func newTermFrequency() *termFrequency {
	return &termFrequency{index: make(map[string]int)}
}

func (t *termFrequency) Transform(text string) Vector {
	vec := make(Vector)
	for _, term := range Tokens(text) {
		idx, ok := t.index[term]
		if !ok {
			idx = len(t.index)
			t.index[term] = idx
		}
		vec[idx]++
	}

	norm := vec.Norm()
	if norm == 0 {
		return vec
	}
	for idx, value := range vec {
		vec[idx] = value / norm
	}
	return vec
}
