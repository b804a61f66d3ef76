// Package model holds the fitted text features and classifier used for
// model-based plagiarism scoring, and their JSON artifact.
package model

import (
	"math"
	"sort"

	"github.com/spigell/grader/internal/plagiarism"
)

// TFIDF maps text to L2-normalized tf-idf vectors over a fixed vocabulary.
// Weights follow the smoothed idf used by scikit-learn.
type TFIDF struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
}

// Transform vectorizes text. Terms outside the vocabulary are ignored.
func (t *TFIDF) Transform(text string) plagiarism.Vector {
	vec := make(plagiarism.Vector)
	for _, term := range plagiarism.Tokens(text) {
		idx, ok := t.Vocabulary[term]
		if !ok {
			continue
		}
		vec[idx]++
	}

	for idx, count := range vec {
		vec[idx] = count * t.IDF[idx]
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

// Size returns the number of features.
func (t *TFIDF) Size() int {
	return len(t.IDF)
}

// FitTFIDF learns a vocabulary and idf weights from docs. Vocabulary indices
// follow the alphabetical order of the terms.
func FitTFIDF(docs []string) *TFIDF {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range plagiarism.Tokens(doc) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	n := float64(len(docs))
	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	for i, term := range terms {
		vocabulary[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	return &TFIDF{Vocabulary: vocabulary, IDF: idf}
}
