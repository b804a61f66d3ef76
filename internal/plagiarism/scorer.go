// Package plagiarism scores a submission against a classifier and a corpus of
// peer answers, reporting the closely matching sentences as evidence.
package plagiarism

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Deps holds the collaborators of a Scorer. Vectorizer and Classifier are
// optional: without both of them model scoring is skipped.
type Deps struct {
	Vectorizer Vectorizer
	Classifier Classifier
	Splitter   SentenceSplitter
	Normalizer *Normalizer
	Logger     *zap.Logger
}

// Scorer computes plagiarism likelihood. It holds no mutable state and is
// safe for concurrent use as long as its collaborators are.
type Scorer struct {
	vectorizer Vectorizer
	classifier Classifier
	splitter   SentenceSplitter
	normalizer *Normalizer
	logger     *zap.Logger
	opts       Options
}

// NewScorer builds a Scorer. A punkt splitter and a non-stemming normalizer are
// used when none are supplied.
func NewScorer(opts Options, deps Deps) (*Scorer, error) {
	splitter := deps.Splitter
	if splitter == nil {
		punkt, err := NewSentenceSplitter()
		if err != nil {
			return nil, fmt.Errorf("load sentence splitter: %w", err)
		}
		splitter = punkt
	}

	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer(false)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scorer{
		vectorizer: deps.Vectorizer,
		classifier: deps.Classifier,
		splitter:   splitter,
		normalizer: normalizer,
		logger:     logger,
		opts:       opts.withDefaults(),
	}, nil
}

// ModelLoaded reports whether classifier based scoring is available.
func (s *Scorer) ModelLoaded() bool {
	return s.vectorizer != nil && s.classifier != nil
}

// Options returns the effective thresholds.
func (s *Scorer) Options() Options {
	return s.opts
}

type sentence struct {
	index int
	text  string
	vec   Vector
}

// Score rates submission against corpus, skipping the document whose ID equals
// excludeID. Only a submission that is not valid UTF-8 yields an error.
func (s *Scorer) Score(submission string, corpus []Document, excludeID string) (*Result, error) {
	if !utf8.ValidString(submission) {
		return nil, fmt.Errorf("%w: submission is not valid UTF-8 text", ErrInvalidInput)
	}

	if strings.TrimSpace(submission) == "" {
		return &Result{Matches: []Match{}, Message: messageEmpty}, nil
	}

	result := &Result{Matches: []Match{}}
	normalized := s.normalizer.Normalize(submission)

	if s.ModelLoaded() {
		probability := s.classifier.PredictProbability(s.vectorizer.Transform(normalized))
		result.ModelScore = clampScore(round2(probability * 100))
	} else {
		result.ModelSkipped = true
	}

	var vectorizer Vectorizer = newTermFrequency()
	if s.vectorizer != nil {
		vectorizer = s.vectorizer
	}

	submissionVec := vectorizer.Transform(normalized)
	submissionSentences := s.sentences(vectorizer, submission)

	maxSimilarity := 0.0
	compared := 0
	for _, doc := range corpus {
		if excludeID != "" && doc.ID == excludeID {
			continue
		}
		compared++

		similarity := clampUnit(Cosine(submissionVec, vectorizer.Transform(s.normalizer.Normalize(doc.Text))))
		if similarity > maxSimilarity {
			maxSimilarity = similarity
			result.MostSimilarPeer = doc.ID
		}

		peerSentences := s.sentences(vectorizer, doc.Text)
		for _, own := range submissionSentences {
			for _, peer := range peerSentences {
				sim := clampUnit(Cosine(own.vec, peer.vec))
				if sim <= s.opts.MatchThreshold {
					continue
				}
				result.Matches = append(result.Matches, Match{
					SourceID:      doc.ID,
					SentenceIndex: own.index,
					Text:          own.text,
					Similarity:    sim,
				})
			}
		}
	}

	result.PeerScore = clampScore(round2(maxSimilarity * 100))
	result.Score = math.Max(result.ModelScore, result.PeerScore)
	result.Flagged = result.Score > s.opts.FlagScore || len(result.Matches) > 0

	result.Message = messageNotDetected
	if result.Flagged {
		result.Message = messageDetected
	}
	if result.ModelSkipped {
		result.Message = fmt.Sprintf("%s (%s)", result.Message, messageModelSkipped)
	}

	s.logger.Debug("plagiarism scored",
		zap.Int("peers_compared", compared),
		zap.Float64("model_score", result.ModelScore),
		zap.Float64("peer_score", result.PeerScore),
		zap.Int("matches", len(result.Matches)),
		zap.Bool("model_skipped", result.ModelSkipped),
	)

	return result, nil
}

// sentences returns the sentences of text long enough to be compared, with
// their position in the full sentence sequence.
func (s *Scorer) sentences(vectorizer Vectorizer, text string) []sentence {
	raw := s.splitter.Split(text)
	out := make([]sentence, 0, len(raw))
	for i, sent := range raw {
		normalized := s.normalizer.Normalize(sent)
		if WordCount(normalized) < s.opts.MinSentenceTokens {
			continue
		}
		out = append(out, sentence{index: i, text: sent, vec: vectorizer.Transform(normalized)})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
