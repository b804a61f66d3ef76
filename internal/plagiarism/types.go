package plagiarism

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when the submission is not valid text.
var ErrInvalidInput = errors.New("invalid input")

const (
	defaultMatchThreshold    = 0.8
	defaultMinSentenceTokens = 5
	defaultFlagScore         = 30.0

	messageEmpty        = "No text provided for plagiarism check."
	messageDetected     = "Plagiarism Detected"
	messageNotDetected  = "No Plagiarism Detected"
	messageModelSkipped = "model-based scoring skipped: classifier or vectorizer is not loaded"
)

// Vectorizer maps normalized text to a fixed-length feature vector.
type Vectorizer interface {
	Transform(text string) Vector
}

// Classifier returns the probability that a vectorized text is not original.
type Classifier interface {
	PredictProbability(v Vector) float64
}

// SentenceSplitter segments text into ordered sentences.
type SentenceSplitter interface {
	Split(text string) []string
}

// Document is a single peer text with its identifier.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Corpus wraps bare texts into documents named peer_1, peer_2, ... in order.
func Corpus(texts ...string) []Document {
	docs := make([]Document, 0, len(texts))
	for i, text := range texts {
		docs = append(docs, Document{ID: fmt.Sprintf("peer_%d", i+1), Text: text})
	}
	return docs
}

// Match is a submission sentence that closely resembles a peer sentence.
type Match struct {
	SourceID      string  `json:"source"`
	SentenceIndex int     `json:"index"`
	Text          string  `json:"text"`
	Similarity    float64 `json:"similarity"`
}

// Result is the outcome of scoring one submission.
type Result struct {
	Flagged         bool    `json:"is_plagiarized"`
	Score           float64 `json:"plagiarism_score"`
	ModelScore      float64 `json:"model_plagiarism_score"`
	PeerScore       float64 `json:"peer_plagiarism_score"`
	Matches         []Match `json:"plagiarized_parts"`
	MostSimilarPeer string  `json:"most_similar_peer,omitempty"`
	ModelSkipped    bool    `json:"model_skipped,omitempty"`
	Message         string  `json:"message"`
}

// Options tunes the scorer thresholds. Zero values fall back to defaults.
type Options struct {
	// MatchThreshold is the sentence similarity a pair must exceed to be reported.
	MatchThreshold float64 `mapstructure:"match-threshold"`
	// MinSentenceTokens is the minimal normalized word count on both sides of a pair.
	MinSentenceTokens int `mapstructure:"min-sentence-tokens"`
	// FlagScore is the score above which a submission is flagged.
	FlagScore float64 `mapstructure:"flag-score"`
}

func (o Options) withDefaults() Options {
	if o.MatchThreshold <= 0 || o.MatchThreshold > 1 {
		o.MatchThreshold = defaultMatchThreshold
	}
	if o.MinSentenceTokens <= 0 {
		o.MinSentenceTokens = defaultMinSentenceTokens
	}
	if o.FlagScore <= 0 || o.FlagScore > 100 {
		o.FlagScore = defaultFlagScore
	}
	return o
}
