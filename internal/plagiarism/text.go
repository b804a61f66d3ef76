package plagiarism

import (
	"bufio"
	"regexp"
	"strings"

	_ "embed"

	snowball "github.com/kljensen/snowball/english"
	"github.com/neurosnap/sentences"
	punkt "github.com/neurosnap/sentences/english"
)

//go:embed stopwords_en.txt
var englishStopwords string

// asciiPunctuation matches the characters removed before tokenization.
const asciiPunctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Tokens splits text into lowercase terms of two or more word characters.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Normalizer prepares text for vectorization: punctuation is stripped,
// text is lowercased and English stopwords are dropped.
type Normalizer struct {
	stopwords map[string]struct{}
	stem      bool
	strip     *strings.Replacer
}

// NewNormalizer returns a Normalizer using the English stopword list.
// When stem is set every remaining word is reduced with the Snowball stemmer.
func NewNormalizer(stem bool) *Normalizer {
	stopwords := make(map[string]struct{}, 200)
	scanner := bufio.NewScanner(strings.NewReader(englishStopwords))
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			stopwords[word] = struct{}{}
		}
	}

	pairs := make([]string, 0, len(asciiPunctuation)*2)
	for _, r := range asciiPunctuation {
		pairs = append(pairs, string(r), "")
	}

	return &Normalizer{
		stopwords: stopwords,
		stem:      stem,
		strip:     strings.NewReplacer(pairs...),
	}
}

// Normalize returns the space-joined words of text that survive normalization.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ToLower(n.strip.Replace(text))

	words := strings.Fields(text)
	kept := words[:0]
	for _, word := range words {
		if n.isStopword(word) {
			continue
		}
		if n.stem {
			word = snowball.Stem(word, false)
		}
		kept = append(kept, word)
	}

	return strings.Join(kept, " ")
}

func (n *Normalizer) isStopword(word string) bool {
	_, ok := n.stopwords[strings.ToLower(word)]
	return ok
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

type sentenceTokenizer interface {
	Tokenize(text string) []*sentences.Sentence
}

// PunktSplitter segments English text into sentences with the punkt algorithm.
type PunktSplitter struct {
	tokenizer sentenceTokenizer
}

// NewSentenceSplitter loads the English punkt model shipped with the sentences package.
func NewSentenceSplitter() (*PunktSplitter, error) {
	tokenizer, err := punkt.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, err
	}

	return &PunktSplitter{tokenizer: tokenizer}, nil
}

// Split returns the trimmed, non-empty sentences of text in order.
func (p *PunktSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	result := make([]string, 0)
	for _, sentence := range p.tokenizer.Tokenize(text) {
		if sentence == nil {
			continue
		}
		trimmed := strings.TrimSpace(sentence.Text)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}

	return result
}
