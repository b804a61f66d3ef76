package grading

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	fencedScorePattern = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	bareScorePattern   = regexp.MustCompile(`\{[\s\S]*"total_score"[\s\S]*\}`)

	errNoScoreBlock = errors.New("no score block in response")
)

// ScoreData is the score block the evaluator appends to its feedback.
type ScoreData struct {
	TotalScore     float64            `json:"total_score"`
	MaxScore       float64            `json:"max_score"`
	Percentage     float64            `json:"percentage"`
	CriteriaScores map[string]float64 `json:"criteria_scores,omitempty"`
}

// ExtractScore finds the score block in an evaluator response. On success it
// returns the parsed score and the feedback with the block removed. When no
// block parses, score is nil and the feedback is returned unchanged.
func ExtractScore(response string) (*ScoreData, string) {
	raw, ok := findScoreBlock(response)
	if !ok {
		return nil, response
	}

	score, err := parseScore(raw)
	if err != nil {
		return nil, response
	}

	feedback := fencedScorePattern.ReplaceAllString(response, "")
	feedback = bareScorePattern.ReplaceAllString(feedback, "")
	return score, strings.TrimSpace(feedback)
}

func findScoreBlock(response string) (string, bool) {
	if match := fencedScorePattern.FindStringSubmatch(response); len(match) == 2 {
		return match[1], true
	}
	if match := bareScorePattern.FindString(response); match != "" {
		return match, true
	}
	return "", false
}

func parseScore(raw string) (*ScoreData, error) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return nil, errors.New("score block is not valid JSON")
	}

	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, errNoScoreBlock
	}

	score := &ScoreData{
		TotalScore: number(doc.Get("total_score")),
		MaxScore:   number(doc.Get("max_score")),
		Percentage: number(doc.Get("percentage")),
	}

	criteria := doc.Get("criteria_scores")
	if criteria.IsObject() {
		score.CriteriaScores = make(map[string]float64)
		criteria.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() {
				value = value.Get("score")
			}
			score.CriteriaScores[key.String()] = number(value)
			return true
		})
	}

	if !doc.Get("percentage").Exists() && score.MaxScore > 0 {
		score.Percentage = math.Round(score.TotalScore/score.MaxScore*10000) / 100
	}

	return score, nil
}

// number reads a JSON number, also accepting numeric strings such as "7.5"
// or "85%". Anything else is zero.
func number(value gjson.Result) float64 {
	switch value.Type {
	case gjson.Number:
		return value.Float()
	case gjson.String:
		text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value.Str), "%"))
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
