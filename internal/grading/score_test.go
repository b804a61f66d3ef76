package grading

import (
	"math"
	"strings"
	"testing"
)

func TestExtractScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		response     string
		wantScore    *ScoreData
		wantFeedback string
	}{
		{
			name:         "fenced block",
			response:     "Good work.\n\n```json\n{\"total_score\": 8, \"max_score\": 10, \"percentage\": 80, \"criteria_scores\": {\"clarity\": 4, \"accuracy\": 4}}\n```",
			wantScore:    &ScoreData{TotalScore: 8, MaxScore: 10, Percentage: 80, CriteriaScores: map[string]float64{"clarity": 4, "accuracy": 4}},
			wantFeedback: "Good work.",
		},
		{
			name:         "bare object",
			response:     "Solid answer.\n{\"total_score\": 7, \"max_score\": 10, \"percentage\": 70}",
			wantScore:    &ScoreData{TotalScore: 7, MaxScore: 10, Percentage: 70},
			wantFeedback: "Solid answer.",
		},
		{
			name:         "numeric strings",
			response:     "```json\n{\"total_score\": \"4.5\", \"max_score\": \"5\", \"percentage\": \"90%\"}\n```",
			wantScore:    &ScoreData{TotalScore: 4.5, MaxScore: 5, Percentage: 90},
			wantFeedback: "",
		},
		{
			name:         "percentage derived",
			response:     "```json\n{\"total_score\": 1, \"max_score\": 3}\n```",
			wantScore:    &ScoreData{TotalScore: 1, MaxScore: 3, Percentage: 33.33},
			wantFeedback: "",
		},
		{
			name:         "criteria objects",
			response:     "Fine.\n```json\n{\"total_score\": 5, \"max_score\": 5, \"percentage\": 100, \"criteria_scores\": {\"depth\": {\"score\": 5, \"max\": 5}}}\n```",
			wantScore:    &ScoreData{TotalScore: 5, MaxScore: 5, Percentage: 100, CriteriaScores: map[string]float64{"depth": 5}},
			wantFeedback: "Fine.",
		},
		{
			name:         "malformed block",
			response:     "Text\n```json\n{\"total_score\": 5,\n```",
			wantFeedback: "Text\n```json\n{\"total_score\": 5,\n```",
		},
		{
			name:         "no block",
			response:     "Only prose here.",
			wantFeedback: "Only prose here.",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			score, feedback := ExtractScore(tc.response)
			if feedback != tc.wantFeedback {
				t.Fatalf("feedback = %q, want %q", feedback, tc.wantFeedback)
			}
			if tc.wantScore == nil {
				if score != nil {
					t.Fatalf("expected no score, got %+v", score)
				}
				return
			}
			if score == nil {
				t.Fatalf("expected score %+v, got nil", tc.wantScore)
			}
			assertScore(t, score, tc.wantScore)
		})
	}
}

func assertScore(t *testing.T, got, want *ScoreData) {
	t.Helper()

	if math.Abs(got.TotalScore-want.TotalScore) > 1e-9 ||
		math.Abs(got.MaxScore-want.MaxScore) > 1e-9 ||
		math.Abs(got.Percentage-want.Percentage) > 1e-9 {
		t.Fatalf("score = %+v, want %+v", got, want)
	}
	if len(got.CriteriaScores) != len(want.CriteriaScores) {
		t.Fatalf("criteria = %v, want %v", got.CriteriaScores, want.CriteriaScores)
	}
	for name, value := range want.CriteriaScores {
		if got.CriteriaScores[name] != value {
			t.Fatalf("criterion %q = %v, want %v", name, got.CriteriaScores[name], value)
		}
	}
}

func TestExtractScoreRemovesEveryBlock(t *testing.T) {
	response := "Intro\n```json\n{\"total_score\": 2, \"max_score\": 4}\n```\nOutro"

	score, feedback := ExtractScore(response)
	if score == nil {
		t.Fatalf("expected score")
	}
	if strings.Contains(feedback, "total_score") || strings.Contains(feedback, "```") {
		t.Fatalf("score block left in feedback: %q", feedback)
	}
	if !strings.Contains(feedback, "Intro") || !strings.Contains(feedback, "Outro") {
		t.Fatalf("prose lost: %q", feedback)
	}
}
