package grading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/grader/internal/plagiarism"
)

// Report renders an evaluation as plain text for terminals.
func Report(result *Result) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assignment: %s\n", result.AssignmentID)
	if result.PeerID != "" {
		fmt.Fprintf(&b, "Submission: %s\n", result.PeerID)
	}

	b.WriteString("\nScore\n")
	if result.Score == nil {
		b.WriteString("  not available\n")
	} else {
		fmt.Fprintf(&b, "  %s / %s (%s%%)\n",
			formatNumber(result.Score.TotalScore),
			formatNumber(result.Score.MaxScore),
			formatNumber(result.Score.Percentage),
		)
		criteria := make([]string, 0, len(result.Score.CriteriaScores))
		for name := range result.Score.CriteriaScores {
			criteria = append(criteria, name)
		}
		sort.Strings(criteria)
		for _, name := range criteria {
			fmt.Fprintf(&b, "  - %s: %s\n", name, formatNumber(result.Score.CriteriaScores[name]))
		}
	}

	writePlagiarism(&b, result.Plagiarism)

	if len(result.Warnings) > 0 {
		b.WriteString("\nWarnings\n")
		for _, warning := range result.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}

	b.WriteString("\nFeedback\n")
	b.WriteString(result.Feedback)
	b.WriteString("\n")
	return b.String()
}

// CheckReport renders a standalone plagiarism check.
func CheckReport(result *CheckResult) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assignment: %s\n", result.AssignmentID)
	if result.PeerID != "" {
		fmt.Fprintf(&b, "Submission: %s\n", result.PeerID)
	}
	writePlagiarism(&b, result.Plagiarism)
	return b.String()
}

func writePlagiarism(b *strings.Builder, result *plagiarism.Result) {
	b.WriteString("\nPlagiarism\n")
	if result == nil {
		b.WriteString("  not checked\n")
		return
	}

	fmt.Fprintf(b, "  %s: %s%%\n", result.Message, formatNumber(result.Score))
	if result.ModelSkipped {
		b.WriteString("  classifier: not loaded\n")
	} else {
		fmt.Fprintf(b, "  classifier: %s%%\n", formatNumber(result.ModelScore))
	}
	fmt.Fprintf(b, "  closest peer: %s%%", formatNumber(result.PeerScore))
	if result.MostSimilarPeer != "" {
		fmt.Fprintf(b, " (%s)", result.MostSimilarPeer)
	}
	b.WriteString("\n")

	for _, match := range result.Matches {
		fmt.Fprintf(b, "  > [%s, sentence %d, %.2f] %s\n",
			match.SourceID, match.SentenceIndex+1, match.Similarity, match.Text)
	}
}
