package grading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/grader/internal/events"
	"github.com/spigell/grader/internal/logger"
	"github.com/spigell/grader/internal/storage"
)

const (
	stepReference  = "reference"
	stepFeedback   = "feedback"
	stepPersist    = "persist"
	stepPlagiarism = "plagiarism"
	stepPublish    = "publish"
)

// DefaultSteps returns the evaluation steps in execution order.
func DefaultSteps() []Step {
	return []Step{
		&referenceStep{},
		&feedbackStep{},
		&persistStep{},
		&plagiarismStep{},
		&publishStep{},
	}
}

// referenceStep makes sure the model answer and the rubric are known,
// loading them from the store or generating and saving them.
type referenceStep struct{ toggle }

func (s *referenceStep) Name() string { return stepReference }

func (s *referenceStep) Apply(ctx context.Context, deps Deps, ev *Evaluation) (StepInfo, error) {
	var notes []string

	answer, note, err := reference(ctx, deps, ev, storage.KindModelAnswer, ev.ModelAnswer)
	if err != nil {
		return StepInfo{}, err
	}
	ev.ModelAnswer = answer
	notes = append(notes, note)

	rubric, note, err := reference(ctx, deps, ev, storage.KindRubric, ev.Rubric)
	if err != nil {
		return StepInfo{}, err
	}
	ev.Rubric = rubric
	notes = append(notes, note)

	return StepInfo{Note: strings.Join(notes, ", ")}, nil
}

// reference resolves one kind of reference content. Provided content wins
// and is not stored; a generation failure leaves the content empty.
func reference(ctx context.Context, deps Deps, ev *Evaluation, kind storage.Kind, provided string) (string, string, error) {
	if strings.TrimSpace(provided) != "" {
		return provided, fmt.Sprintf("%s provided", kind), nil
	}

	load, save := deps.Store.ModelAnswer, deps.Store.SaveModelAnswer
	system, message := modelAnswerPrompt, buildModelAnswerRequest(ev.Question, ev.TotalMarks)
	if kind == storage.KindRubric {
		load, save = deps.Store.Rubric, deps.Store.SaveRubric
		system, message = rubricPrompt, buildRubricRequest(ev.Question, ev.TotalMarks)
	}

	stored, err := load(ctx, ev.AssignmentID)
	switch {
	case err == nil:
		return stored, fmt.Sprintf("%s loaded", kind), nil
	case !errors.Is(err, storage.ErrNotFound):
		return "", "", fmt.Errorf("load %s: %w", kind, err)
	}

	generated, err := deps.Generator.GenerateContent(ctx, system, message)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		logger.WithSubmission(deps.Logger, ev.AssignmentID, "").Warn("generating reference content failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		ev.warn("%s could not be generated", kind)
		return "", fmt.Sprintf("%s unavailable", kind), nil
	}

	if err := save(ctx, ev.AssignmentID, generated); err != nil {
		logger.WithSubmission(deps.Logger, ev.AssignmentID, "").Warn("saving reference content failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		ev.warn("%s was generated but not stored", kind)
	}
	return generated, fmt.Sprintf("%s generated", kind), nil
}

// feedbackStep asks the evaluator for feedback and splits off the score block.
type feedbackStep struct{ toggle }

func (s *feedbackStep) Name() string { return stepFeedback }

func (s *feedbackStep) Apply(ctx context.Context, deps Deps, ev *Evaluation) (StepInfo, error) {
	response, err := deps.Generator.GenerateContent(ctx, evaluatorPrompt, buildEvaluationRequest(ev))
	if err != nil {
		return StepInfo{}, fmt.Errorf("generate feedback: %w", err)
	}

	ev.Score, ev.Feedback = ExtractScore(response)
	if ev.Score == nil {
		ev.warn("score block missing or malformed")
		return StepInfo{Note: "no score block"}, nil
	}
	return StepInfo{Note: fmt.Sprintf("score %s/%s", formatNumber(ev.Score.TotalScore), formatNumber(ev.Score.MaxScore))}, nil
}

// persistStep adds the answer to the peer corpus before it is checked.
type persistStep struct{ toggle }

func (s *persistStep) Name() string { return stepPersist }

func (s *persistStep) Apply(ctx context.Context, deps Deps, ev *Evaluation) (StepInfo, error) {
	ev.PeerID = PeerID(ev.StudentID)

	log := logger.WithSubmission(deps.Logger, ev.AssignmentID, ev.PeerID)
	err := deps.Store.AppendPeerAnswer(ctx, ev.AssignmentID, ev.PeerID, ev.Answer)
	switch {
	case err == nil:
		return StepInfo{Note: "stored as " + ev.PeerID}, nil
	case errors.Is(err, storage.ErrExists):
		log.Warn("peer answer already stored, keeping the original")
		return StepInfo{Skipped: true, Note: "already stored as " + ev.PeerID}, nil
	default:
		log.Warn("storing peer answer failed", zap.Error(err))
		ev.warn("answer was not added to the peer corpus")
		return StepInfo{Skipped: true, Note: "not stored"}, nil
	}
}

// plagiarismStep scores the answer against the corpus, leaving out the
// submitter's own entry.
type plagiarismStep struct{ toggle }

func (s *plagiarismStep) Name() string { return stepPlagiarism }

func (s *plagiarismStep) Apply(ctx context.Context, deps Deps, ev *Evaluation) (StepInfo, error) {
	corpus, err := deps.Store.PeerAnswers(ctx, ev.AssignmentID)
	if err != nil {
		return StepInfo{}, fmt.Errorf("load peer answers: %w", err)
	}

	result, err := deps.Scorer.Score(ev.Answer, corpus, ev.PeerID)
	if err != nil {
		return StepInfo{}, err
	}
	ev.Plagiarism = result

	if result.Flagged {
		ev.Feedback = strings.TrimRight(ev.Feedback, "\n") + plagiarismAlert(result.Score)
	}

	return StepInfo{Note: fmt.Sprintf("score %s against %d peers", formatNumber(result.Score), len(corpus))}, nil
}

func plagiarismAlert(score float64) string {
	return "\n\n**Plagiarism Alert**: Approximately " + formatNumber(score) +
		"% of your submission shows signs of plagiarism. Academic integrity is important - please ensure all work is original and properly cited."
}

// publishStep announces the finished evaluation. Delivery errors are logged only.
type publishStep struct{ toggle }

func (s *publishStep) Name() string { return stepPublish }

func (s *publishStep) Apply(ctx context.Context, deps Deps, ev *Evaluation) (StepInfo, error) {
	if deps.Publisher == nil {
		return StepInfo{Skipped: true, Note: "no publisher"}, nil
	}

	event := events.NewEvent(events.TypeEvaluationCompleted, ev.AssignmentID)
	event.StudentID = ev.StudentID
	event.PeerID = ev.PeerID
	if ev.Score != nil {
		total, maxScore := ev.Score.TotalScore, ev.Score.MaxScore
		event.TotalScore = &total
		event.MaxScore = &maxScore
	}
	if ev.Plagiarism != nil {
		event.PlagiarismScore = ev.Plagiarism.Score
		event.Flagged = ev.Plagiarism.Flagged
	}

	if err := deps.Publisher.Publish(ctx, event); err != nil {
		logger.WithSubmission(deps.Logger, ev.AssignmentID, ev.PeerID).Warn("publishing evaluation event failed", zap.Error(err))
		return StepInfo{Skipped: true, Note: "publish failed"}, nil
	}
	return StepInfo{Note: event.RoutingKey()}, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
