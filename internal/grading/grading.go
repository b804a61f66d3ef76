// Package grading evaluates student submissions: it prepares reference
// content, asks an LLM for feedback and a score, grows the peer corpus and
// checks the submission for plagiarism.
package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/events"
	"github.com/spigell/grader/internal/logger"
	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/storage"
	"github.com/spigell/grader/internal/utils"
)

var (
	// ErrMissingInput is returned when the question or the answer is empty.
	ErrMissingInput = errors.New("assignment question and student answer are required")
	// ErrInvalidMarks is returned for a negative total marks value.
	ErrInvalidMarks = errors.New("total marks must be a non-negative integer")
	// ErrInvalidText is returned when submitted text is not valid UTF-8.
	ErrInvalidText = errors.New("text must be valid UTF-8")
	// ErrNoGenerator is returned by Evaluate when no LLM is configured.
	ErrNoGenerator = errors.New("no language model configured")
)

const (
	assignmentIDLength = 10
	anonymousPrefix    = "anon_"
)

// Request is a single submission to evaluate. ModelAnswer and Rubric are
// optional; missing ones are loaded from the store or generated.
type Request struct {
	AssignmentID string
	StudentID    string
	Question     string
	Answer       string
	ModelAnswer  string
	Rubric       string
	TotalMarks   *int
}

// Validate checks the request and fills the derived assignment ID.
func (r *Request) Validate() error {
	r.AssignmentID = strings.TrimSpace(r.AssignmentID)
	r.StudentID = strings.TrimSpace(r.StudentID)

	if strings.TrimSpace(r.Question) == "" || strings.TrimSpace(r.Answer) == "" {
		return ErrMissingInput
	}
	if !utf8.ValidString(r.Question) || !utf8.ValidString(r.Answer) {
		return ErrInvalidText
	}
	if r.TotalMarks != nil && *r.TotalMarks < 0 {
		return ErrInvalidMarks
	}

	if r.AssignmentID == "" {
		r.AssignmentID = AssignmentID(r.Question)
	}
	if err := storage.ValidateID(r.AssignmentID); err != nil {
		return err
	}
	if r.StudentID != "" {
		if err := storage.ValidateID(r.StudentID); err != nil {
			return err
		}
	}
	return nil
}

// AssignmentID derives a stable identifier from the question text.
func AssignmentID(question string) string {
	return utils.ShortHash(question, assignmentIDLength)
}

// PeerID is the corpus identifier of a submission: the student ID, or a
// fresh anonymous ID.
func PeerID(studentID string) string {
	if id := strings.TrimSpace(studentID); id != "" {
		return id
	}
	return anonymousPrefix + uuid.NewString()
}

// Evaluation is the state passed between steps.
type Evaluation struct {
	Request

	PeerID     string
	Feedback   string
	Score      *ScoreData
	Plagiarism *plagiarism.Result
	Warnings   []string
}

func (ev *Evaluation) warn(format string, args ...any) {
	ev.Warnings = append(ev.Warnings, fmt.Sprintf(format, args...))
}

// Result is the outcome of an evaluation.
type Result struct {
	AssignmentID string             `json:"assignment_id"`
	PeerID       string             `json:"peer_id"`
	Feedback     string             `json:"feedback"`
	Score        *ScoreData         `json:"score_data"`
	Plagiarism   *plagiarism.Result `json:"plagiarism_data"`
	ModelAnswer  string             `json:"-"`
	Rubric       string             `json:"-"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// Evaluator runs the grading steps.
type Evaluator struct {
	deps  Deps
	steps []Step
}

// New returns an Evaluator. Store and Scorer are required; without a
// Generator only plagiarism checks are available.
func New(deps Deps) (*Evaluator, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Scorer == nil {
		return nil, errors.New("plagiarism scorer is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	steps := DefaultSteps()
	if deps.Generator == nil {
		DisableByName(steps, stepReference, "no language model configured")
		DisableByName(steps, stepFeedback, "no language model configured")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
		DisableByName(steps, stepPublish, "no event publisher configured")
	}

	return &Evaluator{deps: deps, steps: steps}, nil
}

// Steps reports the configured steps.
func (e *Evaluator) Steps() []Status {
	return Describe(e.steps)
}

// Evaluate grades req. A failing language model call fails the evaluation;
// every other degraded step is reported in Result.Warnings.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if e.deps.Generator == nil {
		return nil, ErrNoGenerator
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ev := &Evaluation{Request: req}
	if err := Run(ctx, e.deps, e.steps, ev); err != nil {
		return nil, err
	}

	return &Result{
		AssignmentID: ev.AssignmentID,
		PeerID:       ev.PeerID,
		Feedback:     strings.TrimSpace(ev.Feedback),
		Score:        ev.Score,
		Plagiarism:   ev.Plagiarism,
		ModelAnswer:  ev.ModelAnswer,
		Rubric:       ev.Rubric,
		Warnings:     ev.Warnings,
	}, nil
}

// CheckRequest asks for a plagiarism check without grading.
type CheckRequest struct {
	AssignmentID string
	StudentID    string
	Text         string
	// Save adds the text to the corpus before scoring.
	Save bool
}

// CheckResult is the outcome of a standalone plagiarism check.
type CheckResult struct {
	AssignmentID string             `json:"assignment_id"`
	PeerID       string             `json:"peer_id,omitempty"`
	Plagiarism   *plagiarism.Result `json:"plagiarism_data"`
}

// Check scores text against the stored corpus of an assignment. The
// submitter's own stored answer is never compared with itself.
func (e *Evaluator) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	req.AssignmentID = strings.TrimSpace(req.AssignmentID)
	req.StudentID = strings.TrimSpace(req.StudentID)

	if !utf8.ValidString(req.Text) {
		return nil, ErrInvalidText
	}
	if err := storage.ValidateID(req.AssignmentID); err != nil {
		return nil, err
	}
	if req.StudentID != "" {
		if err := storage.ValidateID(req.StudentID); err != nil {
			return nil, err
		}
	}

	peerID := req.StudentID
	if req.Save && strings.TrimSpace(req.Text) != "" {
		peerID = PeerID(req.StudentID)
		if err := e.deps.Store.AppendPeerAnswer(ctx, req.AssignmentID, peerID, req.Text); err != nil {
			if !errors.Is(err, storage.ErrExists) {
				return nil, fmt.Errorf("store peer answer: %w", err)
			}
			logger.WithSubmission(e.deps.Logger, req.AssignmentID, peerID).Warn("peer answer already stored, keeping the original")
		}
	}

	corpus, err := e.deps.Store.PeerAnswers(ctx, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("load peer answers: %w", err)
	}

	result, err := e.deps.Scorer.Score(req.Text, corpus, peerID)
	if err != nil {
		return nil, err
	}

	if e.deps.Publisher != nil {
		event := events.NewEvent(events.TypePlagiarismChecked, req.AssignmentID)
		event.StudentID = req.StudentID
		event.PeerID = peerID
		event.PlagiarismScore = result.Score
		event.Flagged = result.Flagged
		if err := e.deps.Publisher.Publish(ctx, event); err != nil {
			e.deps.Logger.Warn("publishing check event failed", zap.Error(err))
		}
	}

	return &CheckResult{AssignmentID: req.AssignmentID, PeerID: peerID, Plagiarism: result}, nil
}
