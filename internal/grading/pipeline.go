package grading

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/grader/internal/ai"
	"github.com/spigell/grader/internal/events"
	"github.com/spigell/grader/internal/logger"
	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/storage"
)

// Step is a single stage of an evaluation.
type Step interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Apply(ctx context.Context, deps Deps, ev *Evaluation) (StepInfo, error)
}

// Deps aggregates dependencies shared across all steps.
type Deps struct {
	Generator ai.Generator
	Store     storage.Store
	Scorer    *plagiarism.Scorer
	Publisher events.Publisher
	Logger    *zap.Logger
}

// StepInfo describes what a step did.
type StepInfo struct {
	Skipped bool
	Note    string
}

// Status represents runtime information about a step.
type Status struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

type reasoner interface {
	Reason() string
}

// toggle carries the enabled state shared by every step.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

func (t *toggle) Reason() string { return t.reason }

// DisableByName marks the step with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Step, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the steps in order and stops at the first failure.
func Run(ctx context.Context, deps Deps, steps []Step, ev *Evaluation) error {
	for _, step := range steps {
		log := logger.WithSubmission(deps.Logger, ev.AssignmentID, ev.PeerID)
		if !step.IsEnabled() {
			log.Debug("grading step disabled", zap.String("name", step.Name()))
			continue
		}

		info, err := step.Apply(ctx, deps, ev)
		if err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}

		log.Info("grading step",
			zap.String("name", step.Name()),
			zap.Bool("skipped", info.Skipped),
			zap.String("note", info.Note),
		)
	}

	return nil
}

// Describe returns status entries for the provided steps.
func Describe(steps []Step) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		status := Status{Name: step.Name(), Enabled: step.IsEnabled()}
		if r, ok := step.(reasoner); ok && !status.Enabled {
			status.Reason = r.Reason()
		}
		statuses = append(statuses, status)
	}
	return statuses
}
