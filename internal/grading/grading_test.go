package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/grader/internal/events"
	"github.com/spigell/grader/internal/plagiarism"
	"github.com/spigell/grader/internal/storage"
	"github.com/spigell/grader/internal/utils"
)

const feedbackResponse = "Overall Assessment: clear and accurate.\n\n```json\n{\"total_score\": 8, \"max_score\": 10, \"percentage\": 80, \"criteria_scores\": {\"accuracy\": 5, \"clarity\": 3}}\n```"

type stubGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     map[string]int
	messages  []string
}

func newStubGenerator() *stubGenerator {
	return &stubGenerator{
		responses: map[string]string{
			modelAnswerPrompt: "Photosynthesis converts light energy into chemical energy stored in glucose.",
			rubricPrompt:      "Accuracy: 5 marks. Clarity: 5 marks.",
			evaluatorPrompt:   feedbackResponse,
		},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (g *stubGenerator) GenerateContent(_ context.Context, system, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls[system]++
	g.messages = append(g.messages, message)
	if err := g.errs[system]; err != nil {
		return "", err
	}
	return g.responses[system], nil
}

func (g *stubGenerator) Model() string { return "stub" }

func (g *stubGenerator) callCount(system string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[system]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newTestStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := storage.New(context.Background(), storage.Config{
		Driver:  storage.DriverFS,
		Options: map[string]any{"dir": t.TempDir()},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("initialising store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEvaluator(t *testing.T, deps Deps) *Evaluator {
	t.Helper()

	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	if deps.Scorer == nil {
		scorer, err := plagiarism.NewScorer(plagiarism.Options{}, plagiarism.Deps{})
		if err != nil {
			t.Fatalf("creating scorer: %v", err)
		}
		deps.Scorer = scorer
	}

	evaluator, err := New(deps)
	if err != nil {
		t.Fatalf("creating evaluator: %v", err)
	}
	return evaluator
}

func marks(n int) *int { return &n }

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{name: "missing question", req: Request{Answer: "answer"}, wantErr: ErrMissingInput},
		{name: "blank answer", req: Request{Question: "question", Answer: "  \n"}, wantErr: ErrMissingInput},
		{name: "negative marks", req: Request{Question: "q", Answer: "a", TotalMarks: marks(-1)}, wantErr: ErrInvalidMarks},
		{name: "invalid utf8", req: Request{Question: "q", Answer: "\xff"}, wantErr: ErrInvalidText},
		{name: "unsafe student id", req: Request{Question: "q", Answer: "a", StudentID: "../etc"}, wantErr: storage.ErrInvalidID},
		{name: "valid", req: Request{Question: "q", Answer: "a", TotalMarks: marks(0)}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.req.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRequestValidateDerivesAssignmentID(t *testing.T) {
	req := Request{Question: "Explain photosynthesis.", Answer: "Plants make food."}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := utils.ShortHash("Explain photosynthesis.", 10)
	if req.AssignmentID != want || len(req.AssignmentID) != 10 {
		t.Fatalf("assignment id = %q, want %q", req.AssignmentID, want)
	}
}

func TestPeerID(t *testing.T) {
	if got := PeerID(" s1 "); got != "s1" {
		t.Fatalf("PeerID() = %q, want s1", got)
	}

	first, second := PeerID(""), PeerID("")
	if !strings.HasPrefix(first, "anon_") || first == second {
		t.Fatalf("expected distinct anonymous IDs, got %q and %q", first, second)
	}
}

func TestEvaluateGeneratesAndStoresReference(t *testing.T) {
	ctx := context.Background()
	gen := newStubGenerator()
	store := newTestStore(t)
	evaluator := newTestEvaluator(t, Deps{Generator: gen, Store: store})

	result, err := evaluator.Evaluate(ctx, Request{
		AssignmentID: "bio-1",
		StudentID:    "s1",
		Question:     "Explain photosynthesis.",
		Answer:       "Plants use sunlight to make sugar.",
		TotalMarks:   marks(10),
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if result.Score == nil || result.Score.TotalScore != 8 || result.Score.MaxScore != 10 {
		t.Fatalf("unexpected score: %+v", result.Score)
	}
	if strings.Contains(result.Feedback, "total_score") {
		t.Fatalf("score block left in feedback: %q", result.Feedback)
	}
	if result.PeerID != "s1" {
		t.Fatalf("peer id = %q, want s1", result.PeerID)
	}
	if result.Plagiarism == nil || result.Plagiarism.Flagged {
		t.Fatalf("first submission must not be flagged: %+v", result.Plagiarism)
	}

	modelAnswer, err := store.ModelAnswer(ctx, "bio-1")
	if err != nil || modelAnswer != gen.responses[modelAnswerPrompt] {
		t.Fatalf("model answer not stored: %q, %v", modelAnswer, err)
	}
	rubric, err := store.Rubric(ctx, "bio-1")
	if err != nil || rubric != gen.responses[rubricPrompt] {
		t.Fatalf("rubric not stored: %q, %v", rubric, err)
	}

	peers, err := store.PeerAnswers(ctx, "bio-1")
	if err != nil {
		t.Fatalf("loading peers: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != "s1" {
		t.Fatalf("unexpected corpus: %+v", peers)
	}

	request := gen.messages[len(gen.messages)-1]
	for _, want := range []string{"Total marks available: 10", "Model Answer (reference only", "Rubric: Accuracy"} {
		if !strings.Contains(request, want) {
			t.Fatalf("evaluation request misses %q:\n%s", want, request)
		}
	}
}

func TestEvaluateReusesStoredReference(t *testing.T) {
	ctx := context.Background()
	gen := newStubGenerator()
	evaluator := newTestEvaluator(t, Deps{Generator: gen})

	for _, student := range []string{"s1", "s2"} {
		_, err := evaluator.Evaluate(ctx, Request{
			AssignmentID: "bio-1",
			StudentID:    student,
			Question:     "Explain photosynthesis.",
			Answer:       "An answer written by " + student,
		})
		if err != nil {
			t.Fatalf("Evaluate(%s) error: %v", student, err)
		}
	}

	if got := gen.callCount(modelAnswerPrompt); got != 1 {
		t.Fatalf("model answer generated %d times, want 1", got)
	}
	if got := gen.callCount(rubricPrompt); got != 1 {
		t.Fatalf("rubric generated %d times, want 1", got)
	}
	if got := gen.callCount(evaluatorPrompt); got != 2 {
		t.Fatalf("feedback generated %d times, want 2", got)
	}
}

func TestEvaluateProvidedReferenceIsNotGenerated(t *testing.T) {
	gen := newStubGenerator()
	evaluator := newTestEvaluator(t, Deps{Generator: gen})

	_, err := evaluator.Evaluate(context.Background(), Request{
		Question:    "Explain photosynthesis.",
		Answer:      "Plants make sugar.",
		ModelAnswer: "Given model answer",
		Rubric:      "Given rubric",
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if gen.callCount(modelAnswerPrompt) != 0 || gen.callCount(rubricPrompt) != 0 {
		t.Fatalf("provided reference content must not be generated")
	}
}

func TestEvaluateFlagsCopiedAnswer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	answer := "Photosynthesis converts light energy into chemical energy. Chlorophyll absorbs sunlight inside chloroplasts of green plant leaves."
	if err := store.AppendPeerAnswer(ctx, "bio-1", "original", answer); err != nil {
		t.Fatalf("seeding corpus: %v", err)
	}

	publisher := &recordingPublisher{}
	evaluator := newTestEvaluator(t, Deps{Generator: newStubGenerator(), Store: store, Publisher: publisher})

	result, err := evaluator.Evaluate(ctx, Request{
		AssignmentID: "bio-1",
		StudentID:    "copier",
		Question:     "Explain photosynthesis.",
		Answer:       answer,
	})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if !result.Plagiarism.Flagged || result.Plagiarism.PeerScore != 100 {
		t.Fatalf("expected flagged result, got %+v", result.Plagiarism)
	}
	if result.Plagiarism.MostSimilarPeer != "original" {
		t.Fatalf("most similar peer = %q", result.Plagiarism.MostSimilarPeer)
	}
	if !strings.HasSuffix(result.Feedback, plagiarismAlert(100)) {
		t.Fatalf("feedback misses the alert: %q", result.Feedback)
	}
	if !strings.Contains(result.Feedback, "**Plagiarism Alert**: Approximately 100% of your submission") {
		t.Fatalf("unexpected alert text: %q", result.Feedback)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != events.TypeEvaluationCompleted || !event.Flagged || event.PeerID != "copier" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.TotalScore == nil || *event.TotalScore != 8 {
		t.Fatalf("event misses score: %+v", event)
	}
}

func TestEvaluateResubmissionIsNotComparedWithItself(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	evaluator := newTestEvaluator(t, Deps{Generator: newStubGenerator(), Logger: zap.New(core)})

	req := Request{
		AssignmentID: "bio-1",
		StudentID:    "s1",
		Question:     "Explain photosynthesis.",
		Answer:       "Light energy becomes chemical energy in chloroplasts of leaves every day.",
	}

	for i := 0; i < 2; i++ {
		result, err := evaluator.Evaluate(ctx, req)
		if err != nil {
			t.Fatalf("Evaluate() #%d error: %v", i+1, err)
		}
		if result.Plagiarism.Flagged || result.Plagiarism.PeerScore != 0 {
			t.Fatalf("submission #%d compared with itself: %+v", i+1, result.Plagiarism)
		}
	}

	if logs.FilterMessage("peer answer already stored, keeping the original").Len() != 1 {
		t.Fatalf("expected a warning for the resubmission, got %v", logs.All())
	}
}

func TestEvaluateFeedbackFailure(t *testing.T) {
	gen := newStubGenerator()
	gen.errs[evaluatorPrompt] = errors.New("quota exhausted")
	evaluator := newTestEvaluator(t, Deps{Generator: gen})

	_, err := evaluator.Evaluate(context.Background(), Request{Question: "q", Answer: "a"})
	if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("expected feedback error, got %v", err)
	}
}

func TestEvaluateReferenceFailureContinues(t *testing.T) {
	ctx := context.Background()
	gen := newStubGenerator()
	gen.errs[modelAnswerPrompt] = errors.New("boom")
	store := newTestStore(t)
	evaluator := newTestEvaluator(t, Deps{Generator: gen, Store: store})

	result, err := evaluator.Evaluate(ctx, Request{AssignmentID: "a1", Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.ModelAnswer != "" {
		t.Fatalf("model answer must stay empty, got %q", result.ModelAnswer)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning")
	}
	if _, err := store.ModelAnswer(ctx, "a1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("failed generation must not be stored, got %v", err)
	}
	if strings.Contains(gen.messages[len(gen.messages)-1], "Model Answer (reference only") {
		t.Fatalf("empty model answer must not be sent")
	}
}

func TestEvaluateWithoutGenerator(t *testing.T) {
	evaluator := newTestEvaluator(t, Deps{})

	if _, err := evaluator.Evaluate(context.Background(), Request{Question: "q", Answer: "a"}); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("expected ErrNoGenerator, got %v", err)
	}

	statuses := evaluator.Steps()
	if len(statuses) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(statuses))
	}
	for _, status := range statuses {
		disabled := status.Name == stepReference || status.Name == stepFeedback || status.Name == stepPublish
		if status.Enabled == disabled {
			t.Fatalf("unexpected status %+v", status)
		}
		if disabled && status.Reason == "" {
			t.Fatalf("disabled step %q has no reason", status.Name)
		}
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	publisher := &recordingPublisher{err: errors.New("broker down")}
	evaluator := newTestEvaluator(t, Deps{Store: store, Publisher: publisher})

	text := "Mitochondria produce most of the chemical energy needed by the cell."
	first, err := evaluator.Check(ctx, CheckRequest{AssignmentID: "bio-2", StudentID: "s1", Text: text, Save: true})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if first.Plagiarism.Flagged {
		t.Fatalf("own saved text must be excluded: %+v", first.Plagiarism)
	}

	second, err := evaluator.Check(ctx, CheckRequest{AssignmentID: "bio-2", Text: text})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if !second.Plagiarism.Flagged || second.Plagiarism.MostSimilarPeer != "s1" {
		t.Fatalf("expected match with s1, got %+v", second.Plagiarism)
	}
	if second.PeerID != "" {
		t.Fatalf("unsaved check must not get a peer id, got %q", second.PeerID)
	}

	peers, err := store.PeerAnswers(ctx, "bio-2")
	if err != nil || len(peers) != 1 {
		t.Fatalf("unexpected corpus %+v, %v", peers, err)
	}
	if len(publisher.events) != 2 || publisher.events[0].Type != events.TypePlagiarismChecked {
		t.Fatalf("unexpected events: %+v", publisher.events)
	}
}

func TestCheckRejectsInvalidInput(t *testing.T) {
	evaluator := newTestEvaluator(t, Deps{})

	if _, err := evaluator.Check(context.Background(), CheckRequest{AssignmentID: "a", Text: "\xff"}); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("expected ErrInvalidText, got %v", err)
	}
	if _, err := evaluator.Check(context.Background(), CheckRequest{AssignmentID: "", Text: "x"}); !errors.Is(err, storage.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestReport(t *testing.T) {
	report := Report(&Result{
		AssignmentID: "bio-1",
		PeerID:       "s1",
		Feedback:     "Nice work.",
		Score:        &ScoreData{TotalScore: 8, MaxScore: 10, Percentage: 80, CriteriaScores: map[string]float64{"b": 1, "a": 2}},
		Plagiarism: &plagiarism.Result{
			Flagged:         true,
			Score:           91.5,
			PeerScore:       91.5,
			MostSimilarPeer: "s9",
			ModelSkipped:    true,
			Message:         "Plagiarism Detected",
			Matches:         []plagiarism.Match{{SourceID: "s9", SentenceIndex: 0, Text: "Copied sentence.", Similarity: 0.93}},
		},
	})

	for _, want := range []string{
		"Assignment: bio-1",
		"8 / 10 (80%)",
		"  - a: 2\n  - b: 1",
		"Plagiarism Detected: 91.5%",
		"classifier: not loaded",
		"closest peer: 91.5% (s9)",
		"[s9, sentence 1, 0.93] Copied sentence.",
		"Nice work.",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report misses %q:\n%s", want, report)
		}
	}
}
