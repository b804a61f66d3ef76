package anthropic

import (
	"context"
	"errors"
	"testing"

	goanthropic "github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/ai"
)

type fakeMessenger struct {
	resp goanthropic.MessagesResponse
	err  error
	reqs []goanthropic.MessagesRequest
}

func (f *fakeMessenger) CreateMessages(_ context.Context, req goanthropic.MessagesRequest) (goanthropic.MessagesResponse, error) {
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func reply(texts ...string) goanthropic.MessagesResponse {
	var resp goanthropic.MessagesResponse
	for _, text := range texts {
		resp.Content = append(resp.Content, goanthropic.NewTextMessageContent(text))
	}
	return resp
}

func TestGeneratorSendsSystemPrompt(t *testing.T) {
	fake := &fakeMessenger{resp: reply(" first ", "", "second")}
	g := &Generator{client: fake, model: "claude-test", maxTokens: 100, logger: zap.NewNop()}

	output, err := g.GenerateContent(context.Background(), " be fair ", "grade this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "first\nsecond" {
		t.Fatalf("unexpected output: %q", output)
	}

	req := fake.reqs[0]
	if req.Model != goanthropic.Model("claude-test") || req.System != "be fair" || req.MaxTokens != 100 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != goanthropic.RoleUser {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Fatalf("unexpected temperature: %v", req.Temperature)
	}
	if req.TopK == nil || *req.TopK != 40 {
		t.Fatalf("unexpected top_k: %v", req.TopK)
	}
	if req.TopP != nil {
		t.Fatalf("top_p must not be sent")
	}
}

func TestGeneratorErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fake    *fakeMessenger
		message string
		wantErr error
	}{
		"empty message":  {fake: &fakeMessenger{}, message: "  "},
		"api error":      {fake: &fakeMessenger{err: errors.New("overloaded")}, message: "hi"},
		"empty response": {fake: &fakeMessenger{resp: reply("  ")}, message: "hi", wantErr: ai.ErrEmptyResponse},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			g := &Generator{client: tc.fake, model: "claude-test", logger: zap.NewNop()}
			_, err := g.GenerateContent(context.Background(), "", tc.message)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewGeneratorDefaults(t *testing.T) {
	if _, err := NewGenerator(Config{}, nil); err == nil {
		t.Fatalf("expected missing key error")
	}

	g, err := NewGenerator(Config{APIKey: "key"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Model() != defaultModel || g.maxTokens != defaultMaxTokens {
		t.Fatalf("unexpected defaults: %q %d", g.Model(), g.maxTokens)
	}
}
